package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fieldOp uint8

const (
	opKeep fieldOp = iota
	opSet
	opUnset
)

// Field is a partial-update instruction for one optional field. The zero value
// leaves the stored field unchanged.
type Field[T any] struct {
	op    fieldOp
	value T
}

// Keep leaves the field unchanged.
func Keep[T any]() Field[T] { return Field[T]{} }

// Set writes v.
func Set[T any](v T) Field[T] { return Field[T]{op: opSet, value: v} }

// Unset removes the field from the stored document.
func Unset[T any]() Field[T] { return Field[T]{op: opUnset} }

func (f Field[T]) IsSet() bool   { return f.op == opSet }
func (f Field[T]) IsUnset() bool { return f.op == opUnset }
func (f Field[T]) IsKeep() bool  { return f.op == opKeep }

// Value returns the value written by Set.
func (f Field[T]) Value() (T, bool) {
	return f.value, f.op == opSet
}

// CycleUpdate lists the fields of a cycle a caller wants to persist. Timings
// replaces the timing record of each listed phase.
type CycleUpdate struct {
	CurrentPhase   Field[Phase]
	Status         Field[Status]
	SelectedBookID Field[primitive.ObjectID]
	PhaseDurations Field[PhaseDurations]
	Name           Field[string]
	Timings        map[Phase]PhaseTiming
}

// Empty reports whether the update would not change anything.
func (u CycleUpdate) Empty() bool {
	return u.CurrentPhase.IsKeep() && u.Status.IsKeep() && u.SelectedBookID.IsKeep() &&
		u.PhaseDurations.IsKeep() && u.Name.IsKeep() && len(u.Timings) == 0
}

// Apply returns c with the update applied. Repositories without native
// partial updates use it; it also stamps UpdatedAt.
func (u CycleUpdate) Apply(c Cycle, now time.Time) Cycle {
	out := c.Clone()
	if v, ok := u.CurrentPhase.Value(); ok {
		out.CurrentPhase = v
	}
	if v, ok := u.Status.Value(); ok {
		out.Status = v
	}
	if v, ok := u.SelectedBookID.Value(); ok {
		out.SelectedBookID = &v
	} else if u.SelectedBookID.IsUnset() {
		out.SelectedBookID = nil
	}
	if v, ok := u.PhaseDurations.Value(); ok {
		out.PhaseDurations = v
	}
	if v, ok := u.Name.Value(); ok {
		out.Name = v
	}
	if len(u.Timings) > 0 {
		if out.PhaseTimings == nil {
			out.PhaseTimings = make(map[Phase]PhaseTiming, len(u.Timings))
		}
		for p, t := range u.Timings {
			out.PhaseTimings[p] = t.clone()
		}
	}
	out.UpdatedAt = now
	return out
}
