package models

import (
	"fmt"
	"time"
)

// Phase is a stage of a book club cycle.
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseSuggestion Phase = "suggestion"
	PhaseVoting     Phase = "voting"
	PhaseReading    Phase = "reading"
	PhaseDiscussion Phase = "discussion"
)

// Phases lists every phase in cycle order.
var Phases = []Phase{PhasePending, PhaseSuggestion, PhaseVoting, PhaseReading, PhaseDiscussion}

// Next returns the phase that follows p. Discussion is terminal: the second
// return value is false and the cycle completes instead of advancing.
func (p Phase) Next() (Phase, bool) {
	switch p {
	case PhasePending:
		return PhaseSuggestion, true
	case PhaseSuggestion:
		return PhaseVoting, true
	case PhaseVoting:
		return PhaseReading, true
	case PhaseReading:
		return PhaseDiscussion, true
	case PhaseDiscussion:
		return PhaseDiscussion, false
	}
	return "", false
}

// Timed reports whether the phase runs against a deadline.
func (p Phase) Timed() bool {
	switch p {
	case PhaseSuggestion, PhaseVoting, PhaseReading, PhaseDiscussion:
		return true
	}
	return false
}

func (p Phase) Valid() bool {
	switch p {
	case PhasePending, PhaseSuggestion, PhaseVoting, PhaseReading, PhaseDiscussion:
		return true
	}
	return false
}

func (p Phase) String() string {
	return string(p)
}

// ParsePhase converts user input into a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// Status is the lifecycle state of a cycle as a whole.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// DurationUnit is the unit every phase length of a cycle is expressed in.
type DurationUnit string

const (
	UnitDays    DurationUnit = "days"
	UnitMinutes DurationUnit = "minutes"
)

// Duration converts n units into a time.Duration.
func (u DurationUnit) Duration(n int) (time.Duration, bool) {
	switch u {
	case UnitDays:
		return time.Duration(n) * 24 * time.Hour, true
	case UnitMinutes:
		return time.Duration(n) * time.Minute, true
	}
	return 0, false
}

// Singular names one unit, e.g. "day".
func (u DurationUnit) Singular() string {
	switch u {
	case UnitDays:
		return "day"
	case UnitMinutes:
		return "minute"
	}
	return string(u)
}

// PhaseDurations holds the configured length of each timed phase. All lengths
// share Unit, so a cycle can never mix days and minutes.
type PhaseDurations struct {
	Unit       DurationUnit `bson:"unit"`
	Suggestion int          `bson:"suggestion"`
	Voting     int          `bson:"voting"`
	Reading    int          `bson:"reading"`
	Discussion int          `bson:"discussion"`
}

// DefaultPhaseDurations are the lengths used when a group does not configure its own.
func DefaultPhaseDurations(unit DurationUnit) PhaseDurations {
	return PhaseDurations{
		Unit:       unit,
		Suggestion: 7,
		Voting:     7,
		Reading:    30,
		Discussion: 7,
	}
}

// Count returns the configured number of units for p.
func (d PhaseDurations) Count(p Phase) int {
	switch p {
	case PhaseSuggestion:
		return d.Suggestion
	case PhaseVoting:
		return d.Voting
	case PhaseReading:
		return d.Reading
	case PhaseDiscussion:
		return d.Discussion
	}
	return 0
}

// For returns the configured length of p. It fails for untimed phases, unknown
// units and non-positive lengths.
func (d PhaseDurations) For(p Phase) (time.Duration, bool) {
	n := d.Count(p)
	if n <= 0 {
		return 0, false
	}
	return d.Unit.Duration(n)
}

// Validate checks that every timed phase has a positive length in a known unit.
func (d PhaseDurations) Validate() error {
	if _, ok := d.Unit.Duration(1); !ok {
		return fmt.Errorf("unknown duration unit %q", d.Unit)
	}
	for _, p := range Phases {
		if !p.Timed() {
			continue
		}
		if d.Count(p) <= 0 {
			return fmt.Errorf("%s duration must be positive", p)
		}
	}
	return nil
}
