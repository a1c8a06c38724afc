// Package cycle wraps a persisted book club cycle with deadline bookkeeping.
// Every mutation goes through the repository and returns a fresh snapshot.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/greg-py/Chapters-sub000/internal/clock"
	"github.com/greg-py/Chapters-sub000/internal/models"
)

// DefaultPhaseLength is the display fallback when a phase has no usable duration.
const DefaultPhaseLength = 7 * 24 * time.Hour

var (
	// ErrNoStartDate is returned when the current phase has no recorded start.
	ErrNoStartDate = errors.New("current phase has no start date")
	// ErrNoDuration is returned when the current phase has no configured length.
	ErrNoDuration = errors.New("current phase has no configured duration")
)

// Repository is the persistence boundary a cycle needs.
type Repository interface {
	GetCycleByID(ctx context.Context, id primitive.ObjectID) (*models.Cycle, error)
	UpdateCycle(ctx context.Context, id primitive.ObjectID, u models.CycleUpdate) (int64, error)
	ListSuggestionsForCycle(ctx context.Context, cycleID primitive.ObjectID) ([]models.Suggestion, error)
}

// Cycle is an immutable snapshot of a stored cycle bound to its repository.
type Cycle struct {
	data  models.Cycle
	repo  Repository
	clock clock.Clock
}

// Stats summarises participation in a cycle.
type Stats struct {
	SuggestionCount int
	VoterCount      int
}

func New(data models.Cycle, repo Repository, clk clock.Clock) *Cycle {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Cycle{data: data.Clone(), repo: repo, clock: clk}
}

// Load reads the cycle with the given id.
func Load(ctx context.Context, repo Repository, clk clock.Clock, id primitive.ObjectID) (*Cycle, error) {
	data, err := repo.GetCycleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return New(*data, repo, clk), nil
}

func (c *Cycle) ID() primitive.ObjectID                   { return c.data.ID }
func (c *Cycle) GroupID() int64                           { return c.data.GroupID }
func (c *Cycle) Phase() models.Phase                      { return c.data.CurrentPhase }
func (c *Cycle) Status() models.Status                    { return c.data.Status }
func (c *Cycle) Durations() models.PhaseDurations         { return c.data.PhaseDurations }
func (c *Cycle) Timing(p models.Phase) models.PhaseTiming { return c.data.Timing(p) }

// Snapshot returns a copy of the underlying document.
func (c *Cycle) Snapshot() models.Cycle {
	return c.data.Clone()
}

// SelectedBookID returns the winning suggestion, if one was chosen.
func (c *Cycle) SelectedBookID() (primitive.ObjectID, bool) {
	if c.data.SelectedBookID == nil {
		return primitive.NilObjectID, false
	}
	return *c.data.SelectedBookID, true
}

// PhaseDuration returns the configured length of p.
func (c *Cycle) PhaseDuration(p models.Phase) (time.Duration, bool) {
	return c.data.PhaseDurations.For(p)
}

// ExpectedEnd returns the deadline the scheduler acts on: the persisted end
// date of the current phase, or its start plus its configured length. It
// never invents a value.
func (c *Cycle) ExpectedEnd() (time.Time, error) {
	timing := c.data.Timing(c.data.CurrentPhase)
	if timing.EndDate != nil {
		return *timing.EndDate, nil
	}
	if timing.StartDate == nil {
		return time.Time{}, ErrNoStartDate
	}
	d, ok := c.PhaseDuration(c.data.CurrentPhase)
	if !ok {
		return time.Time{}, fmt.Errorf("%s phase: %w", c.data.CurrentPhase, ErrNoDuration)
	}
	return timing.StartDate.Add(d), nil
}

// CurrentPhaseDeadline is the deadline shown to users. It falls back to now
// when no start is recorded and to DefaultPhaseLength when no duration is
// configured, so it always returns a value.
func (c *Cycle) CurrentPhaseDeadline() time.Time {
	timing := c.data.Timing(c.data.CurrentPhase)
	if timing.EndDate != nil {
		return *timing.EndDate
	}
	base := c.clock.Now()
	if timing.StartDate != nil {
		base = *timing.StartDate
	}
	d, ok := c.PhaseDuration(c.data.CurrentPhase)
	if !ok {
		d = DefaultPhaseLength
	}
	return base.Add(d)
}

// SetCurrentPhaseStartDate stamps now as the start of the current phase,
// keeping the other fields of its timing record.
func (c *Cycle) SetCurrentPhaseStartDate(ctx context.Context) (*Cycle, error) {
	now := c.clock.Now()
	return c.UpdateTiming(ctx, c.data.CurrentPhase, func(t models.PhaseTiming) models.PhaseTiming {
		t.StartDate = &now
		return t
	})
}

// SetCurrentPhaseEndDate stamps now as the end of the current phase,
// keeping the other fields of its timing record.
func (c *Cycle) SetCurrentPhaseEndDate(ctx context.Context) (*Cycle, error) {
	now := c.clock.Now()
	return c.UpdateTiming(ctx, c.data.CurrentPhase, func(t models.PhaseTiming) models.PhaseTiming {
		t.EndDate = &now
		return t
	})
}

// UpdateTiming persists fn applied to the timing record of p.
func (c *Cycle) UpdateTiming(ctx context.Context, p models.Phase, fn func(models.PhaseTiming) models.PhaseTiming) (*Cycle, error) {
	return c.Update(ctx, models.CycleUpdate{
		Timings: map[models.Phase]models.PhaseTiming{p: fn(c.data.Timing(p))},
	})
}

// Update persists only the fields set in u and returns the reloaded cycle.
func (c *Cycle) Update(ctx context.Context, u models.CycleUpdate) (*Cycle, error) {
	if _, err := c.repo.UpdateCycle(ctx, c.data.ID, u); err != nil {
		return nil, fmt.Errorf("update cycle %s: %w", c.data.ID.Hex(), err)
	}
	return Load(ctx, c.repo, c.clock, c.data.ID)
}

// Stats counts the suggestions of the cycle and the distinct users who voted.
func (c *Cycle) Stats(ctx context.Context) (Stats, error) {
	suggestions, err := c.repo.ListSuggestionsForCycle(ctx, c.data.ID)
	if err != nil {
		return Stats{}, fmt.Errorf("list suggestions: %w", err)
	}
	return Stats{
		SuggestionCount: len(suggestions),
		VoterCount:      len(Voters(suggestions)),
	}, nil
}

// Voters returns the union of the voters of all suggestions.
func Voters(suggestions []models.Suggestion) map[int64]struct{} {
	voters := make(map[int64]struct{})
	for _, s := range suggestions {
		for _, v := range s.Voters {
			voters[v] = struct{}{}
		}
	}
	return voters
}
