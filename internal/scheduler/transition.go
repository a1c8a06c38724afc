package scheduler

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/greg-py/Chapters-sub000/internal/cycle"
	"github.com/greg-py/Chapters-sub000/internal/models"
	"github.com/greg-py/Chapters-sub000/internal/tally"
	"github.com/greg-py/Chapters-sub000/message"
)

// MinSuggestions is how many suggestions the suggestion phase needs before
// voting can start.
const MinSuggestions = 3

// Trigger names what started a transition.
type Trigger string

const (
	TriggerTimeout       Trigger = "timeout"
	TriggerParticipation Trigger = "participation"
	TriggerManual        Trigger = "manual"
)

// BlockReason is why a transition was refused.
type BlockReason string

const (
	ReasonNone                 BlockReason = ""
	ReasonNotEnoughSuggestions BlockReason = "not_enough_suggestions"
	ReasonNoVotes              BlockReason = "no_votes"
	ReasonNoSelectedBook       BlockReason = "no_selected_book"
	ReasonSelectedBookNotFound BlockReason = "selected_book_not_found"
)

// Validation is the verdict on moving a cycle to its next phase.
type Validation struct {
	OK     bool
	Reason BlockReason
	To     models.Phase
	// Suggestions of the cycle, in listing order.
	Suggestions []models.Suggestion
	// Selected is the book the destination phase is about.
	Selected *models.Suggestion
	// AutoSelected is set when the tally picked Selected during this validation.
	AutoSelected bool
	Decision     tally.Decision
}

// Result describes a finished Advance call.
type Result struct {
	Outcome    Outcome
	From       models.Phase
	To         models.Phase
	Validation Validation
	// Cycle is the snapshot after the transition, or the input on refusal.
	Cycle *cycle.Cycle
}

// Validate checks whether c may move to next. Refusals are reported in the
// returned Validation; the error is for failed lookups only.
func (s *Scheduler) Validate(ctx context.Context, c *cycle.Cycle, next models.Phase) (Validation, error) {
	ioCtx, cancel := s.io(ctx)
	suggestions, err := s.repo.ListSuggestionsForCycle(ioCtx, c.ID())
	cancel()
	if err != nil {
		s.metrics.Failures.WithLabelValues("persist").Inc()
		return Validation{}, fmt.Errorf("list suggestions: %w", err)
	}
	v := Validation{To: next, Suggestions: suggestions}

	if c.Phase() == models.PhaseSuggestion && len(suggestions) < MinSuggestions {
		v.Reason = ReasonNotEnoughSuggestions
		return v, nil
	}

	if next == models.PhaseReading || next == models.PhaseDiscussion {
		if id, ok := c.SelectedBookID(); ok {
			for i := range suggestions {
				if suggestions[i].ID == id {
					v.Selected = &suggestions[i]
					break
				}
			}
			if v.Selected == nil {
				v.Reason = ReasonSelectedBookNotFound
				return v, nil
			}
		} else if c.Phase() == models.PhaseVoting {
			res := s.resolver.Resolve(suggestions)
			v.Decision = res.Decision
			if res.Winner == nil {
				v.Reason = ReasonNoVotes
				return v, nil
			}
			v.Selected = res.Winner
			v.AutoSelected = true
		} else {
			v.Reason = ReasonNoSelectedBook
			return v, nil
		}
	}

	v.OK = true
	return v, nil
}

// Advance moves c to the phase after its current one, or completes it from
// Discussion. A refused transition changes nothing and comes back with
// OutcomeBlocked; reacting to it is up to the caller.
//
// The outgoing phase is end-stamped before the phase changes, and the
// incoming phase is start-stamped before it is announced.
func (s *Scheduler) Advance(ctx context.Context, c *cycle.Cycle, trigger Trigger) (Result, error) {
	from := c.Phase()
	next, ok := from.Next()
	if !ok {
		if from != models.PhaseDiscussion {
			return Result{}, fmt.Errorf("%w %q", ErrUnknownPhase, from)
		}
		done, err := s.Complete(ctx, c, trigger)
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeCompleted, From: from, To: from, Cycle: done}, nil
	}

	ctx, span := s.tracer.Start(ctx, "Scheduler.Advance", trace.WithAttributes(
		attribute.String("cycle_id", c.ID().Hex()),
		attribute.String("from", from.String()),
		attribute.String("to", next.String()),
		attribute.String("trigger", string(trigger))))
	defer span.End()

	v, err := s.Validate(ctx, c, next)
	if err != nil {
		return Result{}, err
	}
	if !v.OK {
		s.metrics.Blocked.WithLabelValues(string(v.Reason)).Inc()
		span.SetAttributes(attribute.String("blocked", string(v.Reason)))
		return Result{Outcome: OutcomeBlocked, From: from, To: next, Validation: v, Cycle: c}, nil
	}
	if v.AutoSelected {
		s.metrics.Winners.WithLabelValues(string(v.Decision)).Inc()
		fields := []zap.Field{
			zap.String("cycle_id", c.ID().Hex()),
			zap.String("suggestion_id", v.Selected.ID.Hex()),
			zap.String("decision", string(v.Decision)),
		}
		if v.Decision == tally.ByRandomChoice {
			s.log.Warn("selected book by random tie-break", fields...)
		} else {
			s.log.Info("selected book by vote", fields...)
		}
	}

	c, err = s.persistTransition(ctx, c, next, v)
	if err != nil {
		s.metrics.Failures.WithLabelValues("persist").Inc()
		return Result{}, err
	}
	s.metrics.Transitions.WithLabelValues(from.String(), next.String(), string(trigger)).Inc()

	text, err := s.announcement(c, v)
	if err != nil {
		return Result{}, err
	}
	if err := s.post(ctx, c.GroupID(), text); err != nil {
		// The transition is persisted; only the announcement is lost.
		s.log.Error("failed to announce phase", zap.String("cycle_id", c.ID().Hex()), zap.Error(err))
	}
	return Result{Outcome: OutcomeTransitioned, From: from, To: next, Validation: v, Cycle: c}, nil
}

func (s *Scheduler) persistTransition(ctx context.Context, c *cycle.Cycle, next models.Phase, v Validation) (*cycle.Cycle, error) {
	ioCtx, cancel := s.io(ctx)
	c, err := c.SetCurrentPhaseEndDate(ioCtx)
	cancel()
	if err != nil {
		return nil, err
	}

	u := models.CycleUpdate{CurrentPhase: models.Set(next)}
	if v.AutoSelected {
		u.SelectedBookID = models.Set(v.Selected.ID)
	}
	ioCtx, cancel = s.io(ctx)
	c, err = c.Update(ioCtx, u)
	cancel()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	ioCtx, cancel = s.io(ctx)
	defer cancel()
	return c.UpdateTiming(ioCtx, next, func(models.PhaseTiming) models.PhaseTiming {
		return models.PhaseTiming{StartDate: &now}
	})
}

// Complete ends the cycle after its discussion phase and announces it.
func (s *Scheduler) Complete(ctx context.Context, c *cycle.Cycle, trigger Trigger) (*cycle.Cycle, error) {
	ctx, span := s.tracer.Start(ctx, "Scheduler.Complete", trace.WithAttributes(
		attribute.String("cycle_id", c.ID().Hex()),
		attribute.String("trigger", string(trigger))))
	defer span.End()

	now := s.clock.Now()
	timing := c.Timing(models.PhaseDiscussion)
	timing.EndDate = &now

	ioCtx, cancel := s.io(ctx)
	done, err := c.Update(ioCtx, models.CycleUpdate{
		Status:  models.Set(models.StatusCompleted),
		Timings: map[models.Phase]models.PhaseTiming{models.PhaseDiscussion: timing},
	})
	cancel()
	if err != nil {
		s.metrics.Failures.WithLabelValues("persist").Inc()
		return nil, err
	}
	s.metrics.Transitions.WithLabelValues(models.PhaseDiscussion.String(), string(models.StatusCompleted), string(trigger)).Inc()

	if err := s.post(ctx, c.GroupID(), s.messages.CycleCompleted); err != nil {
		s.log.Error("failed to announce completion", zap.String("cycle_id", c.ID().Hex()), zap.Error(err))
	}
	return done, nil
}

// extend pushes the suggestion deadline back by one phase length, counted
// from the later of the old deadline and now, and re-arms the reminder.
func (s *Scheduler) extend(ctx context.Context, c *cycle.Cycle, have int) (*cycle.Cycle, error) {
	end, err := c.ExpectedEnd()
	if err != nil {
		return nil, err
	}
	length, ok := c.PhaseDuration(models.PhaseSuggestion)
	if !ok {
		return nil, fmt.Errorf("suggestion phase: %w", cycle.ErrNoDuration)
	}
	base := s.clock.Now()
	if end.After(base) {
		base = end
	}
	newEnd := base.Add(length)

	ioCtx, cancel := s.io(ctx)
	extended, err := c.UpdateTiming(ioCtx, models.PhaseSuggestion, func(t models.PhaseTiming) models.PhaseTiming {
		t.EndDate = &newEnd
		t.Extended = true
		t.DeadlineNotificationSent = false
		t.BlockedReason = ""
		return t
	})
	cancel()
	if err != nil {
		s.metrics.Failures.WithLabelValues("persist").Inc()
		return nil, err
	}

	d := c.Durations()
	text := fmt.Sprintf(s.messages.SuggestionPhaseExtended,
		have, MinSuggestions, message.Count(d.Suggestion, d.Unit.Singular()), message.Deadline(newEnd))
	if err := s.post(ctx, c.GroupID(), text); err != nil {
		s.log.Error("failed to announce extension", zap.String("cycle_id", c.ID().Hex()), zap.Error(err))
	}
	return extended, nil
}

// notifyBlocked tells the group why its cycle cannot move on. The same
// reason is announced only once per phase occurrence.
func (s *Scheduler) notifyBlocked(ctx context.Context, c *cycle.Cycle, v Validation) error {
	phase := c.Phase()
	if c.Timing(phase).BlockedReason == string(v.Reason) {
		return nil
	}
	if err := s.post(ctx, c.GroupID(), s.BlockedText(v)); err != nil {
		return err
	}

	ioCtx, cancel := s.io(ctx)
	defer cancel()
	_, err := c.UpdateTiming(ioCtx, phase, func(t models.PhaseTiming) models.PhaseTiming {
		t.BlockedReason = string(v.Reason)
		return t
	})
	if err != nil {
		s.metrics.Failures.WithLabelValues("persist").Inc()
	}
	return err
}

// BlockedText explains a refused transition to the group.
func (s *Scheduler) BlockedText(v Validation) string {
	m := s.messages
	switch v.Reason {
	case ReasonNotEnoughSuggestions:
		return fmt.Sprintf(m.BlockedNotEnoughSuggestions, MinSuggestions, len(v.Suggestions))
	case ReasonNoVotes:
		return fmt.Sprintf(m.BlockedNoVotes, v.To)
	case ReasonNoSelectedBook:
		return fmt.Sprintf(m.BlockedNoSelectedBook, v.To)
	case ReasonSelectedBookNotFound:
		return fmt.Sprintf(m.BlockedSelectedBookNotFound, v.To)
	}
	return m.SomethingWrong
}

// ResetToSuggestion rolls c back to a fresh suggestion phase. Votes are
// zeroed and the selected book is unset while the suggestions stay.
func (s *Scheduler) ResetToSuggestion(ctx context.Context, c *cycle.Cycle) (*cycle.Cycle, error) {
	ioCtx, cancel := s.io(ctx)
	n, err := s.repo.ResetSuggestionVotes(ioCtx, c.ID())
	cancel()
	if err != nil {
		return nil, fmt.Errorf("reset votes: %w", err)
	}

	now := s.clock.Now()
	timings := map[models.Phase]models.PhaseTiming{
		models.PhaseSuggestion: {StartDate: &now},
		models.PhaseVoting:     {},
		models.PhaseReading:    {},
		models.PhaseDiscussion: {},
	}
	ioCtx, cancel = s.io(ctx)
	reset, err := c.Update(ioCtx, models.CycleUpdate{
		CurrentPhase:   models.Set(models.PhaseSuggestion),
		SelectedBookID: models.Unset[primitive.ObjectID](),
		Timings:        timings,
	})
	cancel()
	if err != nil {
		return nil, err
	}
	s.log.Info("cycle reset to suggestion phase",
		zap.String("cycle_id", c.ID().Hex()),
		zap.String("from", c.Phase().String()),
		zap.Int64("suggestions_cleared", n))
	s.metrics.Transitions.WithLabelValues(c.Phase().String(), models.PhaseSuggestion.String(), string(TriggerManual)).Inc()
	return reset, nil
}
