package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/greg-py/Chapters-sub000/internal/cycle"
	"github.com/greg-py/Chapters-sub000/internal/models"
	"github.com/greg-py/Chapters-sub000/message"
)

// Outcome is what a poll did to one cycle.
type Outcome string

const (
	OutcomeNone         Outcome = "none"
	OutcomeStarted      Outcome = "started"
	OutcomeReminded     Outcome = "reminded"
	OutcomeTransitioned Outcome = "transitioned"
	OutcomeCompleted    Outcome = "completed"
	OutcomeExtended     Outcome = "extended"
	OutcomeBlocked      Outcome = "blocked"
)

func (s *Scheduler) processCycle(ctx context.Context, data models.Cycle, log *zap.Logger) (outcome Outcome, err error) {
	ctx, span := s.tracer.Start(ctx, "Scheduler.processCycle", trace.WithAttributes(
		attribute.String("cycle_id", data.ID.Hex()),
		attribute.Int64("group_id", data.GroupID),
		phaseAttr(data.CurrentPhase)))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing cycle: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "process cycle")
		}
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		span.End()
	}()

	if data.Status != models.StatusActive {
		return OutcomeNone, nil
	}
	c := cycle.New(data, s.repo, s.clock)
	phase := c.Phase()
	if phase == models.PhasePending {
		return OutcomeNone, nil
	}
	if !phase.Timed() {
		s.metrics.Failures.WithLabelValues("phase").Inc()
		return OutcomeNone, fmt.Errorf("%w %q", ErrUnknownPhase, phase)
	}

	if c.Timing(phase).StartDate == nil {
		ioCtx, cancel := s.io(ctx)
		defer cancel()
		if _, err := c.SetCurrentPhaseStartDate(ioCtx); err != nil {
			s.metrics.Failures.WithLabelValues("persist").Inc()
			return OutcomeNone, err
		}
		return OutcomeStarted, nil
	}

	if phase == models.PhaseVoting && s.everyoneVoted(ctx, c, log) {
		log.Info("every member voted, advancing early")
		return s.advanceOnSchedule(ctx, c, TriggerParticipation, log)
	}

	end, err := c.ExpectedEnd()
	if err != nil {
		s.metrics.Failures.WithLabelValues("deadline").Inc()
		return OutcomeNone, err
	}

	now := s.clock.Now()
	if now.Before(end) {
		return s.remind(ctx, c, end, now)
	}
	if phase == models.PhaseDiscussion {
		if _, err := s.Complete(ctx, c, TriggerTimeout); err != nil {
			return OutcomeNone, err
		}
		return OutcomeCompleted, nil
	}
	return s.advanceOnSchedule(ctx, c, TriggerTimeout, log)
}

// advanceOnSchedule runs a scheduler-initiated transition and handles a
// refusal: a suggestion phase that timed out without enough suggestions is
// extended, any other refusal is announced once per reason.
func (s *Scheduler) advanceOnSchedule(ctx context.Context, c *cycle.Cycle, trigger Trigger, log *zap.Logger) (Outcome, error) {
	res, err := s.Advance(ctx, c, trigger)
	if err != nil {
		return OutcomeNone, err
	}
	if res.Outcome != OutcomeBlocked {
		return res.Outcome, nil
	}

	reason := res.Validation.Reason
	log.Info("transition blocked", zap.String("reason", string(reason)), zap.String("trigger", string(trigger)))
	if trigger == TriggerTimeout && c.Phase() == models.PhaseSuggestion && reason == ReasonNotEnoughSuggestions {
		if _, err := s.extend(ctx, c, len(res.Validation.Suggestions)); err != nil {
			return OutcomeNone, err
		}
		return OutcomeExtended, nil
	}
	if err := s.notifyBlocked(ctx, c, res.Validation); err != nil {
		return OutcomeNone, err
	}
	return OutcomeBlocked, nil
}

// remindWindow is how long before the deadline the reminder goes out.
func remindWindow(p models.Phase, unit models.DurationUnit) time.Duration {
	n := 1
	if p == models.PhaseReading {
		n = 7
	}
	d, _ := unit.Duration(n)
	return d
}

// remind sends the deadline reminder of the current phase once, as soon as
// the time left falls inside the window.
func (s *Scheduler) remind(ctx context.Context, c *cycle.Cycle, end, now time.Time) (Outcome, error) {
	phase := c.Phase()
	timing := c.Timing(phase)
	if timing.DeadlineNotificationSent {
		return OutcomeNone, nil
	}
	if _, ok := c.PhaseDuration(phase); !ok {
		return OutcomeNone, nil
	}
	window := remindWindow(phase, c.Durations().Unit)
	remaining := end.Sub(now)
	if remaining > window {
		return OutcomeNone, nil
	}

	text := fmt.Sprintf(s.messages.DeadlineReminder, phase, message.Humanize(remaining), message.Deadline(end))
	if err := s.post(ctx, c.GroupID(), text); err != nil {
		return OutcomeNone, err
	}

	ioCtx, cancel := s.io(ctx)
	defer cancel()
	_, err := c.UpdateTiming(ioCtx, phase, func(t models.PhaseTiming) models.PhaseTiming {
		t.DeadlineNotificationSent = true
		return t
	})
	if err != nil {
		s.metrics.Failures.WithLabelValues("persist").Inc()
		return OutcomeNone, err
	}
	return OutcomeReminded, nil
}

// everyoneVoted reports whether every human member of the group has a vote
// in the cycle. Any lookup failure counts as "not everyone".
func (s *Scheduler) everyoneVoted(ctx context.Context, c *cycle.Cycle, log *zap.Logger) bool {
	ioCtx, cancel := s.io(ctx)
	members, err := s.directory.ListGroupMembers(ioCtx, c.GroupID())
	cancel()
	if err != nil {
		s.metrics.Failures.WithLabelValues("directory").Inc()
		log.Warn("cannot list group members", zap.Error(err))
		return false
	}

	ioCtx, cancel = s.io(ctx)
	suggestions, err := s.repo.ListSuggestionsForCycle(ioCtx, c.ID())
	cancel()
	if err != nil {
		log.Warn("cannot list suggestions", zap.Error(err))
		return false
	}
	voters := cycle.Voters(suggestions)

	humans := 0
	for _, id := range members {
		ioCtx, cancel := s.io(ctx)
		isBot, err := s.directory.IsBotUser(ioCtx, c.GroupID(), id)
		cancel()
		if err != nil {
			s.metrics.Failures.WithLabelValues("directory").Inc()
			log.Warn("cannot classify member", zap.Int64("user_id", id), zap.Error(err))
			return false
		}
		if isBot {
			continue
		}
		humans++
		if _, ok := voters[id]; !ok {
			return false
		}
	}
	return humans > 0
}
