// Package scheduler advances book club cycles through their phases. One poll
// loads every active cycle, stamps missing start dates, sends deadline
// reminders, and transitions, extends or completes cycles whose phase ended.
//
// Polls assume a single writer. Two scheduler processes sharing a database
// can both transition the same cycle; running more than one needs an external
// lock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/greg-py/Chapters-sub000/internal/clock"
	"github.com/greg-py/Chapters-sub000/internal/models"
	"github.com/greg-py/Chapters-sub000/internal/tally"
	"github.com/greg-py/Chapters-sub000/message"
)

const (
	DefaultInterval    = time.Hour
	FastInterval       = time.Minute
	DefaultIOTimeout   = 10 * time.Second
	DefaultConcurrency = 4

	tracerName = "github.com/greg-py/Chapters-sub000/internal/scheduler"
)

// ErrUnknownPhase marks a cycle whose phase the scheduler cannot handle.
var ErrUnknownPhase = errors.New("unknown phase")

// Config tunes the poll loop.
type Config struct {
	// Interval between polls of the in-process timer.
	Interval time.Duration
	// IOTimeout bounds every repository, directory and notification call.
	IOTimeout time.Duration
	// Concurrency is how many cycles are processed at once.
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = DefaultIOTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

// Scheduler is the phase transition service. Construct it once at startup
// and share it between the timer and the HTTP trigger.
type Scheduler struct {
	cfg       Config
	repo      Repository
	notifier  Notifier
	directory Directory
	messages  *message.LocalizedMessages
	log       *zap.Logger
	clock     clock.Clock
	resolver  *tally.Resolver
	metrics   *Metrics
	tracer    trace.Tracer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithResolver(r *tally.Resolver) Option {
	return func(s *Scheduler) { s.resolver = r }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

func New(cfg Config, repo Repository, notifier Notifier, directory Directory, messages *message.LocalizedMessages, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:       cfg.withDefaults(),
		repo:      repo,
		notifier:  notifier,
		directory: directory,
		messages:  messages,
		log:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.messages == nil {
		s.messages = message.Default()
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.resolver == nil {
		s.resolver = tally.NewResolver(nil)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

// Start runs a poll every Config.Interval until Stop. Calling Start on a
// running scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
	s.log.Info("phase scheduler started", zap.Duration("interval", s.cfg.Interval))
}

// Stop halts the timer and waits for an in-flight poll to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("phase scheduler stopped")
}

// Running reports whether the in-process timer is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.TriggerCheck(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("phase check failed", zap.Error(err))
			}
		}
	}
}

// PollReport summarises one poll.
type PollReport struct {
	RunID        string    `json:"runId"`
	StartedAt    time.Time `json:"startedAt"`
	Checked      int       `json:"checked"`
	Started      int       `json:"started"`
	Reminded     int       `json:"reminded"`
	Transitioned int       `json:"transitioned"`
	Completed    int       `json:"completed"`
	Extended     int       `json:"extended"`
	Blocked      int       `json:"blocked"`
	Failed       int       `json:"failed"`
}

func (r *PollReport) add(o Outcome, err error) {
	if err != nil {
		r.Failed++
		return
	}
	switch o {
	case OutcomeStarted:
		r.Started++
	case OutcomeReminded:
		r.Reminded++
	case OutcomeTransitioned:
		r.Transitioned++
	case OutcomeCompleted:
		r.Completed++
	case OutcomeExtended:
		r.Extended++
	case OutcomeBlocked:
		r.Blocked++
	}
}

// TriggerCheck runs exactly one poll synchronously. It fails only when the
// active cycles cannot be listed; per-cycle failures are logged and counted
// in the report.
func (s *Scheduler) TriggerCheck(ctx context.Context) (PollReport, error) {
	report := PollReport{RunID: uuid.NewString(), StartedAt: s.clock.Now()}
	log := s.log.With(zap.String("run_id", report.RunID))

	ctx, span := s.tracer.Start(ctx, "Scheduler.TriggerCheck",
		trace.WithAttributes(attribute.String("run_id", report.RunID)))
	defer span.End()

	s.metrics.Polls.Inc()
	timer := time.Now()
	defer func() { s.metrics.PollDuration.Observe(time.Since(timer).Seconds()) }()

	ioCtx, cancel := s.io(ctx)
	cycles, err := s.repo.ListActiveCycles(ioCtx)
	cancel()
	if err != nil {
		s.metrics.Failures.WithLabelValues("list").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "list active cycles")
		return report, fmt.Errorf("list active cycles: %w", err)
	}
	report.Checked = len(cycles)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for _, c := range cycles {
		g.Go(func() error {
			clog := log.With(
				zap.String("cycle_id", c.ID.Hex()),
				zap.Int64("group_id", c.GroupID),
				zap.String("phase", c.CurrentPhase.String()))

			outcome, err := s.processCycle(ctx, c, clog)
			if err != nil {
				clog.Error("failed to process cycle", zap.Error(err))
			} else if outcome != OutcomeNone {
				clog.Info("cycle processed", zap.String("outcome", string(outcome)))
			}
			s.metrics.Outcomes.WithLabelValues(outcomeLabel(outcome, err)).Inc()

			mu.Lock()
			report.add(outcome, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("cycles.checked", report.Checked),
		attribute.Int("cycles.failed", report.Failed))
	log.Debug("phase check finished",
		zap.Int("checked", report.Checked),
		zap.Int("transitioned", report.Transitioned),
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed))
	return report, nil
}

func outcomeLabel(o Outcome, err error) string {
	if err != nil {
		return "failed"
	}
	return string(o)
}

// io bounds a single collaborator call.
func (s *Scheduler) io(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.IOTimeout)
}

func (s *Scheduler) post(ctx context.Context, groupID int64, text string) error {
	ctx, cancel := s.io(ctx)
	defer cancel()
	if err := s.notifier.PostMessage(ctx, groupID, text); err != nil {
		s.metrics.Failures.WithLabelValues("notify").Inc()
		return fmt.Errorf("post message to group %d: %w", groupID, err)
	}
	return nil
}

func phaseAttr(p models.Phase) attribute.KeyValue {
	return attribute.String("phase", p.String())
}
