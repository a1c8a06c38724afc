package main

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/greg-py/Chapters-sub000/bot"
	"github.com/greg-py/Chapters-sub000/config"
	"github.com/greg-py/Chapters-sub000/internal/clock"
	"github.com/greg-py/Chapters-sub000/internal/club"
	"github.com/greg-py/Chapters-sub000/internal/notify"
	"github.com/greg-py/Chapters-sub000/internal/repository"
	"github.com/greg-py/Chapters-sub000/internal/repository/memory"
	"github.com/greg-py/Chapters-sub000/internal/scheduler"
	"github.com/greg-py/Chapters-sub000/internal/server"
	"github.com/greg-py/Chapters-sub000/internal/tracing"
	"github.com/greg-py/Chapters-sub000/message"
)

// store is what both the Mongo and the in-memory stores provide.
type store interface {
	club.Repository
	bot.MemberStore
	notify.MemberStore
	server.Pinger
}

type notifier interface {
	scheduler.Notifier
	notify.BotChecker
}

type app struct {
	log       *zap.Logger
	messages  *message.LocalizedMessages
	store     store
	registry  *prometheus.Registry
	scheduler *scheduler.Scheduler
	club      *club.Service
	closers   []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.AppConfig) (*app, error) {
	logger, err := newLogger(cfg.DebugMode)
	if err != nil {
		return nil, err
	}
	a := &app{log: logger}

	a.messages, err = message.Load(cfg.Locale)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	a.store, err = a.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp, err := tracing.NewProvider(ctx, tracing.Config{Exporter: cfg.TraceExporter, Endpoint: cfg.OTLPEndpoint})
	if err != nil {
		return nil, err
	}
	if tp != nil {
		otel.SetTracerProvider(tp)
		a.closers = append(a.closers, tp.Shutdown)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var n notifier
	if cfg.TKey != "" {
		limiter := notify.NewChatRateLimiter(cfg.MessagesPerMinute, 1)
		n = notify.NewLazy(func() (*notify.Telegram, error) {
			api, err := tgbotapi.NewBotAPI(cfg.TKey)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to telegram: %w", err)
			}
			return notify.NewTelegram(api, limiter, logger.Named("notify")), nil
		})
	} else {
		n = notify.NewLog(logger.Named("notify"))
	}

	a.scheduler = scheduler.New(scheduler.Config{
		Interval:    cfg.CheckInterval,
		IOTimeout:   cfg.IOTimeout,
		Concurrency: cfg.PollConcurrency,
	}, a.store, n, notify.NewDirectory(a.store, n), a.messages, logger.Named("scheduler"),
		scheduler.WithMetrics(scheduler.NewMetrics(a.registry)),
		scheduler.WithTracer(otel.Tracer("github.com/greg-py/Chapters-sub000/internal/scheduler")),
	)
	a.club = club.NewService(a.store, a.scheduler, clock.Real{}, cfg.PhaseUnit(), logger.Named("club"))

	logger.Info("application initialised",
		zap.Bool("fast_mode", cfg.FastMode),
		zap.Duration("check_interval", cfg.CheckInterval),
		zap.String("locale", cfg.Locale),
		zap.String("trace_exporter", cfg.TraceExporter))
	return a, nil
}

func (a *app) openStore(ctx context.Context, cfg *config.AppConfig) (store, error) {
	if cfg.MongoURI == "" {
		a.log.Warn("MONGO_URI is not set, using an in-memory store; data is lost on exit")
		return memory.New(clock.Real{}), nil
	}

	db, err := repository.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	s, err := repository.NewStore(db)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, s.Close)

	ictx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.EnsureIndexes(ictx); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return s, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, c := range a.closers {
		if err := c(ctx); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
