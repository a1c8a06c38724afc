package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/greg-py/Chapters-sub000/bot"
	"github.com/greg-py/Chapters-sub000/config"
	"github.com/greg-py/Chapters-sub000/internal/server"
)

func main() {
	cliApp := &cli.App{
		Name:  "chapters",
		Usage: "book club bot and phase scheduler",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to a YAML configuration file",
				EnvVars: []string{"CONFIG_FILE"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			checkCommand(),
			botCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.AppConfig, error) {
	if path := c.String("config"); path != "" {
		if err := os.Setenv("CONFIG_FILE", path); err != nil {
			return nil, err
		}
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the scheduler, the HTTP trigger and the Telegram bot",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			a.scheduler.Start()
			defer a.scheduler.Stop()

			srv := server.New(server.Config{
				TriggerToken:  cfg.TriggerToken,
				TriggerHeader: cfg.TriggerHeader,
			}, a.scheduler, a.store, a.registry, a.log)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.ListenAndServe(gctx, cfg.HTTPAddr)
			})
			if cfg.TKey != "" {
				g.Go(func() error {
					return runBot(gctx, a, cfg)
				})
			} else {
				a.log.Warn("TELEGRAM_API_KEY is not set, the bot is disabled and messages are only logged")
			}
			return g.Wait()
		},
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "run one phase check and print the report",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			a, err := newApp(c.Context, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.scheduler.TriggerCheck(c.Context)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func botCommand() *cli.Command {
	return &cli.Command{
		Name:  "bot",
		Usage: "run only the Telegram bot",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.TKey == "" {
				return fmt.Errorf("TELEGRAM_API_KEY is required")
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()
			return runBot(ctx, a, cfg)
		},
	}
}

func runBot(ctx context.Context, a *app, cfg *config.AppConfig) error {
	api, err := tgbotapi.NewBotAPI(cfg.TKey)
	if err != nil {
		return fmt.Errorf("failed to connect to telegram: %w", err)
	}
	api.Debug = cfg.DebugMode
	a.log.Info("telegram bot authorized", zap.String("username", api.Self.UserName))

	b := bot.NewBot(api, api.Self.ID, a.club, a.store, a.messages, a.log.Named("bot"), cfg.LongPollingTimeout)
	b.Run(ctx)
	return nil
}
