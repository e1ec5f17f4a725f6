package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mtlprog/chorequorum/internal/command"
	"github.com/mtlprog/chorequorum/internal/config"
	"github.com/mtlprog/chorequorum/internal/database"
	"github.com/mtlprog/chorequorum/internal/handler"
	"github.com/mtlprog/chorequorum/internal/logger"
	"github.com/mtlprog/chorequorum/internal/notify"
	"github.com/mtlprog/chorequorum/internal/repository"
	"github.com/mtlprog/chorequorum/internal/service"
)

func main() {
	app := &cli.App{
		Name:  "chorequorum",
		Usage: "Shared-household chore engine with peer verification and voting",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "json",
				Usage:   "Log format (json, text)",
				EnvVars: []string{"LOG_FORMAT"},
			},
			&cli.StringFlag{
				Name:     "database-url",
				Aliases:  []string{"d"},
				Value:    config.DefaultDatabaseURL,
				Usage:    "PostgreSQL database URL",
				EnvVars:  []string{"DATABASE_URL"},
				Required: true,
			},
			&cli.UintFlag{
				Name:    "store-retries",
				Value:   config.DefaultStoreRetries,
				Usage:   "Retries for transient storage failures",
				EnvVars: []string{"STORE_RETRIES"},
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for publishing events (disabled when empty)",
				EnvVars: []string{"REDIS_URL"},
			},
			&cli.StringFlag{
				Name:    "redis-channel",
				Value:   config.DefaultRedisChannel,
				Usage:   "Redis pub/sub channel for events",
				EnvVars: []string{"REDIS_CHANNEL"},
			},
			&cli.StringFlag{
				Name:    "timezone",
				Value:   config.DefaultTimezone,
				Usage:   "Timezone for weekly swap buckets",
				EnvVars: []string{"TIMEZONE"},
			},
			&cli.DurationFlag{
				Name:    "verification-ttl",
				Value:   config.DefaultVerificationTTL,
				Usage:   "How long a claim waits for verification",
				EnvVars: []string{"VERIFICATION_TTL"},
			},
			&cli.DurationFlag{
				Name:    "deletion-ttl",
				Value:   config.DefaultDeletionTTL,
				Usage:   "How long a deletion request stays open",
				EnvVars: []string{"DELETION_TTL"},
			},
			&cli.DurationFlag{
				Name:    "takeover-confirmation-ttl",
				Value:   config.DefaultTakeoverConfirmationTTL,
				Usage:   "How long the original assignee has to acknowledge a takeover",
				EnvVars: []string{"TAKEOVER_CONFIRMATION_TTL"},
			},
			&cli.DurationFlag{
				Name:    "vote-timeout",
				Value:   config.DefaultVoteTimeout,
				Usage:   "Voting window of a conflict round (0 keeps rounds open)",
				EnvVars: []string{"VOTE_TIMEOUT"},
			},
			&cli.IntFlag{
				Name:    "swap-weekly-limit",
				Value:   config.DefaultSwapWeeklyLimit,
				Usage:   "Takeovers allowed per participant per week",
				EnvVars: []string{"SWAP_WEEKLY_LIMIT"},
			},
			&cli.BoolFlag{
				Name:    "allow-self-takeover-confirmation",
				Usage:   "Let the completer confirm their own takeover",
				EnvVars: []string{"ALLOW_SELF_TAKEOVER_CONFIRMATION"},
			},
			&cli.BoolFlag{
				Name:    "allow-overdue-takeover",
				Usage:   "Accept takeovers of tasks whose deadline has passed (credited to the completer)",
				EnvVars: []string{"ALLOW_OVERDUE_TAKEOVER"},
			},
		},
		Before: func(c *cli.Context) error {
			logger.Setup(logger.ParseLevel(c.String("log-level")), c.String("log-format"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the web server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Value:   config.DefaultPort,
						Usage:   "HTTP server port",
						EnvVars: []string{"PORT"},
					},
				},
				Action: runServe,
			},
			{
				Name:   "expire-workflows",
				Usage:  "Expire stale workflows and close vote rounds past their window",
				Action: runExpireWorkflows,
			},
			{
				Name:   "check-deadlines",
				Usage:  "Mark overdue tasks and start the next cycle of recurring ones",
				Action: runCheckDeadlines,
			},
			{
				Name:  "migrate",
				Usage: "Manage the database schema",
				Subcommands: []*cli.Command{
					{
						Name:   "up",
						Usage:  "Apply all pending migrations",
						Action: runMigrateUp,
					},
					{
						Name:   "down",
						Usage:  "Roll back the latest migration",
						Action: runMigrateDown,
					},
				},
			},
		},
		Action: runServe,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

// engineConfig builds the engine policy from the global flags.
func engineConfig(c *cli.Context) (config.Engine, error) {
	loc, err := config.LoadLocation(c.String("timezone"))
	if err != nil {
		return config.Engine{}, err
	}

	cfg := config.Engine{
		VerificationTTL:               c.Duration("verification-ttl"),
		DeletionTTL:                   c.Duration("deletion-ttl"),
		TakeoverConfirmationTTL:       c.Duration("takeover-confirmation-ttl"),
		VoteTimeout:                   c.Duration("vote-timeout"),
		SwapWeeklyLimit:               c.Int("swap-weekly-limit"),
		Location:                      loc,
		AllowSelfTakeoverConfirmation: c.Bool("allow-self-takeover-confirmation"),
		AllowOverdueTakeover:          c.Bool("allow-overdue-takeover"),
	}
	if err := cfg.Validate(); err != nil {
		return config.Engine{}, fmt.Errorf("invalid engine configuration: %w", err)
	}
	return cfg, nil
}

// connect opens the database and applies migrations.
func connect(c *cli.Context) (*database.DB, error) {
	db, err := database.New(c.Context, c.String("database-url"), uint64(c.Uint("store-retries")))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.RunMigrations(c.Context); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// buildService wires the engine with its event sinks. The returned cleanup closes
// the Redis client when one was opened.
func buildService(c *cli.Context, db *database.DB) (*service.TaskService, func(), error) {
	cfg, err := engineConfig(c)
	if err != nil {
		return nil, nil, err
	}

	sinks := notify.Multi{notify.NewLogSink(slog.Default())}
	cleanup := func() {}

	if redisURL := c.String("redis-url"); redisURL != "" {
		client, err := notify.DialRedis(c.Context, redisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		redisSink := notify.NewRedisSink(client, c.String("redis-channel"))
		sinks = append(sinks, redisSink)
		cleanup = func() {
			if err := redisSink.Close(); err != nil {
				slog.Warn("failed to close redis client", "error", err)
			}
		}
		slog.Info("publishing events to redis", "channel", c.String("redis-channel"))
	}

	svc := service.NewTaskService(db, repository.New(), cfg, service.WithSink(sinks))
	return svc, cleanup, nil
}

func runServe(c *cli.Context) error {
	ctx := c.Context

	port := c.String("port")
	if port == "" {
		port = config.DefaultPort
	}

	db, err := connect(c)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, cleanup, err := buildService(c, db)
	if err != nil {
		return err
	}
	defer cleanup()

	h := handler.New(db, svc)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "server_addr", "http://localhost:"+port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-done:
		slog.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// runSweeps dispatches maintenance commands in order and logs what each changed.
func runSweeps(c *cli.Context, cmds ...command.Command) error {
	db, err := connect(c)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, cleanup, err := buildService(c, db)
	if err != nil {
		return err
	}
	defer cleanup()

	dispatcher := command.NewDispatcher(svc)
	for _, cmd := range cmds {
		res, err := dispatcher.Dispatch(c.Context, cmd)
		if err != nil {
			return fmt.Errorf("%s: %w", cmd.Kind(), err)
		}
		if res.Due != nil {
			slog.Info("sweep finished", "kind", res.Kind,
				"overdue", res.Due.Overdue,
				"next_cycles", res.Due.NextCycles,
			)
			continue
		}
		slog.Info("sweep finished", "kind", res.Kind, "count", res.Count)
	}
	return nil
}

func runExpireWorkflows(c *cli.Context) error {
	return runSweeps(c, command.ExpireStale{}, command.CloseStaleRounds{})
}

func runCheckDeadlines(c *cli.Context) error {
	return runSweeps(c, command.ProcessDueTasks{})
}

func runMigrateUp(c *cli.Context) error {
	db, err := connect(c)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("migrations applied")
	return nil
}

func runMigrateDown(c *cli.Context) error {
	db, err := database.New(c.Context, c.String("database-url"), uint64(c.Uint("store-retries")))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.RollbackMigration(c.Context); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}

	slog.Info("migration rolled back")
	return nil
}
