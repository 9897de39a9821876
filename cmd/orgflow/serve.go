package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/orgflow/internal/application"
	"github.com/dukex/orgflow/pkg/cmd"
	"github.com/dukex/orgflow/pkg/collaborators"
	"github.com/dukex/orgflow/pkg/collaborators/httpwebhook"
	"github.com/dukex/orgflow/pkg/config"
	"github.com/dukex/orgflow/pkg/log"
	"github.com/dukex/orgflow/pkg/otelhelper"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const shutdownTimeout = 10 * time.Second

func NewServeCommand() *cli.Command {
	defaults := config.Default()

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the API, the event subscriber, the cron triggers and the timer poller",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaults.Port,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL (file://, memory://, postgres://)",
				Value:   defaults.DatabaseURL,
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   defaults.EventBusType,
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers, host:port",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "timer-store-url",
				Usage:   "Timer store (memory or redis://host:port/db)",
				Value:   defaults.TimerStoreURL,
				Sources: cli.EnvVars("TIMER_STORE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   defaults.LogLevel,
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.DurationFlag{
				Name:    "call-timeout",
				Usage:   "Deadline of every collaborator call",
				Value:   defaults.CallTimeout,
				Sources: cli.EnvVars("CALL_TIMEOUT"),
			},
			&cli.IntFlag{
				Name:    "max-steps",
				Usage:   "Step budget of one workflow execution",
				Value:   defaults.MaxSteps,
				Sources: cli.EnvVars("MAX_STEPS"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often due timers are polled",
				Value:   defaults.PollInterval,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg := configFromCommand(command)

			err := cfg.Validate()
			if err != nil {
				return err
			}

			log.Setup(cfg.LogLevel)

			logger := log.WithModule("orgflow").With("instance_id", "orgflow-"+uuid.New().String()[:8])

			var tracer trace.Tracer

			if command.Bool("tracing") {
				var shutdown otelhelper.Shutdown

				tracer, shutdown, err = otelhelper.NewTracer(ctx, "orgflow")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				defer func() {
					if err := shutdown(context.WithoutCancel(ctx)); err != nil {
						logger.Error("Failed to shutdown tracer provider", "error", err)
					}
				}()
			}

			return NewServer(cfg, tracer, logger).Start(ctx)
		},
	}
}

func configFromCommand(command *cli.Command) config.Config {
	return config.Config{
		DatabaseURL:   command.String("database-url"),
		EventBusType:  command.String("event-bus"),
		KafkaBrokers:  command.StringSlice("kafka-brokers"),
		TimerStoreURL: command.String("timer-store-url"),
		Port:          command.Int("port"),
		LogLevel:      command.String("log-level"),
		CallTimeout:   command.Duration("call-timeout"),
		MaxSteps:      command.Int("max-steps"),
		PollInterval:  command.Duration("poll-interval"),
	}
}

// Server owns the infrastructure of one orgflow process.
type Server struct {
	cfg    config.Config
	tracer trace.Tracer
	logger *slog.Logger
}

func NewServer(cfg config.Config, tracer trace.Tracer, logger *slog.Logger) *Server {
	return &Server{cfg: cfg, tracer: tracer, logger: logger}
}

// Start runs until SIGINT or SIGTERM, or until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.handleSignals(ctx, cancel)

	s.logger.InfoContext(ctx, "Initializing orgflow",
		"database", s.cfg.DatabaseScheme(),
		"event_bus", s.cfg.EventBusType,
		"port", s.cfg.Port)

	store, err := cmd.NewPersistence(ctx, s.cfg.DatabaseURL, s.logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(s.cfg.EventBusType, s.cfg.KafkaBrokers, s.logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			s.logger.Error("Failed to close event bus", "error", err)
		}
	}()

	timers, closeTimers, err := cmd.NewTimerStore(ctx, s.cfg.TimerStoreURL)
	if err != nil {
		return err
	}

	defer func() {
		if err := closeTimers(); err != nil {
			s.logger.Error("Failed to close timer store", "error", err)
		}
	}()

	app := application.New(application.Dependencies{
		Persistence:   store,
		EventBus:      eventBus,
		Timers:        timers,
		Collaborators: collaborators.Defaults(httpwebhook.NewClient(s.logger), s.logger),
		Tracer:        s.tracer,
		CallTimeout:   s.cfg.CallTimeout,
		MaxSteps:      s.cfg.MaxSteps,
		PollInterval:  s.cfg.PollInterval,
	}, s.logger)

	api := app.App()

	listenErr := make(chan error, 1)

	go func() {
		listenErr <- api.Listen(":" + strconv.Itoa(s.cfg.Port))
	}()

	runErr := make(chan error, 1)

	go func() {
		runErr <- app.Run(ctx)
	}()

	var errs []error

	select {
	case err = <-listenErr:
		errs = append(errs, err)

		cancel()

		errs = append(errs, <-runErr)
	case err = <-runErr:
		errs = append(errs, err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()

	err = api.ShutdownWithContext(shutdownCtx)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown api: %w", err))
	}

	s.logger.Info("orgflow stopped")

	return errors.Join(errs...)
}

func (s *Server) handleSignals(ctx context.Context, cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)

		select {
		case sig := <-signals:
			s.logger.Info("Received signal, shutting down gracefully", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
}
