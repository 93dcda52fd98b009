package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/northhollow/keel/internal/bundle"
	"github.com/northhollow/keel/internal/db"
	"github.com/northhollow/keel/internal/events"
	"github.com/northhollow/keel/internal/ingest"
	"github.com/northhollow/keel/internal/overview"
	"github.com/northhollow/keel/internal/prioritize"
	"github.com/northhollow/keel/internal/reasoning"
	"github.com/northhollow/keel/internal/scheduler"
	"github.com/northhollow/keel/internal/server"
	"github.com/northhollow/keel/internal/webhooks"
	"github.com/northhollow/keel/pkg/types"
)

// jobEmailIngestion etc. are the scheduler job names; the ops API and CLI
// address jobs by these strings.
const (
	jobEmailIngestion    = "email_ingestion"
	jobCalendarIngestion = "calendar_ingestion"
	jobTrackerIngestion  = "tracker_ingestion"
	jobStatusOverview    = "status_overview"
	jobPrioritization    = "prioritization"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and ops API until interrupted",
		Long: `Start the long-running keel process: the job scheduler with its
ingestion, overview and prioritization jobs, webhook delivery, and the
operational HTTP API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if cfg.Reasoning.APIKey == "" {
				log.Warn().Msg("no API key configured; reasoning-backed jobs will degrade")
			}

			bus := events.NewBus()
			defer bus.Close()

			transport := reasoning.NewAnthropicTransport(
				cfg.Reasoning.BaseURL, cfg.Reasoning.APIKey, cfg.Reasoning.Model)
			client := reasoning.NewClient(cfg.Reasoning, transport, reasoning.NewStoreSink(store))

			builder := bundle.New(store, cfg.ContextBudget)
			generator := overview.New(store, builder, client, bus)
			engine := prioritize.New(store, builder, client, cfg.Weights, bus)

			sched := scheduler.New(bus)
			if err := registerJobs(sched, store, bus, generator, engine); err != nil {
				return err
			}

			hooks := webhooks.NewManager(cfg.Webhooks)
			hooks.Start(bus)

			srv := server.New(cfg.Listen, store, sched, hooks)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := sched.Start(ctx); err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case <-ctx.Done():
				log.Info().Msg("shutting down")
			case err := <-errCh:
				if err != nil {
					return err
				}
			}

			sched.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := hooks.Stop(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("webhook shutdown timed out")
			}
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// registerJobs wires every recurring job into the scheduler. Ingestion jobs
// for sources without a configured feed still register, so their cadence can
// be inspected and adjusted, but their runs are no-ops.
func registerJobs(sched *scheduler.Scheduler, store *db.Store, bus *events.Bus, generator *overview.Generator, engine *prioritize.Engine) error {
	type sourceJob struct {
		name     string
		source   types.Source
		interval time.Duration
	}
	sourceJobs := []sourceJob{
		{jobEmailIngestion, types.SourceEmail, cfg.Jobs.EmailIngestion.Std()},
		{jobCalendarIngestion, types.SourceCalendar, cfg.Jobs.CalendarIngestion.Std()},
		{jobTrackerIngestion, types.SourceTracker, cfg.Jobs.TrackerIngestion.Std()},
	}

	for _, sj := range sourceJobs {
		src, ok := cfg.Sources[string(sj.source)]
		if !ok || src.URL == "" {
			err := sched.Register(sj.name, sj.interval, func(ctx context.Context) error {
				log.Debug().Str("source", string(sj.source)).Msg("no feed configured, skipping")
				return nil
			})
			if err != nil {
				return err
			}
			continue
		}
		runner := ingest.NewRunner(store, ingest.NewFeedCollector(sj.source, src.URL, src.Token), bus)
		err := sched.Register(sj.name, sj.interval, func(ctx context.Context) error {
			_, err := runner.Run(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}

	if err := sched.Register(jobStatusOverview, cfg.Jobs.StatusOverview.Std(), func(ctx context.Context) error {
		_, err := generator.RegenerateAll(ctx)
		return err
	}); err != nil {
		return err
	}
	return sched.Register(jobPrioritization, cfg.Jobs.Prioritization.Std(), func(ctx context.Context) error {
		_, err := engine.Reprioritize(ctx)
		return err
	})
}
