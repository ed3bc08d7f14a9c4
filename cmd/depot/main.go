// Package main provides the depot artifact metadata synchronization service.
//
// The service keeps a store of project version metadata in sync with an
// upstream Maven repository: a queue worker drains refresh notifications,
// recomputes transitive dependency reports, and optionally publishes terminal
// notifications to Kafka.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/depot-io/depot/internal/config"
	"github.com/depot-io/depot/internal/events"
	"github.com/depot-io/depot/internal/notifications"
	"github.com/depot-io/depot/internal/refresh"
	"github.com/depot-io/depot/internal/repository"
	"github.com/depot-io/depot/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "depot"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting depot service",
		slog.String("service", name),
		slog.String("version", version),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	projectStore, err := storage.NewProjectStore(dbConn)
	if err != nil {
		logger.Error("Failed to create project store", slog.String("error", err.Error()))
		_ = dbConn.Close()
		os.Exit(1)
	}

	notificationStore, err := storage.NewNotificationStore(dbConn)
	if err != nil {
		logger.Error("Failed to create notification store", slog.String("error", err.Error()))
		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Stores initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
	)

	repositoryConfig := repository.LoadConfig()

	artifactRepository, err := repository.NewMavenRepository(repositoryConfig)
	if err != nil {
		logger.Error("Failed to create repository client", slog.String("error", err.Error()))
		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Repository client initialized",
		slog.String("base_url", repositoryConfig.BaseURL),
		slog.Int("requests_per_second", repositoryConfig.RequestsPerSecond),
		slog.Int("burst", repositoryConfig.Burst),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional administrative project seed
	seedPath := config.GetEnvStr("DEPOT_PROJECTS_FILE", ".depot-projects.yaml")
	if err := applySeed(ctx, projectStore, LoadSeedFile(seedPath, logger), logger); err != nil {
		logger.Error("Failed to apply project seed", slog.String("error", err.Error()))
		_ = dbConn.Close()
		os.Exit(1)
	}

	var managerOpts []notifications.ManagerOption

	eventsConfig := events.LoadConfig()
	if eventsConfig.Enabled() {
		publisher := events.NewKafkaPublisher(eventsConfig)

		defer func() {
			_ = publisher.Close()
		}()

		managerOpts = append(managerOpts, notifications.WithPublisher(publisher))

		logger.Info("Kafka publisher enabled",
			slog.Any("brokers", eventsConfig.Brokers),
			slog.String("topic", eventsConfig.Topic),
		)
	} else {
		logger.Info("Kafka publisher disabled",
			slog.String("note", "Set DEPOT_KAFKA_BROKERS to publish processed notifications"),
		)
	}

	manager := notifications.NewManager(notificationStore, projectStore, artifactRepository, managerOpts...)
	orchestrator := refresh.NewOrchestrator(projectStore, artifactRepository, notificationStore)
	reconciler := refresh.NewReconciler(projectStore, artifactRepository)

	startSnapshotRefresh(ctx, orchestrator, logger)
	startReconciliation(ctx, reconciler, logger)
	startStaleRequeue(ctx, notificationStore, logger)

	pollInterval := config.GetEnvDuration("DEPOT_QUEUE_POLL_INTERVAL", 5*time.Second)

	logger.Info("Queue worker starting", slog.Duration("poll_interval", pollInterval))

	if err := manager.Run(ctx, pollInterval); err != nil && ctx.Err() == nil {
		logger.Error("Queue worker failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Depot service stopped")
}

// startSnapshotRefresh schedules the periodic head-snapshot refresh when
// DEPOT_SNAPSHOT_REFRESH_INTERVAL is set to a positive duration.
func startSnapshotRefresh(ctx context.Context, orchestrator *refresh.Orchestrator, logger *slog.Logger) {
	interval := config.GetEnvDuration("DEPOT_SNAPSHOT_REFRESH_INTERVAL", 0)
	if interval <= 0 {
		return
	}

	logger.Info("Snapshot refresh scheduled", slog.Duration("interval", interval))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				response, err := orchestrator.RefreshDefaultSnapshots(ctx, false, false, "")
				if err != nil {
					logger.Error("Snapshot refresh failed", slog.String("error", err.Error()))

					continue
				}

				logger.Info("Snapshot refresh completed",
					slog.Int("messages", len(response.Messages)),
					slog.Int("errors", len(response.Errors)),
				)
			}
		}
	}()
}

// startStaleRequeue schedules the periodic return of abandoned claims to
// pending state when DEPOT_REQUEUE_STALE_INTERVAL is set to a positive
// duration. A claim counts as abandoned once it has been in flight for the
// same interval, so a crashed worker's events wait at most two intervals.
func startStaleRequeue(ctx context.Context, store *storage.NotificationStore, logger *slog.Logger) {
	interval := config.GetEnvDuration("DEPOT_REQUEUE_STALE_INTERVAL", 0)
	if interval <= 0 {
		return
	}

	olderThan := fmt.Sprintf("%d seconds", int64(interval.Seconds()))

	logger.Info("Stale claim requeue scheduled", slog.Duration("interval", interval))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				requeued, err := store.RequeueStale(ctx, olderThan)
				if err != nil {
					logger.Error("Stale claim requeue failed", slog.String("error", err.Error()))

					continue
				}

				if requeued > 0 {
					logger.Warn("Stale claims returned to pending", slog.Int64("requeued", requeued))
				}
			}
		}
	}()
}

// startReconciliation schedules the periodic store/repository version drift
// report when DEPOT_RECONCILE_INTERVAL is set to a positive duration. The
// report is logged only; reconciliation never mutates the store.
func startReconciliation(ctx context.Context, reconciler *refresh.Reconciler, logger *slog.Logger) {
	interval := config.GetEnvDuration("DEPOT_RECONCILE_INTERVAL", 0)
	if interval <= 0 {
		return
	}

	logger.Info("Version reconciliation scheduled", slog.Duration("interval", interval))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mismatches, err := reconciler.FindVersionsMismatches(ctx)
				if err != nil {
					logger.Error("Version reconciliation failed", slog.String("error", err.Error()))

					continue
				}

				for _, mismatch := range mismatches {
					logger.Warn("Version mismatch detected",
						slog.String("project_id", mismatch.ProjectID),
						slog.String("group_id", mismatch.GroupID),
						slog.String("artifact_id", mismatch.ArtifactID),
						slog.Any("not_in_store", mismatch.NotInStore),
						slog.Any("not_in_repository", mismatch.NotInRepository),
						slog.Any("errors", mismatch.Errors),
					)
				}

				logger.Info("Version reconciliation completed", slog.Int("mismatches", len(mismatches)))
			}
		}
	}()
}
