package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/depot-io/depot/internal/config"
	"github.com/depot-io/depot/internal/dependencies"
	"github.com/depot-io/depot/internal/projects"
	"github.com/depot-io/depot/internal/repository"
	"github.com/depot-io/depot/internal/versions"
)

// Manager drains the notification queue and performs the scheduled work: it
// fetches version metadata from the artifact repository, upserts the version
// record, recomputes the dependency report, and writes the terminal
// notification state.
//
// Exclusivity is consumer-side: the queue's atomic claim hands each event to
// at most one Manager, and the terminal state is written exactly once.
// Re-processing a version that already succeeded just redoes cheap,
// side-effect-idempotent work, which is what makes refresh retries safe.
type Manager struct {
	queue      ConsumerQueue
	projects   projects.Store
	repository repository.ArtifactRepository
	publisher  EventPublisher
	logger     *slog.Logger
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithPublisher attaches a terminal-event publisher. Publishing is
// best-effort; failures are logged and never fail the notification.
func WithPublisher(publisher EventPublisher) ManagerOption {
	return func(m *Manager) {
		m.publisher = publisher
	}
}

// NewManager creates a queue manager.
func NewManager(
	queue ConsumerQueue,
	store projects.Store,
	repo repository.ArtifactRepository,
	opts ...ManagerOption,
) *Manager {
	manager := &Manager{
		queue:      queue,
		projects:   store,
		repository: repo,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	for _, opt := range opts {
		opt(manager)
	}

	return manager
}

// Notify enqueues a single refresh notification for one project version and
// returns its event id. This is the administrative requeue path.
func (m *Manager) Notify(ctx context.Context, projectID, groupID, artifactID, versionID string) (string, error) {
	parent := versions.ParentEventID(groupID, artifactID, versionID, "")

	return m.queue.Push(ctx, New(projectID, groupID, artifactID, versionID, true, false, parent))
}

// Run polls the queue until the context is cancelled, draining all pending
// notifications on every tick.
func (m *Manager) Run(ctx context.Context, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.drain(ctx); err != nil {
				m.logger.Error("Queue drain failed", slog.String("error", err.Error()))
			}
		}
	}
}

// drain processes pending notifications until the queue is empty.
func (m *Manager) drain(ctx context.Context) error {
	for {
		if _, err := m.ProcessNext(ctx); err != nil {
			if errors.Is(err, ErrQueueEmpty) {
				return nil
			}

			return err
		}
	}
}

// ProcessNext claims and handles one pending notification.
//
// Returns ErrQueueEmpty when nothing is pending. Work failures (repository
// unreachable, invalid version) end up as errors on the terminal notification,
// not as a returned error: the returned error is reserved for queue/store
// faults that prevent the claim or the terminal write.
func (m *Manager) ProcessNext(ctx context.Context) (*Notification, error) {
	notification, err := m.queue.ClaimNext(ctx)
	if err != nil {
		return nil, err
	}

	m.handle(ctx, notification)
	notification.Complete(time.Now().UTC())

	if err := m.queue.MarkProcessed(ctx, notification); err != nil {
		return nil, fmt.Errorf("marking event [%s] processed: %w", notification.EventID, err)
	}

	if m.publisher != nil {
		if err := m.publisher.PublishProcessed(ctx, notification); err != nil {
			m.logger.Warn("Publishing processed notification failed",
				slog.String("eventId", notification.EventID),
				slog.String("error", err.Error()),
			)
		}
	}

	m.logger.Info("Processed notification",
		slog.String("eventId", notification.EventID),
		slog.String("parentEventId", notification.ParentEventID),
		slog.String("gav", fmt.Sprintf("%s-%s-%s", notification.GroupID, notification.ArtifactID, notification.VersionID)),
		slog.Bool("success", notification.Success),
	)

	return notification, nil
}

// handle performs the refresh work for one claimed notification, accumulating
// its outcome messages and errors in place.
func (m *Manager) handle(ctx context.Context, notification *Notification) {
	groupID, artifactID, versionID := notification.GroupID, notification.ArtifactID, notification.VersionID

	if err := versions.ValidateVersionID(versionID); err != nil {
		notification.AddError(fmt.Sprintf("invalid version [%s]: %v", versionID, err))

		return
	}

	metadata, err := m.repository.FindVersion(ctx, groupID, artifactID, versionID)
	if err != nil {
		notification.AddError(fmt.Sprintf("repository lookup failed for [%s-%s-%s]: %v", groupID, artifactID, versionID, err))

		return
	}

	if metadata == nil {
		notification.AddError(fmt.Sprintf("version [%s-%s-%s] not found in repository", groupID, artifactID, versionID))

		return
	}

	record, err := m.upsertVersion(ctx, notification, metadata)
	if err != nil {
		notification.AddError(err.Error())

		return
	}

	if record == nil {
		// Excluded versions are never re-ingested.
		return
	}

	m.recomputeReports(ctx, notification, record)
}

// upsertVersion merges upstream metadata into the stored version record,
// preserving administrative flags. Returns (nil, nil) when the stored record
// is excluded.
func (m *Manager) upsertVersion(ctx context.Context, notification *Notification, metadata *repository.VersionMetadata) (*projects.VersionRecord, error) {
	key := metadata.Key
	now := time.Now().UTC()

	record := &projects.VersionRecord{Key: key, CreatedAt: now}

	existing, err := m.projects.FindVersion(ctx, key.GroupID, key.ArtifactID, key.VersionID)

	switch {
	case err == nil:
		if existing.Excluded {
			notification.AddError(fmt.Sprintf("version [%s] is excluded from the store", key))

			return nil, nil
		}

		record = existing
	case errors.Is(err, projects.ErrVersionNotFound):
		// First ingestion of this version.
	default:
		return nil, fmt.Errorf("store lookup failed for [%s]: %w", key, err)
	}

	record.Dependencies = metadata.Dependencies
	record.UpdatedAt = now

	if err := m.projects.SaveVersion(ctx, record); err != nil {
		return nil, fmt.Errorf("saving version [%s]: %w", key, err)
	}

	notification.AddMessage(fmt.Sprintf("updated version [%s] with [%d] dependencies", key, len(record.Dependencies)))

	return record, nil
}

// recomputeReports resolves the target's transitive closure over a snapshot of
// reachable records and writes the report back. With the transitive flag set,
// reports for every reachable stored version are recomputed off the same memo.
func (m *Manager) recomputeReports(ctx context.Context, notification *Notification, record *projects.VersionRecord) {
	universe, err := m.loadUniverse(ctx, record)
	if err != nil {
		notification.AddError(err.Error())

		return
	}

	resolver := dependencies.NewResolver(universe)

	report, err := resolver.Resolve(ctx, record.Key)
	if err != nil {
		notification.AddError(fmt.Sprintf("resolving [%s]: %v", record.Key, err))

		return
	}

	if err := m.projects.SaveReport(ctx, record.Key, report); err != nil {
		notification.AddError(fmt.Sprintf("saving report for [%s]: %v", record.Key, err))

		return
	}

	notification.AddMessage(fmt.Sprintf("dependency report for [%s]: valid [%t], [%d] transitive dependencies",
		record.Key, report.Valid, len(report.Transitive)))

	if !notification.Transitive {
		return
	}

	targets := make([]versions.Key, 0, len(universe))

	for key := range universe {
		if key != record.Key {
			targets = append(targets, key)
		}
	}

	reports, err := resolver.ResolveAll(ctx, targets)
	if err != nil {
		notification.AddError(fmt.Sprintf("transitive recomputation for [%s]: %v", record.Key, err))

		return
	}

	for key, depReport := range reports {
		if err := m.projects.SaveReport(ctx, key, depReport); err != nil {
			notification.AddError(fmt.Sprintf("saving report for [%s]: %v", key, err))

			return
		}
	}

	notification.AddMessage(fmt.Sprintf("recomputed [%d] dependency reports transitively", len(reports)))
}

// loadUniverse snapshots every record reachable from the target through
// direct-dependency declarations. Dependencies with no stored record are left
// out of the universe; the resolver degrades their ancestors to invalid.
func (m *Manager) loadUniverse(ctx context.Context, record *projects.VersionRecord) (dependencies.Universe, error) {
	universe := dependencies.Universe{record.Key: *record}
	frontier := append([]versions.Key(nil), record.Dependencies...)

	for len(frontier) > 0 {
		key := frontier[0]
		frontier = frontier[1:]

		if _, ok := universe[key]; ok {
			continue
		}

		dependency, err := m.projects.FindVersion(ctx, key.GroupID, key.ArtifactID, key.VersionID)
		if err != nil {
			if errors.Is(err, projects.ErrVersionNotFound) {
				continue
			}

			return nil, fmt.Errorf("store lookup failed for [%s]: %w", key, err)
		}

		universe[key] = *dependency
		frontier = append(frontier, dependency.Dependencies...)
	}

	return universe, nil
}
