// Package refresh decides which artifact versions need synchronization work.
//
// The orchestrator diffs repository-known versions against store-known
// versions and pushes one notification per version needing work onto the
// queue. It never performs ingestion itself: consumption is the queue
// manager's job (internal/notifications). The package also provides the
// read-only version reconciliation audit (mismatch detection).
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/depot-io/depot/internal/config"
	"github.com/depot-io/depot/internal/notifications"
	"github.com/depot-io/depot/internal/projects"
	"github.com/depot-io/depot/internal/repository"
	"github.com/depot-io/depot/internal/versions"
)

// defaultBatchSize caps simultaneous in-flight project refreshes during an
// all-projects fan-out, bounding load on the upstream repository and the store.
const defaultBatchSize = 10

// Orchestrator schedules version synchronization work.
//
// Every entry point returns an aggregated outcome (message log + error log).
// Project-scoped failures are captured into the aggregate and reported as
// data; only violated caller preconditions (unknown project) surface as
// errors.
type Orchestrator struct {
	projects   projects.Store
	repository repository.ArtifactRepository
	queue      notifications.Queue
	batchSize  int
	logger     *slog.Logger
}

// OrchestratorOption configures optional Orchestrator behavior.
type OrchestratorOption func(*Orchestrator)

// WithBatchSize overrides the fan-out bound for all-projects operations.
func WithBatchSize(size int) OrchestratorOption {
	return func(o *Orchestrator) {
		if size > 0 {
			o.batchSize = size
		}
	}
}

// NewOrchestrator creates a refresh orchestrator over the given collaborators.
func NewOrchestrator(
	store projects.Store,
	repo repository.ArtifactRepository,
	queue notifications.Queue,
	opts ...OrchestratorOption,
) *Orchestrator {
	orchestrator := &Orchestrator{
		projects:   store,
		repository: repo,
		queue:      queue,
		batchSize:  defaultBatchSize,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	for _, opt := range opts {
		opt(orchestrator)
	}

	return orchestrator
}

// RefreshAllProjects schedules work for every known project coordinate.
//
// Projects are fanned out concurrently with a fixed batch bound; each project
// builds its own response and the branches are folded into one aggregate.
// One project's failure never aborts the others.
func (o *Orchestrator) RefreshAllProjects(ctx context.Context, fullUpdate, allVersions, transitive bool, parentEventID string) (*notifications.Response, error) {
	scope := versions.ScopeAllProjects

	parent := versions.ParentEventID(versions.All, versions.All, scope.String(), parentEventID)

	response := &notifications.Response{}
	message := fmt.Sprintf("executing [%s-%s-%s], parent event [%s], full/allVersions/transitive [%t/%t/%t]",
		versions.All, versions.All, scope, parent, fullUpdate, allVersions, transitive)
	response.AddMessage(message)
	o.logger.Info(message)

	coordinates, err := o.projects.AllCoordinates(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing project coordinates: %w", err)
	}

	subResponses, err := o.fanOut(ctx, coordinates, func(ctx context.Context, coordinate projects.Coordinates) *notifications.Response {
		sub := &notifications.Response{}
		sub.Combine(o.refreshHeadVersion(ctx, coordinate, fullUpdate, transitive, parent))
		sub.Combine(o.refreshVersionCandidates(ctx, coordinate, allVersions, transitive, parent))

		return sub
	})
	if err != nil {
		return nil, err
	}

	for _, sub := range subResponses {
		response.Combine(sub)
	}

	return response, nil
}

// RefreshDefaultSnapshots schedules the head/snapshot version of every known
// project. Projects without an active head record are silently skipped.
func (o *Orchestrator) RefreshDefaultSnapshots(ctx context.Context, fullUpdate, transitive bool, parentEventID string) (*notifications.Response, error) {
	scope := versions.ScopeSnapshotOnly

	parent := versions.ParentEventID(versions.All, versions.All, scope.String(), parentEventID)

	response := &notifications.Response{}
	message := fmt.Sprintf("executing [%s-%s-%s], parent event [%s], full/transitive [%t/%t]",
		versions.All, versions.All, scope, parent, fullUpdate, transitive)
	response.AddMessage(message)
	o.logger.Info(message)

	coordinates, err := o.projects.AllCoordinates(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing project coordinates: %w", err)
	}

	subResponses, err := o.fanOut(ctx, coordinates, func(ctx context.Context, coordinate projects.Coordinates) *notifications.Response {
		return o.refreshHeadVersion(ctx, coordinate, fullUpdate, transitive, parent)
	})
	if err != nil {
		return nil, err
	}

	for _, sub := range subResponses {
		response.Combine(sub)
	}

	return response, nil
}

// RefreshProjectVersions schedules work for one project: first the
// head/snapshot pass, then the explicit-version pass. Returns an error when
// the project is not tracked, since there is nothing to schedule against.
func (o *Orchestrator) RefreshProjectVersions(ctx context.Context, groupID, artifactID string, fullUpdate, allVersions, transitive bool, parentEventID string) (*notifications.Response, error) {
	coordinate, err := o.projects.FindCoordinates(ctx, groupID, artifactID)
	if err != nil {
		return nil, fmt.Errorf("refresh [%s-%s]: %w", groupID, artifactID, err)
	}

	scope := versions.ScopeAllVersions

	parent := versions.ParentEventID(groupID, artifactID, scope.String(), parentEventID)

	response := &notifications.Response{}
	message := fmt.Sprintf("executing [%s-%s-%s], parent event [%s], full/allVersions/transitive [%t/%t/%t]",
		groupID, artifactID, scope, parent, fullUpdate, allVersions, transitive)
	response.AddMessage(message)
	o.logger.Info(message)

	response.Combine(o.refreshHeadVersion(ctx, *coordinate, fullUpdate, transitive, parent))
	response.Combine(o.refreshVersionCandidates(ctx, *coordinate, allVersions, transitive, parent))

	return response, nil
}

// RefreshVersion schedules one explicit version. The version is always
// scheduled, whether or not it already exists in the store: the caller
// controls fullUpdate/transitive semantics downstream. Returns an error when
// the project is not tracked.
func (o *Orchestrator) RefreshVersion(ctx context.Context, groupID, artifactID, versionID string, fullUpdate, transitive bool, parentEventID string) (*notifications.Response, error) {
	coordinate, err := o.projects.FindCoordinates(ctx, groupID, artifactID)
	if err != nil {
		return nil, fmt.Errorf("refresh [%s-%s-%s]: %w", groupID, artifactID, versionID, err)
	}

	parent := versions.ParentEventID(groupID, artifactID, versionID, parentEventID)

	response := &notifications.Response{}
	message := fmt.Sprintf("executing [%s-%s-%s], parent event [%s], full/transitive [%t/%t]",
		groupID, artifactID, versionID, parent, fullUpdate, transitive)
	response.AddMessage(message)
	o.logger.Info(message)

	o.enqueue(ctx, response, *coordinate, versionID, fullUpdate, transitive, parent)

	return response, nil
}

// refreshHeadVersion schedules the project's head/snapshot version, but only
// when a head record exists and is not evicted. A missing head record is a
// silent skip, not an error.
func (o *Orchestrator) refreshHeadVersion(ctx context.Context, coordinate projects.Coordinates, fullUpdate, transitive bool, parent string) *notifications.Response {
	response := &notifications.Response{}

	record, err := o.projects.FindVersion(ctx, coordinate.GroupID, coordinate.ArtifactID, versions.HeadAlias)
	if err != nil {
		if errors.Is(err, projects.ErrVersionNotFound) {
			return response
		}

		response.AddError(fmt.Sprintf("head lookup failed for [%s-%s]: %v", coordinate.GroupID, coordinate.ArtifactID, err))

		return response
	}

	if record.Evicted {
		return response
	}

	o.enqueue(ctx, response, coordinate, record.Key.VersionID, fullUpdate, transitive, parent)

	return response
}

// refreshVersionCandidates diffs repository versions against stored versions
// and schedules the candidates.
//
// Incremental mode (allVersions=false) schedules repository versions missing
// from the store, comparing canonical version strings exactly. When the store
// holds zero non-snapshot versions the pass falls back to a full resync so a
// cold project is not silently skipped. Candidates are always enqueued with
// fullUpdate forced on.
func (o *Orchestrator) refreshVersionCandidates(ctx context.Context, coordinate projects.Coordinates, allVersions, transitive bool, parent string) *notifications.Response {
	response := &notifications.Response{}
	projectLabel := fmt.Sprintf("%s: [%s-%s]", coordinate.ProjectID, coordinate.GroupID, coordinate.ArtifactID)

	if !versions.AreValidCoordinates(coordinate.GroupID, coordinate.ArtifactID) {
		message := fmt.Sprintf("invalid coordinates: [%s-%s]", coordinate.GroupID, coordinate.ArtifactID)
		o.logger.Error(message)
		response.AddError(message)

		return response
	}

	o.logger.Info("Fetching versions from repository", slog.String("project", projectLabel))

	repoVersions, err := o.repository.FindVersions(ctx, coordinate.GroupID, coordinate.ArtifactID)
	if err != nil {
		response.AddError(err.Error())

		return response
	}

	if len(repoVersions) == 0 {
		return response
	}

	stored, err := o.projects.FindVersions(ctx, coordinate.GroupID, coordinate.ArtifactID)
	if err != nil {
		response.AddError(fmt.Sprintf("store lookup failed for %s: %v", projectLabel, err))

		return response
	}

	storeVersions := make([]string, 0, len(stored))

	for _, record := range stored {
		if !record.Key.IsSnapshot() {
			storeVersions = append(storeVersions, record.Key.VersionID)
		}
	}

	candidates := repoVersions
	if !allVersions && len(storeVersions) > 0 {
		candidates = calculateCandidateVersions(repoVersions, storeVersions)
	}

	if len(candidates) == 0 {
		return response
	}

	message := fmt.Sprintf("%s found [%d] versions to update: %v", projectLabel, len(candidates), candidates)
	o.logger.Info(message)
	response.AddMessage(message)

	for _, versionID := range candidates {
		o.enqueue(ctx, response, coordinate, versionID, true, transitive, parent)
	}

	return response
}

// calculateCandidateVersions returns repository versions absent from the
// store. Matching is exact canonical string equality, never fuzzy.
func calculateCandidateVersions(repoVersions, storeVersions []string) []string {
	known := make(map[string]struct{}, len(storeVersions))
	for _, versionID := range storeVersions {
		known[versionID] = struct{}{}
	}

	candidates := make([]string, 0, len(repoVersions))

	for _, versionID := range repoVersions {
		if _, ok := known[versionID]; !ok {
			candidates = append(candidates, versionID)
		}
	}

	return candidates
}

// enqueue pushes one notification and records the outcome on the response.
func (o *Orchestrator) enqueue(ctx context.Context, response *notifications.Response, coordinate projects.Coordinates, versionID string, fullUpdate, transitive bool, parent string) {
	notification := notifications.New(coordinate.ProjectID, coordinate.GroupID, coordinate.ArtifactID, versionID, fullUpdate, transitive, parent)

	eventID, err := o.queue.Push(ctx, notification)
	if err != nil {
		response.AddError(fmt.Sprintf("queueing [%s-%s-%s] failed: %v", coordinate.GroupID, coordinate.ArtifactID, versionID, err))

		return
	}

	response.AddMessage(fmt.Sprintf("queued [%s-%s-%s], parent event [%s], full/transitive [%t/%t], event id [%s]",
		coordinate.GroupID, coordinate.ArtifactID, versionID, parent, fullUpdate, transitive, eventID))
}

// fanOut runs fn per coordinate with bounded parallelism and returns the
// per-project responses. Cross-project ordering is unspecified; each branch
// accumulates independently and the caller folds the results.
func (o *Orchestrator) fanOut(
	ctx context.Context,
	coordinates []projects.Coordinates,
	fn func(ctx context.Context, coordinate projects.Coordinates) *notifications.Response,
) ([]*notifications.Response, error) {
	subResponses := make([]*notifications.Response, len(coordinates))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(o.batchSize)

	for i, coordinate := range coordinates {
		group.Go(func() error {
			subResponses[i] = fn(ctx, coordinate)

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return subResponses, nil
}
