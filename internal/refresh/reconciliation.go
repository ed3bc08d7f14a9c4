package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/depot-io/depot/internal/config"
	"github.com/depot-io/depot/internal/projects"
	"github.com/depot-io/depot/internal/repository"
	"github.com/depot-io/depot/internal/versions"
)

// VersionMismatch reports, for one project, the versions present on one side
// but not the other.
type VersionMismatch struct {
	ProjectID  string `json:"projectId"`
	GroupID    string `json:"groupId"`
	ArtifactID string `json:"artifactId"`

	// NotInStore are versions known upstream with no stored record.
	NotInStore []string `json:"versionsNotInStore,omitempty"`

	// NotInRepository are stored release versions the upstream no longer
	// reports.
	NotInRepository []string `json:"versionsNotInRepository,omitempty"`

	// Errors captures repository/store lookup failures for this project.
	Errors []string `json:"errors,omitempty"`
}

// Reconciler compares repository version sets against stored version sets.
//
// It is strictly read-only: no mutation, no scheduling. The mismatch report is
// a drift-detection audit signal that a human or the orchestrator may act
// upon.
type Reconciler struct {
	projects   projects.Store
	repository repository.ArtifactRepository
	batchSize  int
	logger     *slog.Logger
}

// NewReconciler creates a version reconciliation service.
func NewReconciler(store projects.Store, repo repository.ArtifactRepository) *Reconciler {
	return &Reconciler{
		projects:   store,
		repository: repo,
		batchSize:  defaultBatchSize,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// FindVersionsMismatches reports version drift for every tracked project.
//
// Projects whose repository or store lookup fails contribute a mismatch entry
// carrying the error; one project's failure never aborts the audit. Projects
// with no drift and no errors are omitted from the result.
func (r *Reconciler) FindVersionsMismatches(ctx context.Context) ([]VersionMismatch, error) {
	coordinates, err := r.projects.AllCoordinates(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing project coordinates: %w", err)
	}

	candidates := make([]*VersionMismatch, len(coordinates))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(r.batchSize)

	for i, coordinate := range coordinates {
		group.Go(func() error {
			candidates[i] = r.compareProject(ctx, coordinate)

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	mismatches := make([]VersionMismatch, 0, len(coordinates))

	for _, candidate := range candidates {
		if candidate != nil {
			mismatches = append(mismatches, *candidate)
		}
	}

	return mismatches, nil
}

// compareProject computes one project's mismatch entry, or nil when the
// project has no drift and no errors.
func (r *Reconciler) compareProject(ctx context.Context, coordinate projects.Coordinates) *VersionMismatch {
	mismatch := &VersionMismatch{
		ProjectID:  coordinate.ProjectID,
		GroupID:    coordinate.GroupID,
		ArtifactID: coordinate.ArtifactID,
	}

	repoVersions, err := r.repository.FindVersions(ctx, coordinate.GroupID, coordinate.ArtifactID)
	if err != nil {
		r.logger.Error("Repository lookup failed during reconciliation",
			slog.String("groupId", coordinate.GroupID),
			slog.String("artifactId", coordinate.ArtifactID),
			slog.String("error", err.Error()),
		)
		mismatch.Errors = append(mismatch.Errors, err.Error())

		return mismatch
	}

	stored, err := r.projects.FindVersions(ctx, coordinate.GroupID, coordinate.ArtifactID)
	if err != nil {
		mismatch.Errors = append(mismatch.Errors, err.Error())

		return mismatch
	}

	// Snapshot records never appear in upstream release listings, so they are
	// excluded from the store side of the comparison.
	storeVersions := make([]string, 0, len(stored))

	for _, record := range stored {
		if !record.Key.IsSnapshot() {
			storeVersions = append(storeVersions, record.Key.VersionID)
		}
	}

	mismatch.NotInStore = difference(repoVersions, storeVersions)
	mismatch.NotInRepository = difference(storeVersions, repoVersions)

	versions.SortVersionIDs(mismatch.NotInStore)
	versions.SortVersionIDs(mismatch.NotInRepository)

	if len(mismatch.NotInStore) == 0 && len(mismatch.NotInRepository) == 0 {
		return nil
	}

	return mismatch
}

// difference returns the members of left absent from right, by exact string
// equality.
func difference(left, right []string) []string {
	members := make(map[string]struct{}, len(right))
	for _, versionID := range right {
		members[versionID] = struct{}{}
	}

	var out []string

	for _, versionID := range left {
		if _, ok := members[versionID]; !ok {
			out = append(out, versionID)
		}
	}

	return out
}
