package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depot-io/depot/internal/projects"
	"github.com/depot-io/depot/internal/repository"
	"github.com/depot-io/depot/internal/storage"
	"github.com/depot-io/depot/internal/versions"
)

// stubStore serves canned coordinates and version records for scheduling tests.
type stubStore struct {
	coordinates []projects.Coordinates
	records     map[string][]projects.VersionRecord
	findErr     map[string]error
}

var _ projects.Store = (*stubStore)(nil)

func projectKey(groupID, artifactID string) string {
	return groupID + ":" + artifactID
}

func (s *stubStore) FindCoordinates(_ context.Context, groupID, artifactID string) (*projects.Coordinates, error) {
	for _, coordinate := range s.coordinates {
		if coordinate.GroupID == groupID && coordinate.ArtifactID == artifactID {
			found := coordinate

			return &found, nil
		}
	}

	return nil, projects.ErrProjectNotFound
}

func (s *stubStore) AllCoordinates(_ context.Context) ([]projects.Coordinates, error) {
	return s.coordinates, nil
}

func (s *stubStore) FindVersions(_ context.Context, groupID, artifactID string) ([]projects.VersionRecord, error) {
	if err := s.findErr[projectKey(groupID, artifactID)]; err != nil {
		return nil, err
	}

	return s.records[projectKey(groupID, artifactID)], nil
}

func (s *stubStore) FindVersion(_ context.Context, groupID, artifactID, versionID string) (*projects.VersionRecord, error) {
	for _, record := range s.records[projectKey(groupID, artifactID)] {
		if record.Key.VersionID == versionID {
			found := record

			return &found, nil
		}
	}

	return nil, projects.ErrVersionNotFound
}

func (s *stubStore) SaveCoordinates(_ context.Context, _ *projects.Coordinates) error {
	return nil
}

func (s *stubStore) SaveVersion(_ context.Context, _ *projects.VersionRecord) error {
	return nil
}

func (s *stubStore) SaveReport(_ context.Context, _ versions.Key, _ projects.DependencyReport) error {
	return nil
}

// stubRepository serves canned upstream version listings.
type stubRepository struct {
	versions map[string][]string
	errs     map[string]error
}

var _ repository.ArtifactRepository = (*stubRepository)(nil)

func (r *stubRepository) FindVersions(_ context.Context, groupID, artifactID string) ([]string, error) {
	if err := r.errs[projectKey(groupID, artifactID)]; err != nil {
		return nil, err
	}

	return r.versions[projectKey(groupID, artifactID)], nil
}

func (r *stubRepository) FindVersion(_ context.Context, groupID, artifactID, versionID string) (*repository.VersionMetadata, error) {
	return &repository.VersionMetadata{Key: versions.NewKey(groupID, artifactID, versionID)}, nil
}

func releaseRecord(groupID, artifactID, versionID string) projects.VersionRecord {
	return projects.VersionRecord{Key: versions.NewKey(groupID, artifactID, versionID)}
}

func queuedVersionIDs(t *testing.T, queue *storage.MemoryQueue) []string {
	t.Helper()

	all, err := queue.GetAll(context.Background())
	require.NoError(t, err)

	ids := make([]string, 0, len(all))
	for _, notification := range all {
		ids = append(ids, notification.VersionID)
	}

	return ids
}

func TestRefreshProjectVersions_IncrementalSchedulesOnlyMissing(t *testing.T) {
	store := &stubStore{
		coordinates: []projects.Coordinates{{ProjectID: "PROD-1", GroupID: "org.example", ArtifactID: "core"}},
		records: map[string][]projects.VersionRecord{
			projectKey("org.example", "core"): {
				releaseRecord("org.example", "core", "1.0.0"),
				releaseRecord("org.example", "core", "1.1.0"),
			},
		},
	}
	repo := &stubRepository{versions: map[string][]string{
		projectKey("org.example", "core"): {"1.0.0", "1.1.0", "1.2.0"},
	}}
	queue := storage.NewMemoryQueue()

	orchestrator := NewOrchestrator(store, repo, queue)

	response, err := orchestrator.RefreshProjectVersions(context.Background(), "org.example", "core", false, false, false, "")
	require.NoError(t, err)
	assert.False(t, response.HasErrors(), "errors: %v", response.Errors)

	assert.Equal(t, []string{"1.2.0"}, queuedVersionIDs(t, queue))
}

func TestRefreshProjectVersions_AllVersionsSchedulesEverything(t *testing.T) {
	store := &stubStore{
		coordinates: []projects.Coordinates{{ProjectID: "PROD-1", GroupID: "org.example", ArtifactID: "core"}},
		records: map[string][]projects.VersionRecord{
			projectKey("org.example", "core"): {
				releaseRecord("org.example", "core", "1.0.0"),
				releaseRecord("org.example", "core", "1.1.0"),
			},
		},
	}
	repo := &stubRepository{versions: map[string][]string{
		projectKey("org.example", "core"): {"1.0.0", "1.1.0", "1.2.0"},
	}}
	queue := storage.NewMemoryQueue()

	orchestrator := NewOrchestrator(store, repo, queue)

	_, err := orchestrator.RefreshProjectVersions(context.Background(), "org.example", "core", false, true, false, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"1.0.0", "1.1.0", "1.2.0"}, queuedVersionIDs(t, queue))
}

func TestRefreshProjectVersions_ColdProjectFallsBackToFullResync(t *testing.T) {
	store := &stubStore{
		coordinates: []projects.Coordinates{{ProjectID: "PROD-1", GroupID: "org.example", ArtifactID: "core"}},
	}
	repo := &stubRepository{versions: map[string][]string{
		projectKey("org.example", "core"): {"1.0.0", "1.1.0"},
	}}
	queue := storage.NewMemoryQueue()

	orchestrator := NewOrchestrator(store, repo, queue)

	_, err := orchestrator.RefreshProjectVersions(context.Background(), "org.example", "core", false, false, false, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"1.0.0", "1.1.0"}, queuedVersionIDs(t, queue))
}

func TestRefreshProjectVersions_SnapshotOnlyStoreCountsAsCold(t *testing.T) {
	store := &stubStore{
		coordinates: []projects.Coordinates{{ProjectID: "PROD-1", GroupID: "org.example", ArtifactID: "core"}},
		records: map[string][]projects.VersionRecord{
			projectKey("org.example", "core"): {
				releaseRecord("org.example", "core", versions.HeadAlias),
			},
		},
	}
	repo := &stubRepository{versions: map[string][]string{
		projectKey("org.example", "core"): {"1.0.0"},
	}}
	queue := storage.NewMemoryQueue()

	orchestrator := NewOrchestrator(store, repo, queue)

	_, err := orchestrator.RefreshProjectVersions(context.Background(), "org.example", "core", false, false, false, "")
	require.NoError(t, err)

	// The head record is scheduled by the head pass; the candidate pass still
	// treats the store as cold because no release versions exist.
	assert.Equal(t, []string{versions.HeadAlias, "1.0.0"}, queuedVersionIDs(t, queue))
}

func TestRefreshProjectVersions_CandidatesForceFullUpdate(t *testing.T) {
	store := &stubStore{
		coordinates: []projects.Coordinates{{ProjectID: "PROD-1", GroupID: "org.example", ArtifactID: "core"}},
	}
	repo := &stubRepository{versions: map[string][]string{
		projectKey("org.example", "core"): {"1.0.0"},
	}}
	queue := storage.NewMemoryQueue()

	orchestrator := NewOrchestrator(store, repo, queue)

	_, err := orchestrator.RefreshProjectVersions(context.Background(), "org.example", "core", false, false, false, "")
	require.NoError(t, err)

	all, err := queue.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].FullUpdate)
}

func TestRefreshProjectVersions_UnknownProject(t *testing.T) {
	orchestrator := NewOrchestrator(&stubStore{}, &stubRepository{}, storage.NewMemoryQueue())

	_, err := orchestrator.RefreshProjectVersions(context.Background(), "org.example", "ghost", false, false, false, "")

	assert.ErrorIs(t, err, projects.ErrProjectNotFound)
}

func TestRefreshProjectVersions_EvictedHeadSkipped(t *testing.T) {
	head := releaseRecord("org.example", "core", versions.HeadAlias)
	head.Evicted = true

	store := &stubStore{
		coordinates: []projects.Coordinates{{ProjectID: "PROD-1", GroupID: "org.example", ArtifactID: "core"}},
		records: map[string][]projects.VersionRecord{
			projectKey("org.example", "core"): {head},
		},
	}
	repo := &stubRepository{}
	queue := storage.NewMemoryQueue()

	orchestrator := NewOrchestrator(store, repo, queue)

	response, err := orchestrator.RefreshProjectVersions(context.Background(), "org.example", "core", false, false, false, "")
	require.NoError(t, err)
	assert.False(t, response.HasErrors())

	assert.Empty(t, queuedVersionIDs(t, queue))
}

func TestRefreshAllProjects_OneFailureDoesNotAbortOthers(t *testing.T) {
	store := &stubStore{
		coordinates: []projects.Coordinates{
			{ProjectID: "PROD-1", GroupID: "org.example", ArtifactID: "alpha"},
			{ProjectID: "PROD-2", GroupID: "org.example", ArtifactID: "broken"},
			{ProjectID: "PROD-3", GroupID: "org.example", ArtifactID: "gamma"},
		},
	}
	repo := &stubRepository{
		versions: map[string][]string{
			projectKey("org.example", "alpha"): {"1.0.0"},
			projectKey("org.example", "gamma"): {"2.0.0"},
		},
		errs: map[string]error{
			projectKey("org.example", "broken"): fmt.Errorf("%w: metadata unreachable for org.example-broken", repository.ErrRepository),
		},
	}
	queue := storage.NewMemoryQueue()

	orchestrator := NewOrchestrator(store, repo, queue, WithBatchSize(2))

	response, err := orchestrator.RefreshAllProjects(context.Background(), false, false, false, "")
	require.NoError(t, err)

	queued := queuedVersionIDs(t, queue)
	assert.ElementsMatch(t, []string{"1.0.0", "2.0.0"}, queued)

	require.Len(t, response.Errors, 1)
	assert.Contains(t, response.Errors[0], "org.example-broken")
}

func TestRefreshAllProjects_MintsBatchParentEvent(t *testing.T) {
	store := &stubStore{
		coordinates: []projects.Coordinates{{ProjectID: "PROD-1", GroupID: "org.example", ArtifactID: "core"}},
	}
	repo := &stubRepository{versions: map[string][]string{
		projectKey("org.example", "core"): {"1.0.0"},
	}}
	queue := storage.NewMemoryQueue()

	orchestrator := NewOrchestrator(store, repo, queue)

	_, err := orchestrator.RefreshAllProjects(context.Background(), false, false, false, "")
	require.NoError(t, err)

	all, err := queue.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "all-all-all", all[0].ParentEventID)
}

func TestRefreshAllProjects_SuppliedParentPropagates(t *testing.T) {
	store := &stubStore{
		coordinates: []projects.Coordinates{{ProjectID: "PROD-1", GroupID: "org.example", ArtifactID: "core"}},
	}
	repo := &stubRepository{versions: map[string][]string{
		projectKey("org.example", "core"): {"1.0.0"},
	}}
	queue := storage.NewMemoryQueue()

	orchestrator := NewOrchestrator(store, repo, queue)

	_, err := orchestrator.RefreshAllProjects(context.Background(), false, false, false, "upstream-parent")
	require.NoError(t, err)

	all, err := queue.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "upstream-parent", all[0].ParentEventID)
}

func TestRefreshDefaultSnapshots_HeadOnly(t *testing.T) {
	store := &stubStore{
		coordinates: []projects.Coordinates{
			{ProjectID: "PROD-1", GroupID: "org.example", ArtifactID: "with-head"},
			{ProjectID: "PROD-2", GroupID: "org.example", ArtifactID: "no-head"},
		},
		records: map[string][]projects.VersionRecord{
			projectKey("org.example", "with-head"): {
				releaseRecord("org.example", "with-head", versions.HeadAlias),
				releaseRecord("org.example", "with-head", "1.0.0"),
			},
			projectKey("org.example", "no-head"): {
				releaseRecord("org.example", "no-head", "1.0.0"),
			},
		},
	}
	repo := &stubRepository{versions: map[string][]string{
		projectKey("org.example", "with-head"): {"1.0.0", "1.1.0"},
		projectKey("org.example", "no-head"):   {"1.0.0"},
	}}
	queue := storage.NewMemoryQueue()

	orchestrator := NewOrchestrator(store, repo, queue)

	response, err := orchestrator.RefreshDefaultSnapshots(context.Background(), true, false, "")
	require.NoError(t, err)
	assert.False(t, response.HasErrors())

	// Only the head/snapshot version of the project that has one; no
	// candidate diffing happens on this path.
	assert.Equal(t, []string{versions.HeadAlias}, queuedVersionIDs(t, queue))

	all, err := queue.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "all-all-all-SNAPSHOT", all[0].ParentEventID)
}

func TestRefreshVersion_AlwaysSchedules(t *testing.T) {
	store := &stubStore{
		coordinates: []projects.Coordinates{{ProjectID: "PROD-1", GroupID: "org.example", ArtifactID: "core"}},
		records: map[string][]projects.VersionRecord{
			projectKey("org.example", "core"): {releaseRecord("org.example", "core", "1.0.0")},
		},
	}
	queue := storage.NewMemoryQueue()

	orchestrator := NewOrchestrator(store, &stubRepository{}, queue)

	response, err := orchestrator.RefreshVersion(context.Background(), "org.example", "core", "1.0.0", true, true, "")
	require.NoError(t, err)
	assert.False(t, response.HasErrors())

	all, err := queue.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "1.0.0", all[0].VersionID)
	assert.True(t, all[0].FullUpdate)
	assert.True(t, all[0].Transitive)
	assert.Equal(t, "org.example-core-1.0.0", all[0].ParentEventID)
}

func TestRefreshVersionCandidates_InvalidCoordinatesSkipProject(t *testing.T) {
	store := &stubStore{
		coordinates: []projects.Coordinates{{ProjectID: "PROD-1", GroupID: "single", ArtifactID: "core"}},
	}
	queue := storage.NewMemoryQueue()

	orchestrator := NewOrchestrator(store, &stubRepository{}, queue)

	response, err := orchestrator.RefreshAllProjects(context.Background(), false, false, false, "")
	require.NoError(t, err)

	require.Len(t, response.Errors, 1)
	assert.True(t, strings.Contains(response.Errors[0], "invalid coordinates"))
	assert.Empty(t, queuedVersionIDs(t, queue))
}

func TestRefreshVersionCandidates_EmptyRepositoryListing(t *testing.T) {
	store := &stubStore{
		coordinates: []projects.Coordinates{{ProjectID: "PROD-1", GroupID: "org.example", ArtifactID: "core"}},
	}
	queue := storage.NewMemoryQueue()

	orchestrator := NewOrchestrator(store, &stubRepository{}, queue)

	response, err := orchestrator.RefreshProjectVersions(context.Background(), "org.example", "core", false, false, false, "")
	require.NoError(t, err)

	assert.False(t, response.HasErrors())
	assert.Empty(t, queuedVersionIDs(t, queue))
}

func TestCalculateCandidateVersions_ExactStringMatching(t *testing.T) {
	// "1.0" and "1.0.0" are distinct canonical strings: matching is never
	// semver-equivalence based.
	candidates := calculateCandidateVersions([]string{"1.0", "1.0.0", "2.0.0"}, []string{"1.0.0"})

	assert.Equal(t, []string{"1.0", "2.0.0"}, candidates)
}

func TestCalculateCandidateVersions_PreservesRepositoryOrder(t *testing.T) {
	candidates := calculateCandidateVersions([]string{"2.0.0", "1.0.0", "3.0.0"}, []string{"1.0.0"})

	assert.Equal(t, []string{"2.0.0", "3.0.0"}, candidates)
}

func TestRefreshVersionCandidates_StoreFaultRecordedAsError(t *testing.T) {
	store := &stubStore{
		coordinates: []projects.Coordinates{{ProjectID: "PROD-1", GroupID: "org.example", ArtifactID: "core"}},
		findErr: map[string]error{
			projectKey("org.example", "core"): errors.New("connection reset"),
		},
	}
	repo := &stubRepository{versions: map[string][]string{
		projectKey("org.example", "core"): {"1.0.0"},
	}}
	queue := storage.NewMemoryQueue()

	orchestrator := NewOrchestrator(store, repo, queue)

	response, err := orchestrator.RefreshProjectVersions(context.Background(), "org.example", "core", false, false, false, "")
	require.NoError(t, err)

	require.Len(t, response.Errors, 1)
	assert.Contains(t, response.Errors[0], "store lookup failed")
	assert.Empty(t, queuedVersionIDs(t, queue))
}
