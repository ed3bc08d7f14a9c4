package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depot-io/depot/internal/projects"
	"github.com/depot-io/depot/internal/versions"
)

// seedStore records SaveCoordinates calls; all other Store methods are unused
// by seeding.
type seedStore struct {
	saved []projects.Coordinates
}

var _ projects.Store = (*seedStore)(nil)

func (s *seedStore) FindCoordinates(context.Context, string, string) (*projects.Coordinates, error) {
	return nil, projects.ErrProjectNotFound
}

func (s *seedStore) AllCoordinates(context.Context) ([]projects.Coordinates, error) {
	return nil, nil
}

func (s *seedStore) FindVersions(context.Context, string, string) ([]projects.VersionRecord, error) {
	return nil, nil
}

func (s *seedStore) FindVersion(context.Context, string, string, string) (*projects.VersionRecord, error) {
	return nil, projects.ErrVersionNotFound
}

func (s *seedStore) SaveCoordinates(_ context.Context, coordinates *projects.Coordinates) error {
	s.saved = append(s.saved, *coordinates)

	return nil
}

func (s *seedStore) SaveVersion(context.Context, *projects.VersionRecord) error {
	return nil
}

func (s *seedStore) SaveReport(context.Context, versions.Key, projects.DependencyReport) error {
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "projects.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadSeedFile_ParsesProjects(t *testing.T) {
	path := writeSeedFile(t, `projects:
  - projectId: PROD-1
    groupId: org.example
    artifactId: core
  - projectId: PROD-2
    groupId: org.example
    artifactId: shared
`)

	seed := LoadSeedFile(path, discardLogger())

	require.Len(t, seed.Projects, 2)
	assert.Equal(t, SeedProject{ProjectID: "PROD-1", GroupID: "org.example", ArtifactID: "core"}, seed.Projects[0])
	assert.Equal(t, SeedProject{ProjectID: "PROD-2", GroupID: "org.example", ArtifactID: "shared"}, seed.Projects[1])
}

func TestLoadSeedFile_MissingFileIsEmptySeed(t *testing.T) {
	seed := LoadSeedFile(filepath.Join(t.TempDir(), "nope.yaml"), discardLogger())

	assert.Empty(t, seed.Projects)
}

func TestLoadSeedFile_InvalidYAMLIsEmptySeed(t *testing.T) {
	path := writeSeedFile(t, "projects: [unclosed")

	seed := LoadSeedFile(path, discardLogger())

	assert.Empty(t, seed.Projects)
}

func TestApplySeed_UpsertsCompleteEntries(t *testing.T) {
	store := &seedStore{}
	seed := &SeedFile{Projects: []SeedProject{
		{ProjectID: "PROD-1", GroupID: "org.example", ArtifactID: "core"},
		{ProjectID: "", GroupID: "org.example", ArtifactID: "incomplete"},
		{ProjectID: "PROD-2", GroupID: "org.example", ArtifactID: "shared"},
	}}

	require.NoError(t, applySeed(context.Background(), store, seed, discardLogger()))

	require.Len(t, store.saved, 2)
	assert.Equal(t, "core", store.saved[0].ArtifactID)
	assert.Equal(t, "shared", store.saved[1].ArtifactID)
}

func TestApplySeed_EmptySeedIsNoop(t *testing.T) {
	store := &seedStore{}

	require.NoError(t, applySeed(context.Background(), store, &SeedFile{}, discardLogger()))

	assert.Empty(t, store.saved)
}
