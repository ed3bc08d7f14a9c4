package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/depot-io/depot/internal/projects"
)

// SeedFile holds administrative project coordinates loaded from a YAML file.
// Coordinates must exist before the orchestrator will refresh them, so
// deployments declare their registry here instead of hitting an admin API.
type SeedFile struct {
	Projects []SeedProject `yaml:"projects"`
}

// SeedProject is one project coordinate entry in the seed file.
type SeedProject struct {
	ProjectID  string `yaml:"projectId"`
	GroupID    string `yaml:"groupId"`
	ArtifactID string `yaml:"artifactId"`
}

// LoadSeedFile loads project coordinates from a YAML file at the given path.
//
// Behavior:
//   - Returns empty seed (not error) if file doesn't exist - seeding is optional
//   - Returns empty seed + logs warning if YAML is invalid (graceful degradation)
//   - Returns populated seed on success
func LoadSeedFile(path string, logger *slog.Logger) *SeedFile {
	seed := &SeedFile{}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("Seed file not found, continuing without project seed",
				slog.String("path", path))

			return seed
		}

		logger.Warn("Failed to read seed file, continuing without project seed",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return seed
	}

	if len(data) == 0 {
		return seed
	}

	if err := yaml.Unmarshal(data, seed); err != nil {
		logger.Warn("Failed to parse seed file, continuing without project seed",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &SeedFile{}
	}

	return seed
}

// applySeed upserts every seed entry into the project store. Entries with
// missing fields are skipped with a warning; a store failure aborts the seed.
func applySeed(ctx context.Context, store projects.Store, seed *SeedFile, logger *slog.Logger) error {
	for _, entry := range seed.Projects {
		if entry.ProjectID == "" || entry.GroupID == "" || entry.ArtifactID == "" {
			logger.Warn("Skipping incomplete seed entry",
				slog.String("project_id", entry.ProjectID),
				slog.String("group_id", entry.GroupID),
				slog.String("artifact_id", entry.ArtifactID))

			continue
		}

		coordinate := &projects.Coordinates{
			ProjectID:  entry.ProjectID,
			GroupID:    entry.GroupID,
			ArtifactID: entry.ArtifactID,
		}

		if err := store.SaveCoordinates(ctx, coordinate); err != nil {
			return fmt.Errorf("seeding project %s (%s-%s): %w",
				entry.ProjectID, entry.GroupID, entry.ArtifactID, err)
		}
	}

	if len(seed.Projects) > 0 {
		logger.Info("Project seed applied", slog.Int("projects", len(seed.Projects)))
	}

	return nil
}
