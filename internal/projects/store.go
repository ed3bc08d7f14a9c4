package projects

import (
	"context"
	"errors"

	"github.com/depot-io/depot/internal/versions"
)

// Sentinel errors for project/version lookups.
var (
	// ErrProjectNotFound is returned when no coordinates exist for a group/artifact.
	ErrProjectNotFound = errors.New("project not found")

	// ErrVersionNotFound is returned when a project has no record for a version.
	ErrVersionNotFound = errors.New("project version not found")
)

// Store defines the interface for project/version persistence.
//
// The domain package defines this interface to specify what the sync engine
// needs, without depending on concrete implementations. The store is the
// single source of truth and may be read/written by multiple concurrent
// orchestration passes; implementations must provide atomic per-document
// upsert. No cross-document transactions are required: the engine tolerates
// eventual consistency between a version's own record and its dependencies'
// records.
type Store interface {
	// FindCoordinates returns the project registered for group/artifact.
	// Returns ErrProjectNotFound if the project is not tracked.
	FindCoordinates(ctx context.Context, groupID, artifactID string) (*Coordinates, error)

	// AllCoordinates returns every tracked project coordinate.
	AllCoordinates(ctx context.Context) ([]Coordinates, error)

	// FindVersions returns all stored version records for a project,
	// in insertion order. A project with no versions yields an empty slice,
	// not an error.
	FindVersions(ctx context.Context, groupID, artifactID string) ([]VersionRecord, error)

	// FindVersion returns one stored version record.
	// Returns ErrVersionNotFound if absent.
	FindVersion(ctx context.Context, groupID, artifactID, versionID string) (*VersionRecord, error)

	// SaveCoordinates registers or updates a project coordinate.
	// This is the administrative creation path; the sync engine never calls it.
	SaveCoordinates(ctx context.Context, coordinates *Coordinates) error

	// SaveVersion upserts a version record atomically (per-document).
	SaveVersion(ctx context.Context, record *VersionRecord) error

	// SaveReport replaces the transitive-dependency report of a stored version
	// wholesale. Returns ErrVersionNotFound if the version does not exist.
	SaveReport(ctx context.Context, key versions.Key, report DependencyReport) error
}
