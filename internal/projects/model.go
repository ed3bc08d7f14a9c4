// Package projects provides project/version domain models and store interfaces.
//
// This package defines the Store interface which represents what the sync
// engine needs for project and version persistence, following the Dependency
// Inversion Principle. Concrete implementations (PostgreSQL, in-memory, etc.)
// live in the internal/storage package.
package projects

import (
	"time"

	"github.com/depot-io/depot/internal/versions"
)

// Coordinates identifies one tracked project.
//
// Identity is (GroupID, ArtifactID). Coordinates are created and updated only
// through administrative calls; the sync engine never auto-creates them.
type Coordinates struct {
	ProjectID  string `json:"projectId"`
	GroupID    string `json:"groupId"`
	ArtifactID string `json:"artifactId"`
}

// VersionRecord is the stored state of one artifact version.
//
// Mutated by ingestion after a successful refresh and by administrative
// eviction/exclusion operations. Never deleted except by an explicit purge.
type VersionRecord struct {
	Key versions.Key `json:"key"`

	// Dependencies are the version's direct dependency declarations.
	Dependencies []versions.Key `json:"dependencies"`

	// Excluded marks the version permanently invalid (license/security issue).
	// An excluded version is never resolvable as a dependency.
	Excluded bool `json:"excluded"`

	// Evicted marks the version removed from active serving but retained
	// for audit.
	Evicted bool `json:"evicted"`

	// Report is the last successfully computed transitive-dependency report.
	// It is consistent with Dependencies as of the last resolution and may be
	// stale relative to concurrent mutation of a dependency's own record;
	// staleness is resolved by re-triggering resolution, not by locking.
	Report DependencyReport `json:"transitiveDependenciesReport"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DependencyReport is the transitive closure of a version's dependencies
// (VersionDependencyReport).
//
// Valid=false means the closure could not be safely computed (missing,
// excluded, or cyclic-invalid dependency somewhere in the chain); in that case
// Transitive is empty by convention, never partial. A report is immutable once
// produced and replaced wholesale on recomputation.
type DependencyReport struct {
	Transitive []versions.Key `json:"transitiveDependencies"`
	Valid      bool           `json:"valid"`
}

// InvalidReport returns the canonical invalid report: empty set, Valid=false.
func InvalidReport() DependencyReport {
	return DependencyReport{Valid: false}
}
