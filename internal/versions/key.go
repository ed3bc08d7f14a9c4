// Package versions provides version and coordinate primitives for the depot.
//
// A GAV (groupId/artifactId/versionId) triple identifies one artifact version.
// This package provides pure functions and value types that operate on those
// primitives: key identity, snapshot/head alias detection, coordinate syntax
// validation, and release-version ordering.
//
// Everything here is side-effect free so that callers (the refresh orchestrator,
// the dependency resolver, the stores) can share these types without coupling.
package versions

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// SnapshotSuffix marks a mutable, repeatedly-overwritten version alias.
	SnapshotSuffix = "-SNAPSHOT"

	// HeadAlias is the default-branch snapshot version ("HEAD" of a project).
	HeadAlias = "master-SNAPSHOT"

	// All is the request-parameter wildcard covering every version of a project.
	// It is never stored as a version record.
	All = "all"

	// AllSnapshot tags a batch-level head/snapshot pass across projects.
	// Like All, it only appears in requests and audit trails.
	AllSnapshot = "all-SNAPSHOT"
)

// Key identifies one artifact version.
//
// Key is a value identity: it is comparable and usable as a map key, which is
// what the dependency resolver's memo table and the queue dedup logic rely on.
type Key struct {
	GroupID    string `json:"groupId"`
	ArtifactID string `json:"artifactId"`
	VersionID  string `json:"versionId"`
}

// NewKey builds a Key from GAV coordinates.
func NewKey(groupID, artifactID, versionID string) Key {
	return Key{GroupID: groupID, ArtifactID: artifactID, VersionID: versionID}
}

// String returns the canonical "group:artifact:version" form.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.GroupID, k.ArtifactID, k.VersionID)
}

// IsSnapshot reports whether the key refers to a snapshot/head alias rather
// than an immutable released version.
func (k Key) IsSnapshot() bool {
	return IsSnapshot(k.VersionID)
}

// IsSnapshot reports whether a version string is a snapshot/head alias.
func IsSnapshot(versionID string) bool {
	return strings.HasSuffix(versionID, SnapshotSuffix)
}

// SortKeys orders keys by their canonical string form. Used to keep computed
// closures deterministic across runs.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}

// ParentEventID derives the parent-event correlation id for a scheduling request.
//
// A single top-level request carries one parent event id; every per-version
// notification it spawns is tagged with that same parent so a refresh can be
// traced back to what triggered it. When no parent is supplied the request
// itself becomes the parent, identified by its GAV string. The persisted
// "group-artifact-version" format is stable for audit compatibility.
func ParentEventID(groupID, artifactID, versionID, parent string) string {
	if parent != "" {
		return parent
	}

	return fmt.Sprintf("%s-%s-%s", groupID, artifactID, versionID)
}
