package versions

// Scope is the closed set of refresh request scopes.
//
// The "all"/"all-SNAPSHOT" strings these map to are persisted in parent-event
// correlation ids, so String() must stay stable even if new scopes are added.
type Scope int

const (
	// ScopeSingleVersion targets one explicit group/artifact/version.
	ScopeSingleVersion Scope = iota

	// ScopeAllVersions targets every version of one project.
	ScopeAllVersions

	// ScopeSnapshotOnly targets the head/snapshot version of a project.
	ScopeSnapshotOnly

	// ScopeAllProjects fans out across every known project coordinate.
	ScopeAllProjects
)

// String returns the persisted audit-tag value for the scope.
func (s Scope) String() string {
	switch s {
	case ScopeAllVersions, ScopeAllProjects:
		return All
	case ScopeSnapshotOnly:
		return AllSnapshot
	case ScopeSingleVersion:
		return ""
	default:
		return ""
	}
}
