package versions

import (
	"errors"
	"regexp"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Sentinel errors for coordinate and version validation.
var (
	// ErrInvalidCoordinates is returned when group/artifact syntax is malformed.
	ErrInvalidCoordinates = errors.New("invalid group/artifact coordinates")

	// ErrInvalidVersionID is returned when a version string is neither a valid
	// release version nor a snapshot alias.
	ErrInvalidVersionID = errors.New("invalid version id")
)

// Maven-style coordinate charset: dot-separated segments of word characters
// and hyphens. The group id must have at least two segments.
var (
	groupIDRegex    = regexp.MustCompile(`^[a-zA-Z0-9_-]+(\.[a-zA-Z0-9_-]+)+$`)
	artifactIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// AreValidCoordinates reports whether group/artifact pass the coordinate
// syntax check. Invalid coordinates are a recoverable, per-project condition:
// the orchestrator logs them and skips the project rather than failing a batch.
func AreValidCoordinates(groupID, artifactID string) bool {
	return groupIDRegex.MatchString(groupID) && artifactIDRegex.MatchString(artifactID)
}

// ValidateVersionID checks that a version string is either a snapshot alias or
// a parseable release version. The request wildcards ("all", "all-SNAPSHOT")
// are not valid stored versions and are rejected here.
func ValidateVersionID(versionID string) error {
	if versionID == "" || versionID == All || versionID == AllSnapshot {
		return ErrInvalidVersionID
	}

	if IsSnapshot(versionID) {
		return nil
	}

	if _, err := semver.NewVersion(versionID); err != nil {
		return ErrInvalidVersionID
	}

	return nil
}

// SortVersionIDs orders release version strings by semantic-version precedence,
// oldest first. Strings that do not parse as semver (snapshot aliases, exotic
// release tags) sort after parseable ones, lexically among themselves. Used for
// stable candidate lists and mismatch reports; set arithmetic elsewhere always
// uses exact string equality, never semver equivalence.
func SortVersionIDs(versionIDs []string) {
	sort.SliceStable(versionIDs, func(i, j int) bool {
		vi, erri := semver.NewVersion(versionIDs[i])
		vj, errj := semver.NewVersion(versionIDs[j])

		switch {
		case erri == nil && errj == nil:
			return vi.LessThan(vj)
		case erri == nil:
			return true
		case errj == nil:
			return false
		default:
			return versionIDs[i] < versionIDs[j]
		}
	})
}
