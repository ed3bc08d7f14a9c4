package repository

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"golang.org/x/time/rate"

	"github.com/depot-io/depot/internal/config"
	"github.com/depot-io/depot/internal/versions"
)

// maxMetadataBytes caps metadata/POM responses; upstream documents are small
// and an unbounded read would let a misbehaving repository exhaust memory.
const maxMetadataBytes = 4 << 20

// MavenRepository implements ArtifactRepository against a Maven-layout HTTP
// repository.
//
// Version lists come from the artifact's maven-metadata.xml; per-version
// dependency declarations come from the version's POM. All requests pass
// through a client-side rate limiter to bound upstream load during batch
// refreshes.
type MavenRepository struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Compile-time interface assertion.
var _ ArtifactRepository = (*MavenRepository)(nil)

// mavenMetadata mirrors the subset of maven-metadata.xml the depot reads.
type mavenMetadata struct {
	XMLName    xml.Name `xml:"metadata"`
	GroupID    string   `xml:"groupId"`
	ArtifactID string   `xml:"artifactId"`
	Versioning struct {
		Latest   string   `xml:"latest"`
		Release  string   `xml:"release"`
		Versions []string `xml:"versions>version"`
	} `xml:"versioning"`
}

// pomProject mirrors the subset of a POM the depot reads: the dependency
// declarations.
type pomProject struct {
	XMLName      xml.Name `xml:"project"`
	Dependencies []struct {
		GroupID    string `xml:"groupId"`
		ArtifactID string `xml:"artifactId"`
		Version    string `xml:"version"`
		Scope      string `xml:"scope"`
		Optional   bool   `xml:"optional"`
	} `xml:"dependencies>dependency"`
}

// NewMavenRepository creates a rate-limited Maven repository client.
func NewMavenRepository(cfg *Config) (*MavenRepository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &MavenRepository{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// FindVersions returns the version ids listed in the artifact's
// maven-metadata.xml, in repository order.
func (r *MavenRepository) FindVersions(ctx context.Context, groupID, artifactID string) ([]string, error) {
	if !versions.AreValidCoordinates(groupID, artifactID) {
		return nil, fmt.Errorf("%w: malformed coordinates [%s-%s]", ErrRepository, groupID, artifactID)
	}

	url := fmt.Sprintf("%s/%s/%s/maven-metadata.xml", r.baseURL, groupPath(groupID), artifactID)

	body, err := r.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	var metadata mavenMetadata
	if err := xml.Unmarshal(body, &metadata); err != nil {
		return nil, fmt.Errorf("%w: malformed metadata for [%s-%s]: %w", ErrRepository, groupID, artifactID, err)
	}

	return metadata.Versioning.Versions, nil
}

// FindVersion returns the metadata of one version, reading its dependency
// declarations from the POM. Returns (nil, nil) when the version does not
// exist upstream.
func (r *MavenRepository) FindVersion(ctx context.Context, groupID, artifactID, versionID string) (*VersionMetadata, error) {
	if !versions.AreValidCoordinates(groupID, artifactID) {
		return nil, fmt.Errorf("%w: malformed coordinates [%s-%s]", ErrRepository, groupID, artifactID)
	}

	url := fmt.Sprintf("%s/%s/%s/%s/%s-%s.pom",
		r.baseURL, groupPath(groupID), artifactID, versionID, artifactID, versionID)

	body, err := r.fetch(ctx, url)
	if err != nil {
		if errors.Is(err, errStatusNotFound) {
			return nil, nil
		}

		return nil, err
	}

	var pom pomProject
	if err := xml.Unmarshal(body, &pom); err != nil {
		return nil, fmt.Errorf("%w: malformed pom for [%s-%s-%s]: %w", ErrRepository, groupID, artifactID, versionID, err)
	}

	metadata := &VersionMetadata{Key: versions.NewKey(groupID, artifactID, versionID)}

	for _, dep := range pom.Dependencies {
		// Only compile/runtime dependencies participate in the transitive
		// closure; test and provided scopes never ship.
		if dep.Optional || dep.Scope == "test" || dep.Scope == "provided" {
			continue
		}

		if dep.GroupID == "" || dep.ArtifactID == "" || dep.Version == "" {
			r.logger.Warn("Skipping dependency with unresolved coordinates",
				slog.String("groupId", dep.GroupID),
				slog.String("artifactId", dep.ArtifactID),
				slog.String("versionId", dep.Version),
			)

			continue
		}

		metadata.Dependencies = append(metadata.Dependencies, versions.NewKey(dep.GroupID, dep.ArtifactID, dep.Version))
	}

	return metadata, nil
}

// fetch performs one rate-limited GET and returns the response body.
func (r *MavenRepository) fetch(ctx context.Context, url string) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %w", ErrRepository, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s unreachable: %w", ErrRepository, url, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s: %w", ErrRepository, url, errStatusNotFound)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrRepository, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrRepository, url, err)
	}

	return body, nil
}

// errStatusNotFound distinguishes a 404 (version absent upstream) from every
// other upstream failure.
var errStatusNotFound = errors.New("not found")

// groupPath converts a dotted group id to its repository path form.
func groupPath(groupID string) string {
	return strings.ReplaceAll(groupID, ".", "/")
}
