package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/depot-io/depot/internal/config"
	"github.com/depot-io/depot/internal/projects"
	"github.com/depot-io/depot/internal/versions"
)

// ProjectStore implements projects.Store with a PostgreSQL backend.
//
// Version records are stored one row per GAV with dependency declarations and
// the transitive report as JSONB documents; upserts are per-row atomic, which
// is the only transactional guarantee the sync engine requires.
type ProjectStore struct {
	conn   *Connection
	logger *slog.Logger
}

// Compile-time interface assertion.
var _ projects.Store = (*ProjectStore)(nil)

// NewProjectStore creates a PostgreSQL-backed project/version store.
func NewProjectStore(conn *Connection) (*ProjectStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ProjectStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// FindCoordinates returns the project registered for group/artifact.
func (s *ProjectStore) FindCoordinates(ctx context.Context, groupID, artifactID string) (*projects.Coordinates, error) {
	query := `
		SELECT project_id, group_id, artifact_id
		FROM projects
		WHERE group_id = $1 AND artifact_id = $2
	`

	var coordinates projects.Coordinates

	err := s.conn.QueryRowContext(ctx, query, groupID, artifactID).
		Scan(&coordinates.ProjectID, &coordinates.GroupID, &coordinates.ArtifactID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: [%s-%s]", projects.ErrProjectNotFound, groupID, artifactID)
		}

		return nil, fmt.Errorf("querying project [%s-%s]: %w", groupID, artifactID, err)
	}

	return &coordinates, nil
}

// AllCoordinates returns every tracked project coordinate.
func (s *ProjectStore) AllCoordinates(ctx context.Context) ([]projects.Coordinates, error) {
	query := `
		SELECT project_id, group_id, artifact_id
		FROM projects
		ORDER BY group_id, artifact_id
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying project coordinates: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var coordinates []projects.Coordinates

	for rows.Next() {
		var coordinate projects.Coordinates

		if err := rows.Scan(&coordinate.ProjectID, &coordinate.GroupID, &coordinate.ArtifactID); err != nil {
			return nil, fmt.Errorf("scanning project coordinates: %w", err)
		}

		coordinates = append(coordinates, coordinate)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating project coordinates: %w", err)
	}

	return coordinates, nil
}

// FindVersions returns all stored version records for a project in insertion
// order.
func (s *ProjectStore) FindVersions(ctx context.Context, groupID, artifactID string) ([]projects.VersionRecord, error) {
	query := `
		SELECT group_id, artifact_id, version_id, dependencies, excluded, evicted, report, created_at, updated_at
		FROM project_versions
		WHERE group_id = $1 AND artifact_id = $2
		ORDER BY id
	`

	rows, err := s.conn.QueryContext(ctx, query, groupID, artifactID)
	if err != nil {
		return nil, fmt.Errorf("querying versions for [%s-%s]: %w", groupID, artifactID, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var records []projects.VersionRecord

	for rows.Next() {
		record, err := scanVersionRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating versions for [%s-%s]: %w", groupID, artifactID, err)
	}

	return records, nil
}

// FindVersion returns one stored version record.
func (s *ProjectStore) FindVersion(ctx context.Context, groupID, artifactID, versionID string) (*projects.VersionRecord, error) {
	query := `
		SELECT group_id, artifact_id, version_id, dependencies, excluded, evicted, report, created_at, updated_at
		FROM project_versions
		WHERE group_id = $1 AND artifact_id = $2 AND version_id = $3
	`

	rows, err := s.conn.QueryContext(ctx, query, groupID, artifactID, versionID)
	if err != nil {
		return nil, fmt.Errorf("querying version [%s-%s-%s]: %w", groupID, artifactID, versionID, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("querying version [%s-%s-%s]: %w", groupID, artifactID, versionID, err)
		}

		return nil, fmt.Errorf("%w: [%s-%s-%s]", projects.ErrVersionNotFound, groupID, artifactID, versionID)
	}

	return scanVersionRecord(rows)
}

// SaveCoordinates registers or updates a project coordinate (administrative).
func (s *ProjectStore) SaveCoordinates(ctx context.Context, coordinates *projects.Coordinates) error {
	query := `
		INSERT INTO projects (project_id, group_id, artifact_id, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (group_id, artifact_id)
		DO UPDATE SET project_id = EXCLUDED.project_id, updated_at = NOW()
	`

	if _, err := s.conn.ExecContext(ctx, query, coordinates.ProjectID, coordinates.GroupID, coordinates.ArtifactID); err != nil {
		return fmt.Errorf("saving coordinates [%s-%s]: %w", coordinates.GroupID, coordinates.ArtifactID, err)
	}

	return nil
}

// SaveVersion upserts a version record atomically.
func (s *ProjectStore) SaveVersion(ctx context.Context, record *projects.VersionRecord) error {
	dependenciesJSON, err := json.Marshal(record.Dependencies)
	if err != nil {
		return fmt.Errorf("encoding dependencies for [%s]: %w", record.Key, err)
	}

	reportJSON, err := json.Marshal(record.Report)
	if err != nil {
		return fmt.Errorf("encoding report for [%s]: %w", record.Key, err)
	}

	query := `
		INSERT INTO project_versions (group_id, artifact_id, version_id, dependencies, excluded, evicted, report, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (group_id, artifact_id, version_id)
		DO UPDATE SET
			dependencies = EXCLUDED.dependencies,
			excluded = EXCLUDED.excluded,
			evicted = EXCLUDED.evicted,
			report = EXCLUDED.report,
			updated_at = NOW()
	`

	_, err = s.conn.ExecContext(ctx, query,
		record.Key.GroupID, record.Key.ArtifactID, record.Key.VersionID,
		dependenciesJSON, record.Excluded, record.Evicted, reportJSON,
	)
	if err != nil {
		return fmt.Errorf("saving version [%s]: %w", record.Key, err)
	}

	return nil
}

// SaveReport replaces the transitive-dependency report of a stored version
// wholesale.
func (s *ProjectStore) SaveReport(ctx context.Context, key versions.Key, report projects.DependencyReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report for [%s]: %w", key, err)
	}

	query := `
		UPDATE project_versions
		SET report = $4, updated_at = NOW()
		WHERE group_id = $1 AND artifact_id = $2 AND version_id = $3
	`

	result, err := s.conn.ExecContext(ctx, query, key.GroupID, key.ArtifactID, key.VersionID, reportJSON)
	if err != nil {
		return fmt.Errorf("saving report for [%s]: %w", key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("saving report for [%s]: %w", key, err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: [%s]", projects.ErrVersionNotFound, key)
	}

	return nil
}

// scanner abstracts *sql.Rows for version record scanning.
type scanner interface {
	Scan(dest ...any) error
}

// scanVersionRecord decodes one project_versions row.
func scanVersionRecord(row scanner) (*projects.VersionRecord, error) {
	var (
		record           projects.VersionRecord
		dependenciesJSON []byte
		reportJSON       []byte
	)

	err := row.Scan(
		&record.Key.GroupID,
		&record.Key.ArtifactID,
		&record.Key.VersionID,
		&dependenciesJSON,
		&record.Excluded,
		&record.Evicted,
		&reportJSON,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning version record: %w", err)
	}

	if len(dependenciesJSON) > 0 {
		if err := json.Unmarshal(dependenciesJSON, &record.Dependencies); err != nil {
			return nil, fmt.Errorf("decoding dependencies for [%s]: %w", record.Key, err)
		}
	}

	if len(reportJSON) > 0 {
		if err := json.Unmarshal(reportJSON, &record.Report); err != nil {
			return nil, fmt.Errorf("decoding report for [%s]: %w", record.Key, err)
		}
	}

	return &record, nil
}
