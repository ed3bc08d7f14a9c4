// Package migrations embeds the depot's SQL schema migrations.
//
// Migrations are embedded at build time with go:embed for zero-config
// deployment: the migrator binary carries its schema and validates it at
// startup (filename format, up/down pairing, contiguous sequence) before
// anything touches the database.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed *.sql
var embedded embed.FS

// Migration filename standard: 001_migration_name.up.sql / 001_migration_name.down.sql.
var filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// FS returns the embedded migration file system, for use with the
// golang-migrate iofs source driver.
func FS() fs.FS {
	return embedded
}

// List returns the embedded migration filenames that conform to the naming
// standard, lexicographically sorted. Nonconforming filenames are rejected by
// Validate, not silently included.
func List() ([]string, error) {
	entries, err := fs.ReadDir(embedded, ".")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if filepath.Ext(entry.Name()) == ".sql" && filenameRegex.MatchString(entry.Name()) {
			files = append(files, entry.Name())
		}
	}

	// Lexicographic order matches sequence order under the naming standard.
	sort.Strings(files)

	return files, nil
}

// Validate checks the embedded migration set: at least one migration, every
// filename conforming, every up with a matching down, and a contiguous
// sequence starting at 1.
func Validate() error {
	entries, err := fs.ReadDir(embedded, ".")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}

	ups := make(map[int]string)
	downs := make(map[int]string)

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}

		match := filenameRegex.FindStringSubmatch(entry.Name())
		if match == nil {
			return fmt.Errorf("migration filename %q does not match 001_name.(up|down).sql", entry.Name())
		}

		sequence, err := strconv.Atoi(match[1])
		if err != nil {
			return fmt.Errorf("migration filename %q: invalid sequence: %w", entry.Name(), err)
		}

		name := match[2]

		if strings.HasSuffix(entry.Name(), ".up.sql") {
			if existing, ok := ups[sequence]; ok {
				return fmt.Errorf("duplicate up migration for sequence %03d: %q and %q", sequence, existing, entry.Name())
			}

			ups[sequence] = name
		} else {
			if existing, ok := downs[sequence]; ok {
				return fmt.Errorf("duplicate down migration for sequence %03d: %q and %q", sequence, existing, entry.Name())
			}

			downs[sequence] = name
		}

		content, err := fs.ReadFile(embedded, entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %q: %w", entry.Name(), err)
		}

		if len(strings.TrimSpace(string(content))) == 0 {
			return fmt.Errorf("migration %q is empty", entry.Name())
		}
	}

	if len(ups) == 0 {
		return fmt.Errorf("no embedded migration files found")
	}

	for sequence, name := range ups {
		downName, ok := downs[sequence]
		if !ok {
			return fmt.Errorf("up migration %03d_%s has no matching down migration", sequence, name)
		}

		if downName != name {
			return fmt.Errorf("sequence %03d: up name %q does not match down name %q", sequence, name, downName)
		}
	}

	for sequence := range downs {
		if _, ok := ups[sequence]; !ok {
			return fmt.Errorf("down migration %03d_%s has no matching up migration", sequence, downs[sequence])
		}
	}

	for sequence := 1; sequence <= len(ups); sequence++ {
		if _, ok := ups[sequence]; !ok {
			return fmt.Errorf("migration sequence has a gap: missing %03d", sequence)
		}
	}

	return nil
}
