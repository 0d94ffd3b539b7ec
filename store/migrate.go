package store

import (
	"embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var migrationNumber = regexp.MustCompile(`^(\d+)_`)

// Migrate applies every pending migration under migrations/ in order. Before
// delegating to goose it runs a monotonicity check over the embedded file
// set, rejecting non-contiguous or duplicate version numbers so a bad
// migration file fails fast instead of silently reordering.
func (s *Store) Migrate() error {
	if err := checkMonotonic(); err != nil {
		return fmt.Errorf("store: migration monotonicity check: %w", err)
	}
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: set dialect: %w", err)
	}
	if err := goose.Up(s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

// checkMonotonic verifies the embedded migration files form a contiguous,
// duplicate-free, ascending sequence of version numbers before goose is
// allowed to run.
func checkMonotonic() error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var versions []int
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		m := migrationNumber.FindStringSubmatch(e.Name())
		if m == nil {
			return fmt.Errorf("migration file %q has no leading version number", e.Name())
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return fmt.Errorf("migration file %q has invalid version: %w", e.Name(), err)
		}
		versions = append(versions, v)
	}
	seen := make(map[int]bool, len(versions))
	for _, v := range versions {
		if seen[v] {
			return fmt.Errorf("duplicate migration version %d", v)
		}
		seen[v] = true
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			return fmt.Errorf("migration versions out of order: %d before %d", versions[i-1], versions[i])
		}
		if versions[i] != versions[i-1]+1 {
			return fmt.Errorf("migration versions not contiguous: %d followed by %d", versions[i-1], versions[i])
		}
	}
	return nil
}
