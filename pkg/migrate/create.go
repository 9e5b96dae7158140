package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	nameSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)
)

// CreateSQLMigration creates a goose SQL migration file:
//
//	<dir>/<YYYYMMDDHHMMSS>_<name>.sql
func CreateSQLMigration(dir string, name string) (string, error) {
	paths, err := createSQLMigrations(time.Now().UTC(), name, dir)
	if err != nil {
		return "", err
	}
	return paths[0], nil
}

// CreateDialectMigrations writes one file per driver directory below root, all
// sharing the same version so the dialects stay in lockstep.
func CreateDialectMigrations(root, name string, drivers ...string) ([]string, error) {
	if root == "" {
		return nil, fmt.Errorf("dir is required")
	}
	if len(drivers) == 0 {
		return nil, fmt.Errorf("at least one driver is required")
	}
	dirs := make([]string, 0, len(drivers))
	for _, driver := range drivers {
		dirs = append(dirs, filepath.Join(root, driver))
	}
	return createSQLMigrations(time.Now().UTC(), name, dirs...)
}

func createSQLMigrations(now time.Time, name string, dirs ...string) ([]string, error) {
	if len(dirs) == 0 || dirs[0] == "" {
		return nil, fmt.Errorf("dir is required")
	}
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}

	safe := sanitizeName(name)
	if safe == "" {
		return nil, fmt.Errorf("name %q results in empty sanitized filename", name)
	}

	version := now.Format("20060102150405")
	filename := fmt.Sprintf("%s_%s.sql", version, safe)

	template := fmt.Sprintf(`-- +goose Up
-- +goose StatementBegin
-- %s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %s
-- +goose StatementEnd
`, safe, safe)

	paths := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %q: %w", dir, err)
		}
		fullpath := filepath.Join(dir, filename)
		if _, err := os.Stat(fullpath); err == nil {
			return nil, fmt.Errorf("migration already exists: %s", fullpath)
		}
		if err := os.WriteFile(fullpath, []byte(template), 0o644); err != nil {
			return nil, fmt.Errorf("write migration %q: %w", fullpath, err)
		}
		paths = append(paths, fullpath)
	}

	return paths, nil
}

func sanitizeName(name string) string {
	safe := strings.ToLower(strings.TrimSpace(name))
	safe = strings.ReplaceAll(safe, " ", "_")
	safe = nameSanitizeRe.ReplaceAllString(safe, "_")
	return strings.Trim(safe, "_")
}
