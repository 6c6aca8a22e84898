package migrate

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// ValidateDir checks migration filenames, version uniqueness, the presence
// of Up and Down sections and balanced StatementBegin/End markers.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	seen := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, ok := seen[m[1]]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		seen[m[1]] = name

		if err := validateFile(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("migration %q: %w", name, err)
		}
	}
	return nil
}

func validateFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var up, down bool
	open := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "-- +goose Up":
			up = true
		case "-- +goose Down":
			if open != 0 {
				return fmt.Errorf("unterminated statement before Down")
			}
			down = true
		case "-- +goose StatementBegin":
			if open != 0 {
				return fmt.Errorf("nested StatementBegin")
			}
			open++
		case "-- +goose StatementEnd":
			if open == 0 {
				return fmt.Errorf("StatementEnd without StatementBegin")
			}
			open--
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	switch {
	case !up:
		return fmt.Errorf(`missing "-- +goose Up"`)
	case !down:
		return fmt.Errorf(`missing "-- +goose Down"`)
	case open != 0:
		return fmt.Errorf("unterminated StatementBegin")
	}
	return nil
}
