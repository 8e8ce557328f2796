package spatial

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/meridian-health/facility-cli/internal/table"
)

// LocationParts splits a colon-delimited administrative path into its parts.
func LocationParts(location string) []string {
	return strings.Split(strings.TrimSpace(location), ":")
}

// LocationPath resolves a file-path pattern for a location by substituting
// the {location} placeholder with the path-separated location, creating
// parent directories. Patterns without a placeholder resolve to themselves.
func LocationPath(pattern, location string) (string, error) {
	locPath := strings.ReplaceAll(location, ":", string(filepath.Separator))
	path := strings.ReplaceAll(pattern, "{location}", locPath)
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", eris.Wrapf(err, "spatial: create dir for %s", path)
	}
	return path, nil
}

// FilterLocations keeps the rows whose administrative columns match one of
// the given locations.
func FilterLocations(t *table.Table, locations []string, cols []string) (*table.Table, error) {
	idx := make([]int, len(cols))
	for i, c := range cols {
		j := t.ColIndex(c)
		if j < 0 {
			return nil, eris.Errorf("spatial: no admin column %q", c)
		}
		idx[i] = j
	}
	want := make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		want[strings.Join(LocationParts(loc), ":")] = struct{}{}
	}
	return t.Filter(func(row []string) bool {
		parts := make([]string, len(idx))
		for i, j := range idx {
			parts[i] = row[j]
		}
		_, ok := want[strings.Join(parts, ":")]
		return ok
	}), nil
}
