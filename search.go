package pinpoint

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/jward/pinpoint/internal/pin"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// normalizeLimit applies the default and bounds to a result limit.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return min(limit, maxLimit)
}

// QuerySymbols finds the project's namespaces and methods whose name or
// path contains query, case-insensitively. Exact name matches come first,
// then shorter paths. limit defaults to 50 and is capped at 500.
func (l *Library) QuerySymbols(query string, limit int) ([]*SearchResult, error) {
	limit = normalizeLimit(limit)
	if l.store != nil {
		results, err := l.store.SearchPins(query, limit)
		if err != nil {
			return nil, errors.Wrap(err, "pinpoint: query symbols")
		}
		return results, nil
	}
	return searchPins(l.workspace.Pins(), query, limit), nil
}

// searchPins is the in-memory rendition of the store's symbol search.
func searchPins(pins []*pin.Pin, query string, limit int) []*SearchResult {
	q := strings.ToLower(query)
	var results []*SearchResult
	for _, p := range pins {
		if p.Path == "" || (p.Kind != pin.Namespace && p.Kind != pin.Method) {
			continue
		}
		if !strings.Contains(strings.ToLower(p.Name), q) && !strings.Contains(strings.ToLower(p.Path), q) {
			continue
		}
		results = append(results, &SearchResult{
			FilePath: p.Location.Filename,
			Kind:     p.Kind.String(),
			Name:     p.Name,
			Path:     p.Path,
			Line:     p.Location.StartLine,
			Col:      p.Location.StartCol,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if ea, eb := a.Name == query, b.Name == query; ea != eb {
			return ea
		}
		if len(a.Path) != len(b.Path) {
			return len(a.Path) < len(b.Path)
		}
		return a.Path < b.Path
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}
