package search

import (
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/jamie8johnson/cqs/internal/chunk"
)

// Score adjustment constants for ranking optimization.
const (
	// TestFilePenalty reduces test file scores to prioritize real implementations.
	TestFilePenalty = 0.5

	// InternalPathBoost increases scores for implementation code in internal/.
	InternalPathBoost = 1.3

	// CmdPathPenalty reduces scores for CLI wrapper code in cmd/.
	CmdPathPenalty = 0.6
)

// FilterFunc checks if a search result matches filter criteria.
type FilterFunc func(result *SearchResult) bool

// ApplyFilters filters results based on search options. Filters use AND
// logic: a result must match every specified criterion.
func ApplyFilters(results []*SearchResult, opts SearchOptions) []*SearchResult {
	filters := buildFilters(opts.Filter)
	if len(filters) == 0 {
		return results
	}

	filtered := make([]*SearchResult, 0, len(results))
	for _, r := range results {
		if matchesAllFilters(r, filters) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// buildFilters creates filter functions based on a SearchFilter.
func buildFilters(f SearchFilter) []FilterFunc {
	var filters []FilterFunc

	if len(f.Languages) > 0 {
		filters = append(filters, languageFilter(f.Languages))
	}
	if len(f.ChunkTypes) > 0 {
		filters = append(filters, chunkTypeFilter(f.ChunkTypes))
	}
	if f.PathPattern != "" {
		if g, err := glob.Compile(f.PathPattern, '/'); err == nil {
			filters = append(filters, pathPatternFilter(g))
		}
	}
	if len(f.Scopes) > 0 {
		filters = append(filters, scopeFilter(f.Scopes))
	}

	return filters
}

// matchesAllFilters checks if a result passes all filters (AND logic).
func matchesAllFilters(result *SearchResult, filters []FilterFunc) bool {
	for _, f := range filters {
		if !f(result) {
			return false
		}
	}
	return true
}

// languageFilter creates a filter for a set of programming languages.
func languageFilter(langs []string) FilterFunc {
	set := make(map[string]struct{}, len(langs))
	for _, l := range langs {
		set[l] = struct{}{}
	}
	return func(r *SearchResult) bool {
		if r.Chunk == nil {
			return false
		}
		_, ok := set[r.Chunk.Language]
		return ok
	}
}

// chunkTypeFilter creates a filter for a set of chunk types.
func chunkTypeFilter(types []chunk.ChunkType) FilterFunc {
	set := make(map[chunk.ChunkType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(r *SearchResult) bool {
		if r.Chunk == nil {
			return false
		}
		_, ok := set[r.Chunk.ChunkType]
		return ok
	}
}

// pathPatternFilter creates a filter matching Chunk.Origin against a glob.
func pathPatternFilter(g glob.Glob) FilterFunc {
	return func(r *SearchResult) bool {
		if r.Chunk == nil {
			return false
		}
		return g.Match(r.Chunk.Origin)
	}
}

// NormalizeScope ensures consistent path format for matching. Strips
// leading and trailing slashes.
func NormalizeScope(scope string) string {
	return strings.Trim(scope, "/")
}

// scopeFilter creates a filter for path scope prefixes. Multiple scopes use
// OR logic - matches if the origin starts with ANY scope.
func scopeFilter(scopes []string) FilterFunc {
	normalized := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if n := NormalizeScope(s); n != "" {
			normalized = append(normalized, n+"/")
		}
	}
	if len(normalized) == 0 {
		return func(*SearchResult) bool { return true }
	}

	return func(r *SearchResult) bool {
		if r.Chunk == nil {
			return false
		}
		origin := NormalizeScope(r.Chunk.Origin) + "/"
		for _, scope := range normalized {
			if strings.HasPrefix(origin, scope) {
				return true
			}
		}
		return false
	}
}

// ApplyTestFilePenalty adjusts scores to deprioritize test files, which
// otherwise tend to outrank real implementations because mocks repeat the
// same method signatures many times.
func ApplyTestFilePenalty(results []*SearchResult) []*SearchResult {
	if len(results) == 0 {
		return results
	}
	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		if IsTestFile(r.Chunk.Origin) {
			r.Score *= TestFilePenalty
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

// IsTestFile checks if an origin path is a test file. Supports Go
// (_test.go), JavaScript/TypeScript (.test.js, .spec.ts, etc.), and Python
// (test_*.py, *_test.py).
func IsTestFile(origin string) bool {
	if strings.HasSuffix(origin, "_test.go") {
		return true
	}
	if strings.Contains(origin, ".test.") || strings.Contains(origin, ".spec.") {
		return true
	}

	fileName := origin
	if idx := strings.LastIndex(origin, "/"); idx >= 0 {
		fileName = origin[idx+1:]
	}
	if strings.HasPrefix(fileName, "test_") && strings.HasSuffix(fileName, ".py") {
		return true
	}
	if strings.HasSuffix(fileName, "_test.py") {
		return true
	}

	if strings.Contains(origin, "/test/") || strings.Contains(origin, "/tests/") {
		return true
	}
	if strings.HasPrefix(origin, "test/") || strings.HasPrefix(origin, "tests/") {
		return true
	}
	if strings.Contains(origin, "/__tests__/") || strings.HasPrefix(origin, "__tests__/") {
		return true
	}

	return false
}

// ApplyPathBoost adjusts scores based on origin path to prioritize
// implementations over CLI wrappers. Multi-query consensus otherwise favors
// wrappers because they tend to appear in every sub-query's results while
// implementations appear in only a few.
func ApplyPathBoost(results []*SearchResult) []*SearchResult {
	if len(results) == 0 {
		return results
	}
	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		origin := r.Chunk.Origin
		if IsImplementationPath(origin) {
			r.Score *= InternalPathBoost
		}
		if IsWrapperPath(origin) {
			r.Score *= CmdPathPenalty
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

// IsImplementationPath checks if a path is implementation code (internal/).
func IsImplementationPath(origin string) bool {
	return strings.HasPrefix(origin, "internal/") || strings.Contains(origin, "/internal/")
}

// IsWrapperPath checks if a path is CLI wrapper code (cmd/).
func IsWrapperPath(origin string) bool {
	return strings.HasPrefix(origin, "cmd/") || strings.Contains(origin, "/cmd/")
}

// ApplyNameBoost multiplies the score of results whose Name contains the
// boost string, then re-sorts. A no-op when boost is empty.
func ApplyNameBoost(results []*SearchResult, boost string) []*SearchResult {
	if boost == "" || len(results) == 0 {
		return results
	}
	lower := strings.ToLower(boost)
	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		if strings.ToLower(r.Chunk.Name) == lower {
			r.Score *= 1.5
		} else if strings.Contains(strings.ToLower(r.Chunk.Name), lower) {
			r.Score *= 1.15
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}
