// Package similarity answers "which stored texts are most like this one"
// through an ordered chain of backends: vector, full-text keyword, and a
// naive in-memory token overlap that is always available.
package similarity

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/scrypster/tessera/internal/embedding"
	"github.com/scrypster/tessera/pkg/types"
)

// Backend names reported by Index.BackendName.
const (
	BackendVector  = "vector"
	BackendKeyword = "keyword"
	BackendNaive   = "naive"
)

const defaultSearchLimit = 10

// Backend is one tier of the fallback chain. Scores returned by different
// backends are not comparable and are never blended.
type Backend interface {
	Name() string

	// Available reports whether the backend can serve requests. It is
	// consulted once, when the Index is built.
	Available(ctx context.Context) bool

	Add(ctx context.Context, id, text string, metadata map[string]string) error
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error

	// Search returns results ordered most similar first, each with a score
	// in [0,1].
	Search(ctx context.Context, query string, limit int) ([]types.SearchResult, error)

	// Similarity returns a score in [0,1]; 0 when either text is empty.
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// unavailable reports whether err means the backend should be abandoned.
func unavailable(err error) bool {
	return errors.Is(err, embedding.ErrBackendUnavailable)
}

// Tokens lowercases s and splits it on whitespace.
func Tokens(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func tokenSet(s string) map[string]struct{} {
	toks := Tokens(s)
	set := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		set[t] = struct{}{}
	}
	return set
}

// Jaccard is |A∩B| / |A∪B| over the lowercased whitespace tokens of a and b.
// It returns 0 when either side has no tokens.
func Jaccard(a, b string) float64 {
	return jaccardSets(tokenSet(a), tokenSet(b))
}

func jaccardSets(sa, sb map[string]struct{}) float64 {
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	small, large := sa, sb
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// sortResults orders by score descending, keeping the input order for ties.
func sortResults(results []types.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
