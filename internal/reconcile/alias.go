package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/scrypster/tessera/internal/similarity"
	"github.com/scrypster/tessera/pkg/types"
)

// Alias detection thresholds.
const (
	DefaultContextThreshold         = 0.95
	DefaultTransliterationThreshold = 0.90
)

// identityPatterns introduce another name for the entity being described.
// They are matched against normalized text.
var identityPatterns = []string{
	"identified as",
	"operating under the alias",
	"under the alias",
	"codename for",
	"code name for",
	"codenamed",
	"also known as",
	"aka",
	"a k a",
}

// transliterations fold character sequences commonly confused by OCR or
// transliteration. Applied in order to lowercased text.
var transliterations = strings.NewReplacer(
	"rn", "m",
	"cl", "d",
	"0", "o",
	"1", "l",
	"i", "l",
	"5", "s",
	"8", "b",
)

// AliasConfig tunes the AliasDetector.
type AliasConfig struct {
	ContextThreshold         float64
	TransliterationThreshold float64
}

// AliasDetector finds entities that another entity's text names as itself.
type AliasDetector struct {
	index *similarity.Index
	cfg   AliasConfig
}

// NewAliasDetector returns a detector scoring text through index. Zero
// thresholds take their defaults.
func NewAliasDetector(index *similarity.Index, cfg AliasConfig) *AliasDetector {
	if cfg.ContextThreshold <= 0 {
		cfg.ContextThreshold = DefaultContextThreshold
	}
	if cfg.TransliterationThreshold <= 0 {
		cfg.TransliterationThreshold = DefaultTransliterationThreshold
	}
	return &AliasDetector{index: index, cfg: cfg}
}

// DetectAliases proposes members of pool that e may be another name for.
// Three signals are checked per candidate, strongest first:
//
//   - an explicit identity phrase in either description naming the other
//     entity ("identified as", "also known as", ...), accepted regardless of
//     similarity;
//   - names equal after folding OCR-style substitutions (0/O, 1/I/l, 5/S,
//     8/B, rn/m, cl/d) with text similarity above the transliteration bar,
//     flagged as a possible transliteration error;
//   - the context sentence scoring above the context bar against the
//     candidate's rendered text.
//
// Results are ordered by similarity, highest first.
func (d *AliasDetector) DetectAliases(ctx context.Context, e *types.Entity, pool []*types.Entity, contextSentence string) []types.AliasSuggestion {
	nv := NewView(e)
	var out []types.AliasSuggestion
	for _, cand := range pool {
		if cand == nil || cand.ID == e.ID {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}
		cv := NewView(cand)
		sim := d.index.Similarity(ctx, nv.Text, cv.Text)
		s := types.AliasSuggestion{NewEntity: e, ExistingEntity: cand, Similarity: sim}

		if phrase, name, ok := claimsIdentity(nv.Description, cv.Names()); ok {
			s.Reasoning = fmt.Sprintf("description of %q says %q %s", nv.Name, phrase, name)
			out = append(out, s)
			continue
		}
		if phrase, name, ok := claimsIdentity(cv.Description, nv.Names()); ok {
			s.Reasoning = fmt.Sprintf("description of %q says %q %s", cv.Name, phrase, name)
			out = append(out, s)
			continue
		}
		if a, b, ok := transliterated(nv.Names(), cv.Names()); ok && sim > d.cfg.TransliterationThreshold {
			s.IsPossibleTransliterationError = true
			s.Reasoning = fmt.Sprintf("%q and %q differ only by commonly confused characters (similarity %.3f)", a, b, sim)
			out = append(out, s)
			continue
		}
		if strings.TrimSpace(contextSentence) != "" {
			if csim := d.index.Similarity(ctx, contextSentence, cv.Text); csim > d.cfg.ContextThreshold {
				s.Similarity = csim
				s.Reasoning = fmt.Sprintf("context sentence closely paraphrases %q (similarity %.3f)", cv.Name, csim)
				out = append(out, s)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

// claimsIdentity reports whether text contains an identity phrase directly
// followed by one of names.
func claimsIdentity(text string, names []string) (phrase, name string, ok bool) {
	body := " " + normalizeText(text) + " "
	if len(body) <= 2 {
		return "", "", false
	}
	for _, n := range names {
		nn := normalizeText(n)
		if nn == "" {
			continue
		}
		for _, p := range identityPatterns {
			if strings.Contains(body, " "+p+" "+nn+" ") {
				return p, n, true
			}
		}
	}
	return "", "", false
}

// transliterated finds a pair of differing names that fold to the same form.
func transliterated(a, b []string) (string, string, bool) {
	for _, x := range a {
		for _, y := range b {
			if types.SameName(x, y) {
				continue
			}
			fx, fy := foldConfusables(x), foldConfusables(y)
			if fx != "" && fx == fy {
				return x, y, true
			}
		}
	}
	return "", "", false
}

func foldConfusables(s string) string {
	return transliterations.Replace(normalize(s))
}

// normalizeText lowercases s and turns every run of non-alphanumeric
// characters into one space.
func normalizeText(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}
