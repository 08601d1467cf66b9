package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

const (
	// DefaultLocalDimension matches the small sentence-embedding models the
	// local model stands in for.
	DefaultLocalDimension = 384

	localMinNgram = 3
	localMaxNgram = 6
)

var (
	localSeedIndex = []byte("kbcore-subword-idx-v1::")
	localSeedSign  = []byte("kbcore-subword-sgn-v1::")
)

// LocalModel is a deterministic, pure-Go embedding model using character
// n-gram feature hashing (FastText-style). Words that share subword structure
// produce similar vectors, which is enough to catch spelling variants and
// paraphrases that reuse vocabulary. It needs no network and no model files.
type LocalModel struct {
	dim int
}

// NewLocalModel returns a local model producing vectors of length dim.
// A non-positive dim selects DefaultLocalDimension.
func NewLocalModel(dim int) *LocalModel {
	if dim <= 0 {
		dim = DefaultLocalDimension
	}
	return &LocalModel{dim: dim}
}

// Name implements Model.
func (m *LocalModel) Name() string {
	return fmt.Sprintf("local-ngram-%d", m.dim)
}

// Load implements Model. The local model has nothing to load.
func (m *LocalModel) Load(_ context.Context) (int, error) {
	return m.dim, nil
}

// Embed implements Model. Texts with no indexable tokens (empty, or only stop
// words) map to the zero vector, which has similarity 0 with everything.
func (m *LocalModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.embedOne(text)
	}
	return out, nil
}

func (m *LocalModel) embedOne(text string) []float32 {
	vec := make([]float32, m.dim)
	var words int
	for _, tok := range tokenizeLocal(text) {
		if _, skip := localStopwords[tok]; skip {
			continue
		}
		m.addWord(vec, tok)
		words++
	}
	if words == 0 {
		return vec
	}

	scale := 1 / float32(words)
	for i := range vec {
		vec[i] *= scale
	}
	Normalize(vec)
	return vec
}

// addWord hashes the bounded word (<word>) and its character n-grams into vec
// using a random index and sign per feature.
func (m *LocalModel) addWord(vec []float32, word string) {
	bounded := "<" + word + ">"
	runes := []rune(bounded)

	m.addFeature(vec, bounded)
	for n := localMinNgram; n <= localMaxNgram && n <= len(runes); n++ {
		for i := 0; i <= len(runes)-n; i++ {
			m.addFeature(vec, string(runes[i:i+n]))
		}
	}
}

func (m *LocalModel) addFeature(vec []float32, feature string) {
	idx := int(stableHash(localSeedIndex, feature) % uint64(m.dim))
	if stableHash(localSeedSign, feature)%2 == 1 {
		vec[idx]--
	} else {
		vec[idx]++
	}
}

func stableHash(seed []byte, token string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(seed)
	_, _ = h.Write([]byte(token))
	return h.Sum64()
}

func tokenizeLocal(input string) []string {
	input = strings.ToLower(input)
	tokens := make([]string, 0, len(input)/4)
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		tokens = append(tokens, b.String())
		b.Reset()
	}
	for _, r := range input {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

var localStopwords = map[string]struct{}{
	"a": {}, "about": {}, "above": {}, "after": {}, "again": {}, "against": {}, "all": {}, "am": {}, "an": {}, "and": {},
	"any": {}, "are": {}, "as": {}, "at": {}, "be": {}, "because": {}, "been": {}, "before": {}, "being": {}, "below": {},
	"between": {}, "both": {}, "but": {}, "by": {}, "can": {}, "did": {}, "do": {}, "does": {}, "doing": {}, "down": {},
	"during": {}, "each": {}, "few": {}, "for": {}, "from": {}, "further": {}, "had": {}, "has": {}, "have": {}, "having": {},
	"he": {}, "her": {}, "here": {}, "hers": {}, "herself": {}, "him": {}, "himself": {}, "his": {}, "how": {}, "i": {},
	"if": {}, "in": {}, "into": {}, "is": {}, "it": {}, "its": {}, "itself": {}, "just": {}, "me": {}, "more": {},
	"most": {}, "my": {}, "myself": {}, "no": {}, "nor": {}, "not": {}, "now": {}, "of": {}, "off": {}, "on": {},
	"once": {}, "only": {}, "or": {}, "other": {}, "our": {}, "ours": {}, "ourselves": {}, "out": {}, "over": {}, "own": {},
	"same": {}, "she": {}, "should": {}, "so": {}, "some": {}, "such": {}, "than": {}, "that": {}, "the": {}, "their": {},
	"theirs": {}, "them": {}, "themselves": {}, "then": {}, "there": {}, "these": {}, "they": {}, "this": {}, "those": {},
	"through": {}, "to": {}, "too": {}, "under": {}, "until": {}, "up": {}, "very": {}, "was": {}, "we": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "while": {}, "who": {}, "whom": {}, "why": {}, "with": {}, "you": {},
	"your": {}, "yours": {}, "yourself": {}, "yourselves": {},
}
