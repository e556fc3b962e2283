package retrieval

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultEmbeddingDimension is the vector size produced by NewHashEmbedder
// when given a non-positive dimension.
const DefaultEmbeddingDimension = 256

// HashEmbedder turns text into a fixed-size vector by feature hashing word
// tokens and character trigrams. It needs no model download and no network,
// and similar spellings ("migrate-db", "db migration") land near each other.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder returns an embedder producing vectors of size dim.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultEmbeddingDimension
	}
	return &HashEmbedder{dim: dim}
}

// EmbedQuery returns the normalized embedding of text. Text without any
// letters or digits yields a zero vector.
func (e *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, tok := range tokenize(text) {
		e.add(vec, "w:"+tok, 1.0)
		padded := "^" + tok + "$"
		for i := 0; i+3 <= len(padded); i++ {
			e.add(vec, "t:"+padded[i:i+3], 0.5)
		}
	}
	normalize(vec)
	return vec, nil
}

// EmbedDocuments embeds each text.
func (e *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *HashEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dim))
	// One hash bit picks the sign so collisions tend to cancel out.
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

func isZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
