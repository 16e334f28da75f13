package docstore

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	chromem "github.com/philippgille/chromem-go"
)

// DefaultHashDimensions matches small sentence-embedding models.
const DefaultHashDimensions = 384

// HashEmbedding returns a deterministic, offline embedding function. Each term
// seeds a pseudo-random vector; the document vector is their normalized sum,
// so texts sharing terms land close together.
func HashEmbedding(dimensions int) chromem.EmbeddingFunc {
	if dimensions <= 0 {
		dimensions = DefaultHashDimensions
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dimensions)
		terms := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if len(terms) == 0 {
			terms = []string{text}
		}
		for _, term := range terms {
			addTermVector(vec, term)
		}
		return normalize(vec), nil
	}
}

// OpenAIEmbedding uses the OpenAI embeddings API through chromem.
func OpenAIEmbedding(apiKey string) chromem.EmbeddingFunc {
	return chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI3Small)
}

func addTermVector(vec []float32, term string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(term))
	seed := h.Sum64()
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] += float32(int64(seed)) / float32(math.MaxInt64)
	}
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
