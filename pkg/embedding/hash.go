package embedding

import (
	"context"
	"hash/fnv"

	"github.com/Yinkun-Cheng/RAG/pkg/index"
)

// Hash embeds text by feature hashing its terms and adjacent term pairs
// into a fixed number of buckets. Equal text always yields an equal
// vector, and texts sharing vocabulary are close in cosine distance.
type Hash struct {
	dim int
}

// NewHash creates a Hash embedder with dim buckets.
func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = 256
	}
	return &Hash{dim: dim}
}

// Name implements index.Backend.
func (*Hash) Name() string { return "hash" }

// Dimension returns the vector size.
func (h *Hash) Dimension() int { return h.dim }

// Embed implements index.EmbeddingService.
func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, h.dim)
	terms := index.Terms(text)
	for i, t := range terms {
		h.add(vec, t, 1)
		if i > 0 {
			h.add(vec, terms[i-1]+" "+t, 0.5)
		}
	}
	return normalize(vec), nil
}

func (h *Hash) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	// The top bit picks the sign so collisions cancel out on average.
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[sum%uint64(h.dim)] += weight
}
