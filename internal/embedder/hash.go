package embedder

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/felixgeelhaar/graphfusion/internal/vector"
)

// Hash derives a deterministic unit vector from the FNV hash of the text.
// Identical texts map to identical vectors; nothing else is implied.
type Hash struct {
	dim int
}

func NewHash(dim int) *Hash {
	if dim < 1 {
		dim = 64
	}
	return &Hash{dim: dim}
}

func (h *Hash) Name() string { return "hash" }

func (h *Hash) Dim() int { return h.dim }

func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := fnv.New64a()
	f.Write([]byte(text))
	seed := f.Sum64()

	out := make([]float32, h.dim)
	for i := range out {
		seed = seed*6364136223846793005 + 1442695040888963407
		out[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return vector.Normalize(out), nil
}
