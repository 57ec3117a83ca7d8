package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// MockEmbedder produces deterministic vectors derived from the input text.
// Identical texts embed identically, different texts almost never collide,
// which is enough to exercise ranking and retrieval in tests.
type MockEmbedder struct {
	Dim  int
	Fail error // when set, EmbedQuery returns this error
}

// NewMockEmbedder creates a mock embedder with the given dimension.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{Dim: dim}
}

// Dimension implements Embedder.
func (m *MockEmbedder) Dimension() int { return m.Dim }

// EmbedQuery implements Embedder.
func (m *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if m.Fail != nil {
		return nil, m.Fail
	}
	return DeterministicVector(text, m.Dim), nil
}

// DeterministicVector derives an L2-normalized vector from text by expanding
// a SHA-256 digest.
func DeterministicVector(text string, dim int) []float32 {
	out := make([]float32, dim)
	seed := sha256.Sum256([]byte(text))
	buf := seed[:]
	for i := 0; i < dim; i++ {
		if i*4+4 > len(buf) {
			next := sha256.Sum256(buf)
			buf = append(buf, next[:]...)
		}
		bits := binary.BigEndian.Uint32(buf[i*4 : i*4+4])
		// Map to [-1, 1).
		out[i] = float32(int32(bits))/float32(1<<31)
	}
	return Normalize(out)
}
