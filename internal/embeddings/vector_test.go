package embeddings_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbitalbio/spacebio/internal/embeddings"
)

func TestSerializeRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.14159, 0}

	data := embeddings.Serialize(vec)
	require.Len(t, data, len(vec)*4)

	got := embeddings.Deserialize(data)
	require.Equal(t, vec, got)
}

func TestDeserializeMalformed(t *testing.T) {
	require.Nil(t, embeddings.Deserialize(nil))
	require.Nil(t, embeddings.Deserialize([]byte{}))
	require.Nil(t, embeddings.Deserialize([]byte{1, 2, 3})) // not a multiple of 4
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"scaled", []float32{1, 2}, []float32{2, 4}, 1},
		{"mismatched length", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 2}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.InDelta(t, tc.want, embeddings.CosineSimilarity(tc.a, tc.b), 1e-5)
		})
	}
}

func TestCosineSimilarityOrdering(t *testing.T) {
	query := []float32{1, 0, 0}
	near := []float32{0.9, 0.1, 0}
	far := []float32{0.1, 0.9, 0.2}

	require.Greater(t,
		embeddings.CosineSimilarity(query, near),
		embeddings.CosineSimilarity(query, far))
}
