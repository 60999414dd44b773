package rerank

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neur0map/yinx/internal/types"
)

func TestRerank_OrdersByQueryOverlap(t *testing.T) {
	r := New()
	candidates := []types.ScoredChunk{
		{ChunkID: "a", Text: "unrelated line about cats"},
		{ChunkID: "b", Text: "80/tcp open http nginx server"},
	}
	out, err := r.Rerank("open http port", candidates)
	require.NoError(t, err)
	require.Equal(t, "b", out[0].ChunkID)
}

func TestRerank_EmptyQueryReturnsInputUnchanged(t *testing.T) {
	r := New()
	candidates := []types.ScoredChunk{{ChunkID: "a"}, {ChunkID: "b"}}
	out, err := r.Rerank("", candidates)
	require.NoError(t, err)
	require.Equal(t, candidates, out)
}
