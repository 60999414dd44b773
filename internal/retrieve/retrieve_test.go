package retrieve

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neur0map/yinx/internal/config"
	"github.com/neur0map/yinx/internal/embed"
	"github.com/neur0map/yinx/internal/errs"
	"github.com/neur0map/yinx/internal/index"
	"github.com/neur0map/yinx/internal/types"
)

type fakeProvenance struct {
	chunks   map[string]*types.Chunk
	captures map[string]*types.Capture
}

func (f *fakeProvenance) GetChunk(_ context.Context, id string) (*types.Chunk, error) {
	c, ok := f.chunks[id]
	if !ok {
		return nil, errNotFound
	}
	return c, nil
}

func (f *fakeProvenance) GetCapture(_ context.Context, id string) (*types.Capture, error) {
	c, ok := f.captures[id]
	if !ok {
		return nil, errNotFound
	}
	return c, nil
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

const errNotFound = simpleErr("not found")

func setup(t *testing.T) (*Retriever, *fakeProvenance) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()

	vec, err := index.OpenVectorIndex(dir, cfg.Embedding.Dimension, cfg.Indexing.HNSWM, cfg.Indexing.HNSWEfConstruction, cfg.Indexing.HNSWEfSearch, nil)
	require.NoError(t, err)
	kw, err := index.OpenKeywordIndex(dir, cfg.Indexing.BatchSize)
	require.NoError(t, err)

	embedder := embed.NewHashingEmbedder(cfg.Embedding.Model, cfg.Embedding.Dimension)

	prov := &fakeProvenance{chunks: map[string]*types.Chunk{}, captures: map[string]*types.Capture{}}

	text := "80/tcp open http nginx 1.18"
	vector, err := embedder.Embed(context.Background(), text)
	require.NoError(t, err)
	require.NoError(t, vec.Add("chunk-1", vector))
	require.NoError(t, kw.Add("chunk-1", text))

	prov.chunks["chunk-1"] = &types.Chunk{ID: "chunk-1", CaptureID: "cap-1", BlobHash: "hash1", RepresentativeText: text}
	prov.captures["cap-1"] = &types.Capture{ID: "cap-1", SessionID: "sess-1", Command: "nmap -sV target", Tool: "nmap", Timestamp: time.Now()}

	r := New(vec, kw, prov, embedder, cfg.Retrieval, nil)
	return r, prov
}

func TestSearch_ReturnsMatchingChunkWithProvenance(t *testing.T) {
	r, _ := setup(t)
	results, err := r.Search(context.Background(), "nginx http open", types.Filters{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "chunk-1", results[0].ChunkID)
	require.Equal(t, "cap-1", results[0].Provenance.CaptureID)
	require.Equal(t, "nmap -sV target", results[0].Provenance.Command)
}

func TestSearch_FiltersExcludeNonMatchingCaptures(t *testing.T) {
	r, _ := setup(t)
	otherTool := "curl"
	results, err := r.Search(context.Background(), "nginx http open", types.Filters{Tool: &otherTool})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestFuse_RRFPrefersDocumentsRankedInBothLegs(t *testing.T) {
	vecHits := []index.VectorHit{{ChunkID: "a"}, {ChunkID: "b"}}
	kwHits := []index.KeywordHit{{ChunkID: "b"}, {ChunkID: "c"}}

	fused := fuse(vecHits, kwHits, 60, 1.0, 1.0)
	require.Equal(t, "b", fused[0].chunkID, "b appears in both legs and should rank first")
}

// failingVectorSearcher always errors, exercising the vector-leg
// degradation path without needing a real corrupt index.
type failingVectorSearcher struct{}

func (failingVectorSearcher) Search(_ []float32, _ int) ([]index.VectorHit, error) {
	return nil, errNotFound
}

// failingReranker always errors, exercising the "degraded=reranker"
// annotation spec.md §7 requires when the reranker itself fails.
type failingReranker struct{}

func (failingReranker) Rerank(_ string, candidates []types.ScoredChunk) ([]types.ScoredChunk, error) {
	return nil, errNotFound
}

func TestSearch_DegradesWhenVectorLegFails(t *testing.T) {
	r, _ := setup(t)
	r.vec = failingVectorSearcher{}

	results, err := r.Search(context.Background(), "nginx http open", types.Filters{})
	require.Error(t, err)
	require.Equal(t, "degraded_search", string(errs.KindOf(err)))
	// The keyword leg still found the chunk, so results aren't empty.
	require.NotEmpty(t, results)
}

func TestSearch_DegradesWithRerankerFlagWhenRerankerFails(t *testing.T) {
	r, _ := setup(t)
	r.rerank = failingReranker{}

	results, err := r.Search(context.Background(), "nginx http open", types.Filters{})
	require.Error(t, err)
	require.Equal(t, "degraded_search", string(errs.KindOf(err)))
	// Fusion-ordered results are still returned despite the reranker failure.
	require.NotEmpty(t, results)
}

func TestFuse_DeterministicTieBreakByID(t *testing.T) {
	// "z" and "a" are each ranked first in one leg with equal weights, so
	// their fused scores tie exactly.
	vecHits := []index.VectorHit{{ChunkID: "z"}}
	kwHits := []index.KeywordHit{{ChunkID: "a"}}
	fused1 := fuse(vecHits, kwHits, 60, 1.0, 1.0)
	fused2 := fuse(vecHits, kwHits, 60, 1.0, 1.0)
	require.Equal(t, fused1, fused2)
	require.Equal(t, "a", fused1[0].chunkID, "tied scores are ordered by chunk ID")
}
