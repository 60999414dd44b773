// Package retrieve implements the hybrid retriever of spec.md §4.8:
// concurrent ANN and keyword search, Reciprocal Rank Fusion, reranking,
// and provenance hydration, with graceful degradation when one leg
// fails. Concurrency is structured with golang.org/x/sync/errgroup,
// the same pattern the teacher uses to fan out its own parallel
// storage/backend calls.
package retrieve

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/neur0map/yinx/internal/config"
	"github.com/neur0map/yinx/internal/embed"
	"github.com/neur0map/yinx/internal/errs"
	"github.com/neur0map/yinx/internal/index"
	"github.com/neur0map/yinx/internal/logging"
	"github.com/neur0map/yinx/internal/rerank"
	"github.com/neur0map/yinx/internal/types"
)

// Provenance resolves chunk text and provenance for search results.
// metadatastore.Store satisfies this without importing it directly,
// keeping retrieve decoupled from the storage package.
type Provenance interface {
	GetChunk(ctx context.Context, chunkID string) (*types.Chunk, error)
	GetCapture(ctx context.Context, captureID string) (*types.Capture, error)
}

// VectorSearcher is the capability contract the ANN leg depends on,
// satisfied by *index.VectorIndex. spec.md §4.8 requires the embedder,
// vector index, keyword index, and reranker all be swappable behind
// narrow interfaces rather than the retriever depending on concrete
// index types directly.
type VectorSearcher interface {
	Search(query []float32, k int) ([]index.VectorHit, error)
}

// KeywordSearcher is the capability contract the BM25 leg depends on,
// satisfied by *index.KeywordIndex.
type KeywordSearcher interface {
	Search(q string, n int) ([]index.KeywordHit, error)
}

// Retriever answers hybrid search queries over the vector and keyword
// indexes.
type Retriever struct {
	vec    VectorSearcher
	kw     KeywordSearcher
	prov   Provenance
	embed  embed.Embedder
	rerank rerank.Reranker
	cfg    config.RetrievalConfig
	log    logging.Logger
}

// New constructs a Retriever over existing indexes and a provenance
// resolver.
func New(vec VectorSearcher, kw KeywordSearcher, prov Provenance, embedder embed.Embedder, cfg config.RetrievalConfig, log logging.Logger) *Retriever {
	if log == nil {
		log = logging.Noop()
	}
	return &Retriever{vec: vec, kw: kw, prov: prov, embed: embedder, rerank: rerank.New(), cfg: cfg, log: log.WithComponent("retrieve")}
}

// rankedHit pairs a chunk ID with its rank (1-based) in one leg's
// result list, the unit RRF fuses over.
type rankedHit struct {
	chunkID string
	rank    int
}

// Search runs the full hybrid pipeline: concurrent ANN + keyword
// search, RRF fusion, rerank, provenance hydration, and filtering.
// If one leg fails, the other's results are still returned, tagged by
// a DegradedSearch error wrapping the failure (spec.md §7 "a failed
// ANN or keyword leg degrades gracefully rather than failing the
// whole query").
func (r *Retriever) Search(ctx context.Context, query string, filters types.Filters) ([]types.ScoredChunk, error) {
	var vecHits []index.VectorHit
	var kwHits []index.KeywordHit
	var vecErr, kwErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		qv, err := r.embed.Embed(gctx, query)
		if err != nil {
			vecErr = err
			return nil
		}
		hits, err := r.vec.Search(qv, r.cfg.RerankTopK)
		if err != nil {
			vecErr = err
			return nil
		}
		vecHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := r.kw.Search(query, r.cfg.RerankTopK)
		if err != nil {
			kwErr = err
			return nil
		}
		kwHits = hits
		return nil
	})
	_ = g.Wait() // errors are captured per-leg above, never returned from the group itself

	if vecErr != nil && kwErr != nil {
		return nil, errs.WrapFields(errs.DegradedSearch, "retrieve.Search", vecErr, map[string]any{"keyword_error": kwErr.Error()})
	}

	fused := fuse(vecHits, kwHits, r.cfg.RRFK, r.cfg.SemanticWeight, r.cfg.KeywordWeight)

	candidates := make([]types.ScoredChunk, 0, len(fused))
	for _, f := range fused {
		chunk, err := r.prov.GetChunk(ctx, f.chunkID)
		if err != nil {
			continue
		}
		cap, err := r.prov.GetCapture(ctx, chunk.CaptureID)
		if err != nil {
			continue
		}
		if !matchesFilters(cap, filters) {
			continue
		}
		candidates = append(candidates, types.ScoredChunk{
			ChunkID: chunk.ID,
			Text:    chunk.RepresentativeText,
			Score:   f.score,
			Provenance: types.Provenance{
				CaptureID: cap.ID,
				BlobHash:  chunk.BlobHash,
				Command:   cap.Command,
				Tool:      cap.Tool,
				Timestamp: cap.Timestamp,
			},
		})
	}

	ranked, rerankErr := r.rerank.Rerank(query, candidates)
	if rerankErr != nil {
		// Fall back to fusion-ordered candidates rather than failing the
		// whole query (spec.md §7: "if the reranker fails, return
		// fusion-ordered results with a flag").
		r.log.WarnCtx(ctx, "reranker failed, serving fusion order", "error", rerankErr.Error())
		ranked = candidates
	}
	if len(ranked) > r.cfg.FinalLimit {
		ranked = ranked[:r.cfg.FinalLimit]
	}

	if vecErr != nil || kwErr != nil {
		r.log.WarnCtx(ctx, "search degraded", "vec_error", errString(vecErr), "kw_error", errString(kwErr))
		return ranked, errs.Wrap(errs.DegradedSearch, "retrieve.Search", combinedErr(vecErr, kwErr))
	}
	if rerankErr != nil {
		return ranked, errs.WrapFields(errs.DegradedSearch, "retrieve.Search", rerankErr, map[string]any{"component": "reranker"})
	}
	return ranked, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func combinedErr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}

// fusedHit is one chunk's post-RRF score.
type fusedHit struct {
	chunkID string
	score   float64
}

// fuse combines two ranked lists via weighted Reciprocal Rank Fusion:
// score(d) = semanticWeight/(k+rank_vec(d)) + keywordWeight/(k+rank_kw(d)),
// with a term omitted for any leg the document doesn't appear in
// (spec.md §4.8). Ties are broken by chunk ID so fusion is
// deterministic regardless of input order (testable property in
// spec.md §8: "RRF fusion is invariant to tied input ranks").
func fuse(vecHits []index.VectorHit, kwHits []index.KeywordHit, k int, semanticWeight, keywordWeight float64) []fusedHit {
	scores := make(map[string]float64)
	for i, h := range vecHits {
		scores[h.ChunkID] += semanticWeight / float64(k+i+1)
	}
	for i, h := range kwHits {
		scores[h.ChunkID] += keywordWeight / float64(k+i+1)
	}

	out := make([]fusedHit, 0, len(scores))
	for id, score := range scores {
		out = append(out, fusedHit{chunkID: id, score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].chunkID < out[j].chunkID
	})
	return out
}

func matchesFilters(cap *types.Capture, f types.Filters) bool {
	if f.SessionID != nil && cap.SessionID != *f.SessionID {
		return false
	}
	if f.Tool != nil && cap.Tool != *f.Tool {
		return false
	}
	if f.Since != nil && cap.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && cap.Timestamp.After(*f.Until) {
		return false
	}
	return true
}
