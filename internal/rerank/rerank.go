// Package rerank implements the cross-encoder reranking stage of
// spec.md §4.8: re-scoring the fused candidate set against the literal
// query text before truncating to the final result limit. yinx runs
// fully offline, so the "cross-encoder" is a local lexical-overlap
// scorer rather than a network call to a hosted reranking model —
// grounded on the same offline-first posture as internal/embed's
// hashing embedder.
package rerank

import (
	"sort"
	"strings"

	"github.com/neur0map/yinx/internal/types"
)

// Reranker re-scores candidates against a query. An error return lets a
// caller fall back to fusion-ordered results and annotate the response
// as degraded, rather than failing the whole search (spec.md §7: "if
// the reranker fails, return fusion-ordered results with a flag").
type Reranker interface {
	Rerank(query string, candidates []types.ScoredChunk) ([]types.ScoredChunk, error)
}

// lexicalReranker scores each candidate by the fraction of query
// tokens it contains, breaking ties with the candidate's incoming
// fused score.
type lexicalReranker struct{}

// New returns the default local reranker.
func New() Reranker { return lexicalReranker{} }

func (lexicalReranker) Rerank(query string, candidates []types.ScoredChunk) ([]types.ScoredChunk, error) {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return candidates, nil
	}

	out := make([]types.ScoredChunk, len(candidates))
	copy(out, candidates)
	for i, c := range out {
		overlap := overlapScore(queryTokens, tokenize(c.Text))
		out[i].Score = overlap
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out, nil
}

func tokenize(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,:;!?()[]{}\"'")
		if f != "" {
			set[f] = struct{}{}
		}
	}
	return set
}

func overlapScore(query, text map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for tok := range query {
		if _, ok := text[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
