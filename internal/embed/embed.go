// Package embed provides the embedding stage of spec.md §4.7: turning a
// chunk's representative text into a fixed-dimension vector, with an
// in-memory LRU cache in front so re-embedding text already seen by this
// process is a cache hit rather than recomputation.
// yinx runs fully offline, so the embedder itself is a deterministic
// local hashing scheme rather than a call to a remote model API —
// "local-hashing-v1" in spec.md's embedding.model default — grounded
// on the teacher's own embeddings.EmbeddingCache wrapping a pluggable
// Embedder interface.
package embed

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/neur0map/yinx/internal/errs"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Model() string
}

// hashingEmbedder is a deterministic, dependency-free stand-in for a
// real model: it hashes overlapping n-grams of the input into buckets
// of a fixed-size vector, then L2-normalizes. Same text always yields
// the same vector, and similar texts sharing n-grams land closer in
// cosine space than unrelated texts — which is all the hybrid
// retriever's ANN stage needs to be exercised meaningfully offline.
type hashingEmbedder struct {
	dim   int
	model string
}

// NewHashingEmbedder constructs the default local embedder at the
// configured dimension.
func NewHashingEmbedder(model string, dim int) Embedder {
	return &hashingEmbedder{dim: dim, model: model}
}

func (e *hashingEmbedder) Dimension() int { return e.dim }
func (e *hashingEmbedder) Model() string  { return e.model }

func (e *hashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.dim <= 0 {
		return nil, errs.ConfigInvalidf("embed.Embed", "embedding dimension must be positive")
	}
	vec := make([]float32, e.dim)
	const n = 3
	runes := []rune(text)
	if len(runes) < n {
		runes = append(runes, make([]rune, n-len(runes))...)
	}
	for i := 0; i+n <= len(runes); i++ {
		gram := string(runes[i : i+n])
		h := fnv.New32a()
		_, _ = h.Write([]byte(gram))
		bucket := int(h.Sum32()) % e.dim
		if bucket < 0 {
			bucket += e.dim
		}
		vec[bucket]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec, nil
}

// Cache wraps an Embedder with an LRU cache keyed by a hash of the
// input text, not by chunk ID: chunk IDs are fresh UUIDs assigned once
// per chunk, so keying by ID could never produce a hit against
// previously-seen content. Keying by content hash means identical
// representative text recurring across unrelated captures (the same
// "80/tcp open http" line showing up in ten different nmap runs) is
// recomputed once (spec.md §4.7: "embedding cache, content-hash
// keyed, sized by embedding.cache_size"). Hashing via xxhash mirrors
// the reducer's own Tier 1 dedup hashing.
type Cache struct {
	inner Embedder
	lru   *lru.Cache[uint64, []float32]
}

// NewCache builds a Cache in front of inner with room for size entries.
func NewCache(inner Embedder, size int) (*Cache, error) {
	if size <= 0 {
		size = 1
	}
	c, err := lru.New[uint64, []float32](size)
	if err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, "embed.NewCache", err)
	}
	return &Cache{inner: inner, lru: c}, nil
}

// contentKey hashes text to the cache key.
func contentKey(text string) uint64 {
	return xxhash.Sum64String(text)
}

// Embed returns the cached vector for text if present, otherwise
// computes it via the inner embedder and caches the result.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := contentKey(text)
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, v)
	return v, nil
}

// Dimension passes through to the inner embedder.
func (c *Cache) Dimension() int { return c.inner.Dimension() }

// Model passes through to the inner embedder.
func (c *Cache) Model() string { return c.inner.Model() }

// Invalidate drops the cached entry for text, used when the same
// content must be re-embedded under a changed model or scheme.
func (c *Cache) Invalidate(text string) {
	c.lru.Remove(contentKey(text))
}
