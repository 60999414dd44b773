package index

import (
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	bleveMapping "github.com/blevesearch/bleve/v2/mapping"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/neur0map/yinx/internal/errs"
)

// chunkDoc is the bleve document shape for one indexed chunk. Only
// Text is analyzed; ChunkID is stored for hit resolution.
type chunkDoc struct {
	ChunkID string `json:"chunk_id"`
	Text    string `json:"text"`
}

// buildMapping returns an index mapping that analyzes Text but skips
// storing it (representative text lives in the metadata store, not in
// the keyword index), keeping the on-disk index small.
func buildMapping() bleveMapping.IndexMapping {
	m := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Store = false
	text.IncludeInAll = true
	doc.AddFieldMappingsAt("text", text)

	id := bleve.NewTextFieldMapping()
	id.Index = false
	id.Store = true
	id.IncludeInAll = false
	doc.AddFieldMappingsAt("chunk_id", id)

	m.DefaultMapping = doc
	return m
}

// KeywordIndex wraps a bleve index over chunk representative text,
// giving the hybrid retriever its BM25-scored keyword leg (spec.md
// §4.7/§4.8). Writes are buffered into a bleve.Batch sized by
// indexing.batch_size rather than indexed one document at a time.
type KeywordIndex struct {
	idx       bleve.Index
	mu        sync.Mutex
	batch     *bleve.Batch
	batchSize int
	pending   int
}

// OpenKeywordIndex opens (or creates) the bleve index rooted at
// <dataRoot>/store/keywords, flushing writes in batches of batchSize.
func OpenKeywordIndex(dataRoot string, batchSize int) (*KeywordIndex, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	path := filepath.Join(dataRoot, "store", "keywords")

	idx, err := bleve.Open(path)
	if err != nil {
		idx, err = bleve.New(path, buildMapping())
		if err != nil {
			return nil, errs.Wrap(errs.Transient, "index.OpenKeywordIndex", err)
		}
	}
	return &KeywordIndex{idx: idx, batch: idx.NewBatch(), batchSize: batchSize}, nil
}

// Close flushes any buffered writes and releases the underlying index
// file handles.
func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	flushErr := k.flushLocked()
	k.mu.Unlock()
	if err := k.idx.Close(); err != nil {
		return errs.Wrap(errs.Transient, "index.KeywordIndex.Close", err)
	}
	return flushErr
}

// Add buffers chunkID's representative text for keyword search,
// flushing the batch once it reaches batchSize.
func (k *KeywordIndex) Add(chunkID, text string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.batch.Index(chunkID, chunkDoc{ChunkID: chunkID, Text: text}); err != nil {
		return errs.Wrap(errs.Transient, "index.KeywordIndex.Add", err)
	}
	k.pending++
	if k.pending >= k.batchSize {
		return k.flushLocked()
	}
	return nil
}

// Flush writes any buffered documents immediately.
func (k *KeywordIndex) Flush() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.flushLocked()
}

func (k *KeywordIndex) flushLocked() error {
	if k.pending == 0 {
		return nil
	}
	if err := k.idx.Batch(k.batch); err != nil {
		return errs.Wrap(errs.Transient, "index.KeywordIndex.flush", err)
	}
	k.batch = k.idx.NewBatch()
	k.pending = 0
	return nil
}

// KeywordHit is one BM25 search result.
type KeywordHit struct {
	ChunkID string
	Score   float64
}

// Search flushes any buffered writes, then runs a BM25 match query over
// the indexed text, returning the top n hits by score.
func (k *KeywordIndex) Search(q string, n int) ([]KeywordHit, error) {
	if err := k.Flush(); err != nil {
		return nil, err
	}
	query := bleveQuery.NewMatchQuery(q)
	req := bleve.NewSearchRequestOptions(query, n, 0, false)
	res, err := k.idx.Search(req)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "index.KeywordIndex.Search", err)
	}
	out := make([]KeywordHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		out = append(out, KeywordHit{ChunkID: h.ID, Score: h.Score})
	}
	return out, nil
}
