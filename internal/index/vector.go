// Package index implements the C7 Index Builder of spec.md §4.7: an
// embedded ANN vector index (coder/hnsw) and an embedded inverted
// keyword index (blevesearch/bleve), both resident under
// <data_root>/store/ with no network dependency, matching the
// Non-goal that yinx never talks to a remote vector/search service.
package index

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/neur0map/yinx/internal/errs"
	"github.com/neur0map/yinx/internal/logging"
)

// VectorIndex wraps an hnsw.Graph keyed by chunk ID, guarded by a
// mutex since hnsw.Graph is not documented as safe for concurrent
// writers (spec.md §5: index writers and readers never race).
type VectorIndex struct {
	mu   sync.RWMutex
	path string
	dim  int
	g    *hnsw.Graph[string]
}

// OpenVectorIndex loads a persisted graph from <dataRoot>/store/vectors/hnsw.bin
// if present, otherwise starts a fresh graph with M=m and EfSearch=efSearch;
// efConstruction is not applied to the graph.
// An unreadable or corrupt persisted graph is quarantined (moved aside)
// rather than failing startup: only ConfigInvalid is fatal at startup,
// Corruption is recovered from by starting fresh (spec.md §7).
func OpenVectorIndex(dataRoot string, dim, m, efConstruction, efSearch int, log logging.Logger) (*VectorIndex, error) {
	if log == nil {
		log = logging.Noop()
	}
	log = log.WithComponent("index")

	dir := filepath.Join(dataRoot, "store", "vectors")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Transient, "index.OpenVectorIndex", err)
	}
	path := filepath.Join(dir, "hnsw.bin")

	vi := &VectorIndex{path: path, dim: dim}

	f, err := os.Open(path)
	switch {
	case err == nil:
		g, importErr := hnsw.Import[string](f)
		_ = f.Close()
		if importErr != nil {
			log.Warn("hnsw graph corrupt, quarantining and starting fresh", "path", path, "error", importErr.Error())
			if renameErr := os.Rename(path, path+".corrupt"); renameErr != nil {
				log.Warn("hnsw graph quarantine failed", "path", path, "error", renameErr.Error())
			}
			vi.g = freshGraph(m, efSearch)
			return vi, nil
		}
		vi.g = g
	case os.IsNotExist(err):
		vi.g = freshGraph(m, efSearch)
	default:
		return nil, errs.Wrap(errs.Transient, "index.OpenVectorIndex", err)
	}
	return vi, nil
}

func freshGraph(m, efSearch int) *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = m
	g.EfSearch = efSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Add inserts or overwrites chunkID's vector. Vectors must match the
// index's configured dimension.
func (vi *VectorIndex) Add(chunkID string, vector []float32) error {
	if len(vector) != vi.dim {
		return errs.ConfigInvalidf("index.Add", "vector dim %d, index expects %d", len(vector), vi.dim)
	}
	vi.mu.Lock()
	defer vi.mu.Unlock()
	vi.g.Add(hnsw.MakeNode(chunkID, hnsw.Vector(vector)))
	return nil
}

// Search returns up to k nearest chunk IDs (by cosine distance) to
// query, nearest first, along with their stored vectors.
func (vi *VectorIndex) Search(query []float32, k int) ([]VectorHit, error) {
	if len(query) != vi.dim {
		return nil, errs.ConfigInvalidf("index.Search", "query dim %d, index expects %d", len(query), vi.dim)
	}
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	nodes := vi.g.Search(hnsw.Vector(query), k)
	out := make([]VectorHit, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, VectorHit{ChunkID: n.Key, Vector: []float32(n.Value)})
	}
	return out, nil
}

// Len reports how many vectors are indexed.
func (vi *VectorIndex) Len() int {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	return vi.g.Len()
}

// Persist exports the graph to disk so a restart reopens it without
// recomputing every embedding (spec.md §4.7: "the vector index survives
// a restart without re-embedding").
func (vi *VectorIndex) Persist() error {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	tmp := vi.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errs.Wrap(errs.Transient, "index.Persist", err)
	}
	if err := hnsw.Export(vi.g, f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errs.Wrap(errs.Transient, "index.Persist", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errs.Wrap(errs.Transient, "index.Persist", err)
	}
	if err := os.Rename(tmp, vi.path); err != nil {
		return errs.Wrap(errs.Transient, "index.Persist", err)
	}
	return nil
}

// VectorHit is one ANN search result.
type VectorHit struct {
	ChunkID string
	Vector  []float32
}
