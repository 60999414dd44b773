// Package daemon wires every core component into the running pipeline
// described in spec.md §5: a bounded intake channel feeding the
// reducer, extractor, embedder, and indexes, with per-capture failures
// isolated so one bad capture never halts the daemon.
package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/neur0map/yinx/internal/blobstore"
	"github.com/neur0map/yinx/internal/config"
	"github.com/neur0map/yinx/internal/correlate"
	"github.com/neur0map/yinx/internal/embed"
	"github.com/neur0map/yinx/internal/errs"
	"github.com/neur0map/yinx/internal/index"
	"github.com/neur0map/yinx/internal/ipc"
	"github.com/neur0map/yinx/internal/logging"
	"github.com/neur0map/yinx/internal/metadatastore"
	"github.com/neur0map/yinx/internal/metrics"
	"github.com/neur0map/yinx/internal/patterns"
	"github.com/neur0map/yinx/internal/reducer"
	"github.com/neur0map/yinx/internal/retrieve"
	"github.com/neur0map/yinx/internal/types"
)

// intakeRequest is one queued capture awaiting pipeline processing.
// captureID and sessionID are resolved by Submit before enqueueing, so
// process never has to invent identity on the hot path.
type intakeRequest struct {
	captureID string
	sessionID string
	req       ipc.CaptureRequest
	result    chan error
}

// Daemon owns every long-lived component and the intake queue that
// feeds them.
type Daemon struct {
	cfg     *config.Config
	log     logging.Logger
	metrics *metrics.Registry

	meta     *metadatastore.Store
	blobs    *blobstore.Store
	patterns *patterns.Store
	reducer  *reducer.Reducer
	graph    *correlate.Graph
	cache    *embed.Cache
	vec      *index.VectorIndex
	kw       *index.KeywordIndex
	retr     *retrieve.Retriever

	intake chan intakeRequest
	done   chan struct{}
}

// New constructs a Daemon with every component opened against
// cfg.Storage.DataRoot, and rebuilds the correlation graph from
// existing entities (spec.md §4.6: "rebuildable on startup").
func New(ctx context.Context, cfg *config.Config, log logging.Logger) (*Daemon, error) {
	if log == nil {
		log = logging.Noop()
	}
	log = log.WithComponent("daemon")

	patternStore, err := patterns.NewStore(cfg)
	if err != nil {
		return nil, err
	}

	meta, err := metadatastore.Open(ctx, cfg.Storage.DataRoot, log)
	if err != nil {
		return nil, err
	}
	blobs, err := blobstore.New(cfg.Storage.DataRoot, meta.DB(), cfg.Storage.CompressionThreshold, cfg.Storage.EncryptionKey, log)
	if err != nil {
		return nil, err
	}

	vec, err := index.OpenVectorIndex(cfg.Storage.DataRoot, cfg.Indexing.VectorDim, cfg.Indexing.HNSWM, cfg.Indexing.HNSWEfConstruction, cfg.Indexing.HNSWEfSearch, log)
	if err != nil {
		return nil, err
	}
	kw, err := index.OpenKeywordIndex(cfg.Storage.DataRoot, cfg.Indexing.BatchSize)
	if err != nil {
		return nil, err
	}

	embedder := embed.NewHashingEmbedder(cfg.Embedding.Model, cfg.Embedding.Dimension)
	cache, err := embed.NewCache(embedder, cfg.Embedding.CacheSize)
	if err != nil {
		return nil, err
	}

	graph := correlate.NewGraph()
	entities, err := meta.ListEntities(ctx)
	if err != nil {
		return nil, err
	}
	correlate.Rebuild(graph, entities)

	retr := retrieve.New(vec, kw, meta, embedder, cfg.Retrieval, log)

	d := &Daemon{
		cfg:      cfg,
		log:      log,
		metrics:  metrics.New(),
		meta:     meta,
		blobs:    blobs,
		patterns: patternStore,
		reducer:  reducer.New(),
		graph:    graph,
		cache:    cache,
		vec:      vec,
		kw:       kw,
		retr:     retr,
		intake:   make(chan intakeRequest, cfg.Capture.BufferSize),
		done:     make(chan struct{}),
	}
	return d, nil
}

// Run drains the intake queue until ctx is cancelled, then drains
// whatever remains before returning (spec.md §5: "shutdown drains the
// intake queue rather than discarding in-flight captures").
func (d *Daemon) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case req, ok := <-d.intake:
			if !ok {
				return
			}
			d.metrics.QueueDepth.Set(float64(len(d.intake)))
			req.result <- d.process(ctx, req)
		case <-ctx.Done():
			d.drain(ctx)
			return
		}
	}
}

func (d *Daemon) drain(ctx context.Context) {
	for {
		select {
		case req, ok := <-d.intake:
			if !ok {
				return
			}
			req.result <- d.process(context.Background(), req)
		default:
			return
		}
	}
}

// Submit resolves the named session (creating it if this is its first
// capture), validates the bounded output file named by req.OutputPath,
// and enqueues the capture, blocking only as long as the intake buffer
// has room; a full buffer yields Backpressure immediately rather than
// blocking the caller indefinitely (spec.md §5).
func (d *Daemon) Submit(ctx context.Context, sessionName string, req ipc.CaptureRequest) (string, error) {
	sessionID, err := d.resolveSession(ctx, sessionName)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil {
		return "", errs.Wrap(errs.ConfigInvalid, "daemon.Submit", fmt.Errorf("output_path %q: %w", req.OutputPath, err))
	}
	if info.Size() > d.cfg.Storage.MaxBlobSize {
		return "", errs.ConfigInvalidf("daemon.Submit", "output_path %q is %d bytes, exceeds storage.max_blob_size (%d)", req.OutputPath, info.Size(), d.cfg.Storage.MaxBlobSize)
	}

	captureID := uuid.NewString()
	result := make(chan error, 1)
	ir := intakeRequest{captureID: captureID, sessionID: sessionID, req: req, result: result}

	select {
	case d.intake <- ir:
		d.metrics.QueueDepth.Set(float64(len(d.intake)))
	default:
		d.metrics.CapturesRejected.Inc()
		return "", errs.Backpressuref("daemon.Submit", "intake queue full (%d)", cap(d.intake))
	}

	select {
	case err := <-result:
		return captureID, err
	case <-ctx.Done():
		return "", errs.Cancelledf("daemon.Submit", "capture submission cancelled")
	}
}

// resolveSession finds the most recent Active session named name, or
// creates one if none exists yet (spec.md §4.2: "a session exists or
// is creatable before its first capture is accepted"). Without this,
// capture.SessionID would reference a row that was never inserted,
// tripping the sessions foreign key on every commit.
func (d *Daemon) resolveSession(ctx context.Context, name string) (string, error) {
	sess, err := d.meta.FindActiveSessionByName(ctx, name)
	if err == nil {
		return sess.ID, nil
	}
	if errs.KindOf(err) != errs.NotFound {
		return "", err
	}

	sess = &types.Session{
		ID:        uuid.NewString(),
		Name:      name,
		StartedAt: time.Now(),
		Status:    types.SessionActive,
	}
	if err := d.meta.CreateSession(ctx, sess); err != nil {
		return "", err
	}
	return sess.ID, nil
}

// process runs one capture through the full pipeline: blob store ->
// reducer -> extractor/correlator -> embedder -> indexes -> metadata
// commit. A failure at any stage is recorded against that capture
// without propagating to the daemon's own lifecycle (spec.md §7
// "per-capture failures never halt the daemon").
func (d *Daemon) process(ctx context.Context, ir intakeRequest) (resultErr error) {
	captureID := ir.captureID
	defer func() {
		if resultErr != nil {
			d.metrics.CapturesFailed.Inc()
			_ = d.meta.MarkCaptureFailed(ctx, captureID, resultErr.Error())
		} else {
			d.metrics.CapturesAccepted.Inc()
		}
	}()

	reg := d.patterns.Current()

	output, err := os.ReadFile(ir.req.OutputPath)
	if err != nil {
		return fmt.Errorf("read output_path %s: %w", ir.req.OutputPath, err)
	}
	if int64(len(output)) > d.cfg.Storage.MaxBlobSize {
		return errs.ConfigInvalidf("daemon.process", "output_path %q grew to %d bytes after Submit validated it, exceeds storage.max_blob_size (%d)", ir.req.OutputPath, len(output), d.cfg.Storage.MaxBlobSize)
	}

	hash, err := d.blobs.Put(ctx, output)
	if err != nil {
		return fmt.Errorf("store output: %w", err)
	}

	lines := reducer.SplitLines(string(output))
	rawChunks := d.reducer.Reduce(ir.sessionID, reg, lines)

	tool := reg.DetectTool(ir.req.Command)
	capture := &types.Capture{
		ID:         captureID,
		SessionID:  ir.sessionID,
		Timestamp:  time.Now(),
		Command:    ir.req.Command,
		Cwd:        ir.req.Cwd,
		Tool:       tool,
		ExitCode:   ir.req.ExitCode,
		OutputHash: hash,
	}

	chunks := make([]*types.Chunk, 0, len(rawChunks))
	var entities []*types.Entity
	var embeddings []*types.Embedding

	for i := range rawChunks {
		c := rawChunks[i]
		c.ID = uuid.NewString()
		c.CaptureID = captureID
		c.BlobHash = hash
		chunks = append(chunks, &c)

		chunkEntities := correlate.Extract(reg, captureID, c.ID, c.RepresentativeText)
		entities = append(entities, chunkEntities...)
		d.graph.IngestChunk(chunkEntities)

		vector, err := d.cache.Embed(ctx, c.RepresentativeText)
		if err != nil {
			return fmt.Errorf("embed chunk %s: %w", c.ID, err)
		}
		embeddings = append(embeddings, &types.Embedding{ChunkID: c.ID, Vector: vector, Model: d.cache.Model()})

		if err := d.vec.Add(c.ID, vector); err != nil {
			return fmt.Errorf("index vector for chunk %s: %w", c.ID, err)
		}
		if err := d.kw.Add(c.ID, c.RepresentativeText); err != nil {
			return fmt.Errorf("index keyword for chunk %s: %w", c.ID, err)
		}
	}

	if err := d.meta.CommitCapture(ctx, capture, chunks, entities, embeddings); err != nil {
		return fmt.Errorf("commit capture: %w", err)
	}

	d.metrics.ChunksEmitted.Add(float64(len(chunks)))
	d.metrics.EntitiesExtracted.Add(float64(len(entities)))
	if len(chunks) > 0 {
		d.metrics.ReducerRatio.Observe(float64(len(lines)) / float64(len(chunks)))
	}
	if tool != "" {
		d.log.DebugCtx(ctx, "capture processed", "capture_id", captureID, "tool", titleCaser.String(tool), "chunks", len(chunks))
	}
	return nil
}

// titleCaser renders a detected tool name for log display ("nmap" ->
// "Nmap"), mirroring how the teacher's CLI commands title-case
// user-facing labels via golang.org/x/text/cases rather than a
// hand-rolled capitalization helper.
var titleCaser = cases.Title(language.English)

// Search delegates to the hybrid retriever.
func (d *Daemon) Search(ctx context.Context, query string, filters types.Filters) ([]types.ScoredChunk, error) {
	start := time.Now()
	results, err := d.retr.Search(ctx, query, filters)
	d.metrics.SearchLatency.Observe(time.Since(start).Seconds())
	return results, err
}

// Status summarizes current daemon metrics for the IPC Status command.
func (d *Daemon) Status() ipc.StatusResult {
	snap := d.metrics.Snapshot()
	return ipc.StatusResult{
		QueueDepth:        len(d.intake),
		CapturesAccepted:  snap.CapturesAccepted,
		CapturesRejected:  snap.CapturesRejected,
		CapturesFailed:    snap.CapturesFailed,
		ChunksEmitted:     snap.ChunksEmitted,
		EntitiesExtracted: snap.EntitiesExtracted,
	}
}

// Shutdown closes the intake channel so Run drains and returns, then
// persists the vector index and closes storage handles.
func (d *Daemon) Shutdown(ctx context.Context) error {
	close(d.intake)
	select {
	case <-d.done:
	case <-ctx.Done():
	}

	d.graph.Close()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(d.vec.Persist())
	record(d.kw.Close())
	if _, err := d.blobs.GC(ctx); err != nil {
		record(err)
	}
	record(d.meta.Close())
	return firstErr
}
