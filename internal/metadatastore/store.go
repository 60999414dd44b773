// Package metadatastore implements the Metadata Store of spec.md §4.3:
// a local relational store (SQLite, WAL mode) holding sessions,
// captures, chunks, embeddings, and entities, with versioned migrations
// and transactional multi-row writes per capture.
package metadatastore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/neur0map/yinx/internal/errs"
	"github.com/neur0map/yinx/internal/logging"
	"github.com/neur0map/yinx/internal/types"
)

// Store owns every relational table exclusively (spec.md §3 Ownership).
type Store struct {
	db  *sql.DB
	log logging.Logger
}

// Open opens (creating if absent) the SQLite database under
// <dataRoot>/store/db.sqlite3 with WAL mode and foreign keys enabled,
// and applies any pending migrations.
func Open(ctx context.Context, dataRoot string, log logging.Logger) (*Store, error) {
	path := filepath.Join(dataRoot, "store", "db.sqlite3")
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "metadatastore.Open", err)
	}
	db.SetMaxOpenConns(1) // single connection: reads and writes through this Store are serialized.

	if log == nil {
		log = logging.Noop()
	}
	s := &Store{db: db, log: log.WithComponent("metadatastore")}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying *sql.DB so the blob store can share the
// same connection/database file for its blobs table.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)`); err != nil {
		return errs.Wrap(errs.Transient, "metadatastore.migrate", err)
	}
	var current int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&current); err != nil {
		return errs.Wrap(errs.Transient, "metadatastore.migrate", err)
	}
	for i := current; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return errs.Wrap(errs.Transient, "metadatastore.migrate", err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()
			return errs.Wrap(errs.ConfigInvalid, "metadatastore.migrate", fmt.Errorf("migration %d: %w", i+1, err))
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, i+1); err != nil {
			_ = tx.Rollback()
			return errs.Wrap(errs.Transient, "metadatastore.migrate", err)
		}
		if err := tx.Commit(); err != nil {
			return errs.Wrap(errs.Transient, "metadatastore.migrate", err)
		}
		s.log.InfoCtx(ctx, "applied migration", "version", i+1)
	}
	return nil
}

// CreateSession inserts a new Active session.
func (s *Store) CreateSession(ctx context.Context, sess *types.Session) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (id, name, started_at, status) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.StartedAt.UTC().Format(time.RFC3339Nano), sess.Status)
	if err != nil {
		return errs.Wrap(errs.Transient, "metadatastore.CreateSession", err)
	}
	return nil
}

// StopSession transitions a session to Stopped. A session never
// resurrects: a subsequent start with the same name creates a new row.
func (s *Store) StopSession(ctx context.Context, id string, stoppedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = ?, stopped_at = ? WHERE id = ?`,
		types.SessionStopped, stoppedAt.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return errs.Wrap(errs.Transient, "metadatastore.StopSession", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("metadatastore.StopSession", "session %s not found", id)
	}
	return nil
}

// GetSession fetches a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, started_at, stopped_at, status FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// FindActiveSessionByName returns the most recent Active session with
// name, if any (used by intake to resolve session_id on first capture).
func (s *Store) FindActiveSessionByName(ctx context.Context, name string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, started_at, stopped_at, status FROM sessions WHERE name = ? AND status = ? ORDER BY started_at DESC LIMIT 1`,
		name, types.SessionActive)
	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func scanSession(row *sql.Row) (*types.Session, error) {
	var sess types.Session
	var started string
	var stopped sql.NullString
	if err := row.Scan(&sess.ID, &sess.Name, &started, &stopped, &sess.Status); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFoundf("metadatastore.scanSession", "session not found")
		}
		return nil, errs.Wrap(errs.Transient, "metadatastore.scanSession", err)
	}
	t, _ := time.Parse(time.RFC3339Nano, started)
	sess.StartedAt = t
	if stopped.Valid {
		st, _ := time.Parse(time.RFC3339Nano, stopped.String)
		sess.StoppedAt = &st
	}
	return &sess, nil
}

// CommitCapture persists capture along with its chunks, entities, and
// embeddings in a single transaction, so a search snapshot never
// observes a half-indexed capture (spec.md §4.3, I1-I6).
func (s *Store) CommitCapture(ctx context.Context, capture *types.Capture, chunks []*types.Chunk, entities []*types.Entity, embeddings []*types.Embedding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.Transient, "metadatastore.CommitCapture", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO captures (id, session_id, timestamp, command, cwd, tool, exit_code, output_hash, failed, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		capture.ID, capture.SessionID, capture.Timestamp.UTC().Format(time.RFC3339Nano), capture.Command,
		capture.Cwd, nullableString(capture.Tool), capture.ExitCode, capture.OutputHash, capture.Failed, nullableString(capture.Reason))
	if err != nil {
		return errs.Wrap(errs.Transient, "metadatastore.CommitCapture", fmt.Errorf("insert capture: %w", err))
	}

	for _, c := range chunks {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks (id, capture_id, blob_hash, representative_text, cluster_size, pattern, tier2_score, representative_strategy)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.CaptureID, c.BlobHash, c.RepresentativeText, c.ClusterSize,
			c.Metadata.Pattern, c.Metadata.Tier2Score, c.Metadata.Representative)
		if err != nil {
			return errs.Wrap(errs.Transient, "metadatastore.CommitCapture", fmt.Errorf("insert chunk %s: %w", c.ID, err))
		}
	}

	for _, e := range entities {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entities (id, capture_id, chunk_id, type_name, value, context, confidence, redact)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.CaptureID, e.ChunkID, e.TypeName, e.Value, e.Context, e.Confidence, e.Redact)
		if err != nil {
			return errs.Wrap(errs.Transient, "metadatastore.CommitCapture", fmt.Errorf("insert entity %s: %w", e.ID, err))
		}
	}

	for _, e := range embeddings {
		blob := encodeVector(e.Vector)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO embeddings (chunk_id, model, vector) VALUES (?, ?, ?)
			ON CONFLICT(chunk_id, model) DO NOTHING`,
			e.ChunkID, e.Model, blob)
		if err != nil {
			return errs.Wrap(errs.Transient, "metadatastore.CommitCapture", fmt.Errorf("insert embedding %s: %w", e.ChunkID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.Transient, "metadatastore.CommitCapture", err)
	}
	return nil
}

// MarkCaptureFailed records a per-capture pipeline failure without
// halting the daemon (spec.md §7 propagation policy).
func (s *Store) MarkCaptureFailed(ctx context.Context, captureID, reason string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE captures SET failed = 1, reason = ? WHERE id = ?`, reason, captureID)
	if err != nil {
		return errs.Wrap(errs.Transient, "metadatastore.MarkCaptureFailed", err)
	}
	return nil
}

// GetCapture fetches one capture by ID.
func (s *Store) GetCapture(ctx context.Context, id string) (*types.Capture, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, timestamp, command, cwd, tool, exit_code, output_hash, failed, reason
		FROM captures WHERE id = ?`, id)
	var c types.Capture
	var ts string
	var tool, reason sql.NullString
	if err := row.Scan(&c.ID, &c.SessionID, &ts, &c.Command, &c.Cwd, &tool, &c.ExitCode, &c.OutputHash, &c.Failed, &reason); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFoundf("metadatastore.GetCapture", "capture %s not found", id)
		}
		return nil, errs.Wrap(errs.Transient, "metadatastore.GetCapture", err)
	}
	c.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	c.Tool = tool.String
	c.Reason = reason.String
	return &c, nil
}

// GetChunk fetches one chunk by ID.
func (s *Store) GetChunk(ctx context.Context, id string) (*types.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, capture_id, blob_hash, representative_text, cluster_size, pattern, tier2_score, representative_strategy
		FROM chunks WHERE id = ?`, id)
	var c types.Chunk
	var pattern, strategy sql.NullString
	var score sql.NullFloat64
	if err := row.Scan(&c.ID, &c.CaptureID, &c.BlobHash, &c.RepresentativeText, &c.ClusterSize, &pattern, &score, &strategy); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFoundf("metadatastore.GetChunk", "chunk %s not found", id)
		}
		return nil, errs.Wrap(errs.Transient, "metadatastore.GetChunk", err)
	}
	c.Metadata.Pattern = pattern.String
	c.Metadata.Tier2Score = score.Float64
	c.Metadata.Representative = strategy.String
	return &c, nil
}

// ListEntities returns every entity row, ordered by capture then id,
// used to rebuild the correlation graph on startup (spec.md §3).
func (s *Store) ListEntities(ctx context.Context) ([]*types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, capture_id, chunk_id, type_name, value, context, confidence, redact
		FROM entities ORDER BY capture_id, id`)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "metadatastore.ListEntities", err)
	}
	defer rows.Close()

	var out []*types.Entity
	for rows.Next() {
		var e types.Entity
		if err := rows.Scan(&e.ID, &e.CaptureID, &e.ChunkID, &e.TypeName, &e.Value, &e.Context, &e.Confidence, &e.Redact); err != nil {
			return nil, errs.Wrap(errs.Transient, "metadatastore.ListEntities", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

// EntitiesForChunk returns the entities extracted from one chunk.
func (s *Store) EntitiesForChunk(ctx context.Context, chunkID string) ([]*types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, capture_id, chunk_id, type_name, value, context, confidence, redact
		FROM entities WHERE chunk_id = ?`, chunkID)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "metadatastore.EntitiesForChunk", err)
	}
	defer rows.Close()
	var out []*types.Entity
	for rows.Next() {
		var e types.Entity
		if err := rows.Scan(&e.ID, &e.CaptureID, &e.ChunkID, &e.TypeName, &e.Value, &e.Context, &e.Confidence, &e.Redact); err != nil {
			return nil, errs.Wrap(errs.Transient, "metadatastore.EntitiesForChunk", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

// nullableString turns "" into a SQL NULL so optional text columns
// (tool, reason) stay genuinely empty rather than storing "".
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// encodeVector serializes a []float32 to a little-endian byte blob for
// storage in the embeddings table.
func encodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		bits := math.Float32bits(f)
		out[4*i] = byte(bits)
		out[4*i+1] = byte(bits >> 8)
		out[4*i+2] = byte(bits >> 16)
		out[4*i+3] = byte(bits >> 24)
	}
	return out
}

// DecodeVector is the inverse of encodeVector, exported for callers
// (the index builder) that read embeddings back out of storage.
func DecodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[4*i]) | uint32(b[4*i+1])<<8 | uint32(b[4*i+2])<<16 | uint32(b[4*i+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
