// Package blobstore implements the content-addressed blob store of
// spec.md §4.2: two-level sharded files on disk, BLAKE3 content hashing,
// optional zstd compression, and reference-counted garbage collection.
package blobstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"

	"github.com/neur0map/yinx/internal/errs"
	"github.com/neur0map/yinx/internal/logging"
	"github.com/neur0map/yinx/internal/retry"
)

// Store is the blob store. It owns the blobs table and the on-disk
// shard tree exclusively (spec.md §3 Ownership).
type Store struct {
	root                 string
	db                   *sql.DB
	compressionThreshold int64
	encryptionKey         string
	log                  logging.Logger
	retry                retry.Config
}

// New creates a Store rooted at <dataRoot>/store/blobs, backed by db for
// the blobs table. db is expected to be the same *sql.DB the metadata
// store uses, so the blobs table lives in the same database as the
// capture rows; refcount updates run in their own statements, outside
// any capture transaction. A non-empty encryptionKey
// enables AES-GCM-at-rest encryption of every stored payload.
func New(dataRoot string, db *sql.DB, compressionThreshold int64, encryptionKey string, log logging.Logger) (*Store, error) {
	root := filepath.Join(dataRoot, "store", "blobs")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.Wrap(errs.Transient, "blobstore.New", err)
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Store{root: root, db: db, compressionThreshold: compressionThreshold, encryptionKey: encryptionKey, log: log.WithComponent("blobstore"), retry: retry.DefaultConfig()}, nil
}

// Hash computes the 128-bit, hex-encoded content hash of b: the low 16
// bytes of a BLAKE3-256 digest (spec.md §4.2: "128-bit content hash
// (BLAKE3-derived)").
func Hash(b []byte) string {
	full := blake3.Sum256(b)
	return hex.EncodeToString(full[:16])
}

func shardPath(root, hash string) (dir, file string) {
	if len(hash) < 4 {
		hash = hash + "0000"[:4-len(hash)]
	}
	dir = filepath.Join(root, hash[0:2], hash[2:4])
	file = filepath.Join(dir, hash)
	return
}

// Put stores bytes content-addressed, returning its hash. Identical
// bytes always converge on one on-disk file; concurrent Put of the same
// bytes both succeed and each increments ref_count by one.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	hash := Hash(data)
	dir, path := shardPath(s.root, hash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errs.Wrap(errs.Transient, "blobstore.Put", err)
	}

	lockPath := filepath.Join(dir, ".lock")
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return "", errs.Wrap(errs.Transient, "blobstore.Put", fmt.Errorf("acquire shard lock: %w", err))
	}
	defer fl.Unlock() //nolint:errcheck

	compressed := int64(len(data)) >= s.compressionThreshold
	payload := data
	if compressed {
		var buf bytes.Buffer
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			return "", errs.Wrap(errs.Transient, "blobstore.Put", err)
		}
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return "", errs.Wrap(errs.Transient, "blobstore.Put", err)
		}
		if err := w.Close(); err != nil {
			return "", errs.Wrap(errs.Transient, "blobstore.Put", err)
		}
		payload = buf.Bytes()
	}

	encrypted := s.encryptionKey != ""
	if encrypted {
		enc, err := encryptPayload(s.encryptionKey, payload)
		if err != nil {
			return "", errs.Wrap(errs.Transient, "blobstore.Put", fmt.Errorf("encrypt: %w", err))
		}
		payload = enc
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return "", errs.Wrap(errs.Transient, "blobstore.Put", err)
		}
		if err := writeAtomically(dir, path, payload); err != nil {
			return "", errs.Wrap(errs.Transient, "blobstore.Put", err)
		}
	}

	if err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.upsertRefcount(ctx, hash, int64(len(data)), compressed, encrypted)
	}); err != nil {
		return "", err
	}

	s.log.DebugCtx(ctx, "blob stored", "hash", hash, "size", len(data), "compressed", compressed, "encrypted", encrypted)
	return hash, nil
}

func writeAtomically(dir, finalPath string, payload []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *Store) upsertRefcount(ctx context.Context, hash string, size int64, compressed, encrypted bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (hash, size, compressed, encrypted, ref_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(hash) DO UPDATE SET ref_count = ref_count + 1
	`, hash, size, compressed, encrypted)
	if err != nil {
		return errs.Wrap(errs.Transient, "blobstore.upsertRefcount", err)
	}
	return nil
}

// Get reads, decrypts (if encrypted), and decompresses (if compressed)
// the blob for hash, then re-verifies its content hash against the
// requested one before returning. A mismatch at any stage — bad
// ciphertext, a truncated zstd stream, or a hash that no longer matches
// the decoded bytes — quarantines the on-disk file (moves it aside) and
// returns Corruption rather than silently returning bad bytes
// (spec.md §7: corrupt blobs are quarantined, not fatal).
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	var compressed, encrypted bool
	row := s.db.QueryRowContext(ctx, `SELECT compressed, encrypted FROM blobs WHERE hash = ?`, hash)
	if err := row.Scan(&compressed, &encrypted); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFoundf("blobstore.Get", "blob %s not found", hash)
		}
		return nil, errs.Wrap(errs.Transient, "blobstore.Get", err)
	}

	dir, path := shardPath(s.root, hash)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NotFoundf("blobstore.Get", "blob file for %s missing on disk", hash)
		}
		return nil, errs.Wrap(errs.Transient, "blobstore.Get", err)
	}

	payload := raw
	if encrypted {
		if s.encryptionKey == "" {
			return nil, errs.ConfigInvalidf("blobstore.Get", "blob %s is encrypted but no storage.encryption_key is configured", hash)
		}
		pt, err := decryptPayload(s.encryptionKey, payload)
		if err != nil {
			s.quarantine(dir, path, hash)
			return nil, errs.Corruptionf("blobstore.Get", "blob %s: decrypt failed: %v", hash, err)
		}
		payload = pt
	}

	out := payload
	if compressed {
		r, err := zstd.NewReader(bytes.NewReader(payload))
		if err != nil {
			s.quarantine(dir, path, hash)
			return nil, errs.Corruptionf("blobstore.Get", "blob %s: bad zstd stream: %v", hash, err)
		}
		decoded, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			s.quarantine(dir, path, hash)
			return nil, errs.Corruptionf("blobstore.Get", "blob %s: decompress failed: %v", hash, err)
		}
		out = decoded
	}

	if Hash(out) != hash {
		s.quarantine(dir, path, hash)
		return nil, errs.Corruptionf("blobstore.Get", "blob %s: content hash mismatch on read", hash)
	}
	return out, nil
}

// quarantine moves a corrupt shard file aside so it never satisfies
// another Get, and logs the action. GC's refcount bookkeeping is left
// untouched; a quarantined blob simply becomes unreadable until an
// operator investigates.
func (s *Store) quarantine(dir, path, hash string) {
	fl := flock.New(filepath.Join(dir, ".lock"))
	if err := fl.Lock(); err == nil {
		defer fl.Unlock() //nolint:errcheck
	}
	dst := path + ".corrupt"
	if err := os.Rename(path, dst); err != nil {
		s.log.Warn("blob quarantine failed", "hash", hash, "error", err.Error())
		return
	}
	s.log.Warn("blob quarantined", "hash", hash, "path", dst)
}

// Release decrements ref_count for hash. Reaching zero makes the blob
// eligible for GC but does not delete it in-band (spec.md §4.2).
func (s *Store) Release(ctx context.Context, hash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE blobs SET ref_count = ref_count - 1 WHERE hash = ? AND ref_count > 0`, hash)
	if err != nil {
		return errs.Wrap(errs.Transient, "blobstore.Release", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.NotFoundf("blobstore.Release", "blob %s not found or already at zero", hash)
	}
	return nil
}

// GC deletes files whose blobs row has ref_count == 0. It takes the
// same per-shard lock Put uses, so a concurrent Put of the same hash
// either wins (row reincremented before GC's delete, file kept) or GC
// wins (file removed, the next Put rewrites it from scratch).
func (s *Store) GC(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT hash FROM blobs WHERE ref_count = 0`)
	if err != nil {
		return 0, errs.Wrap(errs.Transient, "blobstore.GC", err)
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return 0, errs.Wrap(errs.Transient, "blobstore.GC", err)
		}
		hashes = append(hashes, h)
	}
	rows.Close()

	deleted := 0
	for _, hash := range hashes {
		dir, path := shardPath(s.root, hash)
		fl := flock.New(filepath.Join(dir, ".lock"))
		if err := fl.Lock(); err != nil {
			continue
		}
		var refCount int
		row := s.db.QueryRowContext(ctx, `SELECT ref_count FROM blobs WHERE hash = ?`, hash)
		if err := row.Scan(&refCount); err != nil || refCount != 0 {
			fl.Unlock() //nolint:errcheck
			continue
		}
		if err := os.Remove(path); err == nil || os.IsNotExist(err) {
			_, _ = s.db.ExecContext(ctx, `DELETE FROM blobs WHERE hash = ? AND ref_count = 0`, hash)
			deleted++
		}
		fl.Unlock() //nolint:errcheck
	}
	if deleted > 0 {
		s.log.InfoCtx(ctx, "blob gc swept blobs", "deleted", deleted)
	}
	return deleted, nil
}
