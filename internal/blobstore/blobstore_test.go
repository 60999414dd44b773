package blobstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neur0map/yinx/internal/metadatastore"
)

func newTestStore(t *testing.T) (*Store, *metadatastore.Store) {
	t.Helper()
	dir := t.TempDir()
	meta, err := metadatastore.Open(context.Background(), dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	bs, err := New(dir, meta.DB(), 16, "", nil)
	require.NoError(t, err)
	return bs, meta
}

func newEncryptedTestStore(t *testing.T) (*Store, *metadatastore.Store) {
	t.Helper()
	dir := t.TempDir()
	meta, err := metadatastore.Open(context.Background(), dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	bs, err := New(dir, meta.DB(), 16, "correct horse battery staple", nil)
	require.NoError(t, err)
	return bs, meta
}

func TestPutGet_RoundTrip(t *testing.T) {
	bs, _ := newTestStore(t)
	ctx := context.Background()

	hash, err := bs.Put(ctx, []byte("hello world"))
	require.NoError(t, err)

	got, err := bs.Get(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), got)
}

func TestPut_CompressesAboveThreshold(t *testing.T) {
	bs, meta := newTestStore(t)
	ctx := context.Background()

	big := make([]byte, 64)
	for i := range big {
		big[i] = byte(i % 256)
	}
	hash, err := bs.Put(ctx, big)
	require.NoError(t, err)

	var compressed bool
	row := meta.DB().QueryRowContext(ctx, `SELECT compressed FROM blobs WHERE hash = ?`, hash)
	require.NoError(t, row.Scan(&compressed))
	require.True(t, compressed)

	got, err := bs.Get(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestPut_DoublePutIncrementsRefCount(t *testing.T) {
	bs, meta := newTestStore(t)
	ctx := context.Background()

	hash1, err := bs.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	hash2, err := bs.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	require.Equal(t, hash1, hash2)

	var refCount int
	row := meta.DB().QueryRowContext(ctx, `SELECT ref_count FROM blobs WHERE hash = ?`, hash1)
	require.NoError(t, row.Scan(&refCount))
	require.Equal(t, 2, refCount)
}

func TestRelease_NotFoundWhenAlreadyZero(t *testing.T) {
	bs, _ := newTestStore(t)
	ctx := context.Background()
	hash, err := bs.Put(ctx, []byte("released once"))
	require.NoError(t, err)
	require.NoError(t, bs.Release(ctx, hash))
	err = bs.Release(ctx, hash)
	require.Error(t, err)
}

func TestGC_DeletesOnlyZeroRefCountBlobs(t *testing.T) {
	bs, _ := newTestStore(t)
	ctx := context.Background()

	hash, err := bs.Put(ctx, []byte("garbage candidate"))
	require.NoError(t, err)
	require.NoError(t, bs.Release(ctx, hash))

	deleted, err := bs.GC(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	_, err = bs.Get(ctx, hash)
	require.Error(t, err)
}

func TestGet_NotFoundForUnknownHash(t *testing.T) {
	bs, _ := newTestStore(t)
	_, err := bs.Get(context.Background(), "deadbeefdeadbeef")
	require.Error(t, err)
}

func TestPutGet_EncryptedRoundTrip(t *testing.T) {
	bs, meta := newEncryptedTestStore(t)
	ctx := context.Background()

	hash, err := bs.Put(ctx, []byte("nmap output with a password: hunter2"))
	require.NoError(t, err)

	var encrypted bool
	row := meta.DB().QueryRowContext(ctx, `SELECT encrypted FROM blobs WHERE hash = ?`, hash)
	require.NoError(t, row.Scan(&encrypted))
	require.True(t, encrypted)

	got, err := bs.Get(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, []byte("nmap output with a password: hunter2"), got)
}

func TestGet_QuarantinesOnHashMismatch(t *testing.T) {
	bs, _ := newTestStore(t)
	ctx := context.Background()

	hash, err := bs.Put(ctx, []byte("hello world"))
	require.NoError(t, err)

	_, path := shardPath(bs.root, hash)
	require.NoError(t, os.WriteFile(path, []byte("tampered bytes"), 0o644))

	_, err = bs.Get(ctx, hash)
	require.Error(t, err)

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr), "corrupt file should have been moved aside")
	_, statErr = os.Stat(path + ".corrupt")
	require.NoError(t, statErr)
}
