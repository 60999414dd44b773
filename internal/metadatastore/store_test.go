package metadatastore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neur0map/yinx/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_AppliesMigrationsIdempotently(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s1, err := Open(ctx, dir, nil)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, dir, nil)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestCommitCapture_TransactionalAcrossTables(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sess := &types.Session{ID: "s1", Name: "demo", StartedAt: time.Now(), Status: types.SessionActive}
	require.NoError(t, s.CreateSession(ctx, sess))

	_, err := s.DB().ExecContext(ctx, `INSERT INTO blobs (hash, size, compressed, ref_count) VALUES (?, 0, 0, 1)`, "deadbeef")
	require.NoError(t, err)

	cap := &types.Capture{ID: "c1", SessionID: "s1", Timestamp: time.Now(), Command: "echo hi", Cwd: "/", ExitCode: 0, OutputHash: "deadbeef"}
	chunk := &types.Chunk{ID: "ch1", CaptureID: "c1", BlobHash: "deadbeef", RepresentativeText: "hi", ClusterSize: 1}
	entity := &types.Entity{ID: "e1", CaptureID: "c1", ChunkID: "ch1", TypeName: "word", Value: "hi", Confidence: 1}
	emb := &types.Embedding{ChunkID: "ch1", Model: "m", Vector: []float32{0.1, 0.2}}

	require.NoError(t, s.CommitCapture(ctx, cap, []*types.Chunk{chunk}, []*types.Entity{entity}, []*types.Embedding{emb}))

	got, err := s.GetCapture(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "echo hi", got.Command)

	gotChunk, err := s.GetChunk(ctx, "ch1")
	require.NoError(t, err)
	require.Equal(t, "hi", gotChunk.RepresentativeText)

	ents, err := s.EntitiesForChunk(ctx, "ch1")
	require.NoError(t, err)
	require.Len(t, ents, 1)
}

func TestEncodeDecodeVectorRoundTrip(t *testing.T) {
	v := []float32{0.5, -1.25, 3.0, 0}
	got := DecodeVector(encodeVector(v))
	require.Equal(t, v, got)
}
