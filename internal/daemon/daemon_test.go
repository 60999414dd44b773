package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neur0map/yinx/internal/config"
	"github.com/neur0map/yinx/internal/ipc"
	"github.com/neur0map/yinx/internal/types"
)

// writeOutput drops content into a fresh temp file and returns its
// path, standing in for the file a shell-capture hook would have
// already written before calling Submit.
func writeOutput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "output.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DataRoot = t.TempDir()
	cfg.Embedding.Dimension = 32
	cfg.Indexing.VectorDim = 32

	d, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	return d
}

func TestDaemon_SubmitAndSearchRoundTrip(t *testing.T) {
	d := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	defer cancel()

	captureID, err := d.Submit(context.Background(), "session-1", ipc.CaptureRequest{
		Command:    "nmap -sV 10.0.0.5",
		Cwd:        "/root",
		ExitCode:   0,
		OutputPath: writeOutput(t, "80/tcp open http nginx 1.18\n80/tcp open http nginx 1.18\n22/tcp open ssh openssh 8.2"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, captureID)

	results, err := d.Search(context.Background(), "nginx http", types.Filters{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestDaemon_SubmitResolvesAndReusesActiveSession(t *testing.T) {
	d := newTestDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	defer cancel()

	_, err := d.Submit(context.Background(), "recon", ipc.CaptureRequest{
		Command:    "echo one",
		OutputPath: writeOutput(t, "first capture line of reasonable length"),
	})
	require.NoError(t, err)

	sess, err := d.meta.FindActiveSessionByName(context.Background(), "recon")
	require.NoError(t, err)

	_, err = d.Submit(context.Background(), "recon", ipc.CaptureRequest{
		Command:    "echo two",
		OutputPath: writeOutput(t, "second capture line of reasonable length"),
	})
	require.NoError(t, err)

	again, err := d.meta.FindActiveSessionByName(context.Background(), "recon")
	require.NoError(t, err)
	require.Equal(t, sess.ID, again.ID, "a second capture under the same session name must reuse the existing session row")
}

func TestDaemon_SubmitRejectsOutputOverMaxBlobSize(t *testing.T) {
	d := newTestDaemon(t)
	d.cfg.Storage.MaxBlobSize = 4

	_, err := d.Submit(context.Background(), "session-1", ipc.CaptureRequest{
		Command:    "echo too big",
		OutputPath: writeOutput(t, "this output is well over four bytes"),
	})
	require.Error(t, err)
}

func TestDaemon_SubmitRejectsWhenQueueFull(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DataRoot = t.TempDir()
	cfg.Capture.BufferSize = 1
	cfg.Embedding.Dimension = 16
	cfg.Indexing.VectorDim = 16

	d, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	}()

	// No Run loop draining the intake channel, so the single slot fills
	// and the next Submit must observe backpressure immediately.
	go func() {
		_, _ = d.Submit(context.Background(), "s", ipc.CaptureRequest{OutputPath: writeOutput(t, "x")})
	}()
	time.Sleep(20 * time.Millisecond)

	_, err = d.Submit(context.Background(), "s", ipc.CaptureRequest{OutputPath: writeOutput(t, "y")})
	require.Error(t, err)
}

func TestDaemon_StatusReflectsProcessedCaptures(t *testing.T) {
	d := newTestDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	defer cancel()

	_, err := d.Submit(context.Background(), "session-1", ipc.CaptureRequest{OutputPath: writeOutput(t, "one line of output here")})
	require.NoError(t, err)

	status := d.Status()
	require.Equal(t, float64(1), status.CapturesAccepted)
}
