package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/penlok/log2"
)

func TestScanQR(t *testing.T) {
	t.Parallel()
	cases := []struct {
		command string
		code    int
	}{
		{"exit 0", 0},
		{"exit 3", 3},
		{"true", 0},
	}
	for _, c := range cases {
		c := c
		t.Run(c.command, func(t *testing.T) {
			t.Parallel()
			r := New(log2.NewTest(t, log2.LDebug), Config{QRCommand: c.command})
			code, err := r.ScanQR(context.Background())
			require.NoError(t, err)
			assert.Equal(t, c.code, code)
		})
	}
}

func TestScanQRNotConfigured(t *testing.T) {
	t.Parallel()
	_, err := New(log2.NewTest(t, log2.LDebug), Config{}).ScanQR(context.Background())
	assert.True(t, errors.IsNotValid(err))
}

func TestScanQRTimeout(t *testing.T) {
	t.Parallel()
	r := New(log2.NewTest(t, log2.LDebug), Config{QRCommand: "sleep 5", TimeoutSec: 1})
	_, err := r.ScanQR(context.Background())
	assert.True(t, errors.IsTimeout(err), "err=%v", err)
}

func TestCaptureBatch(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "sari")
	const script = `for i in $(seq 1 $PENLOK_COUNT); do f="$PENLOK_DIR/${PENLOK_USERNAME}_$i.jpg"; echo x > "$f"; echo "$f"; done; echo "$PENLOK_DIR/missing.jpg"`
	r := New(log2.NewTest(t, log2.LDebug), Config{BatchCommand: script})
	paths, err := r.CaptureBatch(context.Background(), dir, "sari", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "sari_1.jpg"),
		filepath.Join(dir, "sari_2.jpg"),
		filepath.Join(dir, "sari_3.jpg"),
	}, paths)
}

func TestCaptureCancel(t *testing.T) {
	t.Parallel()
	r := New(log2.NewTest(t, log2.LDebug), Config{BatchCommand: "exit 1", SingleCommand: "exit 1"})
	paths, err := r.CaptureBatch(context.Background(), t.TempDir(), "u", 2)
	require.NoError(t, err)
	assert.Empty(t, paths)
	path, err := r.CaptureOne(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "", path)
}

func TestCaptureOne(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "face.jpg"), []byte("x"), 0600))
	r := New(log2.NewTest(t, log2.LDebug), Config{SingleCommand: "echo face.jpg"})
	path, err := r.CaptureOne(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "face.jpg"), path)
}

func TestCaptureFailed(t *testing.T) {
	t.Parallel()
	r := New(log2.NewTest(t, log2.LDebug), Config{SingleCommand: "exit 7"})
	_, err := r.CaptureOne(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit=7")
}

func TestExec(t *testing.T) {
	t.Parallel()
	r := New(log2.NewTest(t, log2.LDebug), Config{})
	assert.NoError(t, r.Exec(context.Background(), "true"))
	assert.Error(t, r.Exec(context.Background(), "exit 2"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := r.Exec(ctx, "sleep 5")
	assert.True(t, errors.IsTimeout(err), "err=%v", err)
}
