package prediction

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnArtifactChange(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.json")
	require.NoError(t, os.WriteFile(model, []byte("{}"), 0o600))

	var reloads atomic.Int32
	w, err := NewWatcher(func() error {
		reloads.Add(1)
		return nil
	}, []string{model}, 50*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// unrelated files in the same directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, int32(0), reloads.Load())

	require.NoError(t, os.WriteFile(model, []byte(`{"v": 2}`), 0o600))
	require.Eventually(t, func() bool { return reloads.Load() == 1 }, 5*time.Second, 20*time.Millisecond)
}

func TestNewWatcherNeedsPaths(t *testing.T) {
	_, err := NewWatcher(func() error { return nil }, nil, 0, nil)
	require.Error(t, err)
}
