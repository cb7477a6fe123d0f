package watcher_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/devteam/internal/watcher"
)

func start(t *testing.T, path string) <-chan struct{} {
	t.Helper()
	w, err := watcher.New(watcher.Config{Path: path, Debounce: 50 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	changes, err := w.Watch(ctx)
	require.NoError(t, err)
	return changes
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.md")
	require.NoError(t, os.WriteFile(path, []byte("v0"), 0o600))
	changes := start(t, path)

	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(path, []byte("Build a todo app"), 0o600))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("expected a change notification")
	}

	select {
	case <-changes:
		t.Fatal("writes were not coalesced")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "request.md")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("v0"), 0o600))
	require.NoError(t, os.WriteFile(other, []byte("v0"), 0o600))
	changes := start(t, path)

	require.NoError(t, os.WriteFile(other, []byte("v1"), 0o600))

	select {
	case <-changes:
		t.Fatal("unexpected notification for another file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_SeesCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.md")
	changes := start(t, path)

	require.NoError(t, os.WriteFile(path, []byte("Build a blog"), 0o600))

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("expected a notification for the created file")
	}
}

func TestWatcher_ClosesOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.md")
	w, err := watcher.New(watcher.Config{Path: path})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	changes, err := w.Watch(ctx)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-changes:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := watcher.New(watcher.Config{})
	require.Error(t, err)
}

func TestWatch_MissingDirectory(t *testing.T) {
	w, err := watcher.New(watcher.Config{Path: filepath.Join(t.TempDir(), "missing", "request.md")})
	require.NoError(t, err)
	_, err = w.Watch(context.Background())
	require.ErrorContains(t, err, "watching directory")
}
