package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	e := newApplyEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("resources:\n  - id: a.one\n    module: a\n"), 0o644))

	w := NewWatcher(e.applier, path, 20*time.Millisecond)
	w.applied = make(chan error, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// let the watcher register before writing
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o644))

	select {
	case err := <-w.applied:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("catalog was not reloaded")
	}

	_, err := e.manager.Roles().GetRoleByName(context.Background(), "Event Director")
	assert.NoError(t, err)

	drain(w.applied, 300*time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o644))
	select {
	case <-w.applied:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	assert.NoError(t, <-done)
}

// drain discards reloads from a write that produced several events
func drain(ch <-chan error, quiet time.Duration) {
	for {
		select {
		case <-ch:
		case <-time.After(quiet):
			return
		}
	}
}

func TestWatcherKeepsRunningOnBadFile(t *testing.T) {
	e := newApplyEnv(t)
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o644))

	w := NewWatcher(e.applier, path, 20*time.Millisecond)
	w.applied = make(chan error, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("resources: [\n"), 0o644))

	deadline := time.After(5 * time.Second)
	for failed := false; !failed; {
		select {
		case err := <-w.applied:
			failed = err != nil
		case <-deadline:
			t.Fatal("bad catalog was not reported")
		}
	}
	assert.GreaterOrEqual(t, e.reloads.failures(), 1)
}

func TestWatcherMissingDirectory(t *testing.T) {
	e := newApplyEnv(t)
	w := NewWatcher(e.applier, "/nonexistent/dir/catalog.yaml", 0)
	assert.Equal(t, DefaultDebounce, w.debounce)

	err := w.Run(context.Background())
	require.Error(t, err)
}
