package internal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, dir string) <-chan []string {
	t.Helper()
	reg := newLocalRegistry(t, dir, map[string]string{
		"timeseries": timeseriesSchemaJSON,
		"datacite":   dataciteSchemaJSON,
	})
	changes := make(chan []string, 10)
	w := NewSchemaWatcher(reg, 50*time.Millisecond, func(_ context.Context, names []string) error {
		changes <- names
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	select {
	case <-w.Ready():
	case err := <-done:
		t.Fatalf("watcher stopped early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not start")
	}
	return changes
}

func waitForChange(t *testing.T, changes <-chan []string) []string {
	t.Helper()
	select {
	case names := <-changes:
		return names
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
		return nil
	}
}

func TestSchemaWatcher_RegisteredFile(t *testing.T) {
	dir := t.TempDir()
	changes := startWatcher(t, dir)

	path := filepath.Join(dir, "datacite-schema.json")
	require.NoError(t, os.WriteFile(path, []byte(dataciteSchemaJSON+"\n"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte(dataciteSchemaJSON), 0o644))

	assert.Equal(t, []string{"datacite"}, waitForChange(t, changes))
}

func TestSchemaWatcher_SharedFileAffectsAll(t *testing.T) {
	dir := t.TempDir()
	changes := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "contact.json"), []byte(`{"type":"object"}`), 0o644))

	assert.Equal(t, []string{"datacite", "timeseries"}, waitForChange(t, changes))
}

func TestSchemaWatcher_ReadyClosedWhenRunFails(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "schemas")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	reg := newLocalRegistry(t, dir, map[string]string{"datacite": dataciteSchemaJSON})
	require.NoError(t, os.RemoveAll(dir))

	w := NewSchemaWatcher(reg, 0, func(context.Context, []string) error { return nil })
	for i := 0; i < 2; i++ {
		err := w.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to watch directory")
		select {
		case <-w.Ready():
		case <-time.After(time.Second):
			t.Fatal("ready not closed after failed run")
		}
	}
}

func TestIsSchemaFileName(t *testing.T) {
	tests := map[string]bool{
		"a/timeseries-schema.json": true,
		"b/common.YAML":            true,
		"c/defs.yml":               true,
		"d/.datacite.json.123.tmp": false,
		"e/.hidden.json":           false,
		"f/readme.md":              false,
		"g/" + modelIndexFile:      false,
	}
	for path, want := range tests {
		assert.Equal(t, want, isSchemaFileName(path), path)
	}
}
