package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"assetsync/internal/config"
	"assetsync/internal/storage"
)

// flakyBackend rejects keys listed in reject until they are removed
type flakyBackend struct {
	*storage.MemoryClient

	mu     sync.Mutex
	reject map[string]bool
}

func (f *flakyBackend) Put(ctx context.Context, key string, body storage.Body, size int64, opts storage.PutOptions) error {
	f.mu.Lock()
	rejected := f.reject[key]
	f.mu.Unlock()
	if rejected {
		return &storage.StatusError{StatusCode: 403, Message: "forbidden"}
	}
	return f.MemoryClient.Put(ctx, key, body, size, opts)
}

func (f *flakyBackend) allow(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.reject, key)
}

func writeTree(t *testing.T, n int) (string, int64) {
	t.Helper()
	root := t.TempDir()
	var total int64
	for i := 0; i < n; i++ {
		dir := filepath.Join(root, fmt.Sprintf("game-%02d", i%7))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		data := []byte(strings.Repeat("x", i+1))
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("thumb-%03d.png", i)), data, 0o644))
		total += int64(len(data))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("not an asset"), 0o644))
	return root, total
}

func testConfig(root string) *config.Config {
	cfg := config.Default()
	cfg.Store.Backend = storage.BackendMemory
	cfg.Store.Bucket = "assets"
	cfg.Sync.SourceDir = root
	cfg.Sync.Timeout = 5 * time.Second
	return cfg
}

func newSyncer(t *testing.T, cfg *config.Config, backend storage.Backend, logger *zap.Logger) *Syncer {
	t.Helper()
	s, err := NewWithBackend(cfg, backend, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunUploadsThenSkips(t *testing.T) {
	root, totalBytes := writeTree(t, 237)
	backend := storage.NewMemoryClient()

	cfg := testConfig(root)
	cfg.Sync.Concurrency = 10
	cfg.Sync.ProgressEvery = 10

	core, logs := observer.New(zap.InfoLevel)
	s := newSyncer(t, cfg, backend, zap.New(core))

	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 237, summary.Total)
	assert.Equal(t, 237, summary.Counts.Uploaded)
	assert.Zero(t, summary.Counts.Skipped)
	assert.Zero(t, summary.Counts.Failed)
	assert.Equal(t, totalBytes, summary.Bytes)
	assert.Empty(t, summary.Failures)
	assert.Len(t, backend.Keys(), 237)
	assert.Len(t, logs.FilterMessageSnippet("Progress:").All(), 24)

	_, ct, ok := backend.Get("screenshots/thumbnails/game-03/thumb-003.png")
	require.True(t, ok)
	assert.Equal(t, "image/png", ct)

	second := newSyncer(t, cfg, backend, zap.NewNop())
	summary, err = second.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 237, summary.Counts.Skipped)
	assert.Zero(t, summary.Counts.Uploaded)
	assert.Zero(t, summary.Counts.Failed)
	assert.Zero(t, summary.Bytes)
}

func TestRunFailuresAreIsolatedAndRetriedFromCheckpoint(t *testing.T) {
	root, _ := writeTree(t, 12)
	backend := &flakyBackend{
		MemoryClient: storage.NewMemoryClient(),
		reject: map[string]bool{
			"screenshots/thumbnails/game-01/thumb-001.png": true,
			"screenshots/thumbnails/game-02/thumb-009.png": true,
		},
	}

	cfg := testConfig(root)
	cfg.Sync.Concurrency = 3
	cfg.Sync.Checkpoint = filepath.Join(t.TempDir(), "ledger.db")

	s := newSyncer(t, cfg, backend, nil)
	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Equal(t, 10, summary.Counts.Uploaded)
	assert.Equal(t, 2, summary.Counts.Failed)
	require.Len(t, summary.Failures, 2)
	for _, f := range summary.Failures {
		assert.Contains(t, f.ErrorMessage, "forbidden")
	}

	backend.allow("screenshots/thumbnails/game-01/thumb-001.png")

	retry := testConfig(root)
	retry.Sync.Checkpoint = cfg.Sync.Checkpoint
	retry.Sync.OnlyFailed = true

	s2 := newSyncer(t, retry, backend, nil)
	summary, err = s2.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, s2.Close())

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Counts.Uploaded)
	assert.Equal(t, 1, summary.Counts.Failed)

	s3 := newSyncer(t, retry, backend, nil)
	summary, err = s3.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
}

func TestRunPreconditions(t *testing.T) {
	empty := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(empty, "notes.txt"), []byte("x"), 0o644))
	file := filepath.Join(empty, "notes.txt")

	tests := []struct {
		name    string
		dir     string
		backend storage.Backend
		wantErr string
	}{
		{name: "missing source", dir: filepath.Join(empty, "missing"), backend: storage.NewMemoryClient(), wantErr: "source dir"},
		{name: "source is a file", dir: file, backend: storage.NewMemoryClient(), wantErr: "not a directory"},
		{name: "no candidates", dir: empty, backend: storage.NewMemoryClient(), wantErr: "no candidate files"},
		{name: "no backend", dir: func() string { r, _ := writeTree(t, 1); return r }(), wantErr: "no store backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSyncer(t, testConfig(tt.dir), tt.backend, nil)
			_, err := s.Run(context.Background())
			require.ErrorIs(t, err, ErrPrecondition)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	root, _ := writeTree(t, 5)
	backend := storage.NewMemoryClient()

	cfg := testConfig(root)
	cfg.Sync.DryRun = true

	core, logs := observer.New(zap.InfoLevel)
	s := newSyncer(t, cfg, backend, zap.New(core))
	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Total)
	assert.Zero(t, summary.Counts.Completed())
	assert.Empty(t, backend.Keys())
	assert.Len(t, logs.FilterMessage("Would upload file").All(), 5)
}

// cancellingBackend cancels the run on its first upload
type cancellingBackend struct {
	*storage.MemoryClient
	cancel context.CancelFunc
}

func (c *cancellingBackend) Put(ctx context.Context, key string, body storage.Body, size int64, opts storage.PutOptions) error {
	c.cancel()
	return c.MemoryClient.Put(ctx, key, body, size, opts)
}

func TestRunCancelledStillAccountsForEveryFile(t *testing.T) {
	root, _ := writeTree(t, 30)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(root)
	cfg.Sync.Concurrency = 1

	s := newSyncer(t, cfg, &cancellingBackend{MemoryClient: storage.NewMemoryClient(), cancel: cancel}, nil)
	summary, err := s.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, 30, summary.Counts.Completed())
	assert.Equal(t, 30, summary.Counts.Failed)
}
