package storage

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWrangler writes a shell script standing in for wrangler. Keys
// containing "missing" fail `get`, keys containing "reject" fail `put`
// and keys containing "slow" sleep.
func fakeWrangler(t *testing.T) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}

	dir := t.TempDir()
	logFile := filepath.Join(dir, "calls.log")
	script := `#!/bin/sh
echo "$@" >> "` + logFile + `"
case "$4" in
  *slow*) exec sleep 5 ;;
esac
case "$3:$4" in
  get:*missing*) echo "The specified key does not exist." >&2; exit 1 ;;
  put:*reject*) echo "progress..." >&2; echo "ERROR 403 forbidden" >&2; exit 3 ;;
esac
exit 0
`
	path := filepath.Join(dir, "wrangler")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path, logFile
}

func TestCLIClientExists(t *testing.T) {
	bin, _ := fakeWrangler(t)
	c := NewCLIClient(Config{CLIPath: bin, Bucket: "assets"})
	ctx := context.Background()

	exists, err := c.Exists(ctx, "screenshots/present.webp")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.Exists(ctx, "screenshots/missing.webp")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCLIClientPut(t *testing.T) {
	bin, logFile := fakeWrangler(t)
	c := NewCLIClient(Config{CLIPath: bin, Bucket: "assets"})
	ctx := context.Background()

	err := c.Put(ctx, "screenshots/a.webp", body("x"), 1, PutOptions{ContentType: "image/webp"})
	require.NoError(t, err)

	calls, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(calls), "r2 object put assets/screenshots/a.webp --file=/tmp/test-body --remote --content-type=image/webp")

	err = c.Put(ctx, "screenshots/reject.webp", body("x"), 1, PutOptions{})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "ERROR 403 forbidden", exitErr.Stderr)
}

func TestCLIClientTimeout(t *testing.T) {
	bin, _ := fakeWrangler(t)
	c := NewCLIClient(Config{CLIPath: bin, Bucket: "assets"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := c.Put(ctx, "slow.webp", body("x"), 1, PutOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCLIClientMissingBinary(t *testing.T) {
	c := NewCLIClient(Config{CLIPath: filepath.Join(t.TempDir(), "no-such-wrangler"), Bucket: "b"})

	exists, err := c.Exists(context.Background(), "k")
	assert.False(t, exists)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to run"))
}
