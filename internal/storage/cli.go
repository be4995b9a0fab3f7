package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultCLIPath is the wrangler binary looked up on PATH.
const DefaultCLIPath = "wrangler"

// CLIClient implements Backend by running `wrangler r2 object` subprocesses.
// Results come from exit codes only: a zero exit from `get` means the key
// exists and any non-zero exit means it does not.
type CLIClient struct {
	binary string
	bucket string
}

// NewCLIClient creates a wrangler-backed client
func NewCLIClient(cfg Config) *CLIClient {
	binary := cfg.CLIPath
	if binary == "" {
		binary = DefaultCLIPath
	}
	return &CLIClient{binary: binary, bucket: cfg.Bucket}
}

// Name implements Backend
func (c *CLIClient) Name() string { return "cli" }

func (c *CLIClient) objectPath(key string) string {
	return c.bucket + "/" + key
}

// Exists runs `wrangler r2 object get` into the null device
func (c *CLIClient) Exists(ctx context.Context, key string) (bool, error) {
	err := c.run(ctx, "r2", "object", "get", c.objectPath(key), "--file="+os.DevNull, "--remote")
	if err == nil {
		return true, nil
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return false, nil
	}
	return false, err
}

// Put runs `wrangler r2 object put` with the body's local path
func (c *CLIClient) Put(ctx context.Context, key string, body Body, size int64, opts PutOptions) error {
	args := []string{"r2", "object", "put", c.objectPath(key), "--file=" + body.Name(), "--remote"}
	if opts.ContentType != "" {
		args = append(args, "--content-type="+opts.ContentType)
	}
	return c.run(ctx, args...)
}

func (c *CLIClient) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, c.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %s: %w", c.binary, args[2], ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode(), Stderr: lastLine(stderr.String()), Err: err}
	}
	return fmt.Errorf("failed to run %s: %w", c.binary, err)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return s
}
