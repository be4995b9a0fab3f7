package storage

import (
	"context"
	"fmt"
)

// Backend names accepted in configuration.
const (
	BackendS3     = "s3"
	BackendMinIO  = "minio"
	BackendREST   = "rest"
	BackendCLI    = "cli"
	BackendMemory = "memory"
)

// New builds the backend selected by cfg.Backend
func New(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case BackendS3, "":
		return NewS3Client(ctx, cfg)
	case BackendMinIO:
		return NewMinIOClient(cfg)
	case BackendREST:
		return NewRESTClient(cfg, nil), nil
	case BackendCLI:
		return NewCLIClient(cfg), nil
	case BackendMemory:
		return NewMemoryClient(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
