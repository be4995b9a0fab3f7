package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOClient implements Backend using minio-go against any S3 compatible endpoint
type MinIOClient struct {
	client   *minio.Client
	bucket   string
	partSize uint64
}

// NewMinIOClient creates a new MinIO client
func NewMinIOClient(cfg Config) (*MinIOClient, error) {
	rawEndpoint := cfg.Endpoint
	if rawEndpoint == "" && cfg.AccountID != "" {
		rawEndpoint = r2Endpoint(cfg.AccountID)
	}

	// Clean and validate endpoint
	endpoint, secure, err := cleanEndpoint(rawEndpoint, cfg.Secure)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	var partSize uint64
	if cfg.PartSize > 0 {
		partSize = uint64(cfg.PartSize)
	}

	return &MinIOClient{client: client, bucket: cfg.Bucket, partSize: partSize}, nil
}

// cleanEndpoint removes protocol and path from endpoint URL to get host:port
// format. An explicit scheme wins over the secure flag.
func cleanEndpoint(endpoint string, secure bool) (string, bool, error) {
	if endpoint == "" {
		return "", false, fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", false, fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, secure, nil
	}

	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("failed to parse endpoint URL: %w", err)
	}

	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return "", false, fmt.Errorf("endpoint URL cannot have paths, only host:port is allowed (got path: %s)", parsedURL.Path)
	}

	return parsedURL.Host, parsedURL.Scheme == "https", nil
}

// Name implements Backend
func (c *MinIOClient) Name() string { return "minio" }

// Exists checks the key with StatObject
func (c *MinIOClient) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}

	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, minioError(err)
}

// Put uploads an object
func (c *MinIOClient) Put(ctx context.Context, key string, body Body, size int64, opts PutOptions) error {
	putOpts := minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
		PartSize:     c.partSize,
	}

	_, err := c.client.PutObject(ctx, c.bucket, key, body, size, putOpts)
	if err != nil {
		return minioError(err)
	}
	return nil
}

func minioError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode != 0 {
		return &StatusError{StatusCode: resp.StatusCode, Message: resp.Message, Err: err}
	}
	return err
}
