package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// s3API is the subset of *s3.Client used by S3Client.
type s3API interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Client implements Backend with aws-sdk-go-v2
type S3Client struct {
	api      s3API
	uploader *manager.Uploader
	bucket   string
}

func r2Endpoint(accountID string) string {
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
}

// NewS3Client creates an S3 backend. When no endpoint is set but an account
// id is, the Cloudflare R2 endpoint for that account is used.
func NewS3Client(ctx context.Context, cfg Config) (*S3Client, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" && cfg.AccountID != "" {
		endpoint = r2Endpoint(cfg.AccountID)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3Client(client, cfg.Bucket, cfg.PartSize), nil
}

func newS3Client(api s3API, bucket string, partSize int64) *S3Client {
	uploader := manager.NewUploader(api, func(u *manager.Uploader) {
		if partSize >= manager.MinUploadPartSize {
			u.PartSize = partSize
		}
	})
	return &S3Client{api: api, uploader: uploader, bucket: bucket}
}

// Name implements Backend
func (c *S3Client) Name() string { return "s3" }

// Exists issues a HeadObject request
func (c *S3Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return false, nil
	}
	if status := s3StatusCode(err); status == http.StatusNotFound {
		return false, nil
	}

	return false, s3Error(err)
}

// Put uploads through the s3 manager, which switches to multipart for large bodies
func (c *S3Client) Put(ctx context.Context, key string, body Body, size int64, opts PutOptions) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(opts.ContentType),
	}
	if size >= 0 && size < manager.DefaultUploadPartSize {
		input.ContentLength = aws.Int64(size)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}

	if _, err := c.uploader.Upload(ctx, input); err != nil {
		return s3Error(err)
	}
	return nil
}

func s3StatusCode(err error) int {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}

func s3Error(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	status := s3StatusCode(err)
	if status == 0 {
		return err
	}

	msg := ""
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.ErrorCode()
		if m := apiErr.ErrorMessage(); m != "" {
			msg += ": " + m
		}
	}
	return &StatusError{StatusCode: status, Message: msg, Err: err}
}
