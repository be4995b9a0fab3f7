package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultRESTBaseURL is the Cloudflare v4 API root.
const DefaultRESTBaseURL = "https://api.cloudflare.com/client/v4"

// RESTClient implements Backend with the Cloudflare R2 object REST API,
// authenticated with a bearer token.
type RESTClient struct {
	http      *http.Client
	baseURL   string
	accountID string
	bucket    string
	token     string
}

type apiEnvelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (e apiEnvelope) message() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%d %s", item.Code, item.Message))
	}
	return strings.Join(msgs, "; ")
}

// NewRESTClient creates a REST backend. Per-request deadlines come from the
// caller's context, so the http client carries no timeout of its own.
func NewRESTClient(cfg Config, httpClient *http.Client) *RESTClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultRESTBaseURL
	}
	return &RESTClient{
		http:      httpClient,
		baseURL:   strings.TrimRight(base, "/"),
		accountID: cfg.AccountID,
		bucket:    cfg.Bucket,
		token:     cfg.APIToken,
	}
}

// Name implements Backend
func (c *RESTClient) Name() string { return "rest" }

func (c *RESTClient) objectURL(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/accounts/%s/r2/buckets/%s/objects/%s",
		c.baseURL, url.PathEscape(c.accountID), url.PathEscape(c.bucket), strings.Join(segments, "/"))
}

// Exists fetches the object and reports 200 as present and 404 as missing
func (c *RESTClient) Exists(ctx context.Context, key string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(key), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Range", "bytes=0-0")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &StatusError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
}

// Put uploads the body with a PUT request
func (c *RESTClient) Put(ctx context.Context, key string, body Body, size int64, opts PutOptions) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(key), body)
	if err != nil {
		return err
	}
	req.ContentLength = size
	req.Header.Set("Authorization", "Bearer "+c.token)
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope apiEnvelope
	hasEnvelope := len(raw) > 0 && json.Unmarshal(raw, &envelope) == nil

	switch {
	case resp.StatusCode == http.StatusConflict:
		return ErrAlreadyExists
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		if len(raw) == 0 {
			return nil
		}
		if !hasEnvelope {
			return fmt.Errorf("malformed response body: %.120q", raw)
		}
		if !envelope.Success {
			return &StatusError{StatusCode: resp.StatusCode, Message: envelope.message()}
		}
		return nil
	default:
		msg := http.StatusText(resp.StatusCode)
		if hasEnvelope && len(envelope.Errors) > 0 {
			msg = envelope.message()
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
}
