package mirror

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	s3pkg "mvnmirror/pkg/s3"
	"mvnmirror/pkg/telemetry"
)

const (
	probeTimeout = 30 * time.Second
	maxErrorBody = 8 * 1024
)

// Remote is the destination repository: an existence probe plus an
// overwriting upload.
type Remote interface {
	// Exists reports whether the object at url is already present. A probe
	// error means "unknown"; the caller decides whether to transfer anyway.
	Exists(ctx context.Context, url string) (bool, error)
	// Upload stores body at url, replacing any existing object.
	Upload(ctx context.Context, url string, body []byte) error
}

// StatusError is a non-2xx repository response, carried with enough of the
// body to diagnose the rejection.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// NewRemote selects the repository adapter for the configured base URL:
// s3:// buckets talk to an object store, anything else is a Maven HTTP
// endpoint with Basic auth.
func NewRemote(cfg Config) (Remote, error) {
	if strings.HasPrefix(cfg.URL, "s3://") {
		client, err := s3pkg.NewClientFromEnv()
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		return &s3Remote{client: client}, nil
	}
	return newHTTPRemote(cfg.Username, cfg.Password), nil
}

type httpRemote struct {
	client   *http.Client
	username string
	password string
}

func newHTTPRemote(username, password string) *httpRemote {
	return &httpRemote{
		client:   &http.Client{Transport: telemetry.Transport(nil)},
		username: username,
		password: password,
	}
}

func (r *httpRemote) Exists(ctx context.Context, url string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	req.SetBasicAuth(r.username, r.password)

	resp, err := r.client.Do(req)
	if err != nil {
		return false, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func (r *httpRemote) Upload(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.SetBasicAuth(r.username, r.password)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Method:     http.MethodPut,
		URL:        url,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(data)),
	}
}

type s3Remote struct {
	client *s3pkg.Client
}

func (r *s3Remote) Exists(ctx context.Context, url string) (bool, error) {
	bucket, key, err := splitS3URL(url)
	if err != nil {
		return false, err
	}
	return r.client.Head(ctx, bucket, key)
}

func (r *s3Remote) Upload(ctx context.Context, url string, body []byte) error {
	bucket, key, err := splitS3URL(url)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(body)
	return r.client.PutObject(ctx, bucket, key, bytes.NewReader(body), int64(len(body)), hex.EncodeToString(sum[:]))
}

func splitS3URL(url string) (bucket, key string, err error) {
	if !strings.HasPrefix(url, "s3://") {
		return "", "", fmt.Errorf("unsupported target url %q", url)
	}
	trimmed := strings.TrimPrefix(url, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid s3 url %q", url)
	}
	return parts[0], parts[1], nil
}
