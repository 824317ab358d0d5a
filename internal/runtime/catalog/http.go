package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/drblury/decodeflow/internal/runtime/jsoncodec"
)

// DefaultTimeout bounds each call of an HTTPClient built without WithTimeout.
const DefaultTimeout = 10 * time.Second

const apiPrefix = "/api/v1/catalog"

// maxErrorBody caps how much of a failed response is kept in a StatusError.
const maxErrorBody = 512

// ErrNotFound is matched by StatusError values carrying 404.
var ErrNotFound = errors.New("catalog: entry not found")

// StatusError reports a non-2xx catalog response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("catalog: %s %s: status %d", e.Method, e.URL, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// HTTPClient talks to the catalog's REST API:
//
//	GET {base}/api/v1/catalog/decoders/{id}
//	GET {base}/api/v1/catalog/decoders?sourceId=&version=
//	GET {base}/api/v1/catalog/datasources?sourceId=&version=
//	GET {base}/api/v1/catalog/decoders/{id}/artifact
//
// Metadata responses are JSON objects of the form {"entity": {...}}.
type HTTPClient struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithTimeout bounds each metadata call and the artifact download headers.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewHTTPClient returns a client for the catalog rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("catalog: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("catalog: base url %q must be absolute", baseURL)
	}

	c := &HTTPClient{base: base, http: &http.Client{}, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type entityResponse[T any] struct {
	Entity *T `json:"entity"`
}

func (c *HTTPClient) DecoderByID(ctx context.Context, id int64) (DecoderMetadata, error) {
	return getEntity[DecoderMetadata](ctx, c, "/decoders/"+strconv.FormatInt(id, 10), nil)
}

func (c *HTTPClient) DecoderBySource(ctx context.Context, sourceID string, version int64) (DecoderMetadata, error) {
	return getEntity[DecoderMetadata](ctx, c, "/decoders", sourceQuery(sourceID, version))
}

func (c *HTTPClient) DataSource(ctx context.Context, sourceID string, version int64) (DataSourceMetadata, error) {
	return getEntity[DataSourceMetadata](ctx, c, "/datasources", sourceQuery(sourceID, version))
}

// FetchArtifact streams the artifact body. The timeout covers the whole
// download and is released when the returned reader is closed.
func (c *HTTPClient) FetchArtifact(ctx context.Context, decoderID int64) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	resp, err := c.do(ctx, "/decoders/"+strconv.FormatInt(decoderID, 10)+"/artifact", nil)
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func getEntity[T any](ctx context.Context, c *HTTPClient, path string, query url.Values) (T, error) {
	var zero T

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, path, query)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()

	var body entityResponse[T]
	if err := jsoncodec.Decode(resp.Body, &body); err != nil {
		return zero, fmt.Errorf("catalog: decode %s: %w", path, err)
	}
	if body.Entity == nil {
		return zero, fmt.Errorf("catalog: %s: response has no entity", path)
	}
	return *body.Entity, nil
}

func (c *HTTPClient) do(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	target := c.base.JoinPath(apiPrefix, path)
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Method: req.Method,
			URL:    target.Redacted(),
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(snippet)),
		}
	}
	return resp, nil
}

func sourceQuery(sourceID string, version int64) url.Values {
	return url.Values{
		"sourceId": {sourceID},
		"version":  {strconv.FormatInt(version, 10)},
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
