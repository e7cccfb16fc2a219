package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/model"
)

// APIPrefix is the REST path suffix of the backend base URL.
const APIPrefix = "/api/v1"

// TenantHeader carries the tenant id on tenant-scoped calls.
const TenantHeader = "X-Tenant-ID"

const refreshPath = "/auth/refresh"

// defaultRefreshTimeout bounds a shared refresh when the HTTP client has
// no timeout of its own.
const defaultRefreshTimeout = 30 * time.Second

// Credentials is the credential source the client reads at the moment of
// each request.
type Credentials interface {
	AccessToken() string
	RefreshToken() string
	TenantID() string
	ApplyRefresh(pair model.TokenPair) error
}

// RequestOptions describes one call. Query entries with empty values are
// dropped; Body is JSON-encoded when non-nil.
type RequestOptions struct {
	Method     string
	Headers    map[string]string
	Body       interface{}
	Query      map[string]string
	WithAuth   bool
	WithTenant bool
}

// Response is a successful (2xx) response.
type Response struct {
	StatusCode int
	Body       []byte
}

// NoContent reports a 204, the empty success marker.
func (r *Response) NoContent() bool {
	return r.StatusCode == http.StatusNoContent
}

// Decode unmarshals the JSON body into v. It is a no-op for 204.
func (r *Response) Decode(v interface{}) error {
	if r.NoContent() || v == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("unmarshaling response: %w", err)
	}
	return nil
}

// Client executes authenticated requests against the backend. On a 401
// for a request sent with WithAuth it performs one refresh and retries
// the original request once.
type Client struct {
	baseURL      string
	creds        Credentials
	httpClient   *http.Client
	logger       *zap.Logger
	shareRefresh bool
	refreshGroup singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithSharedRefresh controls whether concurrent 401s share one refresh
// call. It is on by default.
func WithSharedRefresh(shared bool) Option {
	return func(c *Client) { c.shareRefresh = shared }
}

// NewClient creates a client for the backend at baseURL. The /api/v1
// suffix is appended when missing.
func NewClient(
	baseURL string,
	creds Credentials,
	logger *zap.Logger,
	opts ...Option,
) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL: NormalizeBaseURL(baseURL),
		creds:   creds,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       logger,
		shareRefresh: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeBaseURL trims trailing slashes and makes sure the URL ends
// with the REST prefix.
func NormalizeBaseURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(base, APIPrefix) {
		base += APIPrefix
	}
	return base
}

// BaseURL returns the normalized REST root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request performs the call and decodes a non-204 body into result.
func (c *Client) Request(
	ctx context.Context,
	path string,
	opts RequestOptions,
	result interface{},
) error {
	resp, err := c.Do(ctx, path, opts)
	if err != nil {
		return err
	}
	return resp.Decode(result)
}

// Do performs the call. Non-2xx responses are returned as *HTTPError.
func (c *Client) Do(
	ctx context.Context,
	path string,
	opts RequestOptions,
) (*Response, error) {
	resp, sentToken, err := c.send(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	if resp.success() {
		return resp.Response, nil
	}

	original := resp.httpError()
	if !opts.WithAuth || resp.StatusCode != http.StatusUnauthorized {
		return nil, original
	}

	if err := c.refresh(ctx, sentToken); err != nil {
		c.logger.Warn("refreshing credentials",
			zap.String("path", path), zap.Error(err))
		return nil, original
	}

	retry, _, err := c.send(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	if retry.success() {
		return retry.Response, nil
	}
	return nil, retry.httpError()
}

// rawResponse carries a response of any status.
type rawResponse struct {
	*Response
	method string
	path   string
}

func (r *rawResponse) success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *rawResponse) httpError() *HTTPError {
	e := &HTTPError{
		StatusCode: r.StatusCode,
		Method:     r.method,
		Path:       r.path,
	}
	if json.Valid(r.Body) && len(bytes.TrimSpace(r.Body)) > 0 {
		e.Body = json.RawMessage(r.Body)
	} else {
		e.Text = string(r.Body)
	}
	return e
}

// send builds and executes one request, reading credentials at call time.
// It returns the access token that was attached.
func (c *Client) send(
	ctx context.Context,
	path string,
	opts RequestOptions,
) (*rawResponse, string, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.buildURL(path, opts.Query)
	if err != nil {
		return nil, "", err
	}

	var bodyReader io.Reader
	if opts.Body != nil {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, "", fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	var token string
	if opts.WithAuth {
		token = c.creds.AccessToken()
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if opts.WithTenant {
		if tenant := c.creds.TenantID(); tenant != "" {
			req.Header.Set(TenantHeader, tenant)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("executing request %s %s: %w", method, path, err)
	}
	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return nil, "", fmt.Errorf("reading response body: %w", readErr)
	}

	return &rawResponse{
		Response: &Response{StatusCode: resp.StatusCode, Body: respBody},
		method:   method,
		path:     path,
	}, token, nil
}

func (c *Client) buildURL(path string, query map[string]string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("building url for %s: %w", path, err)
	}
	if len(query) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for k, v := range query {
		if v == "" {
			continue
		}
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// refresh obtains a new access token. With shared refresh, callers that
// overlap wait on the same call, and a caller whose token has already
// been replaced skips the call and retries with the new one.
func (c *Client) refresh(ctx context.Context, sentToken string) error {
	if !c.shareRefresh {
		return c.doRefresh(ctx)
	}

	if current := c.creds.AccessToken(); current != "" && current != sentToken {
		return nil
	}

	_, err, _ := c.refreshGroup.Do(c.creds.RefreshToken(), func() (interface{}, error) {
		// Other callers share this call, so it must outlive the first
		// caller's cancellation.
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout())
		defer cancel()
		return nil, c.doRefresh(shared)
	})
	return err
}

func (c *Client) refreshTimeout() time.Duration {
	if c.httpClient.Timeout > 0 {
		return c.httpClient.Timeout
	}
	return defaultRefreshTimeout
}

func (c *Client) doRefresh(ctx context.Context) error {
	refreshToken := c.creds.RefreshToken()
	if refreshToken == "" {
		return ErrNoRefreshToken
	}

	resp, _, err := c.send(ctx, refreshPath, RequestOptions{
		Method:     http.MethodPost,
		Headers:    map[string]string{"Authorization": "Bearer " + refreshToken},
		WithTenant: true,
	})
	if err != nil {
		return err
	}
	if !resp.success() {
		return resp.httpError()
	}

	var pair model.TokenPair
	if err := resp.Decode(&pair); err != nil {
		return err
	}
	if pair.AccessToken == "" {
		return errors.New("refresh response carried no access token")
	}

	if err := c.creds.ApplyRefresh(pair); err != nil {
		return fmt.Errorf("storing refreshed credentials: %w", err)
	}
	c.logger.Debug("credentials refreshed")
	return nil
}
