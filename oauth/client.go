package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/strimbot/telemetry"
)

// defaultHTTPClient imposes an explicit request timeout; the upstream APIs
// give no latency guarantees.
var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

// AuthError means no usable credential could be obtained. It is fatal to the
// enclosing command and is not retried.
type AuthError struct {
	Provider string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: could not authenticate: %v", e.Provider, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response that persisted after the 401 retry.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.Status == http.StatusNotFound
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// TokenStore persists tokens across restarts. Implementations live in the db package.
type TokenStore interface {
	GetToken(ctx context.Context, provider string) (Token, error)
	PutToken(ctx context.Context, provider string, tok Token) error
}

// Client owns one bearer credential and performs authenticated requests
// against one provider. On a detected expired-token response it refreshes the
// credential exactly once and retries the original request exactly once; a
// second failure is surfaced. The credential is never shared across services.
type Client struct {
	Provider   string
	Grant      Grant
	HTTPClient *http.Client
	Store      TokenStore // optional persistence across restarts

	mu  sync.Mutex
	tok Token
}

// NewClient constructs a Client for provider using grant. store may be nil.
func NewClient(provider string, grant Grant, store TokenStore) *Client {
	return &Client{Provider: provider, Grant: grant, Store: store}
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return defaultHTTPClient
}

// Token returns the currently held credential (for status reporting).
func (c *Client) Token() Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tok
}

// token returns a valid credential, loading from the store or authenticating
// as needed. Fails closed: an unusable credential is an AuthError.
func (c *Client) token(ctx context.Context) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tok.Valid() {
		return c.tok, nil
	}
	// Cold start: prefer a persisted credential over a fresh exchange.
	if c.tok.AccessToken == "" && c.Store != nil {
		stored, err := c.Store.GetToken(ctx, c.Provider)
		if err != nil {
			slog.Warn("token load failed", slog.String("provider", c.Provider), slog.Any("err", err))
		} else if stored.AccessToken != "" {
			c.tok = stored
			if c.tok.Valid() {
				return c.tok, nil
			}
		}
	}
	return c.refreshLocked(ctx)
}

// refreshLocked renews the credential via the grant. Caller holds c.mu.
func (c *Client) refreshLocked(ctx context.Context) (Token, error) {
	var tok Token
	var err error
	if c.tok.RefreshToken != "" {
		tok, err = c.Grant.Refresh(ctx, c.tok.RefreshToken)
	} else {
		tok, err = c.Grant.Fetch(ctx)
	}
	if err != nil {
		if telemetry.TokenRefreshErrors != nil {
			telemetry.TokenRefreshErrors.WithLabelValues(c.Provider).Inc()
		}
		return Token{}, &AuthError{Provider: c.Provider, Err: err}
	}
	c.tok = tok
	if telemetry.TokenRefreshes != nil {
		telemetry.TokenRefreshes.WithLabelValues(c.Provider).Inc()
	}
	if c.Store != nil {
		if err := c.Store.PutToken(ctx, c.Provider, tok); err != nil {
			slog.Warn("token persist failed", slog.String("provider", c.Provider), slog.Any("err", err))
		}
	}
	return c.tok, nil
}

// forceRefresh renews the credential after a server-side expiry signal.
func (c *Client) forceRefresh(ctx context.Context) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

// Do performs an authenticated request. body may be nil; it is buffered so the
// single retry after a token refresh re-sends it unchanged. The response body
// is returned for 2xx; any other terminal status becomes an HTTPError.
func (c *Client) Do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	status, respBody, err := c.send(ctx, method, url, body, tok)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		// Expired token signal: one silent refresh, one retry, never a loop.
		tok, err = c.forceRefresh(ctx)
		if err != nil {
			return nil, err
		}
		status, respBody, err = c.send(ctx, method, url, body, tok)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status > 299 {
		return nil, &HTTPError{Status: status, Body: string(respBody)}
	}
	return respBody, nil
}

func (c *Client) send(ctx context.Context, method, url string, body []byte, tok Token) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var resp *http.Response
	telemetry.TimeFunc(telemetry.APIRequestDuration, func() {
		resp, err = c.http().Do(req)
	})
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, b, nil
}

// GetJSON performs an authenticated GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	b, err := c.Do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}

// PostJSON performs an authenticated POST with a JSON body.
func (c *Client) PostJSON(ctx context.Context, url string, in, out any) error {
	return c.sendJSON(ctx, http.MethodPost, url, in, out)
}

// PutJSON performs an authenticated PUT with a JSON body.
func (c *Client) PutJSON(ctx context.Context, url string, in, out any) error {
	return c.sendJSON(ctx, http.MethodPut, url, in, out)
}

func (c *Client) sendJSON(ctx context.Context, method, url string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}
	b, err := c.Do(ctx, method, url, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}
