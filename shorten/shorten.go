package shorten

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Shortener trades long URLs for short ones through a configurable HTTP
// endpoint. It is strictly best-effort: any failure, including having no
// endpoint configured, yields the original URL so chat output never blocks
// on the shortening service.
type Shortener struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

func New(endpoint, apiKey string) *Shortener {
	return &Shortener{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type shortenRequest struct {
	URL string `json:"url"`
}

type shortenResponse struct {
	ShortURL string `json:"short_url"`
}

// Shorten returns a short form of rawURL, or rawURL itself when the service
// is unconfigured or unreachable.
func (s *Shortener) Shorten(ctx context.Context, rawURL string) string {
	if s == nil || s.Endpoint == "" {
		return rawURL
	}
	body, err := json.Marshal(shortenRequest{URL: rawURL})
	if err != nil {
		return rawURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return rawURL
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}
	resp, err := s.httpClient().Do(req)
	if err != nil {
		slog.Debug("url shortener unreachable", slog.Any("error", err))
		return rawURL
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Debug("url shortener failed",
			slog.Int("status", resp.StatusCode),
			slog.Any("error", err))
		return rawURL
	}
	var out shortenResponse
	if err := json.Unmarshal(data, &out); err == nil && out.ShortURL != "" {
		return out.ShortURL
	}
	// Some services answer with the bare short URL.
	if short := strings.TrimSpace(string(data)); strings.HasPrefix(short, "http") && !strings.ContainsAny(short, " \n") {
		return short
	}
	return rawURL
}

func (s *Shortener) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}
