package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Grant acquires or renews a Token against a provider's token endpoint.
type Grant interface {
	// Fetch performs a full authentication exchange.
	Fetch(ctx context.Context) (Token, error)
	// Refresh renews using refreshToken. Implementations without a refresh
	// path (app-only grants) repeat the full exchange instead.
	Refresh(ctx context.Context, refreshToken string) (Token, error)
}

// ClientCredentialsGrant authenticates app-only, with no user context.
// The provider issues no refresh token; Refresh repeats the exchange.
type ClientCredentialsGrant struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

func (g *ClientCredentialsGrant) Fetch(ctx context.Context) (Token, error) {
	if g.ClientID == "" || g.ClientSecret == "" {
		return Token{}, errors.New("missing client id/secret for client credentials grant")
	}
	cfg := &clientcredentials.Config{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		TokenURL:     g.TokenURL,
	}
	tok, err := cfg.Token(withHTTPClient(ctx, g.HTTPClient))
	if err != nil {
		return Token{}, fmt.Errorf("client credentials exchange failed: %w", err)
	}
	return fromOAuth2(tok), nil
}

func (g *ClientCredentialsGrant) Refresh(ctx context.Context, _ string) (Token, error) {
	return g.Fetch(ctx)
}

// PasswordGrant authenticates with stored resource-owner credentials and
// renews headlessly through the refresh-token grant afterwards.
type PasswordGrant struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	HTTPClient   *http.Client
}

func (g *PasswordGrant) Fetch(ctx context.Context) (Token, error) {
	if g.ClientID == "" || g.ClientSecret == "" || g.Username == "" || g.Password == "" {
		return Token{}, errors.New("missing credentials for password grant")
	}
	cfg := &oauth2.Config{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: g.TokenURL},
	}
	tok, err := cfg.PasswordCredentialsToken(withHTTPClient(ctx, g.HTTPClient), g.Username, g.Password)
	if err != nil {
		return Token{}, fmt.Errorf("password grant exchange failed: %w", err)
	}
	return fromOAuth2(tok), nil
}

func (g *PasswordGrant) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	if refreshToken == "" {
		return g.Fetch(ctx)
	}
	return RefreshToken(ctx, g.HTTPClient, g.TokenURL, g.ClientID, g.ClientSecret, refreshToken)
}

// RefreshToken exchanges a refresh token for a new access token.
func RefreshToken(ctx context.Context, hc *http.Client, tokenURL, clientID, clientSecret, refreshToken string) (Token, error) {
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return Token{}, errors.New("missing clientID/clientSecret/refreshToken")
	}
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if hc == nil {
		hc = defaultHTTPClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return Token{}, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return Token{}, fmt.Errorf("token refresh failed: %s: %s", resp.Status, string(b))
	}
	var res struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Token{}, err
	}
	if res.AccessToken == "" {
		return Token{}, errors.New("empty access_token in refresh response")
	}
	tok := Token{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    res.TokenType,
		ExpiresAt:    ComputeExpiry(res.ExpiresIn),
	}
	if tok.RefreshToken == "" {
		// Providers may omit the refresh token on renewal; keep the old one.
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

// withHTTPClient threads a custom HTTP client through the oauth2 package.
func withHTTPClient(ctx context.Context, hc *http.Client) context.Context {
	if hc == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, hc)
}
