// Package oauth implements bearer-credential management for the external APIs
// the bot talks to: token acquisition via client-credentials or password grant,
// persistent storage, and an HTTP client that transparently performs exactly one
// refresh-and-retry cycle when a request fails with an expired token.
package oauth

import (
	"time"

	"golang.org/x/oauth2"
)

// Token is one OAuth2 bearer credential. A Token is owned by exactly one
// Client; tokens for different providers are never shared.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

// Valid reports whether the token is usable without a refresh. A one minute
// buffer avoids presenting a token that expires mid-request.
func (t Token) Valid() bool {
	if t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return time.Until(t.ExpiresAt) > time.Minute
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

func fromOAuth2(t *oauth2.Token) Token {
	return Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresAt:    t.Expiry,
	}
}
