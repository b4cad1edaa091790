package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestRefresherRenewsWithinWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	grant := &fakeGrant{tokens: []Token{tok("renewed")}}
	c := NewClient("test", grant, nil)
	c.tok = Token{
		AccessToken:  "old",
		RefreshToken: "rt-old",
		ExpiresAt:    clock.Now().Add(5 * time.Minute),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runRefresher(ctx, c, time.Minute, 15*time.Minute, clock)

	// Past the randomized initial delay (at most half the interval).
	clock.BlockUntil(1)
	clock.Advance(30 * time.Second)
	// One interval plus jitter headroom reaches the expiry check.
	clock.BlockUntil(1)
	clock.Advance(90 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for grant.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for background refresh")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := c.Token().AccessToken; got != "renewed" {
		t.Errorf("AccessToken = %q, want renewed", got)
	}
}

func TestRefresherSkipsFreshToken(t *testing.T) {
	clock := clockwork.NewFakeClock()
	grant := &fakeGrant{tokens: []Token{tok("unused")}}
	c := NewClient("test", grant, nil)
	c.tok = Token{
		AccessToken: "fresh",
		ExpiresAt:   clock.Now().Add(24 * time.Hour),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runRefresher(ctx, c, time.Minute, 15*time.Minute, clock)

	clock.BlockUntil(1)
	clock.Advance(30 * time.Second)
	for i := 0; i < 3; i++ {
		clock.BlockUntil(1)
		clock.Advance(90 * time.Second)
	}
	// The loop parking on the next tick proves the last check completed.
	clock.BlockUntil(1)

	if got := grant.count(); got != 0 {
		t.Errorf("grant exchanges = %d, want 0 for a token outside the window", got)
	}
	if got := c.Token().AccessToken; got != "fresh" {
		t.Errorf("AccessToken = %q, want untouched fresh", got)
	}
}
