package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
)

// StartRefresher launches a goroutine that periodically checks the client's
// credential and renews it when remaining lifetime falls within window. The
// on-demand refresh-and-retry in Do remains the correctness path; this loop
// just keeps steady-state requests off the slow refresh branch.
func StartRefresher(ctx context.Context, c *Client, interval, window time.Duration) {
	go runRefresher(ctx, c, interval, window, clockwork.NewRealClock())
}

func runRefresher(ctx context.Context, c *Client, interval, window time.Duration, clock clockwork.Clock) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	select {
	case <-ctx.Done():
		return
	case <-clock.After(initialJitter):
	}
	for {
		// Per-iteration jitter (±20% of interval) for scheduling diversity.
		jitterRange := int64(interval / 5)
		//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
		jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
		nextSleep := interval + jitter
		if nextSleep < interval/2 {
			nextSleep = interval / 2
		}
		select {
		case <-ctx.Done():
			return
		case <-clock.After(nextSleep):
		}

		tok := c.Token()
		if tok.AccessToken == "" || tok.ExpiresAt.IsZero() {
			continue
		}
		if tok.ExpiresAt.Sub(clock.Now()) > window {
			continue
		}

		rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		_, err := c.forceRefresh(rctx)
		cancel()
		if err != nil {
			slog.Warn("token refresh failed", slog.String("provider", c.Provider), slog.Any("err", err))
			continue
		}
		slog.Info("token refreshed", slog.String("provider", c.Provider))
	}
}
