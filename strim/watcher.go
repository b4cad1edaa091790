package strim

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/strimbot/telemetry"
)

// Direction of a live state transition.
type Direction int

const (
	WentLive Direction = iota
	WentDown
)

func (d Direction) String() string {
	if d == WentLive {
		return "live"
	}
	return "down"
}

// Transition is emitted when the observed live state flips. Steady-state
// polls emit nothing.
type Transition struct {
	Direction Direction
	At        time.Time
}

// Watcher polls the live status probe and reports edge-triggered transitions.
// Initial state is down: the stream is assumed offline until proven otherwise.
type Watcher struct {
	ProbeURL   string
	App        string // probe query parameter selecting the application
	HTTPClient *http.Client

	mu   sync.Mutex
	live bool
}

func NewWatcher(probeURL, app string) *Watcher {
	return &Watcher{ProbeURL: probeURL, App: app}
}

func (w *Watcher) http() *http.Client {
	if w.HTTPClient != nil {
		return w.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Live returns the last observed state without probing.
func (w *Watcher) Live() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.live
}

// Poll probes the endpoint and returns a Transition when the state flipped
// since the previous observation, nil otherwise. A probe failure leaves the
// stored state untouched and is reported to the caller; the next scheduled
// poll proceeds normally.
func (w *Watcher) Poll(ctx context.Context) (*Transition, error) {
	if telemetry.LivePolls != nil {
		telemetry.LivePolls.Inc()
	}
	live, err := w.probe(ctx)
	if err != nil {
		if telemetry.LivePollErrors != nil {
			telemetry.LivePollErrors.Inc()
		}
		return nil, err
	}

	w.mu.Lock()
	prev := w.live
	w.live = live
	w.mu.Unlock()
	telemetry.UpdateLiveGauge(live)

	if live == prev {
		return nil, nil
	}
	tr := &Transition{At: time.Now(), Direction: WentDown}
	if live {
		tr.Direction = WentLive
	}
	if telemetry.LiveTransitions != nil {
		telemetry.LiveTransitions.WithLabelValues(tr.Direction.String()).Inc()
	}
	slog.Info("live state changed", slog.Bool("live", live))
	return tr, nil
}

// Status probes the endpoint and returns the current state. It updates the
// stored state so a later Poll does not re-announce a flip this check already
// observed, but it never emits a transition itself.
func (w *Watcher) Status(ctx context.Context) (bool, error) {
	live, err := w.probe(ctx)
	if err != nil {
		return false, err
	}
	w.mu.Lock()
	w.live = live
	w.mu.Unlock()
	telemetry.UpdateLiveGauge(live)
	return live, nil
}

// probe fetches the status document. The stream is live when an <active>
// element appears anywhere under the root.
func (w *Watcher) probe(ctx context.Context) (bool, error) {
	u := w.ProbeURL
	if w.App != "" {
		u += "?" + url.Values{"app": {w.App}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	resp, err := w.http().Do(req)
	if err != nil {
		return false, fmt.Errorf("live probe request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("live probe failed: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return containsActiveElement(resp.Body)
}

func containsActiveElement(r io.Reader) (bool, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("parse live probe response: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "active" {
			return true, nil
		}
	}
}
