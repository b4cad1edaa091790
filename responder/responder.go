package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/strimbot/telemetry"
)

// ErrStaleMessage is returned by Add and Remove when the message that carried
// the command is older than the configured replay window. Connection replays
// can re-deliver old lines after a reconnect; acting on them would mutate the
// trigger set twice.
var ErrStaleMessage = errors.New("message predates replay window")

// ErrNotFound is returned by Remove when no trigger with the given key exists.
var ErrNotFound = errors.New("trigger not found")

// Store persists the trigger/response set across restarts.
type Store interface {
	Load(ctx context.Context) (map[string]string, error)
	Upsert(ctx context.Context, trigger, response string) error
	Delete(ctx context.Context, trigger string) error
}

// Options tunes a Responder. The zero value gives case-insensitive matching
// with a 30 second cooldown and a 15 second replay window.
type Options struct {
	// CaseSensitive controls whether triggers match with exact case.
	CaseSensitive bool
	// Cooldown is the minimum gap between emitted responses. Matches inside
	// the window are counted but produce no output.
	Cooldown time.Duration
	// ReplayWindow bounds how old a message may be before Add and Remove
	// refuse to act on it.
	ReplayWindow time.Duration
	// Clock is substituted in tests. Defaults to the real clock.
	Clock clockwork.Clock
	// Rand selects among multiple matching triggers. Defaults to a
	// time-seeded source.
	Rand *rand.Rand
}

// Responder keeps a set of trigger words and replies with the stored response
// when a chat line contains one. Matching is whole-token: the trigger must be
// bounded by non-letter, non-digit runes or line edges.
type Responder struct {
	store Store
	opts  Options

	mu       sync.Mutex
	triggers map[string]string
	lastSent time.Time
}

func New(store Store, opts Options) *Responder {
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	if opts.ReplayWindow <= 0 {
		opts.ReplayWindow = 15 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Responder{
		store:    store,
		opts:     opts,
		triggers: make(map[string]string),
	}
}

// Load replaces the in-memory trigger set with the persisted one.
func (r *Responder) Load(ctx context.Context) error {
	m, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load triggers: %w", err)
	}
	norm := make(map[string]string, len(m))
	for k, v := range m {
		norm[r.normalize(k)] = v
	}
	r.mu.Lock()
	r.triggers = norm
	count := len(norm)
	r.mu.Unlock()
	telemetry.SetRememberCount(count)
	slog.Debug("responder triggers loaded", slog.Int("count", count))
	return nil
}

// Add stores a trigger/response pair. sentAt is the timestamp of the message
// carrying the command; messages older than the replay window are rejected
// with ErrStaleMessage. Adding an existing trigger overwrites its response.
func (r *Responder) Add(ctx context.Context, trigger, response string, sentAt time.Time) error {
	if err := r.checkReplay(sentAt); err != nil {
		return err
	}
	trigger = r.normalize(strings.TrimSpace(trigger))
	if trigger == "" {
		return errors.New("empty trigger")
	}
	if err := r.store.Upsert(ctx, trigger, response); err != nil {
		return fmt.Errorf("persist trigger %q: %w", trigger, err)
	}
	r.mu.Lock()
	r.triggers[trigger] = response
	count := len(r.triggers)
	r.mu.Unlock()
	telemetry.SetRememberCount(count)
	return nil
}

// Remove deletes a trigger. Returns ErrNotFound when the trigger does not
// exist and ErrStaleMessage when the carrying message is older than the
// replay window.
func (r *Responder) Remove(ctx context.Context, trigger string, sentAt time.Time) error {
	if err := r.checkReplay(sentAt); err != nil {
		return err
	}
	trigger = r.normalize(strings.TrimSpace(trigger))
	r.mu.Lock()
	_, ok := r.triggers[trigger]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if err := r.store.Delete(ctx, trigger); err != nil {
		return fmt.Errorf("delete trigger %q: %w", trigger, err)
	}
	r.mu.Lock()
	delete(r.triggers, trigger)
	count := len(r.triggers)
	r.mu.Unlock()
	telemetry.SetRememberCount(count)
	return nil
}

// List returns the trigger keys in sorted order.
func (r *Responder) List() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.triggers))
	for k := range r.triggers {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Match scans line for stored triggers and returns the response of one of
// them, chosen uniformly at random when several match. It is a pure lookup
// with no cooldown side effects. ok is false when nothing matches.
func (r *Responder) Match(line string) (response string, ok bool) {
	probe := r.normalize(line)
	r.mu.Lock()
	var hits []string
	for k := range r.triggers {
		if containsToken(probe, k) {
			hits = append(hits, k)
		}
	}
	if len(hits) == 0 {
		r.mu.Unlock()
		return "", false
	}
	// Map iteration order is random; sort first so the rand draw is the
	// only source of variance.
	sort.Strings(hits)
	resp := r.triggers[hits[r.opts.Rand.Intn(len(hits))]]
	r.mu.Unlock()
	return resp, true
}

// Respond is Match plus the cooldown gate. A match inside the cooldown window
// returns ok=false so the caller stays silent.
func (r *Responder) Respond(line string) (response string, ok bool) {
	resp, ok := r.Match(line)
	if !ok {
		return "", false
	}
	if telemetry.ResponderHits != nil {
		telemetry.ResponderHits.Inc()
	}
	now := r.opts.Clock.Now()
	r.mu.Lock()
	if !r.lastSent.IsZero() && now.Sub(r.lastSent) < r.opts.Cooldown {
		r.mu.Unlock()
		if telemetry.ResponderCooldowns != nil {
			telemetry.ResponderCooldowns.Inc()
		}
		return "", false
	}
	r.lastSent = now
	r.mu.Unlock()
	return resp, true
}

func (r *Responder) checkReplay(sentAt time.Time) error {
	if sentAt.IsZero() {
		return nil
	}
	if r.opts.Clock.Now().Sub(sentAt) > r.opts.ReplayWindow {
		return ErrStaleMessage
	}
	return nil
}

func (r *Responder) normalize(s string) string {
	if r.opts.CaseSensitive {
		return s
	}
	return strings.ToLower(s)
}

// containsToken reports whether trigger appears in line bounded by
// whitespace or the line edges. "show" matches "at the show" but not
// "showtime" or "show!".
func containsToken(line, trigger string) bool {
	if trigger == "" {
		return false
	}
	for start := 0; ; {
		i := strings.Index(line[start:], trigger)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(trigger)
		if boundaryBefore(line, i) && boundaryAfter(line, end) {
			return true
		}
		start = i + 1
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	return unicode.IsSpace(lastRune(s[:i]))
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	return unicode.IsSpace(firstRune(s[i:]))
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func lastRune(s string) rune {
	var last rune
	for _, r := range s {
		last = r
	}
	return last
}
