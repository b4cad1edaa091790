package bot

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"gopkg.in/irc.v4"

	"github.com/onnwee/strimbot/config"
	"github.com/onnwee/strimbot/epg"
	"github.com/onnwee/strimbot/oauth"
	"github.com/onnwee/strimbot/ogs"
	"github.com/onnwee/strimbot/responder"
	"github.com/onnwee/strimbot/strim"
	"github.com/onnwee/strimbot/tvguide"
)

func notFoundErr() error {
	return &oauth.HTTPError{Status: 404, Body: "not found"}
}

type fakeOGS struct {
	players map[string]*ogs.Player
	byID    map[int]*ogs.Player
	games   map[int]*ogs.Game
}

func (f *fakeOGS) PlayerByName(ctx context.Context, name string) (*ogs.Player, error) {
	if p, ok := f.players[name]; ok {
		return p, nil
	}
	return nil, notFoundErr()
}

func (f *fakeOGS) PlayerByID(ctx context.Context, id int) (*ogs.Player, error) {
	if p, ok := f.byID[id]; ok {
		return p, nil
	}
	return nil, notFoundErr()
}

func (f *fakeOGS) Game(ctx context.Context, id int) (*ogs.Game, error) {
	if g, ok := f.games[id]; ok {
		return g, nil
	}
	return nil, notFoundErr()
}

func (f *fakeOGS) FormatPlayer(p *ogs.Player) string {
	return fmt.Sprintf("player:%s", p.Username)
}

func (f *fakeOGS) FormatGame(g *ogs.Game) string {
	return fmt.Sprintf("game:%s", g.Name)
}

type fakeStrims struct {
	next    *strim.Strim
	channel *strim.Channel
}

func (f *fakeStrims) NextStrim(ctx context.Context) (*strim.Strim, error) { return f.next, nil }

func (f *fakeStrims) Channel(ctx context.Context, slug string) (*strim.Channel, error) {
	return f.channel, nil
}

func (f *fakeStrims) StrimURL(slug string) string {
	return "https://strim.example.com/strims/" + slug + "/"
}

type fakeWatcher struct {
	live       bool
	transition *strim.Transition
}

func (f *fakeWatcher) Status(ctx context.Context) (bool, error) { return f.live, nil }

func (f *fakeWatcher) Poll(ctx context.Context) (*strim.Transition, error) {
	return f.transition, nil
}

type memRememberStore struct {
	data map[string]string
}

func (s *memRememberStore) Load(ctx context.Context) (map[string]string, error) {
	return s.data, nil
}

func (s *memRememberStore) Upsert(ctx context.Context, trigger, response string) error {
	s.data[trigger] = response
	return nil
}

func (s *memRememberStore) Delete(ctx context.Context, trigger string) error {
	delete(s.data, trigger)
	return nil
}

type memTVStore struct {
	stations map[string]tvguide.Station
	shows    map[string]tvguide.Show
}

func newMemTVStore() *memTVStore {
	return &memTVStore{
		stations: make(map[string]tvguide.Station),
		shows:    make(map[string]tvguide.Show),
	}
}

func (s *memTVStore) LoadStations(ctx context.Context) ([]tvguide.Station, error) {
	var out []tvguide.Station
	for _, st := range s.stations {
		out = append(out, st)
	}
	return out, nil
}

func (s *memTVStore) UpsertStation(ctx context.Context, st tvguide.Station) error {
	s.stations[st.Shortname] = st
	return nil
}

func (s *memTVStore) LoadShows(ctx context.Context) ([]tvguide.Show, error) {
	var out []tvguide.Show
	for _, sh := range s.shows {
		out = append(out, sh)
	}
	return out, nil
}

func (s *memTVStore) UpsertShow(ctx context.Context, sh tvguide.Show) error {
	s.shows[sh.Shortname] = sh
	return nil
}

func (s *memTVStore) DeleteShow(ctx context.Context, shortname string) error {
	delete(s.shows, shortname)
	return nil
}

type fakeSearch struct {
	programs map[string][]epg.Program
}

func (f *fakeSearch) Search(ctx context.Context, keyword string) ([]epg.Program, error) {
	if f.programs == nil {
		return nil, nil
	}
	return f.programs[keyword], nil
}

type fakeEnsure struct {
	created []strim.Strim
}

func (f *fakeEnsure) Channels(ctx context.Context) ([]strim.Channel, error) { return nil, nil }

func (f *fakeEnsure) EnsureStrim(ctx context.Context, s strim.Strim) (bool, error) {
	f.created = append(f.created, s)
	return true, nil
}

type sink struct {
	mu   sync.Mutex
	msgs []string
	ch   chan string
}

func newSink() *sink {
	return &sink{ch: make(chan string, 16)}
}

func (s *sink) say(target, text string) {
	line := target + " <- " + text
	s.mu.Lock()
	s.msgs = append(s.msgs, line)
	s.mu.Unlock()
	select {
	case s.ch <- line:
	default:
	}
}

func (s *sink) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func (s *sink) waitForLine(t *testing.T) string {
	t.Helper()
	select {
	case line := <-s.ch:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

type testBot struct {
	bot     *Bot
	sink    *sink
	clock   *clockwork.FakeClock
	ogs     *fakeOGS
	strims  *fakeStrims
	watcher *fakeWatcher
	search  *fakeSearch
	ensure  *fakeEnsure
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()
	clock := clockwork.NewFakeClock()
	cfg := &config.Config{
		IRCNick:              "strimbot",
		IRCChannels:          []string{"#strim"},
		Admins:               []string{"admin"},
		StrimSiteURL:         "https://strim.example.com",
		LivePollInterval:     time.Minute,
		SchedulePollInterval: 12 * time.Hour,
	}
	fo := &fakeOGS{
		players: map[string]*ogs.Player{},
		byID:    map[int]*ogs.Player{},
		games:   map[int]*ogs.Game{},
	}
	fs := &fakeStrims{}
	fw := &fakeWatcher{}
	resp := responder.New(&memRememberStore{data: map[string]string{}}, responder.Options{
		Clock: clock,
		Rand:  rand.New(rand.NewSource(1)),
	})
	search := &fakeSearch{}
	ensure := &fakeEnsure{}
	guide := tvguide.NewGuide(newMemTVStore(), search, ensure, clock)
	if err := guide.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	b := New(Options{
		Config:    cfg,
		OGS:       fo,
		Strims:    fs,
		Watcher:   fw,
		Guide:     guide,
		Responder: resp,
		Clock:     clock,
	})
	sk := newSink()
	b.say = sk.say
	return &testBot{
		bot: b, sink: sk, clock: clock,
		ogs: fo, strims: fs, watcher: fw,
		search: search, ensure: ensure,
	}
}

func (tb *testBot) line(from, text string) {
	tb.bot.handleLine(context.Background(), from, "#strim", text, time.Time{})
}

func lastLine(t *testing.T, sk *sink) string {
	t.Helper()
	lines := sk.lines()
	if len(lines) == 0 {
		t.Fatal("no messages sent")
	}
	return lines[len(lines)-1]
}

func TestOGSCommand(t *testing.T) {
	tb := newTestBot(t)
	tb.ogs.players["someuser"] = &ogs.Player{ID: 42, Username: "someuser", Ranking: 35}

	tb.line("alice", ".ogs someuser")
	if got := lastLine(t, tb.sink); got != "#strim <- alice: player:someuser" {
		t.Errorf("got %q", got)
	}

	tb.line("alice", ".ogs missing")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "No such player missing") {
		t.Errorf("got %q", got)
	}
}

func TestOGSCommandDefaultsToSender(t *testing.T) {
	tb := newTestBot(t)
	tb.ogs.players["alice"] = &ogs.Player{ID: 1, Username: "alice"}
	tb.line("alice", ".ogs")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "player:alice") {
		t.Errorf("got %q", got)
	}
}

func TestOGSGameCommand(t *testing.T) {
	tb := newTestBot(t)
	tb.ogs.games[7] = &ogs.Game{ID: 7, Name: "finals"}
	tb.line("bob", ".ogsgame 7")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "game:finals") {
		t.Errorf("got %q", got)
	}
	tb.line("bob", ".ogsgame 8")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "No such game 8") {
		t.Errorf("got %q", got)
	}
}

func TestStrimCommandLive(t *testing.T) {
	tb := newTestBot(t)
	tb.watcher.live = true
	tb.line("alice", ".strim")
	got := lastLine(t, tb.sink)
	if !strings.Contains(got, "Strim is live | https://strim.example.com/") {
		t.Errorf("got %q", got)
	}
}

func TestStrimCommandDownWithSchedule(t *testing.T) {
	tb := newTestBot(t)
	tb.watcher.live = false
	start := time.Now().Add(2 * time.Hour).UTC()
	tb.strims.next = &strim.Strim{
		Slug:      "mka-20260903-1800",
		Title:     "M COUNTDOWN",
		Channel:   "mnet",
		Timestamp: start.Format(time.RFC3339),
	}
	tb.strims.channel = &strim.Channel{Slug: "mnet", Name: "Mnet", Num: 27}

	tb.line("alice", ".strim")
	got := lastLine(t, tb.sink)
	for _, want := range []string{
		"Strim is down",
		"Next strim in 1 hour, 59 minutes",
		"Mnet: M COUNTDOWN",
		"https://strim.example.com/strims/mka-20260903-1800/",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("message %q missing %q", got, want)
		}
	}
}

func TestStrimCommandDownNoSchedule(t *testing.T) {
	tb := newTestBot(t)
	tb.line("alice", ".strim")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "No scheduled strims") {
		t.Errorf("got %q", got)
	}
}

func TestRememberAdminOnly(t *testing.T) {
	tb := newTestBot(t)
	tb.line("randomuser", ".remember show: it's showtime")
	if lines := tb.sink.lines(); len(lines) != 0 {
		t.Errorf("non-admin command must be ignored, got %v", lines)
	}
}

func TestRememberAndRespond(t *testing.T) {
	tb := newTestBot(t)
	tb.line("admin", ".remember show: it's showtime")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "I will remember that") {
		t.Errorf("got %q", got)
	}

	tb.line("bob", "see you at the show tonight")
	if got := lastLine(t, tb.sink); got != "#strim <- it's showtime" {
		t.Errorf("got %q", got)
	}
}

func TestRememberUsage(t *testing.T) {
	tb := newTestBot(t)
	tb.line("admin", ".remember no colon here")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "Usage: .remember") {
		t.Errorf("got %q", got)
	}
}

func TestRememberReplayGuardSilent(t *testing.T) {
	tb := newTestBot(t)
	stale := tb.clock.Now().Add(-time.Minute)
	tb.bot.handleLine(context.Background(), "admin", "#strim", ".remember old: stale", stale)
	if lines := tb.sink.lines(); len(lines) != 0 {
		t.Errorf("stale command must be ignored silently, got %v", lines)
	}
}

func TestForget(t *testing.T) {
	tb := newTestBot(t)
	tb.line("admin", ".remember show: resp")
	tb.line("admin", ".forget show")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "I will forget that") {
		t.Errorf("got %q", got)
	}
	tb.line("admin", ".forget show")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "I don't know about that") {
		t.Errorf("got %q", got)
	}
}

func TestRememberList(t *testing.T) {
	tb := newTestBot(t)
	tb.line("admin", ".remember beta: b")
	tb.clock.Advance(time.Minute)
	tb.line("admin", ".r alpha: a")
	tb.line("admin", ".rlist")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "alpha, beta") {
		t.Errorf("got %q", got)
	}
}

func TestUserLinkExpansion(t *testing.T) {
	tb := newTestBot(t)
	tb.ogs.byID[42] = &ogs.Player{ID: 42, Username: "linked"}
	tb.line("alice", "check out https://online-go.com/user/view/42 sometime")
	if got := lastLine(t, tb.sink); got != "#strim <- player:linked" {
		t.Errorf("got %q", got)
	}
}

func TestGameLinkExpansionIsDelayed(t *testing.T) {
	tb := newTestBot(t)
	tb.ogs.games[9] = &ogs.Game{ID: 9, Name: "delayed"}
	tb.line("alice", "https://online-go.com/game/9")

	if lines := tb.sink.lines(); len(lines) != 0 {
		t.Fatalf("game link must not be answered immediately, got %v", lines)
	}
	tb.clock.BlockUntil(1)
	tb.clock.Advance(gameLinkDelay)
	if got := tb.sink.waitForLine(t); got != "#strim <- game:delayed" {
		t.Errorf("got %q", got)
	}
}

func TestTransitionMessages(t *testing.T) {
	tb := newTestBot(t)
	up := &strim.Transition{Direction: strim.WentLive, At: time.Now()}
	if got := tb.bot.transitionMessage(context.Background(), up); got != "Strim is now live | https://strim.example.com/" {
		t.Errorf("went-live message = %q", got)
	}
	down := &strim.Transition{Direction: strim.WentDown, At: time.Now()}
	if got := tb.bot.transitionMessage(context.Background(), down); !strings.Contains(got, "Strim finished | No scheduled strims") {
		t.Errorf("went-down message = %q", got)
	}
}

func TestTVListAndStations(t *testing.T) {
	tb := newTestBot(t)
	tb.line("alice", ".tvl")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "Aired programs: ") || !strings.Contains(got, "mka") {
		t.Errorf("got %q", got)
	}
	tb.line("alice", ".tvstations")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "mnet") {
		t.Errorf("got %q", got)
	}
}

func TestTVAddAndDel(t *testing.T) {
	tb := newTestBot(t)
	tb.line("admin", ".tvadd newshow mnet 3 Brand New Show")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "Added newshow") {
		t.Errorf("got %q", got)
	}
	tb.line("alice", ".tvdetails newshow")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "Mnet Brand New Show: Airs Thursdays KST") {
		t.Errorf("got %q", got)
	}
	tb.line("admin", ".tvdel newshow")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "Removed newshow") {
		t.Errorf("got %q", got)
	}
	tb.line("admin", ".tvdel newshow")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "Unknown TV show: newshow") {
		t.Errorf("got %q", got)
	}
}

func TestTVAddUnknownStation(t *testing.T) {
	tb := newTestBot(t)
	tb.line("admin", ".tvadd x nochannel 2 Some Show")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "Could not add x") {
		t.Errorf("got %q", got)
	}
	tb.line("admin", ".tvadd toofew args")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "Usage: .tvadd") {
		t.Errorf("got %q", got)
	}
}

func TestTVGuideEmpty(t *testing.T) {
	tb := newTestBot(t)
	tb.line("alice", ".tv")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "Nothing on air today or tomorrow") {
		t.Errorf("got %q", got)
	}
}

func TestTVGuideListsAndSchedules(t *testing.T) {
	tb := newTestBot(t)
	// Align the guide sweep with a Thursday so mka (weekday 3) is in range.
	now := tb.clock.Now().In(strim.KST)
	daysUntilThursday := (3 - ((int(now.Weekday()) + 6) % 7) + 7) % 7
	tb.clock.Advance(time.Duration(daysUntilThursday) * 24 * time.Hour)

	start := tb.clock.Now().In(strim.KST).Add(4 * time.Hour)
	tb.search.programs = map[string][]epg.Program{
		"M COUNTDOWN": {{
			ChannelNo:   27,
			ChannelName: "Mnet",
			Title:       "M COUNTDOWN",
			Start:       start,
			End:         start.Add(90 * time.Minute),
		}},
	}

	tb.line("alice", ".tvguide")
	if got := lastLine(t, tb.sink); !strings.Contains(got, "Mnet: M COUNTDOWN") {
		t.Errorf("got %q", got)
	}
	if len(tb.ensure.created) != 1 {
		t.Errorf("guide command must schedule matched airings, created %d", len(tb.ensure.created))
	}
}

func TestMessageTimeFromServerTag(t *testing.T) {
	m := &irc.Message{
		Tags:    map[string]string{"time": "2026-08-29T12:34:56Z"},
		Command: "PRIVMSG",
		Params:  []string{"#strim", "hello"},
	}
	want := time.Date(2026, 8, 29, 12, 34, 56, 0, time.UTC)
	if got := messageTime(m); !got.Equal(want) {
		t.Errorf("messageTime = %v, want %v", got, want)
	}

	untagged := &irc.Message{Command: "PRIVMSG", Params: []string{"#strim", "hello"}}
	if got := messageTime(untagged); !got.IsZero() {
		t.Errorf("messageTime without tag = %v, want zero", got)
	}

	bad := &irc.Message{
		Tags:    map[string]string{"time": "not-a-timestamp"},
		Command: "PRIVMSG",
	}
	if got := messageTime(bad); !got.IsZero() {
		t.Errorf("messageTime with malformed tag = %v, want zero", got)
	}
}

func TestPrivateMessageRepliesWithoutPrefix(t *testing.T) {
	tb := newTestBot(t)
	tb.ogs.players["alice"] = &ogs.Player{ID: 1, Username: "alice"}
	tb.bot.handleLine(context.Background(), "alice", "alice", ".ogs", time.Time{})
	if got := lastLine(t, tb.sink); got != "alice <- player:alice" {
		t.Errorf("got %q", got)
	}
}
