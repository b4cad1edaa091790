package tvguide

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/strimbot/epg"
	"github.com/onnwee/strimbot/strim"
	"github.com/onnwee/strimbot/telemetry"
)

// Station is a broadcast channel in the program guide.
type Station struct {
	Shortname  string
	Name       string
	ChannelNum int
}

// Show is a tracked program. Weekday counts Monday as 0 through Sunday as 6,
// in KST.
type Show struct {
	Shortname string
	Name      string
	Station   string
	Weekday   int
}

// Store persists stations and shows across restarts.
type Store interface {
	LoadStations(ctx context.Context) ([]Station, error)
	UpsertStation(ctx context.Context, st Station) error
	LoadShows(ctx context.Context) ([]Show, error)
	UpsertShow(ctx context.Context, sh Show) error
	DeleteShow(ctx context.Context, shortname string) error
}

// Searcher is the program-guide query surface, satisfied by epg.Client.
type Searcher interface {
	Search(ctx context.Context, keyword string) ([]epg.Program, error)
}

// ScheduleService is the subset of the schedule API the guide needs,
// satisfied by strim.Client.
type ScheduleService interface {
	Channels(ctx context.Context) ([]strim.Channel, error)
	EnsureStrim(ctx context.Context, s strim.Strim) (bool, error)
}

var defaultStations = []Station{
	{"mbc-every1", "MBC Every1", 1},
	{"sbs", "SBS", 5},
	{"kbs2", "KBS2", 7},
	{"kbs1", "KBS1", 9},
	{"mbc", "MBC", 11},
	{"jtbc", "JTBC", 15},
	{"tvn", "tvn", 17},
	{"mnet", "Mnet", 27},
	{"sbs-fune", "SBS FunE", 43},
	{"mbc-music", "MBC Music", 97},
	{"arirang-tv", "Arirang TV", 206},
}

var defaultShows = []Show{
	{"theshow", "더쇼", "sbs-fune", 1},
	{"weekly", "주간 아이돌", "mbc-every1", 2},
	{"showchamp", "쇼 챔피언", "mbc-every1", 2},
	{"mka", "M COUNTDOWN", "mnet", 3},
	{"mubank", "뮤직뱅크", "kbs2", 4},
	{"mucore", "쇼! 음악중심", "mbc", 5},
	{"inki", "SBS 인기가요", "sbs", 6},
}

// Guide tracks stations and recurring shows and schedules a strim for each
// upcoming live broadcast found in the program guide.
type Guide struct {
	store  Store
	search Searcher
	strims ScheduleService
	clock  clockwork.Clock

	mu       sync.Mutex
	stations map[string]Station
	shows    map[string]Show
}

func NewGuide(store Store, search Searcher, strims ScheduleService, clock clockwork.Clock) *Guide {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Guide{
		store:    store,
		search:   search,
		strims:   strims,
		clock:    clock,
		stations: make(map[string]Station),
		shows:    make(map[string]Show),
	}
}

// Load seeds the in-memory guide from the store, fills in the built-in
// defaults that are missing, and merges channels known to the schedule
// service. A failure to reach the schedule service is logged and skipped;
// the persisted and default stations are enough to operate.
func (g *Guide) Load(ctx context.Context) error {
	stations, err := g.store.LoadStations(ctx)
	if err != nil {
		return fmt.Errorf("load stations: %w", err)
	}
	g.mu.Lock()
	g.stations = make(map[string]Station, len(stations))
	for _, st := range stations {
		g.stations[st.Shortname] = st
	}
	g.mu.Unlock()

	for _, st := range defaultStations {
		if err := g.addMissingStation(ctx, st); err != nil {
			return err
		}
	}
	if g.strims != nil {
		channels, err := g.strims.Channels(ctx)
		if err != nil {
			slog.Warn("channel merge from schedule service failed",
				slog.Any("error", err))
		} else {
			for _, ch := range channels {
				st := Station{Shortname: ch.Slug, Name: ch.Name, ChannelNum: ch.Num}
				if err := g.addMissingStation(ctx, st); err != nil {
					return err
				}
			}
		}
	}

	shows, err := g.store.LoadShows(ctx)
	if err != nil {
		return fmt.Errorf("load shows: %w", err)
	}
	g.mu.Lock()
	g.shows = make(map[string]Show, len(shows))
	for _, sh := range shows {
		g.shows[sh.Shortname] = sh
	}
	g.mu.Unlock()

	for _, sh := range defaultShows {
		g.mu.Lock()
		_, ok := g.shows[sh.Shortname]
		g.mu.Unlock()
		if ok {
			continue
		}
		if err := g.AddShow(ctx, sh); err != nil {
			return err
		}
	}
	return nil
}

func (g *Guide) addMissingStation(ctx context.Context, st Station) error {
	g.mu.Lock()
	_, ok := g.stations[st.Shortname]
	g.mu.Unlock()
	if ok {
		return nil
	}
	return g.AddStation(ctx, st)
}

func (g *Guide) AddStation(ctx context.Context, st Station) error {
	if err := g.store.UpsertStation(ctx, st); err != nil {
		return fmt.Errorf("persist station %q: %w", st.Shortname, err)
	}
	g.mu.Lock()
	g.stations[st.Shortname] = st
	g.mu.Unlock()
	return nil
}

// AddShow registers a show. The station must already be known.
func (g *Guide) AddShow(ctx context.Context, sh Show) error {
	if sh.Weekday < 0 || sh.Weekday > 6 {
		return fmt.Errorf("weekday %d out of range", sh.Weekday)
	}
	g.mu.Lock()
	_, ok := g.stations[sh.Station]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown station %q", sh.Station)
	}
	if err := g.store.UpsertShow(ctx, sh); err != nil {
		return fmt.Errorf("persist show %q: %w", sh.Shortname, err)
	}
	g.mu.Lock()
	g.shows[sh.Shortname] = sh
	g.mu.Unlock()
	return nil
}

// RemoveShow deletes a show by shortname. Returns false when unknown.
func (g *Guide) RemoveShow(ctx context.Context, shortname string) (bool, error) {
	g.mu.Lock()
	_, ok := g.shows[shortname]
	g.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := g.store.DeleteShow(ctx, shortname); err != nil {
		return false, fmt.Errorf("delete show %q: %w", shortname, err)
	}
	g.mu.Lock()
	delete(g.shows, shortname)
	g.mu.Unlock()
	return true, nil
}

// Shows returns the tracked show shortnames in sorted order.
func (g *Guide) Shows() []string {
	g.mu.Lock()
	keys := make([]string, 0, len(g.shows))
	for k := range g.shows {
		keys = append(keys, k)
	}
	g.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Stations returns the known station shortnames in sorted order.
func (g *Guide) Stations() []string {
	g.mu.Lock()
	keys := make([]string, 0, len(g.stations))
	for k := range g.stations {
		keys = append(keys, k)
	}
	g.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// ShowDetails returns a show and its station.
func (g *Guide) ShowDetails(shortname string) (Show, Station, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sh, ok := g.shows[shortname]
	if !ok {
		return Show{}, Station{}, false
	}
	return sh, g.stations[sh.Station], true
}

var weekdayNames = []string{
	"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
}

// WeekdayName renders a Monday-based weekday index.
func WeekdayName(w int) string {
	if w < 0 || w > 6 {
		return "?"
	}
	return weekdayNames[w]
}

// matchLive reports whether a guide entry is a live airing of the show:
// same channel, the show name optionally followed by a part number or an
// episode number, and not flagged as a rerun. Korean guides append markers
// like "2부" and "(123회)" to live entries and "(재)" to repeats.
func (g *Guide) matchLive(sh Show, p epg.Program) bool {
	g.mu.Lock()
	st, ok := g.stations[sh.Station]
	g.mu.Unlock()
	if !ok || st.ChannelNum != p.ChannelNo {
		return false
	}
	if p.Rerun() {
		return false
	}
	re, err := regexp.Compile(regexp.QuoteMeta(sh.Name) + `(\s+\d+부)?(\s?\(\d+회\))?`)
	if err != nil {
		return false
	}
	return re.MatchString(p.Title)
}

// Airing pairs a matched guide entry with the show it belongs to.
type Airing struct {
	Show    Show
	Program epg.Program
}

// kstWeekday converts to the Monday-based index used by Show.Weekday.
func (g *Guide) kstWeekday() int {
	wd := g.clock.Now().In(strim.KST).Weekday()
	return (int(wd) + 6) % 7
}

// Upcoming searches the program guide for live airings of shows scheduled
// today or tomorrow in KST. A failed search for one show is logged and does
// not abort the sweep.
func (g *Guide) Upcoming(ctx context.Context) ([]Airing, error) {
	today := g.kstWeekday()
	tomorrow := (today + 1) % 7

	g.mu.Lock()
	shows := make([]Show, 0, len(g.shows))
	for _, sh := range g.shows {
		if sh.Weekday == today || sh.Weekday == tomorrow {
			shows = append(shows, sh)
		}
	}
	g.mu.Unlock()
	sort.Slice(shows, func(i, j int) bool { return shows[i].Shortname < shows[j].Shortname })

	var airings []Airing
	for _, sh := range shows {
		programs, err := g.search.Search(ctx, sh.Name)
		if err != nil {
			slog.Warn("guide search failed",
				slog.String("show", sh.Shortname),
				slog.Any("error", err))
			continue
		}
		for _, p := range programs {
			if g.matchLive(sh, p) {
				airings = append(airings, Airing{Show: sh, Program: p})
			}
		}
	}
	return airings, nil
}

// ScheduleUpcoming finds upcoming airings and registers a strim for each.
// Slugs are derived from the show shortname and the KST start time, so
// re-running the sweep never schedules a duplicate. Returns the airings
// that were newly scheduled.
func (g *Guide) ScheduleUpcoming(ctx context.Context) ([]Airing, error) {
	airings, err := g.Upcoming(ctx)
	if err != nil {
		return nil, err
	}
	return g.ScheduleAirings(ctx, airings), nil
}

// ScheduleAirings registers a strim for each airing. Per-airing failures are
// logged and skipped.
func (g *Guide) ScheduleAirings(ctx context.Context, airings []Airing) []Airing {
	var created []Airing
	for _, a := range airings {
		s := strimFor(a)
		ok, err := g.strims.EnsureStrim(ctx, s)
		if err != nil {
			slog.Error("strim scheduling failed",
				slog.String("slug", s.Slug),
				slog.Any("error", err))
			continue
		}
		if ok {
			if telemetry.StrimsScheduled != nil {
				telemetry.StrimsScheduled.Inc()
			}
			slog.Info("strim scheduled",
				slog.String("slug", s.Slug),
				slog.String("title", s.Title))
			created = append(created, a)
		}
	}
	return created
}

func strimFor(a Airing) strim.Strim {
	start := a.Program.Start
	d := a.Program.End.Sub(start)
	return strim.Strim{
		Slug:      fmt.Sprintf("%s-%s", a.Show.Shortname, start.Format("20060102-1504")),
		Title:     a.Program.Title,
		Channel:   a.Show.Station,
		Timestamp: start.Format("2006-01-02T15:04:05-07:00"),
		Duration: fmt.Sprintf("%d:%02d:%02d",
			int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60),
	}
}

// FormatAiring renders a guide entry for chat.
func FormatAiring(a Airing) string {
	return fmt.Sprintf("[%s-%s KST] %s: %s",
		a.Program.Start.In(strim.KST).Format("2006.01.02 15:04"),
		a.Program.End.In(strim.KST).Format("15:04"),
		a.Program.ChannelName,
		a.Program.Title)
}
