// Package bot wires the chat surface: the IRC connection, the command
// dispatch, the trigger responder, and the background loops that announce
// live transitions and auto-schedule strims from the program guide.
package bot

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"gopkg.in/irc.v4"

	"github.com/onnwee/strimbot/config"
	"github.com/onnwee/strimbot/ogs"
	"github.com/onnwee/strimbot/responder"
	"github.com/onnwee/strimbot/shorten"
	"github.com/onnwee/strimbot/strim"
	"github.com/onnwee/strimbot/telemetry"
	"github.com/onnwee/strimbot/tvguide"
)

// GoService is the rating-service surface, satisfied by ogs.Client.
type GoService interface {
	PlayerByID(ctx context.Context, id int) (*ogs.Player, error)
	PlayerByName(ctx context.Context, username string) (*ogs.Player, error)
	Game(ctx context.Context, id int) (*ogs.Game, error)
	FormatPlayer(p *ogs.Player) string
	FormatGame(g *ogs.Game) string
}

// ScheduleService is the schedule-API surface, satisfied by strim.Client.
type ScheduleService interface {
	NextStrim(ctx context.Context) (*strim.Strim, error)
	Channel(ctx context.Context, slug string) (*strim.Channel, error)
	StrimURL(slug string) string
}

// LiveProbe is the stream-state surface, satisfied by strim.Watcher.
type LiveProbe interface {
	Poll(ctx context.Context) (*strim.Transition, error)
	Status(ctx context.Context) (bool, error)
}

// Options carries the collaborators for New. Clock defaults to the real
// clock; Shortener may be nil.
type Options struct {
	Config    *config.Config
	OGS       GoService
	Strims    ScheduleService
	Watcher   LiveProbe
	Guide     *tvguide.Guide
	Responder *responder.Responder
	Shortener *shorten.Shortener
	Clock     clockwork.Clock
	// OnTransition is called after a live transition is announced, for
	// persistence or bookkeeping.
	OnTransition func(ctx context.Context, tr *strim.Transition)
}

// Bot is the IRC companion service.
type Bot struct {
	cfg          *config.Config
	ogs          GoService
	strims       ScheduleService
	watcher      LiveProbe
	guide        *tvguide.Guide
	resp         *responder.Responder
	short        *shorten.Shortener
	clock        clockwork.Clock
	onTransition func(ctx context.Context, tr *strim.Transition)

	mu  sync.Mutex
	say func(target, text string)
}

func New(opts Options) *Bot {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Bot{
		cfg:          opts.Config,
		ogs:          opts.OGS,
		strims:       opts.Strims,
		watcher:      opts.Watcher,
		guide:        opts.Guide,
		resp:         opts.Responder,
		short:        opts.Shortener,
		clock:        clock,
		onTransition: opts.OnTransition,
	}
}

// Run connects to IRC and blocks until ctx is cancelled or the connection
// drops. The live watcher and guide scheduler loops run for the lifetime of
// the connection.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.cfg.ValidateIRCReady(); err != nil {
		return err
	}
	var (
		conn net.Conn
		err  error
	)
	dialer := &net.Dialer{Timeout: 15 * time.Second}
	if b.cfg.IRCTLS {
		conn, err = tls.DialWithDialer(dialer, "tcp", b.cfg.IRCServer, nil)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", b.cfg.IRCServer)
	}
	if err != nil {
		return fmt.Errorf("dial irc %s: %w", b.cfg.IRCServer, err)
	}
	defer conn.Close()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := irc.NewClient(conn, irc.ClientConfig{
		Nick:      b.cfg.IRCNick,
		User:      b.cfg.IRCUser,
		Name:      b.cfg.IRCName,
		Pass:      b.cfg.IRCPassword,
		SendLimit: 500 * time.Millisecond,
		SendBurst: 4,
		Handler: irc.HandlerFunc(func(c *irc.Client, m *irc.Message) {
			b.handleMessage(loopCtx, c, m)
		}),
	})

	b.mu.Lock()
	b.say = func(target, text string) {
		err := client.WriteMessage(&irc.Message{
			Command: "PRIVMSG",
			Params:  []string{target, text},
		})
		if err != nil {
			slog.Warn("irc write failed", slog.Any("error", err))
		}
	}
	b.mu.Unlock()

	go b.watchLive(loopCtx)
	go b.watchGuide(loopCtx)

	slog.Info("irc connecting",
		slog.String("server", b.cfg.IRCServer),
		slog.String("nick", b.cfg.IRCNick))
	return client.RunContext(ctx)
}

func (b *Bot) handleMessage(ctx context.Context, c *irc.Client, m *irc.Message) {
	switch m.Command {
	case "001":
		for _, ch := range b.cfg.IRCChannels {
			c.Writef("JOIN %s", ch)
		}
		slog.Info("irc connected", slog.Any("channels", b.cfg.IRCChannels))
	case "PRIVMSG":
		if len(m.Params) == 0 || m.Prefix == nil {
			return
		}
		target := m.Params[0]
		replyTo := target
		if target == c.CurrentNick() {
			replyTo = m.Prefix.Name
		}
		b.handleLine(ctx, m.Prefix.Name, replyTo, m.Trailing(), messageTime(m))
	}
}

// messageTime extracts the server-time tag when the network provides one.
// A zero time means "now" for the replay guard.
func messageTime(m *irc.Message) time.Time {
	if v, ok := m.Tags["time"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (b *Bot) sendTo(target, text string) {
	b.mu.Lock()
	say := b.say
	b.mu.Unlock()
	if say == nil || text == "" {
		return
	}
	say(target, text)
}

// broadcast sends text to every configured channel.
func (b *Bot) broadcast(text string) {
	for _, ch := range b.cfg.IRCChannels {
		b.sendTo(ch, text)
	}
}

func (b *Bot) isAdmin(nick string) bool {
	for _, a := range b.cfg.Admins {
		if strings.EqualFold(a, nick) {
			return true
		}
	}
	return false
}

// watchLive polls the stream probe and announces edge transitions.
func (b *Bot) watchLive(ctx context.Context) {
	ticker := b.clock.NewTicker(b.cfg.LivePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
		tr, err := b.watcher.Poll(ctx)
		if err != nil {
			slog.Warn("live probe failed", slog.Any("error", err))
			continue
		}
		if tr == nil {
			continue
		}
		b.broadcast(b.transitionMessage(ctx, tr))
		if b.onTransition != nil {
			b.onTransition(ctx, tr)
		}
	}
}

// watchGuide sweeps the program guide and schedules upcoming strims.
func (b *Bot) watchGuide(ctx context.Context) {
	if b.guide == nil {
		return
	}
	ticker := b.clock.NewTicker(b.cfg.SchedulePollInterval)
	defer ticker.Stop()
	for {
		if _, err := b.guide.ScheduleUpcoming(ctx); err != nil {
			slog.Warn("guide sweep failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func (b *Bot) transitionMessage(ctx context.Context, tr *strim.Transition) string {
	switch tr.Direction {
	case strim.WentLive:
		return "Strim is now live | " + b.shorten(ctx, b.cfg.StrimSiteURL+"/")
	case strim.WentDown:
		msgs := append([]string{"Strim finished"}, b.nextStrimLines(ctx)...)
		return strings.Join(msgs, " | ")
	}
	return ""
}

// nextStrimLines describes the next scheduled strim, or reports that nothing
// is scheduled.
func (b *Bot) nextStrimLines(ctx context.Context) []string {
	if b.strims == nil {
		return []string{"No scheduled strims"}
	}
	s, err := b.strims.NextStrim(ctx)
	if err != nil {
		slog.Warn("next strim lookup failed", slog.Any("error", err))
		return []string{"No scheduled strims"}
	}
	if s == nil {
		return []string{"No scheduled strims"}
	}
	start, err := s.Start()
	if err != nil {
		slog.Warn("bad strim timestamp",
			slog.String("slug", s.Slug),
			slog.Any("error", err))
		return []string{"No scheduled strims"}
	}
	channelName := s.Channel
	if ch, err := b.strims.Channel(ctx, s.Channel); err == nil && ch != nil {
		channelName = ch.Name
	}
	return []string{
		fmt.Sprintf("Next strim in %s", strim.FormatDelta(time.Until(start))),
		fmt.Sprintf("%s - %s: %s", strim.FormatKST(start), channelName, s.Title),
		b.shorten(ctx, b.strims.StrimURL(s.Slug)),
	}
}

func (b *Bot) shorten(ctx context.Context, url string) string {
	if b.short == nil {
		return url
	}
	return b.short.Shorten(ctx, url)
}

func countCommand(name string) {
	if telemetry.CommandsHandled != nil {
		telemetry.CommandsHandled.WithLabelValues(name).Inc()
	}
}
