package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/strimbot/oauth"
	"github.com/onnwee/strimbot/responder"
	"github.com/onnwee/strimbot/tvguide"
)

var (
	ogsUserURLRe = regexp.MustCompile(`online-go\.com/user/view/(\d+)`)
	ogsGameURLRe = regexp.MustCompile(`online-go\.com/game/(\d+)`)
)

// gameLinkDelay gives the rating service time to fill in game metadata;
// immediately after creation it serves empty fields.
const gameLinkDelay = 5 * time.Second

// handleLine processes one chat line. Command lines are dispatched and
// nothing else; plain lines get link expansion and the trigger responder.
// sentAt is the server-time tag when available.
func (b *Bot) handleLine(ctx context.Context, from, replyTo, text string, sentAt time.Time) {
	if strings.HasPrefix(text, ".") {
		b.dispatch(ctx, from, replyTo, text, sentAt)
		return
	}
	b.handleLinks(ctx, replyTo, text)
	if b.resp != nil {
		if resp, ok := b.resp.Respond(text); ok {
			b.sendTo(replyTo, resp)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, from, replyTo, text string, sentAt time.Time) {
	name, args := splitCommand(text)
	reply := func(msg string) {
		if replyTo == from {
			b.sendTo(replyTo, msg)
			return
		}
		b.sendTo(replyTo, from+": "+msg)
	}

	switch name {
	case "ogs":
		countCommand("ogs")
		b.cmdOGS(ctx, from, args, reply)
	case "ogsgame":
		countCommand("ogsgame")
		b.cmdOGSGame(ctx, args, reply)
	case "strim":
		countCommand("strim")
		b.cmdStrim(ctx, reply)
	case "remember", "r":
		countCommand("remember")
		b.cmdRemember(ctx, from, args, sentAt, reply)
	case "forget", "f":
		countCommand("forget")
		b.cmdForget(ctx, from, args, sentAt, reply)
	case "rlist":
		countCommand("rlist")
		b.cmdRememberList(from, reply)
	case "tvguide", "tv":
		countCommand("tvguide")
		b.cmdTVGuide(ctx, reply)
	case "tvlist", "tvl":
		countCommand("tvlist")
		b.cmdTVList(reply)
	case "tvstations":
		countCommand("tvstations")
		b.cmdTVStations(reply)
	case "tvadd":
		countCommand("tvadd")
		b.cmdTVAdd(ctx, from, args, reply)
	case "tvdel":
		countCommand("tvdel")
		b.cmdTVDel(ctx, from, args, reply)
	case "tvdetails":
		countCommand("tvdetails")
		b.cmdTVDetails(args, reply)
	}
}

func splitCommand(text string) (name, args string) {
	parts := strings.SplitN(strings.TrimPrefix(text, "."), " ", 2)
	name = strings.ToLower(parts[0])
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}
	return name, args
}

func (b *Bot) cmdOGS(ctx context.Context, from, args string, reply func(string)) {
	if b.ogs == nil {
		return
	}
	name := args
	if name == "" {
		name = from
	}
	p, err := b.ogs.PlayerByName(ctx, name)
	if err != nil {
		if oauth.IsNotFound(err) {
			reply(fmt.Sprintf("No such player %s", name))
			return
		}
		slog.Warn("player lookup failed", slog.String("player", name), slog.Any("error", err))
		reply(fmt.Sprintf("Could not fetch info for player %s", name))
		return
	}
	reply(b.ogs.FormatPlayer(p))
}

func (b *Bot) cmdOGSGame(ctx context.Context, args string, reply func(string)) {
	if b.ogs == nil || args == "" {
		return
	}
	id, err := strconv.Atoi(args)
	if err != nil {
		reply(fmt.Sprintf("No such game %s", args))
		return
	}
	g, err := b.ogs.Game(ctx, id)
	if err != nil {
		reply(fmt.Sprintf("No such game %d", id))
		return
	}
	reply(b.ogs.FormatGame(g))
}

func (b *Bot) cmdStrim(ctx context.Context, reply func(string)) {
	live, err := b.watcher.Status(ctx)
	if err != nil {
		slog.Warn("live probe failed", slog.Any("error", err))
		reply("Could not check strim status")
		return
	}
	if live {
		reply("Strim is live | " + b.shorten(ctx, b.cfg.StrimSiteURL+"/"))
		return
	}
	msgs := append([]string{"Strim is down"}, b.nextStrimLines(ctx)...)
	reply(strings.Join(msgs, " | "))
}

func (b *Bot) cmdRemember(ctx context.Context, from, args string, sentAt time.Time, reply func(string)) {
	if !b.isAdmin(from) {
		return
	}
	trigger, response, ok := strings.Cut(args, ":")
	if !ok || strings.TrimSpace(trigger) == "" || strings.TrimSpace(response) == "" {
		reply("Usage: .remember <trigger>: <response>")
		return
	}
	err := b.resp.Add(ctx, strings.TrimSpace(trigger), strings.TrimSpace(response), sentAt)
	if errors.Is(err, responder.ErrStaleMessage) {
		return
	}
	if err != nil {
		slog.Error("remember failed", slog.Any("error", err))
		reply("Could not remember that")
		return
	}
	reply("I will remember that")
}

func (b *Bot) cmdForget(ctx context.Context, from, args string, sentAt time.Time, reply func(string)) {
	if !b.isAdmin(from) || args == "" {
		return
	}
	err := b.resp.Remove(ctx, args, sentAt)
	switch {
	case errors.Is(err, responder.ErrStaleMessage):
	case errors.Is(err, responder.ErrNotFound):
		reply("I don't know about that")
	case err != nil:
		slog.Error("forget failed", slog.Any("error", err))
		reply("Could not forget that")
	default:
		reply("I will forget that")
	}
}

func (b *Bot) cmdRememberList(from string, reply func(string)) {
	if !b.isAdmin(from) {
		return
	}
	reply(strings.Join(b.resp.List(), ", "))
}

func (b *Bot) cmdTVGuide(ctx context.Context, reply func(string)) {
	if b.guide == nil {
		reply("Nothing on air today or tomorrow")
		return
	}
	airings, err := b.guide.Upcoming(ctx)
	if err != nil {
		slog.Warn("guide lookup failed", slog.Any("error", err))
		reply("Could not fetch the program guide")
		return
	}
	if len(airings) == 0 {
		reply("Nothing on air today or tomorrow")
		return
	}
	for _, a := range airings {
		reply(tvguide.FormatAiring(a))
	}
	b.guide.ScheduleAirings(ctx, airings)
}

func (b *Bot) cmdTVList(reply func(string)) {
	if b.guide == nil {
		reply("None")
		return
	}
	shows := b.guide.Shows()
	if len(shows) == 0 {
		reply("None")
		return
	}
	reply("Aired programs: " + strings.Join(shows, " "))
}

func (b *Bot) cmdTVStations(reply func(string)) {
	if b.guide == nil {
		reply("None")
		return
	}
	stations := b.guide.Stations()
	if len(stations) == 0 {
		reply("None")
		return
	}
	reply(strings.Join(stations, " "))
}

func (b *Bot) cmdTVAdd(ctx context.Context, from, args string, reply func(string)) {
	if !b.isAdmin(from) || b.guide == nil {
		return
	}
	const usage = "Usage: .tvadd <shortname> <station> <weekday> <name>"
	fields := strings.SplitN(args, " ", 4)
	if len(fields) != 4 {
		reply(usage)
		return
	}
	weekday, err := strconv.Atoi(fields[2])
	if err != nil {
		reply(usage)
		return
	}
	sh := tvguide.Show{
		Shortname: fields[0],
		Station:   fields[1],
		Weekday:   weekday,
		Name:      strings.TrimSpace(fields[3]),
	}
	if err := b.guide.AddShow(ctx, sh); err != nil {
		reply(fmt.Sprintf("Could not add %s: %v", sh.Shortname, err))
		return
	}
	reply("Added " + sh.Shortname)
}

func (b *Bot) cmdTVDel(ctx context.Context, from, args string, reply func(string)) {
	if !b.isAdmin(from) || b.guide == nil || args == "" {
		return
	}
	ok, err := b.guide.RemoveShow(ctx, args)
	if err != nil {
		slog.Error("show delete failed", slog.Any("error", err))
		reply("Could not remove " + args)
		return
	}
	if !ok {
		reply("Unknown TV show: " + args)
		return
	}
	reply("Removed " + args)
}

func (b *Bot) cmdTVDetails(args string, reply func(string)) {
	if b.guide == nil || args == "" {
		return
	}
	sh, st, ok := b.guide.ShowDetails(args)
	if !ok {
		reply("Unknown TV show: " + args)
		return
	}
	reply(fmt.Sprintf("%s %s: Airs %ss KST", st.Name, sh.Name, tvguide.WeekdayName(sh.Weekday)))
}

// handleLinks expands rating-service links pasted into chat. Game links are
// answered after a short delay.
func (b *Bot) handleLinks(ctx context.Context, replyTo, text string) {
	if b.ogs == nil {
		return
	}
	if m := ogsUserURLRe.FindStringSubmatch(text); m != nil {
		id, err := strconv.Atoi(m[1])
		if err == nil {
			if p, err := b.ogs.PlayerByID(ctx, id); err == nil {
				b.sendTo(replyTo, b.ogs.FormatPlayer(p))
			}
		}
	}
	if m := ogsGameURLRe.FindStringSubmatch(text); m != nil {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			return
		}
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-b.clock.After(gameLinkDelay):
			}
			g, err := b.ogs.Game(ctx, id)
			if err != nil {
				slog.Warn("game lookup failed", slog.Int("game", id), slog.Any("error", err))
				return
			}
			b.sendTo(replyTo, b.ogs.FormatGame(g))
		}()
	}
}
