// Command strimbot is the IRC companion service for the strim community.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Authenticates against the rating and schedule services and keeps the
//     tokens fresh in the background.
//   - Polls the stream probe for live transitions, sweeps the TV program
//     guide to auto-schedule strims, and answers chat commands over IRC.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, and
//     /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/onnwee/strimbot/bot"
	"github.com/onnwee/strimbot/config"
	"github.com/onnwee/strimbot/db"
	"github.com/onnwee/strimbot/epg"
	"github.com/onnwee/strimbot/oauth"
	"github.com/onnwee/strimbot/ogs"
	"github.com/onnwee/strimbot/responder"
	"github.com/onnwee/strimbot/server"
	"github.com/onnwee/strimbot/shorten"
	"github.com/onnwee/strimbot/strim"
	"github.com/onnwee/strimbot/telemetry"
	"github.com/onnwee/strimbot/tvguide"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateIRCReady(); err != nil {
		slog.Error("irc config incomplete", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("strimbot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first, embedded SQL as the fallback for
	// deployments predating the migrations directory.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens := &db.TokenStore{DB: database}

	// Rating service: password grant, refreshed in the background.
	var ogsClient *ogs.Client
	if err := cfg.ValidateOGSReady(); err != nil {
		slog.Warn("ogs commands disabled", slog.Any("err", err))
	} else {
		oc := oauth.NewClient("ogs", &oauth.PasswordGrant{
			TokenURL:     cfg.OGSTokenURL,
			ClientID:     cfg.OGSClientID,
			ClientSecret: cfg.OGSClientSecret,
			Username:     cfg.OGSUsername,
			Password:     cfg.OGSPassword,
		}, tokens)
		oauth.StartRefresher(ctx, oc, 5*time.Minute, 15*time.Minute)
		ogsClient = ogs.NewClient(cfg.OGSBaseURL, "https://online-go.com", oc)
	}

	// Schedule service: client-credentials grant.
	var strimClient *strim.Client
	if err := cfg.ValidateStrimReady(); err != nil {
		slog.Warn("strim schedule disabled", slog.Any("err", err))
	} else {
		sc := oauth.NewClient("strim", &oauth.ClientCredentialsGrant{
			TokenURL:     cfg.StrimTokenURL,
			ClientID:     cfg.StrimClientID,
			ClientSecret: cfg.StrimClientSecret,
		}, tokens)
		oauth.StartRefresher(ctx, sc, 10*time.Minute, 20*time.Minute)
		strimClient = strim.NewClient(cfg.StrimBaseURL, cfg.StrimSiteURL, sc)
	}

	watcher := strim.NewWatcher(cfg.LiveProbeURL, cfg.LiveProbeApp)

	resp := responder.New(&db.RememberStore{DB: database}, responder.Options{
		CaseSensitive: cfg.CaseSensitive,
		Cooldown:      cfg.ResponderCooldown,
		ReplayWindow:  cfg.ReplayWindow,
	})
	if err := resp.Load(ctx); err != nil {
		slog.Error("responder load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Program-guide auto-scheduler needs guide credentials and the schedule
	// service; without either it stays off.
	var guide *tvguide.Guide
	if err := cfg.ValidateEPGReady(); err != nil {
		slog.Warn("tv guide disabled", slog.Any("err", err))
	} else if strimClient == nil {
		slog.Warn("tv guide disabled: schedule service not configured")
	} else {
		epgClient := epg.NewClient(cfg.EPGDeviceID, cfg.EPGServicePW)
		if cfg.EPGBaseURL != "" {
			epgClient.BaseURL = cfg.EPGBaseURL
		}
		if err := epgClient.Validate(ctx); err != nil {
			slog.Error("epg credential validation failed", slog.Any("err", err))
			os.Exit(1)
		}
		guide = tvguide.NewGuide(&db.TVStore{DB: database}, epgClient, strimClient, clockwork.NewRealClock())
		if err := guide.Load(ctx); err != nil {
			slog.Error("tv guide load failed", slog.Any("err", err))
			os.Exit(1)
		}
	}

	var shortener *shorten.Shortener
	if cfg.ShortenerURL != "" {
		shortener = shorten.New(cfg.ShortenerURL, cfg.ShortenerKey)
	}

	opts := bot.Options{
		Config:    cfg,
		Watcher:   watcher,
		Guide:     guide,
		Responder: resp,
		Shortener: shortener,
		OnTransition: func(tctx context.Context, tr *strim.Transition) {
			// Keep the last transition in kv so /status survives restarts.
			v := tr.Direction.String() + " " + tr.At.UTC().Format(db.KVTimeLayout)
			if err := db.SetKV(tctx, database, "last_live_transition", v); err != nil {
				slog.Warn("kv write failed", slog.Any("err", err))
			}
		},
	}
	// Assign only live clients so a disabled service stays a nil interface.
	if ogsClient != nil {
		opts.OGS = ogsClient
	}
	if strimClient != nil {
		opts.Strims = strimClient
	}
	b := bot.New(opts)

	go func() {
		if err := server.Start(ctx, &server.Handlers{
			DB:        database,
			Watcher:   watcher,
			Responder: resp,
			Guide:     guide,
		}, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Reconnect with backoff until shutdown.
	go func() {
		backoff := time.Second
		for {
			err := b.Run(ctx)
			if ctx.Err() != nil {
				return
			}
			slog.Error("irc connection lost, reconnecting",
				slog.Any("err", err),
				slog.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < time.Minute {
				backoff *= 2
			}
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}
