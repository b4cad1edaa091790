// Package server exposes the operational HTTP surface: liveness and
// readiness probes, a status summary, and Prometheus metrics. Requests get
// correlation IDs and tracing spans for consistent logging.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/strimbot/db"
	"github.com/onnwee/strimbot/responder"
	"github.com/onnwee/strimbot/telemetry"
	"github.com/onnwee/strimbot/tvguide"
)

// LiveStatus reports the last observed stream state, satisfied by
// strim.Watcher.
type LiveStatus interface {
	Live() bool
}

// Handlers carries the dependencies for the HTTP endpoints. Any field may be
// nil; the corresponding status section is omitted.
type Handlers struct {
	DB        *sql.DB
	Watcher   LiveStatus
	Responder *responder.Responder
	Guide     *tvguide.Guide
}

// NewMux returns the HTTP handler with all routes.
func NewMux(h *Handlers) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	mux.HandleFunc("/status", h.HandleStatus)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(rec, r.WithContext(ctx))
		if rec.statusCode >= 400 {
			telemetry.RecordError(span, fmt.Errorf("HTTP %d", rec.statusCode))
		}
	})
	return handler
}

// statusRecorder wraps ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// HandleHealthz responds to liveness probes by checking database
// connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes. Not ready until the database is
// reachable and migrated.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.DB == nil {
				return fmt.Errorf("no database configured")
			}
			return h.DB.PingContext(r.Context())
		}},
		{"schema", func() error {
			var one int
			err := h.DB.QueryRowContext(r.Context(),
				"SELECT 1 FROM kv LIMIT 1").Scan(&one)
			if err != nil && err != sql.ErrNoRows {
				return err
			}
			return nil
		}},
	}

	w.Header().Set("Content-Type", "application/json")
	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus summarizes the bot state for debugging.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if h.Watcher != nil {
		out["live"] = h.Watcher.Live()
	}
	if h.DB != nil {
		if v, err := db.GetKV(r.Context(), h.DB, "last_live_transition"); err == nil && v != "" {
			out["last_live_transition"] = v
		}
	}
	if h.Responder != nil {
		out["triggers"] = h.Responder.List()
	}
	if h.Guide != nil {
		out["shows"] = h.Guide.Shows()
		out["stations"] = h.Guide.Stations()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// Start runs the HTTP server and shuts down gracefully on context
// cancellation.
func Start(ctx context.Context, h *Handlers, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(h),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
