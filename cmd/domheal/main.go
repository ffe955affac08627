// Command domheal runs the locator resolution and recovery engine as an
// HTTP service, with an optional MCP stdio transport for agent hosts.
//
// Usage:
//
//	domheal -config domheal.yaml
//	domheal -db domheal.db
//	MCP_TRANSPORT=stdio domheal -db domheal.db
//	DOMHEAL_BROWSER=1 domheal -db domheal.db
//
// With DOMHEAL_BROWSER set ("1" launches headless Chrome, anything else
// is taken as a remote DevTools WebSocket URL), /api/resolve accepts a
// url without html and resolves against a live annotated snapshot.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/domheal"
	"github.com/hazyhaar/domheal/browser"
	"github.com/hazyhaar/domheal/domtree"
	"github.com/hazyhaar/domheal/locator"
)

func main() {
	configPath := flag.String("config", "", "path to domheal.yaml config file")
	dbPath := flag.String("db", "", "path to SQLite database")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *dbPath); err != nil {
		logger.Error("domheal: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, dbPath string) error {
	cfg, err := resolveConfig(configPath, dbPath)
	if err != nil {
		return err
	}

	h, err := domheal.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer h.Close()

	// MCP stdio mode: serve tools on stdin/stdout and nothing else.
	if env("MCP_TRANSPORT", "") == "stdio" {
		srv := mcp.NewServer(&mcp.Implementation{
			Name:    "domheal",
			Version: "1.0.0",
		}, nil)
		h.RegisterMCP(srv)
		logger.Info("domheal: serving MCP over stdio")
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	// Live browsing: resolve requests may carry a URL instead of HTML
	// and get served from a managed Chrome snapshot.
	var mgr *browser.Manager
	if b := env("DOMHEAL_BROWSER", ""); b != "" {
		bcfg := browser.Config{Logger: logger}
		if b != "1" {
			bcfg.RemoteURL = b
		}
		mgr = browser.NewManager(bcfg)
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("browser: %w", err)
		}
		defer mgr.Close()
	}

	r := chi.NewRouter()
	if user := env("AUTH_USER", ""); user != "" {
		hash, herr := bcrypt.GenerateFromPassword([]byte(os.Getenv("AUTH_PASSWORD")), bcrypt.DefaultCost)
		if herr != nil {
			return fmt.Errorf("auth setup: %w", herr)
		}
		r.Use(basicAuth(user, hash))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"degraded": h.Degraded(),
		})
	})

	r.Post("/api/resolve", func(w http.ResponseWriter, req *http.Request) {
		handleResolve(h, mgr, w, req)
	})

	r.Get("/api/corrections/pending", func(w http.ResponseWriter, req *http.Request) {
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		pending, err := h.PendingCorrections(req.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if pending == nil {
			pending = []*domheal.Correction{}
		}
		writeJSON(w, http.StatusOK, pending)
	})

	r.Post("/api/corrections/{id}/confirm", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		if err := h.ConfirmCorrection(req.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed", "id": id})
	})

	r.Post("/api/corrections/{id}/reject", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		if err := h.RejectCorrection(req.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "rejected", "id": id})
	})

	r.Get("/api/metrics/recent", func(w http.ResponseWriter, req *http.Request) {
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 50
		}
		recent, err := h.RecentMetrics(req.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if recent == nil {
			recent = []*domheal.StepMetrics{}
		}
		writeJSON(w, http.StatusOK, recent)
	})

	r.Get("/api/metrics/stats", func(w http.ResponseWriter, req *http.Request) {
		stats, err := h.MetricsAggregate(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if stats == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "metrics persistence disabled"})
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	port := env("PORT", "8086")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("domheal: server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("domheal: server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("domheal: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type resolveRequest struct {
	HTML      string             `json:"html"`
	URL       string             `json:"url"`
	Bundle    *locator.Bundle    `json:"bundle"`
	Signature locator.Signature  `json:"signature"`
	Condition *locator.Condition `json:"condition,omitempty"`
	PageType  string             `json:"page_type,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
}

func (rr resolveRequest) step() domheal.Step {
	return domheal.Step{
		SessionID: rr.SessionID,
		PageType:  rr.PageType,
		Bundle:    rr.Bundle,
		Signature: rr.Signature,
		Condition: rr.Condition,
	}
}

func handleResolve(h *domheal.Healer, mgr *browser.Manager, w http.ResponseWriter, req *http.Request) {
	var rr resolveRequest
	if err := json.NewDecoder(req.Body).Decode(&rr); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if rr.HTML == "" && rr.URL != "" {
		handleLiveResolve(h, mgr, w, req, rr)
		return
	}
	tree, err := domtree.ParseString(rr.HTML, rr.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.ResolveStep(req.Context(), rr.step(), tree)
	writeStepResult(w, res, err, nil)
}

// handleLiveResolve drives a managed browser session: navigate,
// snapshot, resolve, and verify the condition against fresh snapshots
// before the tab closes. The screenshot feeds the visual recovery tier.
func handleLiveResolve(h *domheal.Healer, mgr *browser.Manager, w http.ResponseWriter, req *http.Request, rr resolveRequest) {
	if mgr == nil {
		writeError(w, http.StatusBadRequest,
			errors.New("request has no html and live browsing is disabled (set DOMHEAL_BROWSER)"))
		return
	}
	ctx := req.Context()
	sess, err := mgr.OpenSession(ctx, rr.URL)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	defer sess.Close()

	tree, err := sess.Snapshot(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	shot, err := sess.Screenshot(ctx)
	if err != nil {
		slog.Warn("domheal: screenshot failed, visual tier loses its input", "error", err)
		shot = nil
	}

	run := h.StartStep(rr.step())
	defer run.Finish()
	res, rerr := run.Resolve(ctx, tree, shot)

	extra := map[string]any{}
	if rerr == nil && rr.Condition != nil {
		vres, verr := run.Verify(ctx, rr.Condition, sess.Provider())
		if vres != nil {
			extra["verified"] = vres.Passed
		}
		if verr != nil {
			extra["verification_error"] = verr.Error()
		}
	}
	writeStepResult(w, res, rerr, extra)
}

func writeStepResult(w http.ResponseWriter, res *domheal.StepResult, err error, extra map[string]any) {
	out := map[string]any{}
	for k, v := range extra {
		out[k] = v
	}
	if res != nil {
		out["outcome"] = res.Outcome
		out["selector"] = res.Selector
		out["confidence"] = res.Confidence
		out["method"] = res.Method
		out["reasoning"] = res.Reasoning
		if res.WinningStrategy != nil {
			out["winning_strategy"] = res.WinningStrategy
		}
		var cands []string
		for _, c := range res.Candidates {
			cands = append(cands, domtree.SelectorFor(c))
		}
		if cands != nil {
			out["candidates"] = cands
		}
	}
	if err != nil {
		out["error"] = err.Error()
		if _, ok := out["outcome"]; !ok {
			out["outcome"] = "failed"
		}
		// Ambiguity and exhaustion are step results the caller handles,
		// not server faults.
		status := http.StatusUnprocessableEntity
		if !errors.Is(err, domheal.ErrAmbiguous) &&
			!errors.Is(err, domheal.ErrRecoveryExhausted) &&
			!errors.Is(err, domheal.ErrScopeNotFound) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func basicAuth(user string, passwordHash []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || u != user ||
				bcrypt.CompareHashAndPassword(passwordHash, []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="domheal"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("domheal: write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func resolveConfig(configPath, dbPath string) (*domheal.Config, error) {
	if configPath != "" {
		return domheal.LoadConfigFile(configPath)
	}
	cfg := &domheal.Config{DBPath: env("DOMHEAL_DB", dbPath)}
	if ep := env("AI_ENDPOINT", ""); ep != "" {
		cfg.AI.Endpoint = ep
		cfg.AI.APIKey = os.Getenv("AI_API_KEY")
	}
	return cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
