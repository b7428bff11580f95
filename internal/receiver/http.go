package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kiwoomapp/internal/engine"
	"kiwoomapp/internal/types"
)

// Dashboard is what the HTTP API reads and edits. *engine.Engine implements it.
type Dashboard interface {
	State() types.StateView
	Accounts() []string
	Watchlist() []types.WatchItem
	UpsertWatch(ctx context.Context, item types.WatchItem) error
	RemoveWatch(ctx context.Context, code string) (bool, error)
	Modes() map[string]types.AccountMode
	SetMode(ctx context.Context, account string, mode types.AccountMode) error
	Holdings(account string) ([]types.Holding, error)
	OpenOrders(account string) ([]types.OpenOrder, error)
}

// ModeRequest is the POST /modes body
type ModeRequest struct {
	Account string            `json:"account"`
	Mode    types.AccountMode `json:"mode"`
}

// HTTPReceiver serves the dashboard API
type HTTPReceiver struct {
	server    *http.Server
	logger    *slog.Logger
	dashboard Dashboard
	port      int
}

// NewHTTPReceiver creates a new dashboard API server
func NewHTTPReceiver(port int, dashboard Dashboard, logger *slog.Logger) *HTTPReceiver {
	return &HTTPReceiver{
		port:      port,
		dashboard: dashboard,
		logger:    logger,
	}
}

// Handler returns the routed handler wrapped in request logging
func (r *HTTPReceiver) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /state", r.handleState)
	mux.HandleFunc("GET /watchlist", r.handleWatchlist)
	mux.HandleFunc("POST /watchlist", r.handleUpsertWatch)
	mux.HandleFunc("DELETE /watchlist/{code}", r.handleRemoveWatch)
	mux.HandleFunc("GET /modes", r.handleModes)
	mux.HandleFunc("POST /modes", r.handleSetMode)
	mux.HandleFunc("GET /accounts/{id}/holdings", r.handleHoldings)
	mux.HandleFunc("GET /accounts/{id}/orders", r.handleOrders)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", r.handleHealth)
	mux.HandleFunc("GET /{$}", r.handleRoot)

	return r.loggingMiddleware(mux)
}

// Start starts the HTTP server
func (r *HTTPReceiver) Start(ctx context.Context) error {
	r.server = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", r.port),
		Handler:      r.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	r.logger.Info("[RECEIVER] Starting HTTP server",
		"port", r.port,
		"address", r.server.Addr,
	)

	errChan := make(chan error, 1)
	go func() {
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait briefly to check for immediate errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts down the HTTP server
func (r *HTTPReceiver) Stop(ctx context.Context) error {
	if r.server == nil {
		return nil
	}

	r.logger.Info("[RECEIVER] Shutting down HTTP server")
	return r.server.Shutdown(ctx)
}

func (r *HTTPReceiver) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, req)

		r.logger.Info("[RECEIVER] Request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote", req.RemoteAddr,
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (r *HTTPReceiver) handleRoot(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"service": "kiwoomapp",
		"endpoints": []string{
			"GET /state - Session phase, day flags and tranche ledger",
			"GET /watchlist - Watched symbols",
			"POST /watchlist - Add or replace a watched symbol",
			"DELETE /watchlist/{code} - Stop watching a symbol",
			"GET /modes - Per-account modes",
			"POST /modes - Set an account mode",
			"GET /accounts/{id}/holdings - Latest position snapshot",
			"GET /accounts/{id}/orders - Latest open-order snapshot",
			"GET /metrics - Prometheus metrics",
			"GET /health - Health check",
		},
	})
}

func (r *HTTPReceiver) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (r *HTTPReceiver) handleState(w http.ResponseWriter, req *http.Request) {
	r.sendSuccess(w, "Engine state", r.dashboard.State())
}

func (r *HTTPReceiver) handleWatchlist(w http.ResponseWriter, req *http.Request) {
	items := r.dashboard.Watchlist()
	r.sendSuccess(w, "Watchlist", map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

func (r *HTTPReceiver) handleUpsertWatch(w http.ResponseWriter, req *http.Request) {
	var item types.WatchItem
	if err := json.NewDecoder(req.Body).Decode(&item); err != nil {
		r.sendError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if item.Code == "" {
		r.sendError(w, http.StatusBadRequest, "code is required")
		return
	}

	if err := r.dashboard.UpsertWatch(req.Context(), item); err != nil {
		r.logger.Warn("[RECEIVER] Watchlist update rejected", "symbol", item.Code, "error", err)
		r.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	r.sendSuccess(w, "Watchlist entry saved", map[string]string{"code": item.Code})
}

func (r *HTTPReceiver) handleRemoveWatch(w http.ResponseWriter, req *http.Request) {
	code := req.PathValue("code")

	found, err := r.dashboard.RemoveWatch(req.Context(), code)
	if err != nil {
		r.logger.Error("[RECEIVER] Failed to remove watchlist entry", "symbol", code, "error", err)
		r.sendError(w, http.StatusInternalServerError, "Failed to remove entry")
		return
	}
	if !found {
		r.sendError(w, http.StatusNotFound, "Symbol not watched")
		return
	}
	r.sendSuccess(w, "Watchlist entry removed", map[string]string{"code": code})
}

func (r *HTTPReceiver) handleModes(w http.ResponseWriter, req *http.Request) {
	r.sendSuccess(w, "Account modes", r.dashboard.Modes())
}

func (r *HTTPReceiver) handleSetMode(w http.ResponseWriter, req *http.Request) {
	var modeReq ModeRequest
	if err := json.NewDecoder(req.Body).Decode(&modeReq); err != nil {
		r.sendError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if modeReq.Account == "" {
		r.sendError(w, http.StatusBadRequest, "account is required")
		return
	}
	if !modeReq.Mode.Valid() {
		r.sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid mode: %s (valid: NONE, BUY, SELL, BOTH)", modeReq.Mode))
		return
	}

	err := r.dashboard.SetMode(req.Context(), modeReq.Account, modeReq.Mode)
	switch {
	case errors.Is(err, engine.ErrUnknownAccount):
		r.sendError(w, http.StatusNotFound, "Unknown account")
		return
	case err != nil:
		r.logger.Error("[RECEIVER] Failed to set mode", "account", modeReq.Account, "error", err)
		r.sendError(w, http.StatusInternalServerError, "Failed to set mode")
		return
	}

	r.logger.Info("[RECEIVER] Mode changed", "account", modeReq.Account, "mode", modeReq.Mode)
	r.sendSuccess(w, "Mode saved", modeReq)
}

func (r *HTTPReceiver) handleHoldings(w http.ResponseWriter, req *http.Request) {
	holdings, err := r.dashboard.Holdings(req.PathValue("id"))
	if err != nil {
		r.sendError(w, http.StatusNotFound, "Unknown account")
		return
	}
	r.sendSuccess(w, "Holdings", map[string]interface{}{
		"holdings": holdings,
		"count":    len(holdings),
	})
}

func (r *HTTPReceiver) handleOrders(w http.ResponseWriter, req *http.Request) {
	orders, err := r.dashboard.OpenOrders(req.PathValue("id"))
	if err != nil {
		r.sendError(w, http.StatusNotFound, "Unknown account")
		return
	}
	r.sendSuccess(w, "Open orders", map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})
}

// sendError sends an error response
func (r *HTTPReceiver) sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// sendSuccess sends a success response
func (r *HTTPReceiver) sendSuccess(w http.ResponseWriter, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": message,
		"data":    data,
	})
}
