package handler

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/efreitasn/batchbroker/internal/engine"
	"github.com/efreitasn/batchbroker/internal/metrics"
	"github.com/efreitasn/batchbroker/internal/notify"
	"github.com/efreitasn/batchbroker/internal/service"
	"github.com/go-chi/chi/v5"
)

// RouterConfig holds the collaborators the HTTP API is built from.
// Hub and Metrics are optional.
type RouterConfig struct {
	Intentions  *service.IntentionService
	Accounts    *service.AccountService
	Allocations *service.AllocationService
	Instruments *service.InstrumentService
	Webhooks    *service.WebhookService
	Window      *engine.Window
	Hub         *notify.Hub
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// NewRouter creates a chi router with all routes registered, request logging,
// and Content-Type validation middleware.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(requestLogging(cfg.Logger, cfg.Metrics))

	intentionH := NewIntentionHandler(cfg.Intentions, cfg.Logger)
	accountH := NewAccountHandler(cfg.Accounts, cfg.Window, cfg.Logger)
	adminH := NewAdminHandler(cfg.Allocations, cfg.Accounts, cfg.Instruments, cfg.Logger)
	instrumentH := NewInstrumentHandler(cfg.Instruments, cfg.Logger)
	webhookH := NewWebhookHandler(cfg.Webhooks, cfg.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}
	if cfg.Hub != nil {
		r.Method(http.MethodGet, "/stream", cfg.Hub)
	}

	r.Group(func(r chi.Router) {
		r.Use(contentTypeJSON)

		// Intention routes.
		r.Post("/intentions", intentionH.Create)
		r.Get("/intentions/{intention_id}", intentionH.Get)
		r.Delete("/intentions/{intention_id}", intentionH.Cancel)

		// Account routes.
		r.Get("/accounts/{account_id}/intentions", intentionH.List)
		r.Get("/accounts/{account_id}/portfolio", accountH.Portfolio)
		r.Get("/batch", accountH.Batch)

		// Instrument routes.
		r.Get("/instruments", instrumentH.List)
		r.Get("/instruments/{symbol}/quote", instrumentH.Quote)

		// Admin routes.
		r.Route("/admin", func(r chi.Router) {
			r.Get("/overview", adminH.Overview)
			r.Put("/broker-cash", adminH.SetBrokerCash)
			r.Post("/instruments", adminH.RegisterInstrument)
			r.Put("/accounts/{account_id}/allocation", adminH.SetAllocation)
			r.Post("/accounts/{account_id}/freeze", adminH.Freeze)
			r.Post("/accounts/{account_id}/unfreeze", adminH.Unfreeze)
			r.Post("/accounts/{account_id}/deactivate", adminH.Deactivate)
			r.Post("/accounts/{account_id}/activate", adminH.Activate)
		})

		// Webhook routes.
		r.Post("/webhooks", webhookH.Upsert)
		r.Get("/webhooks", webhookH.List)
		r.Delete("/webhooks/{webhook_id}", webhookH.Delete)
	})

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog, and records it under the matched
// route pattern.
func requestLogging(logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.ObserveHTTP(r.Method, route, ww.status, elapsed)

			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", elapsed),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer so /stream can upgrade.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	w.wroteHeader = true
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests that carry a body. If the Content-Type header doesn't start
// with "application/json", it returns 400 Bad Request before the handler runs.
// Bodyless POSTs such as the account freeze actions pass through.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasBody := r.ContentLength != 0
		if hasBody && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
