// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adiadia/session-recorder/internal/auth"
	"github.com/adiadia/session-recorder/internal/domain"
	"github.com/adiadia/session-recorder/internal/export"
	"github.com/adiadia/session-recorder/internal/messaging"
	"github.com/adiadia/session-recorder/internal/metrics"
	"github.com/adiadia/session-recorder/internal/transport/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultStreamInterval = 500 * time.Millisecond

type logEventRequest struct {
	Type     string         `json:"type"`
	Details  map[string]any `json:"details"`
	Priority string         `json:"priority"`
}

type navigationRequest struct {
	TabID   int    `json:"tabId"`
	FrameID int    `json:"frameId"`
	URL     string `json:"url"`
}

type Deps struct {
	Session   SessionController
	Events    EventStreamer
	Browser   BrowserOracle
	Chrome    ChromeObserver
	Messenger messaging.Messenger
	Exporter  Exporter
	Readiness HealthChecker
	// WebSocket serves /ws when set.
	WebSocket http.Handler

	Limiter        *middleware.RateLimiter
	ControlToken   string
	Product        string
	StreamInterval time.Duration
	Logger         *slog.Logger
	Version        string
	Commit         string
	BuildDate      string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")
	streamInterval := deps.StreamInterval
	if streamInterval <= 0 {
		streamInterval = defaultStreamInterval
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(0, 1)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(middleware.CaptureContextIdentity())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness != nil {
			if err := deps.Readiness.Check(r.Context()); err != nil {
				logger.Warn("readiness check failed", "error", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- SESSION STATE ----------------

	r.Get("/recording/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{
			"isRecording": deps.Session.IsRecording(),
		})
	})

	r.Get("/recording/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Session.State())
	})

	// ---------------- EVENT LOG ----------------

	r.Get("/events/log", func(w http.ResponseWriter, r *http.Request) {
		log, err := deps.Session.EventLog(r.Context())
		if err != nil {
			logger.Error("render event log failed", "error", err)
			writeFailure(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, messaging.Response{Success: true, Log: log, Format: messaging.FormatXML})
	})

	r.Get("/events/export", func(w http.ResponseWriter, r *http.Request) {
		log, err := deps.Session.EventLog(r.Context())
		if err != nil {
			logger.Error("render event log failed", "error", err)
			http.Error(w, "failed to export event log", http.StatusInternalServerError)
			return
		}
		name := export.Filename(deps.Product, time.Now())
		w.Header().Set("Content-Type", export.ContentType+"; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, log)
	})

	// ---------------- STREAM EVENTS (SSE) ----------------

	r.Get("/events/stream", func(w http.ResponseWriter, r *http.Request) {
		if deps.Events == nil {
			logger.Error("sse event source is not configured")
			http.Error(w, "failed to stream events", http.StatusInternalServerError)
			return
		}

		cursor, err := parseSinceSeq(r.URL.Query().Get("since_seq"))
		if err != nil {
			http.Error(w, "invalid since_seq", http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		generation := deps.Events.Generation()
		writeEvents := func() error {
			// A new session clears the log and restarts at seq 1.
			records, current, reset := deps.Events.Follow(generation, cursor)
			generation = current
			if reset {
				if _, err := fmt.Fprintf(w, "event: reset\ndata: {\"generation\":%d}\n\n", current); err != nil {
					return err
				}
				flusher.Flush()
				cursor = 0
			}

			for _, ev := range records {
				payload, err := json.Marshal(ev)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(w, "id: %d\nevent: recorded_event\ndata: %s\n\n", ev.Seq, payload); err != nil {
					return err
				}
				flusher.Flush()
				cursor = ev.Seq
			}
			return nil
		}

		if err := writeEvents(); err != nil {
			logger.Error("sse initial write failed", "error", err)
			return
		}

		ticker := time.NewTicker(streamInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if err := writeEvents(); err != nil {
					logger.Error("sse write failed", "error", err)
					return
				}
			}
		}
	})

	// ---------------- CAPTURE CONTEXT INGEST ----------------

	r.Group(func(r chi.Router) {
		r.Use(middleware.IngestRateLimit(limiter, logger))

		r.Post("/events", func(w http.ResponseWriter, r *http.Request) {
			var req logEventRequest
			if err := decodeJSONBody(r, &req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			err := deps.Session.LogEvent(r.Context(), req.Type, req.Details, domain.ParsePriority(req.Priority))
			if err != nil {
				contextID, _ := auth.CaptureContextFromContext(r.Context())
				logger.Warn("log event rejected", "event_type", req.Type, "context_id", contextID, "error", err)
				writeFailure(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusAccepted, messaging.Response{Success: true})
		})

		r.Post("/messages", func(w http.ResponseWriter, r *http.Request) {
			if deps.Messenger == nil {
				http.Error(w, "messaging not configured", http.StatusNotImplemented)
				return
			}

			var msg messaging.Message
			if err := decodeJSONBody(r, &msg); err != nil || msg.Action == "" {
				http.Error(w, "invalid message", http.StatusBadRequest)
				return
			}
			if contextID, ok := auth.CaptureContextFromContext(r.Context()); ok && msg.ContextID == "" {
				msg.ContextID = contextID
			}

			// Event reports are fire and forget; everything else gets a reply.
			if msg.Action == messaging.ActionLogEvent && msg.RequestID == "" {
				if err := deps.Messenger.Notify(r.Context(), msg); err != nil {
					metrics.IncDeliveryFailure(metrics.DeliveryNotify)
					logger.Warn("message notify failed", "action", msg.Action, "context_id", msg.ContextID, "error", err)
					writeFailure(w, statusFor(err), err)
					return
				}
				writeJSON(w, http.StatusAccepted, messaging.Response{Success: true})
				return
			}

			if msg.RequestID == "" {
				msg.RequestID = uuid.NewString()
			}
			resp, err := deps.Messenger.Request(r.Context(), msg)
			if err != nil {
				metrics.IncDeliveryFailure(metrics.DeliveryRequest)
				logger.Warn("message request failed", "action", msg.Action, "request_id", msg.RequestID, "error", err)
				writeFailure(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})
	})

	// ---------------- CONTROL (CONTROL TOKEN) ----------------

	r.Group(func(r chi.Router) {
		r.Use(middleware.ControlTokenAuth(deps.ControlToken, logger))

		r.Post("/recording/start", func(w http.ResponseWriter, r *http.Request) {
			if err := deps.Session.StartRecording(r.Context()); err != nil {
				writeFailure(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, messaging.Response{Success: true})
		})

		r.Post("/recording/stop", func(w http.ResponseWriter, r *http.Request) {
			if err := deps.Session.StopRecording(r.Context()); err != nil {
				writeFailure(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, messaging.Response{Success: true})
		})

		r.Post("/events/export", func(w http.ResponseWriter, r *http.Request) {
			if deps.Exporter == nil {
				http.Error(w, "export sink not configured", http.StatusNotImplemented)
				return
			}
			log, err := deps.Session.EventLog(r.Context())
			if err != nil {
				logger.Error("render event log failed", "error", err)
				writeFailure(w, http.StatusInternalServerError, err)
				return
			}
			name, location, err := deps.Exporter.Save(r.Context(), log)
			if err != nil {
				writeFailure(w, http.StatusBadGateway, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]string{
				"file":     name,
				"location": location,
			})
		})

		if deps.Browser != nil && deps.Chrome != nil {
			r.Route("/browser", func(r chi.Router) {
				mountBrowserRoutes(r, deps.Browser, deps.Chrome, logger)
			})
		}
	})

	// ---------------- WEBSOCKET ----------------

	if deps.WebSocket != nil {
		r.Method(http.MethodGet, "/ws", deps.WebSocket)
	}

	return r
}

func mountBrowserRoutes(r chi.Router, browser BrowserOracle, chrome ChromeObserver, logger *slog.Logger) {
	r.Get("/tabs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"tabs": browser.Tabs()})
	})

	r.Put("/tabs/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := intParam(w, r)
		if !ok {
			return
		}
		var tab domain.Tab
		if err := decodeJSONBody(r, &tab); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		tab.ID = id
		browser.UpsertTab(tab)
		if tab.Active {
			notifyChrome(logger, "tab activated", chrome.OnTabActivated(r.Context(), id))
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Delete("/tabs/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := intParam(w, r)
		if !ok {
			return
		}
		if err := browser.RemoveTab(id); err != nil {
			writeFailure(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/tabs/{id}/activate", func(w http.ResponseWriter, r *http.Request) {
		id, ok := intParam(w, r)
		if !ok {
			return
		}
		if err := browser.ActivateTab(id); err != nil {
			writeFailure(w, statusFor(err), err)
			return
		}
		notifyChrome(logger, "tab activated", chrome.OnTabActivated(r.Context(), id))
		w.WriteHeader(http.StatusNoContent)
	})

	r.Put("/windows/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := intParam(w, r)
		if !ok {
			return
		}
		var win domain.Window
		if err := decodeJSONBody(r, &win); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		win.ID = id
		browser.UpsertWindow(win)
		notifyChrome(logger, "window bounds changed", chrome.OnWindowBoundsChanged(r.Context(), id))
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/windows/{id}/focus", func(w http.ResponseWriter, r *http.Request) {
		id, ok := intParam(w, r)
		if !ok {
			return
		}
		if err := browser.FocusWindow(id); err != nil {
			writeFailure(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Put("/screen", func(w http.ResponseWriter, r *http.Request) {
		var screen domain.Screen
		if err := decodeJSONBody(r, &screen); err != nil || screen.Width < 0 || screen.Height < 0 {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		browser.SetScreen(screen)
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/navigation", func(w http.ResponseWriter, r *http.Request) {
		var req navigationRequest
		if err := decodeJSONBody(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.FrameID == 0 && strings.TrimSpace(req.URL) != "" {
			tab := domain.Tab{ID: req.TabID, URL: req.URL}
			for _, known := range browser.Tabs() {
				if known.ID == req.TabID {
					tab.Title = known.Title
					tab.Active = known.Active
				}
			}
			browser.UpsertTab(tab)
		}
		if err := chrome.OnNavigationCompleted(r.Context(), req.TabID, req.FrameID); err != nil {
			writeFailure(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/downloads", func(w http.ResponseWriter, r *http.Request) {
		var d domain.Download
		if err := decodeJSONBody(r, &d); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := chrome.OnDownloadCreated(r.Context(), d); err != nil {
			writeFailure(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func notifyChrome(logger *slog.Logger, what string, err error) {
	if err != nil {
		logger.Warn("chrome notification failed", "notification", what, "error", err)
	}
}

// statusFor maps domain and messaging errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case domain.IsStateConflict(err), errors.Is(err, domain.ErrNoActiveTab):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidEvent), errors.Is(err, messaging.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTabNotFound), errors.Is(err, domain.ErrWindowNotFound):
		return http.StatusNotFound
	case errors.Is(err, messaging.ErrMailboxFull):
		return http.StatusTooManyRequests
	case errors.Is(err, messaging.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, messaging.ErrMailboxClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, messaging.Failure(err))
}

func decodeJSONBody(r *http.Request, v any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return io.EOF
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}
	return nil
}

func intParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

var errInvalidSinceSeq = errors.New("invalid since_seq")

func parseSinceSeq(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0, errInvalidSinceSeq
	}
	return seq, nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
