package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"livehub/internal/hub"
	"livehub/internal/snippet"
	"livehub/internal/transport"
	"livehub/pkg/protocol"
)

// HubService is the part of the hub the HTTP layer drives.
type HubService interface {
	Serve(ctx context.Context, p *transport.Peer) error
	Push(ctx context.Context, name, source string) (hub.PushResult, error)
	Remove(ctx context.Context, name string) (hub.RemoveResult, error)
	Reload(ctx context.Context) (hub.ReloadResult, error)
	Modules(ctx context.Context) ([]protocol.ModuleInfo, error)
	Get(ctx context.Context, name string) (hub.Module, error)
	Connections(ctx context.Context) (int, error)
	Ready() bool
}

// BusService is the part of the event bus the HTTP layer drives.
type BusService interface {
	Serve(ctx context.Context, p *transport.Peer) error
	Broadcast(ctx context.Context, ev protocol.BusEvent) (int, error)
	Ready() bool
}

// Checker compiles a snippet without side effects.
type Checker interface {
	Check(source string) snippet.Result
}

// Services groups the backends served by NewMux. Bus may be nil, in which
// case the event routes are not mounted.
type Services struct {
	Hub      HubService
	Bus      BusService
	Compiler Checker
	// Applied to every socket accepted on /ws and /events.
	Peer transport.PeerOptions
}

func NewMux(svc Services) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	// Sockets stay outside the compression group; upgrades need the raw writer.
	r.Get("/ws", socketHandler(svc.Hub.Serve, svc.Peer))
	if svc.Bus != nil {
		r.Get("/events", socketHandler(svc.Bus.Serve, svc.Peer))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Post("/check", func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lvl := requestLogLevel(r)
			src, ok := decodeSource(w, r)
			if !ok {
				return
			}
			res := svc.Compiler.Check(src)
			status := http.StatusOK
			if !res.Success {
				status = http.StatusUnprocessableEntity
			}
			if lvl >= LevelDebug {
				logCompiled("check", res.CompiledText)
			}
			writeJSON(w, status, checkResponse(res.Success, res.Diagnostics, res.CompiledText, 0))
			logOutcome(r, lvl, "check", status, start, nil)
		})

		r.Route("/modules", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				mods, err := svc.Hub.Modules(r.Context())
				if err != nil {
					writeJSONError(w, statusFor(err), err.Error())
					return
				}
				conns, err := svc.Hub.Connections(r.Context())
				if err != nil {
					writeJSONError(w, statusFor(err), err.Error())
					return
				}
				writeJSON(w, http.StatusOK, protocol.ModulesResponse{Modules: mods, Connections: conns})
			})

			r.Post("/reload", func(w http.ResponseWriter, r *http.Request) {
				start := time.Now()
				lvl := requestLogLevel(r)
				ctx, cancel := requestContext(r)
				defer cancel()
				res, err := svc.Hub.Reload(ctx)
				if err != nil {
					status := statusFor(err)
					writeJSONError(w, status, err.Error())
					logOutcome(r, lvl, "reload", status, start, err)
					return
				}
				writeJSON(w, http.StatusOK, protocol.ReloadResponse{
					Updated: nonNil(res.Updated),
					Removed: nonNil(res.Removed),
					Broken:  nonNil(res.Broken),
				})
				logOutcome(r, lvl, "reload", http.StatusOK, start, nil)
			})

			r.Get("/{name}", func(w http.ResponseWriter, r *http.Request) {
				m, err := svc.Hub.Get(r.Context(), chi.URLParam(r, "name"))
				if err != nil {
					writeJSONError(w, statusFor(err), err.Error())
					return
				}
				writeJSON(w, http.StatusOK, m.Detail())
			})

			r.Put("/{name}", func(w http.ResponseWriter, r *http.Request) {
				start := time.Now()
				lvl := requestLogLevel(r)
				src, ok := decodeSource(w, r)
				if !ok {
					return
				}
				ctx, cancel := requestContext(r)
				defer cancel()
				res, err := svc.Hub.Push(ctx, chi.URLParam(r, "name"), src)
				if err != nil {
					status := statusFor(err)
					writeJSONError(w, status, err.Error())
					logOutcome(r, lvl, "push", status, start, err)
					return
				}
				status := http.StatusOK
				if !res.Success {
					status = http.StatusUnprocessableEntity
					IncrementRejected("compile")
				}
				if lvl >= LevelDebug {
					logCompiled("push", res.CompiledText)
				}
				writeJSON(w, status, checkResponse(res.Success, res.Diagnostics, res.CompiledText, res.Delivered))
				logOutcome(r, lvl, "push", status, start, nil)
			})

			r.Delete("/{name}", func(w http.ResponseWriter, r *http.Request) {
				start := time.Now()
				lvl := requestLogLevel(r)
				ctx, cancel := requestContext(r)
				defer cancel()
				res, err := svc.Hub.Remove(ctx, chi.URLParam(r, "name"))
				if err != nil {
					status := statusFor(err)
					writeJSONError(w, status, err.Error())
					logOutcome(r, lvl, "remove", status, start, err)
					return
				}
				status := http.StatusOK
				if !res.Existed {
					status = http.StatusNotFound
				}
				writeJSON(w, status, protocol.RemoveResponse{Removed: res.Existed, Delivered: res.Delivered})
				logOutcome(r, lvl, "remove", status, start, nil)
			})
		})

		if svc.Bus != nil {
			r.Post("/events/publish", func(w http.ResponseWriter, r *http.Request) {
				if !requireJSON(w, r) {
					return
				}
				body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
				if err != nil {
					writeJSONError(w, http.StatusBadRequest, "invalid body")
					return
				}
				ev, err := protocol.DecodeBus(body)
				if err != nil {
					writeJSONError(w, http.StatusBadRequest, err.Error())
					return
				}
				n, err := svc.Bus.Broadcast(r.Context(), ev)
				if err != nil {
					writeJSONError(w, statusFor(err), err.Error())
					return
				}
				writeJSON(w, http.StatusOK, protocol.PublishResponse{Delivered: n})
			})
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Hub.Ready() && (svc.Bus == nil || svc.Bus.Ready()) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("shutting down"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		IncrementRejected("content_type")
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	return true
}

// decodeSource reads a SourceRequest body. It writes the error response
// itself and reports false on failure.
func decodeSource(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !requireJSON(w, r) {
		return "", false
	}
	// Limit body size (configurable, default 1MiB)
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req protocol.SourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// oversize bodies also land here; report 400 either way
		IncrementRejected("body")
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return "", false
	}
	return req.Source, true
}

func checkResponse(ok bool, diags []snippet.Diagnostic, compiled string, delivered int) protocol.CheckResponse {
	return protocol.CheckResponse{
		Success:      ok,
		Diagnostics:  snippet.WireAll(diags),
		CompiledText: compiled,
		Delivered:    delivered,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func logCompiled(op, compiled string) {
	lw := &lineLogger{prefix: fmt.Sprintf("%s> ", op)}
	_, _ = io.WriteString(lw, compiled)
	lw.Flush()
}
