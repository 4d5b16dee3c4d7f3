package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"petalsmon/internal/chat"
	"petalsmon/internal/command"
	"petalsmon/internal/config"
	"petalsmon/internal/history"
	"petalsmon/internal/resources"
	"petalsmon/internal/supervisor"
	"petalsmon/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
// *monitor.Controller implements it.
type Service interface {
	Config() config.Config
	SaveConfig(cfg config.Config) error
	Models() []types.Model
	Devices(ctx context.Context) ([]types.Device, error)
	StartServer(ctx context.Context) (supervisor.Handle, error)
	StopServer() error
	Status() types.StatusResponse
	Output() types.OutputResponse
	Resources(ctx context.Context) resources.Snapshot
	Generate(ctx context.Context, prompt string) (chat.Result, error)
	History(limit int) ([]history.Run, error)
}

// NewMux builds the control API router.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if c := current.CORS; c.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: c.Origins,
			AllowedMethods: c.Methods,
			AllowedHeaders: c.Headers,
			MaxAge:         300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Config())
	})

	r.Put("/config", func(w http.ResponseWriter, r *http.Request) {
		// Fields absent from the body keep their current values.
		cfg := svc.Config()
		if !decodeJSON(w, r, &cfg) {
			return
		}
		if err := svc.SaveConfig(cfg); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, svc.Config())
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: svc.Models()})
	})

	r.Get("/devices", func(w http.ResponseWriter, r *http.Request) {
		devices, err := svc.Devices(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		resp := types.DevicesResponse{Choices: []string{string(config.DeviceCPU)}, Devices: devices}
		for _, d := range devices {
			resp.Choices = append(resp.Choices, string(command.StableRef(d)))
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Route("/server", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, svc.Status())
		})
		r.Post("/start", func(w http.ResponseWriter, r *http.Request) {
			h, err := svc.StartServer(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			zlog.Info().Uint64("run", h.RunID).Int("pid", h.PID).Msg("server started via api")
			writeJSON(w, http.StatusOK, svc.Status())
		})
		r.Post("/stop", func(w http.ResponseWriter, r *http.Request) {
			if err := svc.StopServer(); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, svc.Status())
		})
		r.Get("/output", func(w http.ResponseWriter, r *http.Request) {
			out := svc.Output()
			if n, err := strconv.Atoi(r.URL.Query().Get("tail")); err == nil && n > 0 && n < len(out.Lines) {
				out.Lines = out.Lines[len(out.Lines)-n:]
			}
			writeJSON(w, http.StatusOK, out)
		})
	})

	r.Get("/resources", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Resources(r.Context()).Response())
	})

	r.Post("/generate", func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		ctx, cancel := requestContext(r)
		defer cancel()
		res, err := svc.Generate(ctx, req.Prompt)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.GenerateResponse{Text: res.Text, ElapsedMS: res.Elapsed.Milliseconds()})
	})

	r.Get("/history", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		runs, err := svc.History(limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// decodeJSON reads a bounded JSON body into dst, writing a 4xx on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, current.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Debug().Err(err).Msg("encode response")
	}
}

// NewServer wraps the router in an http.Server with conservative timeouts.
// WriteTimeout stays zero because /generate may run for minutes.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
