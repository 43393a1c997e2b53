// Package web wires the HTTP surface: health probes, metrics, PIN login,
// the terminal WebSocket and the browser page.
package web

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed templates
var templateFS embed.FS

var indexTmpl = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Gate is the access check in front of the terminal.
type Gate interface {
	Enabled() bool
	Middleware(next http.Handler) http.Handler
	LoginHandler(w http.ResponseWriter, r *http.Request)
}

// Deps are the handlers and probes the router needs.
type Deps struct {
	Logger   *slog.Logger
	Gate     Gate
	Terminal http.Handler // WebSocket endpoint
	Ready    func() bool  // PTY still running
	Metrics  http.Handler // nil uses the default Prometheus registry
	Version  string
}

// NewRouter builds the chi router.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = promhttp.Handler()
	}
	if d.Ready == nil {
		d.Ready = func() bool { return true }
	}

	r := chi.NewRouter()
	r.Use(proxiedRealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(d.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !d.Ready() {
			http.Error(w, "process exited", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", d.Metrics)

	r.Post("/auth/login", d.Gate.LoginHandler)
	r.With(d.Gate.Middleware).Get("/ws", d.Terminal.ServeHTTP)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		err := indexTmpl.Execute(w, struct {
			PINRequired bool
			Version     string
		}{d.Gate.Enabled(), d.Version})
		if err != nil {
			d.Logger.Warn("render index", "err", err)
		}
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"remote", r.RemoteAddr,
				"dur", time.Since(start).Round(time.Millisecond),
			)
		})
	}
}
