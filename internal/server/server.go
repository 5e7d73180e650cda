package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/audio"
	"github.com/yujun2647/watchdog/internal/worker"
)

// Deps are the daemon pieces the HTTP surface reaches into. Nil fields
// degrade the matching endpoints instead of crashing them.
type Deps struct {
	Feed      *LiveFeed
	Hub       *Hub
	Speaker   audio.Driver
	CachePath string
	Version   string

	// RestartCamera signals the workshop to restart the camera worker.
	RestartCamera func() error
	// Recording reports whether a clip is open, and its name.
	Recording func() (bool, string)
	// Workers are health-checked by the debug endpoint.
	Workers func() []*worker.Worker
}

// Server is the HTTP front of the daemon.
type Server struct {
	log  *zap.Logger
	deps Deps
	http *http.Server
}

func New(port int, deps Deps, log *zap.Logger) *Server {
	s := &Server{log: log.Named("server"), deps: deps}
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.routes(),
		// No write timeout: the MJPEG stream is a deliberately unbounded
		// response.
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.recoverer)
	r.Use(allowAll)

	r.Get("/", s.handleIndex)
	r.Get("/echo", s.handleEcho)
	r.Get("/stream", s.handleStream)
	r.Get("/snapshot", s.handleSnapshot)
	r.Get("/check_records", s.handleCheckRecords)
	r.Get("/check_video/{name}", s.handleCheckVideo)
	if s.deps.Hub != nil {
		r.Get("/ws", s.deps.Hub.ServeHTTP)
	}

	r.Route("/debug", func(r chi.Router) {
		r.Get("/restartCamera", s.handleRestartCamera)
		r.Get("/personWelcome", s.handlePersonWelcome)
		r.Get("/carWarn", s.handleCarWarn)
		r.Get("/system", s.handleSystem)
		r.Get("/health", s.handleHealth)
	})
	return r
}

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// recoverer converts handler panics into the JSON error envelope.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("handler panicked",
					zap.String("path", r.URL.Path), zap.Any("panic", rec))
				respondError(w, http.StatusInternalServerError,
					"PanicError", fmt.Errorf("%v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// allowAll opens the API to the LAN frontends.
func allowAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
