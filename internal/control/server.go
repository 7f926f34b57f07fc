// internal/control/server.go

// Package control exposes a running session over a small local HTTP API.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pdp-injector/internal/config"
	"github.com/xkilldash9x/pdp-injector/internal/dom"
	"github.com/xkilldash9x/pdp-injector/internal/eventloop"
	"github.com/xkilldash9x/pdp-injector/internal/page"
	"github.com/xkilldash9x/pdp-injector/internal/viewer"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const shutdownGrace = 5 * time.Second

// errNoSession is reported while no page is loaded.
var errNoSession = errors.New("no active session")

// SessionFunc returns the current session, or nil. It is called on the loop.
type SessionFunc func() *page.Session

// Server is the control API.
type Server struct {
	cfg     config.ControlConfig
	loop    *eventloop.Loop
	current SessionFunc
	logger  *zap.Logger
	router  chi.Router
}

// New builds the control API over the session returned by current.
func New(cfg config.ControlConfig, loop *eventloop.Loop, current SessionFunc, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		loop:    loop,
		current: current,
		logger:  logger.Named("control"),
	}
	s.router = s.routes()
	return s
}

// Handler returns the API's HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Group(func(r chi.Router) {
		if s.cfg.JWTSecret != "" {
			r.Use(requireToken([]byte(s.cfg.JWTSecret)))
		}
		r.Get("/state", s.handleState)
		r.Post("/inject", s.handleInject)
		r.Route("/viewer", func(r chi.Router) {
			r.Post("/open", s.handleOpen)
			r.Post("/close", s.handleClose)
		})
		r.Post("/actions/{action}", s.handleAction)
	})
	return r
}

// Serve listens on cfg.Listen until ctx is cancelled, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("Control API listening.", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control API shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.onSession(w, r, func(sess *page.Session) (any, error) {
		return sess.Status(), nil
	})
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	s.onSession(w, r, func(sess *page.Session) (any, error) {
		out := sess.Inject()
		return map[string]any{"outcome": out.String(), "status": sess.Status()}, nil
	})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("entry")
	if raw == "" {
		raw = string(viewer.EntryTriggerMain)
	}
	entry, err := viewer.ParseEntry(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.onSession(w, r, func(sess *page.Session) (any, error) {
		if err := sess.OpenViewer(entry); err != nil {
			return nil, err
		}
		return sess.Status(), nil
	})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	s.onSession(w, r, func(sess *page.Session) (any, error) {
		sess.CloseViewer()
		return sess.Status(), nil
	})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	a := dom.Action(chi.URLParam(r, "action"))
	if !a.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown action %q", a))
		return
	}
	s.onSession(w, r, func(sess *page.Session) (any, error) {
		if err := sess.Dispatch(a); err != nil {
			return nil, err
		}
		return sess.Status(), nil
	})
}

// onSession runs fn against the current session on the loop and writes its
// result.
func (s *Server) onSession(w http.ResponseWriter, r *http.Request, fn func(*page.Session) (any, error)) {
	var (
		out     any
		fnErr   error
		missing bool
	)
	err := s.loop.Do(r.Context(), func() {
		sess := s.current()
		if sess == nil {
			missing = true
			return
		}
		out, fnErr = fn(sess)
	})
	switch {
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err)
	case missing:
		writeError(w, http.StatusServiceUnavailable, errNoSession)
	case fnErr != nil:
		writeError(w, http.StatusUnprocessableEntity, fnErr)
	default:
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Control request.",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
