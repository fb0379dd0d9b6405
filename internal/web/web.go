package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"epd7in3f/internal/config"
	"epd7in3f/internal/convert"
	"epd7in3f/internal/epd"
	appLog "epd7in3f/internal/log"
	"epd7in3f/internal/panel"
)

// Controller is the panel service the API drives. *panel.Panel satisfies it.
type Controller interface {
	Clear(ctx context.Context, c epd.Colour) error
	ShowTestPattern(ctx context.Context) error
	Display(ctx context.Context, fb epd.Framebuffer) error
	Sleep(ctx context.Context) error
	Status() panel.Status
	LastFrame() (epd.Framebuffer, bool)
}

// OpTimeout bounds one panel operation started from the API. A full refresh
// takes tens of seconds.
const OpTimeout = 3 * time.Minute

// maxUploadBytes caps image uploads to /api/display.
const maxUploadBytes = 32 << 20

// Server exposes the panel over HTTP.
type Server struct {
	cfg    *config.Config
	panel  Controller
	router chi.Router
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, p Controller) *Server {
	s := &Server{
		cfg:   cfg,
		panel: p,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="epd7in3f", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/preview.png", s.handlePreview)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/clear", s.handleClear)
		r.Post("/test-pattern", s.handleTestPattern)
		r.Post("/display", s.handleDisplay)
		r.Post("/sleep", s.handleSleep)
	})
	s.router = r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.panel.Status())
}

// handleClear fills the panel with one colour.
//
// POST /api/clear?colour=red (default white)
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	c := epd.White
	if v := r.URL.Query().Get("colour"); v != "" {
		if err := c.Set(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	s.runOp(w, r, func(ctx context.Context) error {
		return s.panel.Clear(ctx, c)
	})
}

func (s *Server) handleTestPattern(w http.ResponseWriter, r *http.Request) {
	s.runOp(w, r, s.panel.ShowTestPattern)
}

// handleDisplay shows an uploaded frame. The body is either a raw
// 192000-byte framebuffer or, with an image/* content type, an image that is
// converted first.
func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	var (
		fb  epd.Framebuffer
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "image/") {
		img, derr := convert.Decode(http.MaxBytesReader(w, r.Body, maxUploadBytes))
		if derr != nil {
			writeError(w, decodeStatus(derr), derr.Error())
			return
		}
		fb, err = convert.Convert(img, convert.DefaultOptions)
	} else {
		fb, err = convert.ReadFramebuffer(http.MaxBytesReader(w, r.Body, epd.FrameSize+1))
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.runOp(w, r, func(ctx context.Context) error {
		return s.panel.Display(ctx, fb)
	})
}

func (s *Server) handleSleep(w http.ResponseWriter, r *http.Request) {
	s.runOp(w, r, s.panel.Sleep)
}

func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	fb, ok := s.panel.LastFrame()
	if !ok {
		writeError(w, http.StatusNotFound, "nothing has been displayed yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, convert.Preview(fb)); err != nil {
		appLog.Error("failed to encode preview", err)
	}
}

// runOp runs a panel operation detached from the client connection, so a
// dropped request does not abort a refresh halfway.
func (s *Server) runOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), OpTimeout)
	defer cancel()
	if err := op(ctx); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.panel.Status())
}

// decodeStatus maps an image decode failure: an oversized upload is 413,
// anything else is a bad request.
func decodeStatus(err error) int {
	if code := statusFor(err); code != http.StatusInternalServerError {
		return code
	}
	return http.StatusBadRequest
}

func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, epd.ErrGeometryMismatch), errors.Is(err, epd.ErrInvalidColour):
		return http.StatusBadRequest
	case errors.Is(err, epd.ErrBusyTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, epd.ErrSleeping), errors.Is(err, epd.ErrNotInitialized), errors.Is(err, epd.ErrInvalidState):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
