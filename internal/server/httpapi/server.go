// Package httpapi exposes the file workflows and the account endpoints over
// HTTP. Every route except /health, /register, /login and /logout requires
// a valid token; the caller's identity is taken from it and nowhere else.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/securedocs/internal/logging"
	"github.com/dmitrijs2005/securedocs/internal/server/models"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// UserService is the account side the handlers depend on.
type UserService interface {
	Register(ctx context.Context, email, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	Authenticate(token string) (string, error)
	Profile(ctx context.Context, userID string) (*models.Profile, error)
}

// FileService is the file side the handlers depend on.
type FileService interface {
	Upload(ctx context.Context, userID, filename string, data []byte) (*models.FileRecord, error)
	Decrypt(ctx context.Context, userID, recordID string) (string, []byte, error)
	Share(ctx context.Context, ownerID, recipientEmail, recordID string) (*models.FileRecord, error)
	Delete(ctx context.Context, userID, pinID string) error
	DeleteRecord(ctx context.Context, userID, recordID string) error
	List(ctx context.Context, userID string) ([]*models.FileRecord, error)
}

type Options struct {
	Address        string
	MaxUploadBytes int64
	TokenValidity  time.Duration
	CookieSecure   bool
}

const shutdownTimeout = 10 * time.Second

type HTTPServer struct {
	opts   Options
	users  UserService
	files  FileService
	logger logging.Logger
	router *mux.Router
}

func NewHTTPServer(opts Options, l logging.Logger, us UserService, fs FileService) *HTTPServer {
	s := &HTTPServer{
		opts:   opts,
		users:  us,
		files:  fs,
		logger: l.With("module", "http_server"),
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *HTTPServer) routes() {
	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)

	s.handle(http.MethodPost, "/register", s.register)
	s.handle(http.MethodPost, "/login", s.login)
	s.handle(http.MethodPost, "/logout", s.logout)

	s.handle(http.MethodGet, "/profile", s.requireAuth(s.profile))
	s.handle(http.MethodGet, "/validate", s.requireAuth(s.profile))
	s.handle(http.MethodPost, "/upload", s.requireAuth(s.upload))
	s.handle(http.MethodPost, "/decrypt", s.requireAuth(s.decrypt))
	s.handle(http.MethodPost, "/share", s.requireAuth(s.share))
	s.handle(http.MethodPost, "/delete", s.requireAuth(s.delete))
}

func (s *HTTPServer) handle(method, path string, h http.HandlerFunc) {
	s.router.Handle(path, otelhttp.NewHandler(h, method+" "+path)).Methods(method)
}

// Handler returns the routed handler, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP server forced to shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
