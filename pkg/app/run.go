package app

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/aserto-dev/logger"
	"github.com/aserto-dev/oidc-registration/pkg/config"
	"github.com/aserto-dev/oidc-registration/pkg/metrics"
	"github.com/aserto-dev/oidc-registration/pkg/registration"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Server struct {
	server  *http.Server
	log     *zerolog.Logger
	cfg     *config.Config
	closeFn func() error
}

func NewServer(cfgPath string, logWriter logger.Writer, errWriter logger.ErrWriter) (*Server, error) {
	cfg, err := config.NewConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	regLogger, err := logger.NewLogger(logWriter, errWriter, &cfg.Logging)
	if err != nil {
		return nil, err
	}

	return &Server{
		log: regLogger,
		cfg: cfg,
	}, nil
}

func (s *Server) Config() *config.Config {
	return s.cfg
}

func (s *Server) Logger() *zerolog.Logger {
	return s.log
}

func (s *Server) Run(ctx context.Context) error {
	var recorder *metrics.Recorder
	if s.cfg.Server.MetricsEnabled {
		recorder = metrics.NewRecorder()
	}

	handler, closeFn, err := NewRegistrationHandler(ctx, s.cfg, s.log, recorder)
	if err != nil {
		return err
	}

	s.closeFn = closeFn

	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddress,
		Handler:           NewRouter(handler, &s.cfg.Server.Auth, recorder, s.log),
		IdleTimeout:       s.cfg.Server.IdleTimeout,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
	}

	s.server = srv
	s.log.Info().Str("address", s.cfg.Server.ListenAddress).Str("backend", s.cfg.Store.Backend).Msg("Starting registration server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		s.log.Info().Msg("Shutting down registration server")

		if err := s.server.Shutdown(ctx); err != nil {
			return err
		}
	}

	s.server = nil

	if s.closeFn != nil {
		s.log.Info().Msg("Closing directory connection")

		if err := s.closeFn(); err != nil {
			s.log.Error().Err(err).Msg("Failed to close directory connection")
		}
	}

	s.closeFn = nil
	s.log.Info().Msg("Registration server shutdown complete")

	return nil
}

// NewRouter serves the registration API, wrapped in the configured authentication.
// Health and metrics endpoints are left unauthenticated.
func NewRouter(handler *registration.Handler, auth *config.AuthConfig, recorder *metrics.Recorder, log *zerolog.Logger) http.Handler {
	app := &application{cfg: auth}
	apiLogger := log.With().Str("component", "api").Logger()
	api := &API{handler: handler, logger: &apiLogger}

	mux := http.NewServeMux()
	mux.Handle("POST /registrations", app.auth(api.createOrLink))
	mux.Handle("PUT /users/{id}", app.auth(api.updateUser))
	mux.HandleFunc("GET /healthz", healthz)

	if recorder != nil {
		mux.Handle("GET /metrics", recorder.Handler())
	}

	return mux
}

const authzHeaderParts = 2

type application struct {
	cfg *config.AuthConfig
}

func (app *application) auth(next http.HandlerFunc) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !app.cfg.Basic.Enabled && !app.cfg.Bearer.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		username, password, ok := r.BasicAuth()
		if ok && app.cfg.Basic.Enabled && app.checkBasicAuth(username, password) {
			next.ServeHTTP(w, r)
			return
		} else if app.cfg.Bearer.Enabled {
			reqToken := r.Header.Get("Authorization")
			splitToken := strings.Split(reqToken, "Bearer ")

			if len(splitToken) == authzHeaderParts {
				if subtle.ConstantTimeCompare([]byte(app.cfg.Bearer.Token), []byte(splitToken[1])) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="restricted", charset="UTF-8"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

func (app *application) checkBasicAuth(username, password string) bool {
	if username == "" || password == "" {
		return false
	}

	usernameHash := sha256.Sum256([]byte(username))
	passwordHash := sha256.Sum256([]byte(password))

	expectedUsernameHash := sha256.Sum256([]byte(app.cfg.Basic.Username))
	expectedPasswordHash := sha256.Sum256([]byte(app.cfg.Basic.Password))

	usernameMatch := (subtle.ConstantTimeCompare(usernameHash[:], expectedUsernameHash[:]) == 1)
	passwordMatch := (subtle.ConstantTimeCompare(passwordHash[:], expectedPasswordHash[:]) == 1)

	return usernameMatch && passwordMatch
}
