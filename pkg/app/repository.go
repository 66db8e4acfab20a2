package app

import (
	"context"

	"github.com/aserto-dev/oidc-registration/pkg/config"
	"github.com/aserto-dev/oidc-registration/pkg/directory"
	"github.com/aserto-dev/oidc-registration/pkg/directory/memory"
	"github.com/aserto-dev/oidc-registration/pkg/directory/postgres"
	"github.com/aserto-dev/oidc-registration/pkg/directory/topaz"
	"github.com/aserto-dev/oidc-registration/pkg/metrics"
	"github.com/aserto-dev/oidc-registration/pkg/registration"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

func nopClose() error { return nil }

// NewRepository opens the configured backend. The returned function releases it.
func NewRepository(ctx context.Context, cfg *config.Config, log *zerolog.Logger) (directory.Repository, func() error, error) {
	switch cfg.Store.Backend {
	case config.BackendDirectory:
		client, err := topaz.Connect(&cfg.Directory)
		if err != nil {
			return nil, nil, err
		}

		return topaz.NewStore(client, &cfg.DirectoryModel, log), client.Close, nil

	case config.BackendPostgres:
		store, err := postgres.Open(ctx, cfg.Store.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}

		return store, func() error { store.Close(); return nil }, nil

	case config.BackendMemory:
		log.Warn().Msg("using the in-memory directory, registrations are lost on exit")

		store, err := memory.New(cfg.Store.Memory.Profiles...)
		if err != nil {
			return nil, nil, err
		}

		return store, nopClose, nil

	default:
		return nil, nil, errors.Wrapf(config.ErrInvalidConfig, "unknown store backend %q", cfg.Store.Backend)
	}
}

// NewRegistrationHandler wires a registration handler to the configured backend.
func NewRegistrationHandler(
	ctx context.Context,
	cfg *config.Config,
	log *zerolog.Logger,
	recorder *metrics.Recorder,
) (*registration.Handler, func() error, error) {
	repo, closeFn, err := NewRepository(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	var rec registration.Recorder
	if recorder != nil {
		rec = recorder
	}

	return registration.NewHandler(repo, cfg.Registration.HandlerConfig(), log, rec), closeFn, nil
}
