// Package app assembles the components shared by the HTTP server and the
// desktop shell.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/explant/explant/internal/config"
	"github.com/explant/explant/internal/credentials"
	"github.com/explant/explant/internal/farm"
	"github.com/explant/explant/internal/runner"
	"github.com/explant/explant/internal/simclient"
	"github.com/explant/explant/internal/store"
	"github.com/explant/explant/internal/telemetry"
)

const credentialsFile = "explant_credentials.json"

// Options tune Build.
type Options struct {
	// Memory keeps progress and history in memory only.
	Memory bool
	Logger *slog.Logger
	// Transport replaces the HTTP client, mostly for tests.
	Transport runner.Transport
	// Credentials replaces the keychain-backed token store.
	Credentials *credentials.KeyringStore
}

// Stack is a fully wired set of components.
type Stack struct {
	Config      *config.Config
	Store       store.Store
	Client      *simclient.Client
	Runner      *runner.Runner
	Farm        *farm.Farm
	Hub         *telemetry.Hub
	Credentials *credentials.KeyringStore
	Logger      *slog.Logger
}

// Build opens storage and wires the client, runner, farm and event hub.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Stack, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var st store.Store
	if opts.Memory {
		st = store.NewMemory()
	} else {
		db, err := store.Open(ctx, cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		st = db
	}

	hub := telemetry.NewHub()
	sink := telemetry.Multi{telemetry.NewLogSink(logger), hub}

	clientCfg := cfg.SimClient()
	clientCfg.Sink = sink
	client := simclient.NewClient(clientCfg)

	creds := opts.Credentials
	if creds == nil {
		creds = credentials.NewKeyringStore(
			cfg.Credentials.Service,
			cfg.Credentials.User,
			filepath.Join(filepath.Dir(cfg.Storage.Path), credentialsFile),
		)
	}
	if found, err := creds.Apply(client); err != nil {
		logger.Warn("endpoint token unavailable", "error", err)
	} else if found {
		logger.Info("endpoint token loaded")
	}

	var transport runner.Transport = client
	if opts.Transport != nil {
		transport = opts.Transport
	}

	f := farm.New()
	r, err := runner.New(runner.Options{
		Catalog:   cfg,
		Transport: transport,
		Progress:  st,
		Runs:      st,
		Farm:      f,
		Sink:      sink,
	})
	if err != nil {
		return nil, multierr.Append(err, st.Close())
	}

	return &Stack{
		Config:      cfg,
		Store:       st,
		Client:      client,
		Runner:      r,
		Farm:        f,
		Hub:         hub,
		Credentials: creds,
		Logger:      logger,
	}, nil
}

// RunFarm advances the farm one day per configured tick until ctx is done.
func (s *Stack) RunFarm(ctx context.Context, onTick func(farm.Snapshot)) error {
	return s.Farm.Run(ctx, s.Config.TickInterval(), onTick)
}

// SetEndpointToken stores token and applies it to the client. An empty
// token clears it.
func (s *Stack) SetEndpointToken(token string) error {
	if err := s.Credentials.SetToken(token); err != nil {
		return fmt.Errorf("app: save token: %w", err)
	}
	s.Client.SetAuthToken(token)
	return nil
}

// Close releases storage.
func (s *Stack) Close() error {
	return s.Store.Close()
}
