// Package server provides the public entry point for initializing the
// Botyard control plane.
//
// It lives in pkg/ (not internal/) so that deployments embedding a real
// chat-network driver can import it and compose the full server around
// their own provider implementation; the OSS binary wires the sandbox
// provider instead.
//
// Usage:
//
//	srv, err := server.New(ctx, myProvider)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/botyard/botyard/internal/api"
	"github.com/botyard/botyard/internal/api/handlers"
	"github.com/botyard/botyard/internal/config"
	"github.com/botyard/botyard/internal/orchestrator"
	"github.com/botyard/botyard/internal/provider"
	"github.com/botyard/botyard/internal/registry"
	"github.com/botyard/botyard/internal/retention"
	"github.com/botyard/botyard/internal/store"
	"github.com/botyard/botyard/internal/telemetry"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized Botyard control plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store.
	Store store.Store

	// Registry owns the live bot sessions.
	Registry *registry.Registry

	// Port is the port the server should listen on.
	Port int

	coordinator   *orchestrator.Coordinator
	janitorCancel context.CancelFunc
	janitorDone   chan struct{}
	shutdownOTEL  func(context.Context) error
}

// New initializes the control plane with configuration from the
// environment and the given account session provider.
func New(ctx context.Context, p provider.Provider) (*Server, error) {
	return NewWithConfig(ctx, config.Load(), p)
}

// NewWithConfig initializes the control plane with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config, p provider.Provider) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore := store.NewMemoryStore(cfg.DataDir)

	reg := registry.New(dataStore, p, cfg.Orchestrator.InviteCooldown)

	assigner := orchestrator.NewAssigner(dataStore, reg)
	pacer := orchestrator.NewPacer(dataStore, reg)
	runner := orchestrator.NewRunner(dataStore, reg, cfg.Orchestrator)
	coord := orchestrator.NewCoordinator(cfg.Orchestrator, assigner, pacer, runner)
	coord.Start(ctx)

	archiver := retention.NewLocalFileArchiver(cfg.Retention.ArchiveDir, cfg.Retention.Compress)
	janitor := retention.NewJanitor(dataStore, archiver, cfg.Retention.Interval, cfg.Retention.Window)
	janitorCtx, janitorCancel := context.WithCancel(ctx)
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		janitor.Start(janitorCtx)
	}()

	h := handlers.New(dataStore, reg)
	router := api.NewRouter(cfg, h)

	log.Info().Msg("Control plane initialized")

	return &Server{
		Handler:       router,
		Store:         dataStore,
		Registry:      reg,
		Port:          cfg.Port,
		coordinator:   coord,
		janitorCancel: janitorCancel,
		janitorDone:   janitorDone,
		shutdownOTEL:  shutdown,
	}, nil
}

// Shutdown stops the periodic loops, disconnects all sessions, flushes
// telemetry, and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	s.coordinator.Stop()
	s.janitorCancel()
	<-s.janitorDone
	s.Registry.Shutdown(ctx)
	if err := s.shutdownOTEL(ctx); err != nil {
		log.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
	if err := s.Store.Close(); err != nil {
		log.Warn().Err(err).Msg("Store close failed")
	}
}
