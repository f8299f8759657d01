package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/lox/settled/cmd/settled/shared"
	"github.com/lox/settled/internal/config"
	"github.com/lox/settled/internal/rake"
	"github.com/lox/settled/internal/server"
	"github.com/lox/settled/internal/settlement"
	"github.com/lox/settled/internal/signer"
	"github.com/lox/settled/internal/store/sqlite"
)

// ServeCmd runs the engine: recovery sweeps first, then the ops server.
type ServeCmd struct {
	Config string `kong:"default='settled.hcl',help='Path to HCL config file'"`
	Addr   string `kong:"help='Override ops server address'"`
	Pretty bool   `kong:"help='Pretty console logging instead of JSON'"`
}

func (c *ServeCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Address = c.Addr
	}

	logger := shared.SetupStructuredLogger(cfg.Server.LogLevel)
	if c.Pretty {
		logger = shared.SetupLogger(cfg.Server.LogLevel)
	}

	store, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	signerClient, err := signer.New(signer.Config{
		URL:     cfg.Signer.URL,
		APIKey:  cfg.Signer.APIKey,
		Timeout: cfg.Signer.Timeout(),
	}, logger)
	if err != nil {
		return err
	}

	rakeCfg := rake.Config{
		WalletAddress: cfg.Rake.WalletAddress,
		Percent:       cfg.Rake.Percent,
		MinPotRaw:     cfg.Rake.MinPotRaw,
	}
	orch := settlement.NewOrchestrator(signerClient, store, rakeCfg, logger)
	recoverer := settlement.NewRecoverer(store, orch, logger)

	logger.Info().
		Str("addr", cfg.Server.Address).
		Str("store", cfg.Store.Path).
		Str("signer", cfg.Signer.URL).
		Bool("rake_enabled", rakeCfg.WalletAddress != "").
		Str("rake_wallet", rakeCfg.MaskedWallet()).
		Float64("rake_percent", rakeCfg.Percent).
		Msg("Starting settlement engine")

	ctx := shared.SetupSignalHandler(logger)

	// Close out work left by a previous process before accepting any live
	// settlement traffic.
	stats, err := recoverer.RecoverOrphanedMatches(ctx)
	if err != nil {
		return err
	}
	processed, err := recoverer.ProcessPendingSettlements(ctx)
	if err != nil {
		return err
	}
	logger.Info().
		Int("orphans_recovered", stats.Recovered).
		Int("orphans_failed", stats.Failed).
		Int("pending_flagged", processed).
		Msg("startup recovery sweeps complete")

	srv := server.NewServer(cfg.Server.Address, orch, recoverer, logger)
	orch.SetEventSink(srv.Publish)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}
