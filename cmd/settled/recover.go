package main

import (
	"context"
	"time"

	"github.com/lox/settled/cmd/settled/shared"
	"github.com/lox/settled/internal/config"
	"github.com/lox/settled/internal/rake"
	"github.com/lox/settled/internal/settlement"
	"github.com/lox/settled/internal/signer"
	"github.com/lox/settled/internal/store/sqlite"
)

// RecoverCmd runs both recovery sweeps against the configured store and
// signer, then exits. Useful when the engine itself is down but orphaned
// funds need to move.
type RecoverCmd struct {
	Config  string        `kong:"default='settled.hcl',help='Path to HCL config file'"`
	Grace   time.Duration `kong:"default='5m',help='Orphan grace period'"`
	Timeout time.Duration `kong:"default='10m',help='Overall sweep timeout'"`
}

func (c *RecoverCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	logger := shared.SetupLogger(cfg.Server.LogLevel)

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
	recoverer := settlement.NewRecoverer(store, orch, logger, settlement.WithGracePeriod(c.Grace))

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	stats, err := recoverer.RecoverOrphanedMatches(ctx)
	if err != nil {
		return err
	}
	processed, err := recoverer.ProcessPendingSettlements(ctx)
	if err != nil {
		return err
	}

	logger.Info().
		Int("recovered", stats.Recovered).
		Int("failed", stats.Failed).
		Int("total", stats.Total).
		Int("pending_flagged", processed).
		Msg("recovery sweeps finished")
	return nil
}
