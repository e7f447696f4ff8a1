// Package custodyserver assembles a running daemon out of the config,
// ledger, record stores, program services, and the RPC surface.
package custodyserver

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"chainvault/go-backend/internal/amm"
	"chainvault/go-backend/internal/arbguard"
	"chainvault/go-backend/internal/authority"
	"chainvault/go-backend/internal/config"
	"chainvault/go-backend/internal/escrow"
	"chainvault/go-backend/internal/keyring"
	"chainvault/go-backend/internal/ledger"
	"chainvault/go-backend/internal/marketplace"
	"chainvault/go-backend/internal/platform/ledgerlog"
	"chainvault/go-backend/internal/recordstore"
	"chainvault/go-backend/internal/rpc"
	"chainvault/go-backend/internal/staking"
	"chainvault/go-backend/internal/vault"
	"chainvault/go-backend/pkg/models"
)

const treasuryTag = "platform-treasury"

type Server struct {
	cfg config.Config
	rpc *rpc.Server
	log *slog.Logger
}

// New loads configuration and wires every component. Persistence switches
// on purely from config: no snapshot path means a fully in-memory daemon.
func New(configPath string) (*Server, error) {
	cfg := config.LoadFromPath(configPath)

	log := ledgerlog.New(os.Stderr, cfg.Logging.LogLevel())
	slog.SetDefault(log)

	program := programAddress(cfg.Ledger.ProgramSeed)
	l, err := buildLedger(cfg.Ledger, program)
	if err != nil {
		return nil, fmt.Errorf("build ledger: %w", err)
	}

	escrowRecords, err := store[escrow.Record](cfg.Ledger, "escrow.json")
	if err != nil {
		return nil, err
	}
	vaultRecords, err := store[vault.State](cfg.Ledger, "vaults.json")
	if err != nil {
		return nil, err
	}
	markets, err := store[marketplace.Marketplace](cfg.Ledger, "markets.json")
	if err != nil {
		return nil, err
	}
	listings, err := store[marketplace.Listing](cfg.Ledger, "listings.json")
	if err != nil {
		return nil, err
	}
	stakeConfig, err := store[staking.Config](cfg.Ledger, "stake_config.json")
	if err != nil {
		return nil, err
	}
	stakeUsers, err := store[staking.User](cfg.Ledger, "stake_users.json")
	if err != nil {
		return nil, err
	}
	stakes, err := store[staking.Stake](cfg.Ledger, "stakes.json")
	if err != nil {
		return nil, err
	}
	pools, err := store[amm.Config](cfg.Ledger, "pools.json")
	if err != nil {
		return nil, err
	}
	arbStates, err := store[arbguard.State](cfg.Ledger, "arb_states.json")
	if err != nil {
		return nil, err
	}

	treasury, _, err := authority.Derive(program, authority.NewSeed(treasuryTag))
	if err != nil {
		return nil, fmt.Errorf("derive treasury: %w", err)
	}

	services := rpc.Services{
		Ledger:      l,
		Vault:       vault.NewService(l, vaultRecords),
		Escrow:      escrow.NewService(l, escrowRecords, treasury),
		Marketplace: marketplace.NewService(l, markets, listings),
		Staking:     staking.NewService(l, stakeConfig, stakeUsers, stakes),
		AMM:         amm.NewService(l, pools),
		ArbGuard:    arbguard.NewService(l, arbStates),
		Keyring:     keyring.New(),
	}
	return &Server{
		cfg: cfg,
		rpc: rpc.NewServer(cfg.Server, services, log),
		log: log,
	}, nil
}

// Run serves RPC until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.rpc.Serve(ctx)
}

// programAddress turns the deployment seed into the program identity every
// derived authority hangs off. Same seed, same program, same addresses.
func programAddress(seed string) models.Address {
	return models.Address(sha256.Sum256([]byte("chainvault-program|" + seed)))
}

func buildLedger(cfg config.LedgerConfig, program models.Address) (*ledger.Ledger, error) {
	if cfg.SnapshotPath == "" {
		return ledger.New(program), nil
	}
	return ledger.NewPersistent(program, cfg.SnapshotPath, cfg.Passphrase)
}

func store[T any](cfg config.LedgerConfig, file string) (*recordstore.Store[T], error) {
	if cfg.RecordsDir == "" {
		return recordstore.New[T](), nil
	}
	if err := os.MkdirAll(cfg.RecordsDir, 0o700); err != nil {
		return nil, fmt.Errorf("create records dir: %w", err)
	}
	s, err := recordstore.Open[T](filepath.Join(cfg.RecordsDir, file), cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file, err)
	}
	return s, nil
}
