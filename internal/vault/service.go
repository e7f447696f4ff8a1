// Package vault implements a per-owner native-asset vault: funds sit behind
// a derived authority and only the initializing owner can move them.
package vault

import (
	"errors"
	"log/slog"
	"time"

	"chainvault/go-backend/internal/authority"
	"chainvault/go-backend/internal/ledger"
	"chainvault/go-backend/internal/platform/metrics"
	"chainvault/go-backend/internal/recordstore"
	"chainvault/go-backend/internal/settlement"
	"chainvault/go-backend/pkg/models"
)

const (
	Program  = "vault"
	stateTag = "state"
	vaultTag = "vault"
)

var (
	ErrVaultNotFound = errors.New("vault not found")
	ErrVaultExists   = errors.New("vault already initialized for this owner")
	ErrZeroAmount    = errors.New("vault amount must be positive")
)

// State is the persistent vault record. Both bumps are stored at creation;
// later requests verify rather than re-search. The vault address derives
// from the state record's address, not the owner, matching the custody
// seed invariant.
type State struct {
	Address   models.Address `json:"address"`
	Owner     models.Address `json:"owner"`
	Vault     models.Address `json:"vault"`
	StateBump uint8          `json:"state_bump"`
	VaultBump uint8          `json:"vault_bump"`
	Phase     models.Phase   `json:"phase"`
	CreatedAt time.Time      `json:"created_at"`
}

func (st State) custody() settlement.Custody {
	return settlement.Custody{
		Address: st.Vault,
		Asset:   models.NativeAsset,
		Seed:    authority.NewSeed(vaultTag, st.Address[:]),
		Bump:    st.VaultBump,
	}
}

type Service struct {
	ledger  *ledger.Ledger
	records *recordstore.Store[State]
	log     *slog.Logger
}

func NewService(l *ledger.Ledger, records *recordstore.Store[State]) *Service {
	return &Service{ledger: l, records: records, log: slog.Default()}
}

// StateAddress derives the state record address for an owner.
func (s *Service) StateAddress(owner models.Address) (models.Address, error) {
	addr, _, err := authority.Derive(s.ledger.Program(), authority.NewSeed(stateTag, owner[:]))
	return addr, err
}

// Get returns the live vault state for an owner.
func (s *Service) Get(owner models.Address) (State, error) {
	addr, err := s.StateAddress(owner)
	if err != nil {
		return State{}, err
	}
	st, ok := s.records.Get(addr)
	if !ok {
		return State{}, ErrVaultNotFound
	}
	return st, nil
}

// Initialize creates the state record and its empty vault account, charging
// both storage deposits to the owner.
func (s *Service) Initialize(owner models.Address) (State, error) {
	stateSeed := authority.NewSeed(stateTag, owner[:])
	stateAddr, stateBump, err := authority.Derive(s.ledger.Program(), stateSeed)
	if err != nil {
		return State{}, err
	}
	vaultSeed := authority.NewSeed(vaultTag, stateAddr[:])
	vaultAddr, vaultBump, err := authority.Derive(s.ledger.Program(), vaultSeed)
	if err != nil {
		return State{}, err
	}

	st := State{
		Address:   stateAddr,
		Owner:     owner,
		Vault:     vaultAddr,
		StateBump: stateBump,
		VaultBump: vaultBump,
		Phase:     models.PhaseOpen,
		CreatedAt: time.Now().UTC(),
	}
	err = s.ledger.Execute(func(txn *ledger.Txn) error {
		if _, ok := s.records.Get(stateAddr); ok {
			return ErrVaultExists
		}
		if err := txn.CreateAccount(stateAddr, models.NativeAsset, stateAddr, owner, true); err != nil {
			return err
		}
		if err := txn.CreateAccount(vaultAddr, models.NativeAsset, vaultAddr, owner, true); err != nil {
			return err
		}
		s.records.StagePut(txn, stateAddr, st)
		return nil
	})
	if err != nil {
		metrics.CountFailure(Program, "initialize")
		return State{}, err
	}
	s.log.Info("vault initialized", "owner", owner.Short(), "vault", vaultAddr.Short())
	return st, nil
}

// Deposit moves the owner's native funds into the vault.
func (s *Service) Deposit(owner models.Address, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	err := s.ledger.Execute(func(txn *ledger.Txn) error {
		st, err := s.Get(owner)
		if err != nil {
			return err
		}
		if err := settlement.EnsureOpen(st.Phase); err != nil {
			return err
		}
		return txn.Transfer(models.NativeAsset, owner, st.Vault, amount, owner)
	})
	if err != nil {
		metrics.CountFailure(Program, "deposit")
		return err
	}
	s.log.Info("vault deposit", "owner", owner.Short(), "amount", amount)
	return nil
}

// Withdraw moves vault funds back to the owner, signed by re-deriving the
// vault authority from the stored seed and bump.
func (s *Service) Withdraw(owner models.Address, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	err := s.ledger.Execute(func(txn *ledger.Txn) error {
		st, err := s.Get(owner)
		if err != nil {
			return err
		}
		if err := settlement.EnsureOpen(st.Phase); err != nil {
			return err
		}
		cust := st.custody()
		if err := cust.Verify(txn); err != nil {
			return err
		}
		return txn.TransferWithAuthority(models.NativeAsset, st.Vault, owner, amount, cust.Seed, cust.Bump)
	})
	if err != nil {
		metrics.CountFailure(Program, "withdraw")
		return err
	}
	s.log.Info("vault withdraw", "owner", owner.Short(), "amount", amount)
	return nil
}

// Close drains any remaining balance to the owner, closes the vault and the
// state record, and refunds both storage deposits.
func (s *Service) Close(owner models.Address) error {
	err := s.ledger.Execute(func(txn *ledger.Txn) error {
		st, err := s.Get(owner)
		if err != nil {
			return err
		}
		if err := settlement.EnsureOpen(st.Phase); err != nil {
			return err
		}
		if err := settlement.Close(txn, st.custody(), owner, owner); err != nil {
			return err
		}
		if err := txn.CloseAccount(st.Address, owner); err != nil {
			return err
		}
		st.Phase = models.PhaseCancelled
		s.records.StagePut(txn, st.Address, st)
		return nil
	})
	if err != nil {
		metrics.CountFailure(Program, "close")
		return err
	}
	s.log.Info("vault closed", "owner", owner.Short())
	return nil
}
