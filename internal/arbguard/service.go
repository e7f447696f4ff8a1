// Package arbguard brackets a trading sequence with a balance snapshot and
// a profit assertion. A caller saves its balance before trading and checks
// afterwards that the balance grew by at least a minimum; any sequence that
// fails the check is rejected as a whole.
package arbguard

import (
	"errors"
	"log/slog"
	"time"

	"chainvault/go-backend/internal/authority"
	"chainvault/go-backend/internal/ledger"
	"chainvault/go-backend/internal/platform/metrics"
	"chainvault/go-backend/internal/recordstore"
	"chainvault/go-backend/pkg/models"
)

const (
	Program  = "arbguard"
	stateTag = "state"
)

var (
	ErrStateNotFound    = errors.New("arb state not found")
	ErrBalanceUnderflow = errors.New("balance fell below the snapshot")
	ErrNotProfitable    = errors.New("profit below the required minimum")
)

// State is one owner's balance snapshot. Saving again overwrites it.
type State struct {
	Address      models.Address `json:"address"`
	Owner        models.Address `json:"owner"`
	Asset        models.AssetID `json:"asset"`
	SavedBalance uint64         `json:"saved_balance"`
	Bump         uint8          `json:"bump"`
	SavedAt      time.Time      `json:"saved_at"`
}

type Service struct {
	ledger *ledger.Ledger
	states *recordstore.Store[State]
	log    *slog.Logger
}

func NewService(l *ledger.Ledger, states *recordstore.Store[State]) *Service {
	return &Service{ledger: l, states: states, log: slog.Default()}
}

func (s *Service) stateAddress(owner models.Address) (models.Address, uint8, error) {
	return authority.Derive(s.ledger.Program(), authority.NewSeed(stateTag, owner[:]))
}

// Get returns the live snapshot for an owner.
func (s *Service) Get(owner models.Address) (State, error) {
	addr, _, err := s.stateAddress(owner)
	if err != nil {
		return State{}, err
	}
	st, ok := s.states.Get(addr)
	if !ok {
		return State{}, ErrStateNotFound
	}
	return st, nil
}

// balanceOf reads the owner's balance in the tracked asset: the identity
// account for native, the associated account otherwise.
func (s *Service) balanceOf(owner models.Address, asset models.AssetID) (uint64, error) {
	addr := owner
	if asset != models.NativeAsset {
		addr = ledger.AssociatedAddress(owner, asset)
	}
	return s.ledger.Balance(addr)
}

// SaveBalance snapshots the owner's current balance in the given asset,
// creating the state record on first use.
func (s *Service) SaveBalance(owner models.Address, asset models.AssetID) (State, error) {
	addr, bump, err := s.stateAddress(owner)
	if err != nil {
		return State{}, err
	}

	var st State
	err = s.ledger.Execute(func(txn *ledger.Txn) error {
		// The balance snapshots from inside the atomic unit, not from an
		// earlier read that a concurrent transfer could invalidate.
		balAddr := owner
		if asset != models.NativeAsset {
			balAddr = ledger.AssociatedAddress(owner, asset)
		}
		bal, err := txn.Balance(balAddr)
		if err != nil {
			return err
		}
		st = State{
			Address:      addr,
			Owner:        owner,
			Asset:        asset,
			SavedBalance: bal,
			Bump:         bump,
			SavedAt:      time.Now().UTC(),
		}
		if _, exists := s.states.Get(addr); !exists {
			if err := txn.CreateAccount(addr, models.NativeAsset, addr, owner, true); err != nil {
				return err
			}
		}
		s.states.StagePut(txn, addr, st)
		return nil
	})
	if err != nil {
		metrics.CountFailure(Program, "save_balance")
		return State{}, err
	}
	s.log.Info("balance saved", "owner", owner.Short(), "asset", string(asset), "balance", st.SavedBalance)
	return st, nil
}

// CheckProfit asserts that the owner's balance grew by at least minProfit
// since the last snapshot and returns the realized profit. The subtraction
// is checked: a balance below the snapshot fails rather than wrapping.
func (s *Service) CheckProfit(owner models.Address, minProfit uint64) (uint64, error) {
	st, err := s.Get(owner)
	if err != nil {
		return 0, err
	}
	cur, err := s.balanceOf(owner, st.Asset)
	if err != nil {
		return 0, err
	}
	if cur < st.SavedBalance {
		metrics.CountFailure(Program, "underflow")
		return 0, ErrBalanceUnderflow
	}
	profit := cur - st.SavedBalance
	if profit < minProfit {
		metrics.CountFailure(Program, "not_profitable")
		return profit, ErrNotProfitable
	}
	s.log.Info("profit check passed", "owner", owner.Short(), "profit", profit)
	return profit, nil
}

// CloseState removes the snapshot record and refunds its storage deposit.
func (s *Service) CloseState(owner models.Address) error {
	err := s.ledger.Execute(func(txn *ledger.Txn) error {
		st, err := s.Get(owner)
		if err != nil {
			return err
		}
		if err := txn.CloseAccount(st.Address, owner); err != nil {
			return err
		}
		s.states.StageDelete(txn, st.Address)
		return nil
	})
	if err != nil {
		metrics.CountFailure(Program, "close")
		return err
	}
	s.log.Info("arb state closed", "owner", owner.Short())
	return nil
}
