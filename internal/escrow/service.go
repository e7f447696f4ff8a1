// Package escrow implements the make/take/refund exchange: a maker parks an
// offered asset behind a derived custody authority, a taker settles the
// swap atomically, or the maker reclaims the deposit.
package escrow

import (
	"errors"
	"fmt"
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
	Program    = "escrow"
	recordTag  = "escrow"
	custodyTag = "escrow-custody"
)

var (
	ErrRecordNotFound = errors.New("escrow record not found")
	ErrRecordExists   = errors.New("escrow record already exists for this seed")
	ErrZeroAmount     = errors.New("escrow amounts must be positive")
	ErrNotMaker       = errors.New("only the maker may refund")
)

// Record is the persistent state of one escrow. The custody seed derives
// from the record's own address, never from the maker directly, so one
// maker can hold many escrows without collision.
type Record struct {
	Address      models.Address `json:"address"`
	Maker        models.Address `json:"maker"`
	Taker        models.Address `json:"taker,omitempty"`
	DepositAsset models.AssetID `json:"deposit_asset"`
	ReceiveAsset models.AssetID `json:"receive_asset"`
	Deposit      uint64         `json:"deposit"`
	Receive      uint64         `json:"receive"`
	FeeBps       uint16         `json:"fee_bps"`
	Phase        models.Phase   `json:"phase"`
	Seed         uint64         `json:"seed"`
	Bump         uint8          `json:"bump"`
	Custody      models.Address `json:"custody"`
	CustodyBump  uint8          `json:"custody_bump"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (r Record) custody() settlement.Custody {
	return settlement.Custody{
		Address: r.Custody,
		Asset:   r.DepositAsset,
		Seed:    authority.NewSeed(custodyTag, r.Address[:]),
		Bump:    r.CustodyBump,
	}
}

type Service struct {
	ledger   *ledger.Ledger
	records  *recordstore.Store[Record]
	treasury models.Address
	log      *slog.Logger
}

func NewService(l *ledger.Ledger, records *recordstore.Store[Record], treasury models.Address) *Service {
	return &Service{ledger: l, records: records, treasury: treasury, log: slog.Default()}
}

// Get returns the record at addr.
func (s *Service) Get(addr models.Address) (Record, error) {
	rec, ok := s.records.Get(addr)
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

// Make opens an escrow: derives the record and custody addresses, funds the
// custody account with the offered amount, and persists the record Open.
// This is the only transition that moves funds into custody.
func (s *Service) Make(maker models.Address, seedValue uint64, depositAsset, receiveAsset models.AssetID, depositAmount, receiveAmount uint64, feeBps uint16) (Record, error) {
	if depositAmount == 0 || receiveAmount == 0 {
		return Record{}, ErrZeroAmount
	}
	if feeBps > settlement.MaxFeeBps {
		return Record{}, settlement.ErrFeeRate
	}

	recordSeed := authority.NewSeed(recordTag, maker[:], authority.Uint64ID(seedValue))
	recordAddr, recordBump, err := authority.Derive(s.ledger.Program(), recordSeed)
	if err != nil {
		return Record{}, err
	}
	custodySeed := authority.NewSeed(custodyTag, recordAddr[:])
	custodyAddr, custodyBump, err := authority.Derive(s.ledger.Program(), custodySeed)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		Address:      recordAddr,
		Maker:        maker,
		DepositAsset: depositAsset,
		ReceiveAsset: receiveAsset,
		Deposit:      depositAmount,
		Receive:      receiveAmount,
		FeeBps:       feeBps,
		Phase:        models.PhaseOpen,
		Seed:         seedValue,
		Bump:         recordBump,
		Custody:      custodyAddr,
		CustodyBump:  custodyBump,
		CreatedAt:    time.Now().UTC(),
	}
	err = s.ledger.Execute(func(txn *ledger.Txn) error {
		if _, ok := s.records.Get(recordAddr); ok {
			return ErrRecordExists
		}
		// The record account holds no balance; it exists so the record's own
		// storage deposit is charged now and refunded at close.
		if err := txn.CreateAccount(recordAddr, models.NativeAsset, recordAddr, maker, true); err != nil {
			return err
		}
		if err := txn.CreateAccount(custodyAddr, depositAsset, custodyAddr, maker, true); err != nil {
			return err
		}
		from := ledger.AssociatedAddress(maker, depositAsset)
		if err := txn.Transfer(depositAsset, from, custodyAddr, depositAmount, maker); err != nil {
			return err
		}
		s.records.StagePut(txn, recordAddr, rec)
		return nil
	})
	if err != nil {
		metrics.CountFailure(Program, "make")
		return Record{}, err
	}
	s.log.Info("escrow opened", "record", recordAddr.Short(), "deposit", depositAmount, "receive", receiveAmount)
	return rec, nil
}

// Take settles an open escrow: the taker pays the fee and the net receive
// amount, the custodied deposit releases to the taker under the derived
// authority, and custody closes with the storage deposit refunded to the
// maker.
func (s *Service) Take(recordAddr, taker models.Address) (models.SettlementReceipt, error) {
	var receipt models.SettlementReceipt
	err := s.ledger.Execute(func(txn *ledger.Txn) error {
		// Preconditions read live state inside the atomic unit; a raced
		// second take fails here on phase, not deeper in the transfers.
		rec, ok := s.records.Get(recordAddr)
		if !ok {
			return ErrRecordNotFound
		}
		if err := settlement.EnsureOpen(rec.Phase); err != nil {
			metrics.CountFailure(Program, "phase")
			return err
		}
		cust := rec.custody()
		if err := cust.Verify(txn); err != nil {
			return err
		}
		bal, err := txn.Balance(rec.Custody)
		if err != nil {
			return err
		}
		if bal < rec.Deposit {
			return fmt.Errorf("custody balance: %w", ledger.ErrInsufficientFunds)
		}
		fee, net, err := settlement.FeeSplit(rec.Receive, rec.FeeBps)
		if err != nil {
			return err
		}

		st := settlement.Begin(txn, Program, rec.Address)
		st.Split(rec.Receive, fee, net)

		takerFrom := ledger.AssociatedAddress(taker, rec.ReceiveAsset)
		makerTo, err := txn.EnsureAssociated(rec.Maker, rec.ReceiveAsset, taker)
		if err != nil {
			return err
		}
		if fee > 0 {
			treasuryTo, err := txn.EnsureAssociated(s.treasury, rec.ReceiveAsset, taker)
			if err != nil {
				return err
			}
			if err := st.Pay("fee", rec.ReceiveAsset, takerFrom, treasuryTo, fee, taker); err != nil {
				return err
			}
		}
		if err := st.Pay("principal", rec.ReceiveAsset, takerFrom, makerTo, net, taker); err != nil {
			return err
		}
		takerTo, err := txn.EnsureAssociated(taker, rec.DepositAsset, taker)
		if err != nil {
			return err
		}
		if err := st.Release("custody", cust, takerTo, rec.Deposit); err != nil {
			return err
		}
		residualTo := ledger.AssociatedAddress(rec.Maker, rec.DepositAsset)
		if err := settlement.Close(txn, cust, residualTo, rec.Maker); err != nil {
			return err
		}
		// Record account closes only after custody close succeeded.
		if err := txn.CloseAccount(rec.Address, rec.Maker); err != nil {
			return err
		}

		rec.Taker = taker
		rec.Phase = models.PhaseSettled
		s.records.StagePut(txn, rec.Address, rec)
		receipt = st.Receipt()
		return nil
	})
	if err != nil {
		metrics.CountFailure(Program, "take")
		return models.SettlementReceipt{}, err
	}
	metrics.ObserveSettlement(receipt)
	s.log.Info("escrow settled", "record", recordAddr.Short(), "taker", taker.Short(), "gross", receipt.Gross, "fee", receipt.Fee)
	return receipt, nil
}

// Refund cancels an open escrow. Maker-only: the full custody balance and
// the storage deposit return to the maker.
func (s *Service) Refund(recordAddr, caller models.Address) error {
	err := s.ledger.Execute(func(txn *ledger.Txn) error {
		rec, ok := s.records.Get(recordAddr)
		if !ok {
			return ErrRecordNotFound
		}
		if caller != rec.Maker {
			return ErrNotMaker
		}
		if err := settlement.EnsureOpen(rec.Phase); err != nil {
			metrics.CountFailure(Program, "phase")
			return err
		}
		cust := rec.custody()
		residualTo := ledger.AssociatedAddress(rec.Maker, rec.DepositAsset)
		if err := settlement.Close(txn, cust, residualTo, rec.Maker); err != nil {
			return err
		}
		if err := txn.CloseAccount(rec.Address, rec.Maker); err != nil {
			return err
		}
		rec.Phase = models.PhaseCancelled
		s.records.StagePut(txn, rec.Address, rec)
		return nil
	})
	if err != nil {
		metrics.CountFailure(Program, "refund")
		return err
	}
	s.log.Info("escrow refunded", "record", recordAddr.Short())
	return nil
}
