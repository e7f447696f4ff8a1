package settlement

import (
	"errors"
	"math"
	"testing"

	"chainvault/go-backend/internal/authority"
	"chainvault/go-backend/internal/ledger"
	"chainvault/go-backend/pkg/models"
)

func TestFeeSplitExact(t *testing.T) {
	cases := []struct {
		gross   uint64
		bps     uint16
		wantFee uint64
	}{
		{10_000, 250, 250},
		{10_000, 0, 0},
		{10_000, 10_000, 10_000},
		{1, 9_999, 0},
		{999, 333, 33},
		{math.MaxUint64, 10_000, math.MaxUint64},
		{math.MaxUint64, 1, math.MaxUint64 / 10_000},
	}
	for _, tc := range cases {
		fee, net, err := FeeSplit(tc.gross, tc.bps)
		if err != nil {
			t.Fatalf("FeeSplit(%d, %d) failed: %v", tc.gross, tc.bps, err)
		}
		if fee != tc.wantFee {
			t.Fatalf("FeeSplit(%d, %d) fee = %d, want %d", tc.gross, tc.bps, fee, tc.wantFee)
		}
		if fee+net != tc.gross {
			t.Fatalf("FeeSplit(%d, %d) leaks: fee %d + net %d != gross", tc.gross, tc.bps, fee, net)
		}
	}
}

func TestFeeSplitRejectsRateAboveMax(t *testing.T) {
	if _, _, err := FeeSplit(100, MaxFeeBps+1); !errors.Is(err, ErrFeeRate) {
		t.Fatalf("expected ErrFeeRate, got %v", err)
	}
}

func testAddr(tag string) models.Address {
	var a models.Address
	copy(a[:], tag)
	return a
}

func TestCloseSweepsResidualBeforeClosing(t *testing.T) {
	l := ledger.New(testAddr("program"))
	maker := testAddr("maker")
	if err := l.Airdrop(maker, ledger.StorageDeposit+123); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}

	seed := authority.NewSeed("custody", []byte("record"))
	addr, bump, err := authority.Derive(l.Program(), seed)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	custody := Custody{Address: addr, Asset: models.NativeAsset, Seed: seed, Bump: bump}

	err = l.Execute(func(txn *ledger.Txn) error {
		if err := txn.CreateAccount(addr, models.NativeAsset, addr, maker, true); err != nil {
			return err
		}
		return txn.Transfer(models.NativeAsset, maker, addr, 123, maker)
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	err = l.Execute(func(txn *ledger.Txn) error {
		return Close(txn, custody, maker, maker)
	})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	// Residual and storage deposit both land with the maker.
	if bal, _ := l.Balance(maker); bal != ledger.StorageDeposit+123 {
		t.Fatalf("maker balance = %d, want %d", bal, ledger.StorageDeposit+123)
	}
}

func TestCloseRejectsForeignCustody(t *testing.T) {
	l := ledger.New(testAddr("program"))
	maker := testAddr("maker")
	if err := l.Airdrop(maker, ledger.StorageDeposit); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}
	seed := authority.NewSeed("custody", []byte("record"))
	addr, bump, err := authority.Derive(l.Program(), seed)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	err = l.Execute(func(txn *ledger.Txn) error {
		return txn.CreateAccount(addr, models.NativeAsset, addr, maker, true)
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	forged := Custody{
		Address: addr,
		Asset:   models.NativeAsset,
		Seed:    authority.NewSeed("custody", []byte("other-record")),
		Bump:    bump,
	}
	err = l.Execute(func(txn *ledger.Txn) error {
		return Close(txn, forged, maker, maker)
	})
	if !errors.Is(err, authority.ErrAuthorityMismatch) {
		t.Fatalf("expected ErrAuthorityMismatch, got %v", err)
	}
}
