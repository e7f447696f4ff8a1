package vault

import (
	"errors"
	"testing"

	"chainvault/go-backend/internal/ledger"
	"chainvault/go-backend/internal/recordstore"
	"chainvault/go-backend/internal/settlement"
	"chainvault/go-backend/pkg/models"
)

func testAddr(tag string) models.Address {
	var a models.Address
	copy(a[:], tag)
	return a
}

func newService(t *testing.T) (*ledger.Ledger, *Service, models.Address) {
	t.Helper()
	l := ledger.New(testAddr("vault-program"))
	owner := testAddr("owner")
	if err := l.Airdrop(owner, 10*ledger.StorageDeposit); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}
	return l, NewService(l, recordstore.New[State]()), owner
}

func TestInitializeDepositWithdraw(t *testing.T) {
	l, svc, owner := newService(t)
	st, err := svc.Initialize(owner)
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if err := svc.Deposit(owner, 500); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if bal, _ := l.Balance(st.Vault); bal != 500 {
		t.Fatalf("vault balance = %d, want 500", bal)
	}
	if err := svc.Withdraw(owner, 200); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if bal, _ := l.Balance(st.Vault); bal != 300 {
		t.Fatalf("vault balance = %d, want 300", bal)
	}
}

func TestInitializeTwiceFails(t *testing.T) {
	_, svc, owner := newService(t)
	if _, err := svc.Initialize(owner); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if _, err := svc.Initialize(owner); !errors.Is(err, ErrVaultExists) {
		t.Fatalf("expected ErrVaultExists, got %v", err)
	}
}

func TestWithdrawMoreThanBalanceFails(t *testing.T) {
	_, svc, owner := newService(t)
	if _, err := svc.Initialize(owner); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if err := svc.Deposit(owner, 100); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := svc.Withdraw(owner, 101); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestCloseDrainsAndRefundsExactly(t *testing.T) {
	l, svc, owner := newService(t)
	before, _ := l.Balance(owner)

	st, err := svc.Initialize(owner)
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if err := svc.Deposit(owner, 1_000); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := svc.Close(owner); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	after, _ := l.Balance(owner)
	if after != before {
		t.Fatalf("owner balance = %d, want exact pre-initialize %d", after, before)
	}
	if _, err := l.Account(st.Vault); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("vault account should be closed, got %v", err)
	}
	if _, err := l.Account(st.Address); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("state account should be closed, got %v", err)
	}
}

func TestClosedVaultRejectsOperations(t *testing.T) {
	_, svc, owner := newService(t)
	if _, err := svc.Initialize(owner); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if err := svc.Close(owner); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := svc.Deposit(owner, 1); !errors.Is(err, settlement.ErrInvalidPhase) {
		t.Fatalf("deposit after close: expected ErrInvalidPhase, got %v", err)
	}
	if err := svc.Withdraw(owner, 1); !errors.Is(err, settlement.ErrInvalidPhase) {
		t.Fatalf("withdraw after close: expected ErrInvalidPhase, got %v", err)
	}
	if err := svc.Close(owner); !errors.Is(err, settlement.ErrInvalidPhase) {
		t.Fatalf("double close: expected ErrInvalidPhase, got %v", err)
	}
}
