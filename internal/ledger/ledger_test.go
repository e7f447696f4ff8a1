package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"chainvault/go-backend/internal/authority"
	"chainvault/go-backend/pkg/models"
)

func testAddr(tag string) models.Address {
	var a models.Address
	copy(a[:], tag)
	return a
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(testAddr("test-program"))
}

func TestAirdropAndTransfer(t *testing.T) {
	l := newTestLedger(t)
	alice := testAddr("alice")
	bob := testAddr("bob")
	if err := l.Airdrop(alice, 1_000); err != nil {
		t.Fatalf("airdrop alice failed: %v", err)
	}
	if err := l.Airdrop(bob, 0); err != nil {
		t.Fatalf("airdrop bob failed: %v", err)
	}

	err := l.Execute(func(txn *Txn) error {
		return txn.Transfer(models.NativeAsset, alice, bob, 400, alice)
	})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if bal, _ := l.Balance(alice); bal != 600 {
		t.Fatalf("alice balance = %d, want 600", bal)
	}
	if bal, _ := l.Balance(bob); bal != 400 {
		t.Fatalf("bob balance = %d, want 400", bal)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	l := newTestLedger(t)
	alice := testAddr("alice")
	bob := testAddr("bob")
	if err := l.Airdrop(alice, 10); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}
	if err := l.Airdrop(bob, 0); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}
	err := l.Execute(func(txn *Txn) error {
		return txn.Transfer(models.NativeAsset, alice, bob, 11, alice)
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestTransferRequiresOwner(t *testing.T) {
	l := newTestLedger(t)
	alice := testAddr("alice")
	mallory := testAddr("mallory")
	if err := l.Airdrop(alice, 100); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}
	if err := l.Airdrop(mallory, 0); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}
	err := l.Execute(func(txn *Txn) error {
		return txn.Transfer(models.NativeAsset, alice, mallory, 1, mallory)
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCustodyAccountRefusesPlainTransfer(t *testing.T) {
	l := newTestLedger(t)
	maker := testAddr("maker")
	if err := l.Airdrop(maker, StorageDeposit+500); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}

	seed := authority.NewSeed("vault", maker[:])
	custody, bump, err := authority.Derive(l.Program(), seed)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}

	err = l.Execute(func(txn *Txn) error {
		if err := txn.CreateAccount(custody, models.NativeAsset, custody, maker, true); err != nil {
			return err
		}
		return txn.Transfer(models.NativeAsset, maker, custody, 500, maker)
	})
	if err != nil {
		t.Fatalf("fund custody failed: %v", err)
	}

	err = l.Execute(func(txn *Txn) error {
		return txn.Transfer(models.NativeAsset, custody, maker, 500, custody)
	})
	if !errors.Is(err, ErrCustodialAccount) {
		t.Fatalf("expected ErrCustodialAccount, got %v", err)
	}

	err = l.Execute(func(txn *Txn) error {
		return txn.TransferWithAuthority(models.NativeAsset, custody, maker, 500, seed, bump)
	})
	if err != nil {
		t.Fatalf("authority transfer failed: %v", err)
	}
	if bal, _ := l.Balance(custody); bal != 0 {
		t.Fatalf("custody balance = %d, want 0", bal)
	}
}

func TestAuthorityTransferWrongSeedFails(t *testing.T) {
	l := newTestLedger(t)
	maker := testAddr("maker")
	if err := l.Airdrop(maker, StorageDeposit+100); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}
	seed := authority.NewSeed("vault", maker[:])
	custody, bump, err := authority.Derive(l.Program(), seed)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	err = l.Execute(func(txn *Txn) error {
		if err := txn.CreateAccount(custody, models.NativeAsset, custody, maker, true); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	wrong := authority.NewSeed("vault", []byte("someone-else"))
	err = l.Execute(func(txn *Txn) error {
		return txn.TransferWithAuthority(models.NativeAsset, custody, maker, 0, wrong, bump)
	})
	if !errors.Is(err, authority.ErrAuthorityMismatch) {
		t.Fatalf("expected ErrAuthorityMismatch, got %v", err)
	}
}

func TestCloseAccountRefundsDeposit(t *testing.T) {
	l := newTestLedger(t)
	maker := testAddr("maker")
	if err := l.Airdrop(maker, StorageDeposit); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}
	acct := testAddr("held-account")
	err := l.Execute(func(txn *Txn) error {
		return txn.CreateAccount(acct, models.NativeAsset, maker, maker, false)
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if bal, _ := l.Balance(maker); bal != 0 {
		t.Fatalf("deposit not debited, maker balance = %d", bal)
	}

	err = l.Execute(func(txn *Txn) error {
		return txn.CloseAccount(acct, maker)
	})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if bal, _ := l.Balance(maker); bal != StorageDeposit {
		t.Fatalf("deposit not refunded, maker balance = %d", bal)
	}
	if _, err := l.Account(acct); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("account should be gone, got %v", err)
	}
}

func TestCloseAccountNonZeroBalanceFails(t *testing.T) {
	l := newTestLedger(t)
	maker := testAddr("maker")
	if err := l.Airdrop(maker, StorageDeposit+10); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}
	acct := testAddr("held-account")
	err := l.Execute(func(txn *Txn) error {
		if err := txn.CreateAccount(acct, models.NativeAsset, maker, maker, false); err != nil {
			return err
		}
		return txn.Transfer(models.NativeAsset, maker, acct, 10, maker)
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	err = l.Execute(func(txn *Txn) error {
		return txn.CloseAccount(acct, maker)
	})
	if !errors.Is(err, ErrNonZeroBalanceOnClose) {
		t.Fatalf("expected ErrNonZeroBalanceOnClose, got %v", err)
	}
}

func TestExecuteRollsBackOnError(t *testing.T) {
	l := newTestLedger(t)
	alice := testAddr("alice")
	bob := testAddr("bob")
	if err := l.Airdrop(alice, 100); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}
	if err := l.Airdrop(bob, 0); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}

	err := l.Execute(func(txn *Txn) error {
		if err := txn.Transfer(models.NativeAsset, alice, bob, 60, alice); err != nil {
			return err
		}
		// Second leg overdraws; the first leg must not stick.
		return txn.Transfer(models.NativeAsset, alice, bob, 60, alice)
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if bal, _ := l.Balance(alice); bal != 100 {
		t.Fatalf("alice balance = %d, want untouched 100", bal)
	}
	if bal, _ := l.Balance(bob); bal != 0 {
		t.Fatalf("bob balance = %d, want untouched 0", bal)
	}
}

func TestMintToRequiresAuthority(t *testing.T) {
	l := newTestLedger(t)
	admin := testAddr("admin")
	buyer := testAddr("buyer")
	if err := l.Airdrop(admin, 2*StorageDeposit); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}

	seed := authority.NewSeed("rewards", admin[:])
	mintAuth, bump, err := authority.Derive(l.Program(), seed)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	asset := models.AssetID("rewards")
	tokenAcct := testAddr("buyer-rewards")
	err = l.Execute(func(txn *Txn) error {
		if err := txn.RegisterMint(asset, mintAuth, 6); err != nil {
			return err
		}
		return txn.CreateAccount(tokenAcct, asset, buyer, admin, false)
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	err = l.Execute(func(txn *Txn) error {
		return txn.MintTo(asset, tokenAcct, 5, authority.NewSeed("rewards", buyer[:]), bump)
	})
	if !errors.Is(err, authority.ErrAuthorityMismatch) {
		t.Fatalf("expected ErrAuthorityMismatch, got %v", err)
	}

	err = l.Execute(func(txn *Txn) error {
		return txn.MintTo(asset, tokenAcct, 5, seed, bump)
	})
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if bal, _ := l.Balance(tokenAcct); bal != 5 {
		t.Fatalf("reward balance = %d, want 5", bal)
	}
}

type fakeRecordWrite struct {
	prepareErr error
	prepared   bool
	committed  bool
	aborted    bool
}

func (w *fakeRecordWrite) Prepare() error {
	w.prepared = true
	return w.prepareErr
}
func (w *fakeRecordWrite) Commit() { w.committed = true }
func (w *fakeRecordWrite) Abort()  { w.aborted = true }

func TestStagedWriteCommitsWithLedger(t *testing.T) {
	l := newTestLedger(t)
	alice := testAddr("alice")
	if err := l.Airdrop(alice, 10); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}
	w := &fakeRecordWrite{}
	err := l.Execute(func(txn *Txn) error {
		txn.StageRecord(w)
		return nil
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !w.prepared || !w.committed || w.aborted {
		t.Fatalf("write = %+v, want prepared and committed", w)
	}
}

func TestStagedWriteSkippedWhenSnapshotFails(t *testing.T) {
	l := newTestLedger(t)
	alice := testAddr("alice")
	bob := testAddr("bob")
	if err := l.Airdrop(alice, 100); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}
	if err := l.Airdrop(bob, 0); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}
	// A regular file where the snapshot's parent directory should be makes
	// every persist fail.
	block := filepath.Join(t.TempDir(), "block")
	if err := os.WriteFile(block, []byte("x"), 0o600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	l.path = filepath.Join(block, "ledger.snapshot")

	w := &fakeRecordWrite{}
	err := l.Execute(func(txn *Txn) error {
		txn.StageRecord(w)
		return txn.Transfer(models.NativeAsset, alice, bob, 40, alice)
	})
	if err == nil {
		t.Fatal("expected snapshot failure")
	}
	if w.prepared || w.committed {
		t.Fatalf("write = %+v, want untouched after failed snapshot", w)
	}
	if bal, _ := l.Balance(alice); bal != 100 {
		t.Fatalf("alice balance = %d, want untouched 100", bal)
	}
}

func TestStagedWriteFailureRollsBackLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.snapshot")
	program := testAddr("test-program")
	alice := testAddr("alice")
	bob := testAddr("bob")

	l, err := NewPersistent(program, path, "")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := l.Airdrop(alice, 100); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}
	if err := l.Airdrop(bob, 0); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}

	boom := errors.New("record write refused")
	w := &fakeRecordWrite{prepareErr: boom}
	err = l.Execute(func(txn *Txn) error {
		txn.StageRecord(w)
		return txn.Transfer(models.NativeAsset, alice, bob, 40, alice)
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected staged write error, got %v", err)
	}
	if w.committed {
		t.Fatal("failed write must not commit")
	}
	if bal, _ := l.Balance(alice); bal != 100 {
		t.Fatalf("alice balance = %d, want rolled back 100", bal)
	}
	// The durable snapshot matches the kept in-memory state.
	reopened, err := NewPersistent(program, path, "")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if bal, _ := reopened.Balance(alice); bal != 100 {
		t.Fatalf("restored balance = %d, want 100", bal)
	}
}

func TestPersistentLedgerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.snapshot")
	program := testAddr("test-program")
	alice := testAddr("alice")

	l, err := NewPersistent(program, path, "seal-passphrase")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := l.Airdrop(alice, 777); err != nil {
		t.Fatalf("airdrop failed: %v", err)
	}

	reopened, err := NewPersistent(program, path, "seal-passphrase")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if bal, _ := reopened.Balance(alice); bal != 777 {
		t.Fatalf("restored balance = %d, want 777", bal)
	}
}
