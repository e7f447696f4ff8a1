package marketplace

import (
	"errors"
	"testing"

	"chainvault/go-backend/internal/ledger"
	"chainvault/go-backend/internal/recordstore"
	"chainvault/go-backend/internal/settlement"
	"chainvault/go-backend/pkg/models"
)

const nft = models.AssetID("nft-alpha")

func testAddr(tag string) models.Address {
	var a models.Address
	copy(a[:], tag)
	return a
}

type fixture struct {
	ledger *ledger.Ledger
	svc    *Service
	admin  models.Address
	maker  models.Address
	buyer  models.Address
	market Marketplace
}

func newFixture(t *testing.T, feeBps uint16, rewardPerBuy uint64) *fixture {
	t.Helper()
	l := ledger.New(testAddr("marketplace-program"))
	f := &fixture{
		ledger: l,
		admin:  testAddr("admin"),
		maker:  testAddr("maker"),
		buyer:  testAddr("buyer"),
	}
	for _, w := range []models.Address{f.admin, f.maker, f.buyer} {
		if err := l.Airdrop(w, 20*ledger.StorageDeposit); err != nil {
			t.Fatalf("airdrop failed: %v", err)
		}
	}
	err := l.Execute(func(txn *ledger.Txn) error {
		if err := txn.RegisterMint(nft, testAddr("nft-mint-auth"), 0); err != nil {
			return err
		}
		_, err := txn.EnsureAssociated(f.maker, nft, f.maker)
		return err
	})
	if err != nil {
		t.Fatalf("nft setup failed: %v", err)
	}
	if err := l.FaucetMint(nft, ledger.AssociatedAddress(f.maker, nft), 1); err != nil {
		t.Fatalf("faucet failed: %v", err)
	}

	f.svc = NewService(l, recordstore.New[Marketplace](), recordstore.New[Listing]())
	m, err := f.svc.Initialize(f.admin, "alpha", feeBps, rewardPerBuy)
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	f.market = m
	return f
}

func (f *fixture) balance(t *testing.T, addr models.Address) uint64 {
	t.Helper()
	bal, err := f.ledger.Balance(addr)
	if err != nil {
		t.Fatalf("balance of %s: %v", addr.Short(), err)
	}
	return bal
}

func TestInitializeValidation(t *testing.T) {
	f := newFixture(t, 250, 0)
	if _, err := f.svc.Initialize(f.admin, "alpha", 100, 0); !errors.Is(err, ErrMarketExists) {
		t.Fatalf("expected ErrMarketExists, got %v", err)
	}
	if _, err := f.svc.Initialize(f.admin, "beta", 10_001, 0); !errors.Is(err, settlement.ErrFeeRate) {
		t.Fatalf("expected ErrFeeRate, got %v", err)
	}
}

func TestListPutsAssetInCustody(t *testing.T) {
	f := newFixture(t, 250, 0)
	lst, err := f.svc.List("alpha", f.maker, nft, 10_000)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if got := f.balance(t, lst.Custody); got != 1 {
		t.Fatalf("custody balance = %d, want 1", got)
	}
	if got := f.balance(t, ledger.AssociatedAddress(f.maker, nft)); got != 0 {
		t.Fatalf("maker still holds the asset: %d", got)
	}
	if _, err := f.svc.List("alpha", f.maker, nft, 9_999); !errors.Is(err, ErrListingExists) {
		t.Fatalf("expected ErrListingExists, got %v", err)
	}
}

func TestPurchaseSplitsPriceAndMintsReward(t *testing.T) {
	f := newFixture(t, 250, 5)
	makerNativeBefore := f.balance(t, f.maker)

	lst, err := f.svc.List("alpha", f.maker, nft, 10_000)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	receipt, err := f.svc.Purchase(lst.Address, f.buyer)
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	// 250 bps of 10000: treasury 250, maker 9750.
	if got := f.balance(t, f.market.Treasury); got != 250 {
		t.Fatalf("treasury = %d, want 250", got)
	}
	if got := f.balance(t, f.maker); got != makerNativeBefore+9_750 {
		t.Fatalf("maker native = %d, want pre-list + 9750 (deposits refunded)", got)
	}
	if got := f.balance(t, ledger.AssociatedAddress(f.buyer, nft)); got != 1 {
		t.Fatalf("buyer nft balance = %d, want 1", got)
	}
	if got := f.balance(t, ledger.AssociatedAddress(f.buyer, f.market.RewardAsset)); got != 5 {
		t.Fatalf("buyer reward balance = %d, want 5", got)
	}
	if receipt.Fee != 250 || receipt.Net != 9_750 {
		t.Fatalf("receipt fee=%d net=%d, want 250/9750", receipt.Fee, receipt.Net)
	}
	if _, err := f.ledger.Account(lst.Custody); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("custody should be closed, got %v", err)
	}
	got, err := f.svc.GetListing(lst.Address)
	if err != nil {
		t.Fatalf("listing lookup failed: %v", err)
	}
	if got.Phase != models.PhaseSettled || got.Buyer != f.buyer {
		t.Fatalf("listing = %+v, want settled by buyer", got)
	}
}

func TestPurchaseTwiceRejected(t *testing.T) {
	f := newFixture(t, 250, 0)
	lst, err := f.svc.List("alpha", f.maker, nft, 10_000)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if _, err := f.svc.Purchase(lst.Address, f.buyer); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if _, err := f.svc.Purchase(lst.Address, f.buyer); !errors.Is(err, settlement.ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase, got %v", err)
	}
}

func TestDelistRoundTrip(t *testing.T) {
	f := newFixture(t, 250, 0)
	nativeBefore := f.balance(t, f.maker)

	lst, err := f.svc.List("alpha", f.maker, nft, 10_000)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if err := f.svc.Delist(lst.Address, f.buyer); !errors.Is(err, ErrNotMaker) {
		t.Fatalf("expected ErrNotMaker, got %v", err)
	}
	if err := f.svc.Delist(lst.Address, f.maker); err != nil {
		t.Fatalf("delist failed: %v", err)
	}
	if got := f.balance(t, ledger.AssociatedAddress(f.maker, nft)); got != 1 {
		t.Fatalf("maker nft balance = %d, want returned 1", got)
	}
	if got := f.balance(t, f.maker); got != nativeBefore {
		t.Fatalf("maker native = %d, want exact pre-list %d", got, nativeBefore)
	}
	if _, err := f.svc.Purchase(lst.Address, f.buyer); !errors.Is(err, settlement.ErrInvalidPhase) {
		t.Fatalf("purchase after delist: expected ErrInvalidPhase, got %v", err)
	}
}
