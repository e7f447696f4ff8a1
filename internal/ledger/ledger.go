package ledger

import (
	"fmt"
	"sync"

	"chainvault/go-backend/internal/authority"
	"chainvault/go-backend/pkg/models"
)

// StorageDeposit is the refundable cost of persisting one account, debited
// from the payer at creation and returned in full when the account closes.
const StorageDeposit uint64 = 2_039_280

// Account is one value-holding entry on the ledger.
type Account struct {
	Address models.Address `json:"address"`
	Asset   models.AssetID `json:"asset"`
	Balance uint64         `json:"balance"`
	// Owner is the identity allowed to move funds out. For wallet-held
	// accounts this is a key-backed address; for custody accounts it is a
	// derived authority and plain transfers are refused outright.
	Owner     models.Address `json:"owner"`
	Custodial bool           `json:"custodial"`
	Deposit   uint64         `json:"deposit"`
}

// Mint is a registered non-native asset.
type Mint struct {
	Asset     models.AssetID `json:"asset"`
	Authority models.Address `json:"authority"`
	Decimals  uint8          `json:"decimals"`
	Supply    uint64         `json:"supply"`
}

type state struct {
	Accounts map[models.Address]Account
	Mints    map[models.AssetID]Mint
}

func newState() *state {
	return &state{
		Accounts: make(map[models.Address]Account),
		Mints:    make(map[models.AssetID]Mint),
	}
}

func (s *state) clone() *state {
	next := &state{
		Accounts: make(map[models.Address]Account, len(s.Accounts)),
		Mints:    make(map[models.AssetID]Mint, len(s.Mints)),
	}
	for k, v := range s.Accounts {
		next.Accounts[k] = v
	}
	for k, v := range s.Mints {
		next.Mints[k] = v
	}
	return next
}

// Ledger is the runtime collaborator the custody programs execute against.
// Each request runs to completion inside Execute; commit is a pointer swap,
// so a failed request leaves no observable partial effect.
type Ledger struct {
	mu      sync.RWMutex
	program models.Address
	st      *state
	path    string
	secret  string
}

func New(program models.Address) *Ledger {
	return &Ledger{program: program, st: newState()}
}

// NewPersistent restores state from an encrypted snapshot at path, creating
// it on first use.
func NewPersistent(program models.Address, path, passphrase string) (*Ledger, error) {
	l := &Ledger{program: program, st: newState(), path: path, secret: passphrase}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

// Program returns the program identity all authorities derive under.
func (l *Ledger) Program() models.Address {
	return l.program
}

// RecordWrite is one staged durable record mutation. Writes registered on
// a Txn stay pending until the ledger snapshot for the request has been
// persisted, so a failed request never leaves a record behind whose
// accounts were rolled back. Prepare makes the new contents durable,
// Commit publishes them in memory, Abort puts the previous contents back.
type RecordWrite interface {
	Prepare() error
	Commit()
	Abort()
}

// Execute runs fn against a cloned state and commits only if fn, the
// snapshot write, and every staged record write all succeed. This is the
// whole-request atomicity the custody programs rely on: the mutex also
// serializes precondition reads made inside fn against live state.
func (l *Ledger) Execute(fn func(*Txn) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.st.clone()
	txn := &Txn{program: l.program, st: next}
	if err := fn(txn); err != nil {
		return err
	}
	if err := l.persist(next); err != nil {
		return fmt.Errorf("persist ledger snapshot: %w", err)
	}
	for i, w := range txn.writes {
		if err := w.Prepare(); err != nil {
			for j := i - 1; j >= 0; j-- {
				txn.writes[j].Abort()
			}
			// The new snapshot is already on disk; put the kept state back.
			if rerr := l.persist(l.st); rerr != nil {
				return fmt.Errorf("stage record write: %w (snapshot restore failed: %v)", err, rerr)
			}
			return err
		}
	}
	l.st = next
	for _, w := range txn.writes {
		w.Commit()
	}
	return nil
}

// Balance reports an account's live balance.
func (l *Ledger) Balance(addr models.Address) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.st.Accounts[addr]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return acct.Balance, nil
}

// Account returns a copy of the live account.
func (l *Ledger) Account(addr models.Address) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.st.Accounts[addr]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

// Airdrop credits native funds outside any program flow. Genesis and test
// plumbing only, mirroring a devnet faucet.
func (l *Ledger) Airdrop(addr models.Address, amount uint64) error {
	return l.Execute(func(txn *Txn) error {
		if _, ok := txn.st.Accounts[addr]; !ok {
			txn.st.Accounts[addr] = Account{
				Address: addr,
				Asset:   models.NativeAsset,
				Owner:   addr,
			}
		}
		return txn.credit(addr, models.NativeAsset, amount)
	})
}

// FaucetMint credits a registered asset outside its mint authority. Genesis
// and test plumbing only.
func (l *Ledger) FaucetMint(asset models.AssetID, addr models.Address, amount uint64) error {
	return l.Execute(func(txn *Txn) error {
		mint, ok := txn.st.Mints[asset]
		if !ok {
			return ErrUnknownAsset
		}
		supply, err := checkedAdd(mint.Supply, amount)
		if err != nil {
			return err
		}
		mint.Supply = supply
		txn.st.Mints[asset] = mint
		return txn.credit(addr, asset, amount)
	})
}

// Txn is the mutable view handed to one atomic request.
type Txn struct {
	program models.Address
	st      *state
	writes  []RecordWrite
}

// StageRecord queues a record mutation behind the ledger commit.
func (t *Txn) StageRecord(w RecordWrite) {
	t.writes = append(t.writes, w)
}

// Program returns the program identity for derivations inside the request.
func (t *Txn) Program() models.Address {
	return t.program
}

// CreateAccount opens an empty account and debits the storage deposit from
// the payer's native balance.
func (t *Txn) CreateAccount(addr models.Address, asset models.AssetID, owner, payer models.Address, custodial bool) error {
	if _, ok := t.st.Accounts[addr]; ok {
		return ErrAccountExists
	}
	if asset != models.NativeAsset {
		if _, ok := t.st.Mints[asset]; !ok {
			return ErrUnknownAsset
		}
	}
	if err := t.debit(payer, models.NativeAsset, StorageDeposit); err != nil {
		return fmt.Errorf("storage deposit: %w", err)
	}
	t.st.Accounts[addr] = Account{
		Address:   addr,
		Asset:     asset,
		Owner:     owner,
		Custodial: custodial,
		Deposit:   StorageDeposit,
	}
	return nil
}

// RegisterMint introduces a new asset whose supply only the given authority
// may grow.
func (t *Txn) RegisterMint(asset models.AssetID, auth models.Address, decimals uint8) error {
	if _, ok := t.st.Mints[asset]; ok {
		return ErrMintExists
	}
	t.st.Mints[asset] = Mint{Asset: asset, Authority: auth, Decimals: decimals}
	return nil
}

// Transfer moves funds between accounts on behalf of signer, whose consent
// the surrounding runtime has already verified cryptographically. Custody
// accounts refuse this path.
func (t *Txn) Transfer(asset models.AssetID, from, to models.Address, amount uint64, signer models.Address) error {
	src, ok := t.st.Accounts[from]
	if !ok {
		return ErrAccountNotFound
	}
	if src.Custodial {
		return ErrCustodialAccount
	}
	if src.Owner != signer {
		return ErrUnauthorized
	}
	return t.move(asset, from, to, amount)
}

// TransferWithAuthority moves funds out of a custody account. Legitimacy is
// proven purely by reproducing the seed/bump pair the account was created
// under; no key is ever involved.
func (t *Txn) TransferWithAuthority(asset models.AssetID, from, to models.Address, amount uint64, seed authority.Seed, bump uint8) error {
	src, ok := t.st.Accounts[from]
	if !ok {
		return ErrAccountNotFound
	}
	if err := authority.Verify(t.program, seed, bump, src.Owner); err != nil {
		return err
	}
	return t.move(asset, from, to, amount)
}

// MintTo grows an asset's supply into an account, signed by the mint's
// derived authority.
func (t *Txn) MintTo(asset models.AssetID, to models.Address, amount uint64, seed authority.Seed, bump uint8) error {
	mint, ok := t.st.Mints[asset]
	if !ok {
		return ErrUnknownAsset
	}
	if err := authority.Verify(t.program, seed, bump, mint.Authority); err != nil {
		return err
	}
	supply, err := checkedAdd(mint.Supply, amount)
	if err != nil {
		return err
	}
	mint.Supply = supply
	t.st.Mints[asset] = mint
	return t.credit(to, asset, amount)
}

// Burn shrinks an asset's supply out of the signer's own account.
func (t *Txn) Burn(asset models.AssetID, from models.Address, amount uint64, signer models.Address) error {
	mint, ok := t.st.Mints[asset]
	if !ok {
		return ErrUnknownAsset
	}
	src, ok := t.st.Accounts[from]
	if !ok {
		return ErrAccountNotFound
	}
	if src.Owner != signer {
		return ErrUnauthorized
	}
	if err := t.debit(from, asset, amount); err != nil {
		return err
	}
	if mint.Supply < amount {
		return ErrArithmetic
	}
	mint.Supply -= amount
	t.st.Mints[asset] = mint
	return nil
}

// CloseAccount removes a drained account and refunds its storage deposit.
// Closing with a remaining balance is a programming error and fails loudly.
func (t *Txn) CloseAccount(addr, refundTarget models.Address) error {
	acct, ok := t.st.Accounts[addr]
	if !ok {
		return ErrAccountNotFound
	}
	if acct.Balance != 0 {
		return ErrNonZeroBalanceOnClose
	}
	if err := t.credit(refundTarget, models.NativeAsset, acct.Deposit); err != nil {
		return err
	}
	delete(t.st.Accounts, addr)
	return nil
}

// Account returns a copy of an account inside the request.
func (t *Txn) Account(addr models.Address) (Account, error) {
	acct, ok := t.st.Accounts[addr]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

// Supply reports an asset's outstanding supply inside the request.
func (t *Txn) Supply(asset models.AssetID) (uint64, error) {
	mint, ok := t.st.Mints[asset]
	if !ok {
		return 0, ErrUnknownAsset
	}
	return mint.Supply, nil
}

// Balance reports an account balance inside the request.
func (t *Txn) Balance(addr models.Address) (uint64, error) {
	acct, ok := t.st.Accounts[addr]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return acct.Balance, nil
}

func (t *Txn) move(asset models.AssetID, from, to models.Address, amount uint64) error {
	if err := t.debit(from, asset, amount); err != nil {
		return err
	}
	return t.credit(to, asset, amount)
}

func (t *Txn) debit(addr models.Address, asset models.AssetID, amount uint64) error {
	acct, ok := t.st.Accounts[addr]
	if !ok {
		return ErrAccountNotFound
	}
	if acct.Asset != asset {
		return ErrAssetMismatch
	}
	if acct.Balance < amount {
		return ErrInsufficientFunds
	}
	acct.Balance -= amount
	t.st.Accounts[addr] = acct
	return nil
}

func (t *Txn) credit(addr models.Address, asset models.AssetID, amount uint64) error {
	acct, ok := t.st.Accounts[addr]
	if !ok {
		return ErrAccountNotFound
	}
	if acct.Asset != asset {
		return ErrAssetMismatch
	}
	next, err := checkedAdd(acct.Balance, amount)
	if err != nil {
		return err
	}
	acct.Balance = next
	t.st.Accounts[addr] = acct
	return nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrArithmetic
	}
	return sum, nil
}
