package settlement

import (
	"errors"
	"math/bits"
	"time"

	"chainvault/go-backend/internal/authority"
	"chainvault/go-backend/internal/ledger"
	"chainvault/go-backend/pkg/models"
)

// MaxFeeBps is the whole of the fee range; one basis point is 1/10000.
const MaxFeeBps = 10_000

var ErrFeeRate = errors.New("fee rate exceeds 10000 basis points")

// FeeSplit splits a gross amount at a basis-point rate with no rounding
// leak: fee + net == gross exactly. All arithmetic is checked; money math
// never saturates.
func FeeSplit(gross uint64, bps uint16) (fee, net uint64, err error) {
	if bps > MaxFeeBps {
		return 0, 0, ErrFeeRate
	}
	hi, lo := bits.Mul64(gross, uint64(bps))
	// hi < 10000 because bps <= 10000, so the quotient fits in 64 bits.
	fee, _ = bits.Div64(hi, lo, MaxFeeBps)
	return fee, gross - fee, nil
}

// Custody binds a live custody account to the seed material that controls
// it. Every movement out of the account re-proves the binding.
type Custody struct {
	Address models.Address `json:"address"`
	Asset   models.AssetID `json:"asset"`
	Seed    authority.Seed `json:"seed"`
	Bump    uint8          `json:"bump"`
}

// Verify re-derives the custody authority from the persisted seed and bump
// and rejects the request if the presented account disagrees. Guards a
// record replayed against a custody account it was not created with.
func (c Custody) Verify(txn *ledger.Txn) error {
	acct, err := txn.Account(c.Address)
	if err != nil {
		return err
	}
	return authority.Verify(txn.Program(), c.Seed, c.Bump, acct.Owner)
}

// Settlement accumulates the ordered transfer legs of one phase transition.
// The legs run inside the caller's atomic request; the receipt is
// observability only.
type Settlement struct {
	txn     *ledger.Txn
	receipt models.SettlementReceipt
}

func Begin(txn *ledger.Txn, program string, record models.Address) *Settlement {
	return &Settlement{
		txn: txn,
		receipt: models.SettlementReceipt{
			Record:  record,
			Program: program,
		},
	}
}

// Split records the fee computation behind this settlement on the receipt.
func (s *Settlement) Split(gross, fee, net uint64) {
	s.receipt.Gross = gross
	s.receipt.Fee = fee
	s.receipt.Net = net
}

// Pay executes a wallet-signed leg.
func (s *Settlement) Pay(kind string, asset models.AssetID, from, to models.Address, amount uint64, signer models.Address) error {
	if err := s.txn.Transfer(asset, from, to, amount, signer); err != nil {
		return err
	}
	s.record(kind, asset, from, to, amount)
	return nil
}

// Release executes a custody-sourced leg, signed by reproducing the derived
// authority rather than by any key.
func (s *Settlement) Release(kind string, c Custody, to models.Address, amount uint64) error {
	if err := s.txn.TransferWithAuthority(c.Asset, c.Address, to, amount, c.Seed, c.Bump); err != nil {
		return err
	}
	s.record(kind, c.Asset, c.Address, to, amount)
	return nil
}

// MintReward executes an optional reward top-up leg from a derived mint
// authority.
func (s *Settlement) MintReward(kind string, asset models.AssetID, to models.Address, amount uint64, seed authority.Seed, bump uint8) error {
	if err := s.txn.MintTo(asset, to, amount, seed, bump); err != nil {
		return err
	}
	s.record(kind, asset, models.ZeroAddress, to, amount)
	return nil
}

// Receipt finalizes and returns the receipt for this settlement.
func (s *Settlement) Receipt() models.SettlementReceipt {
	s.receipt.SettledAt = time.Now().UTC()
	return s.receipt
}

func (s *Settlement) record(kind string, asset models.AssetID, from, to models.Address, amount uint64) {
	s.receipt.Legs = append(s.receipt.Legs, models.TransferLeg{
		Kind:   kind,
		Asset:  asset,
		From:   from,
		To:     to,
		Amount: amount,
	})
}

// Close is the lifecycle end of custody: drain any residual to residualTo,
// close the custody account, and refund its storage deposit to depositTo.
// Both targets belong to the party that funded the custody, even when a
// counterpart triggered the transition. A residual is never silently
// forfeited, and closing a non-empty account fails loudly inside the ledger.
func Close(txn *ledger.Txn, c Custody, residualTo, depositTo models.Address) error {
	if err := c.Verify(txn); err != nil {
		return err
	}
	bal, err := txn.Balance(c.Address)
	if err != nil {
		return err
	}
	if bal > 0 {
		if err := txn.TransferWithAuthority(c.Asset, c.Address, residualTo, bal, c.Seed, c.Bump); err != nil {
			return err
		}
	}
	return txn.CloseAccount(c.Address, depositTo)
}
