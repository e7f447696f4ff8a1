package ledger

import (
	"crypto/sha256"

	"chainvault/go-backend/pkg/models"
)

// AssociatedAddress is the canonical address of an owner's account for a
// given asset, so callers never have to carry token account addresses
// around. Native balances live on the owner address itself.
func AssociatedAddress(owner models.Address, asset models.AssetID) models.Address {
	if asset == models.NativeAsset {
		return owner
	}
	h := sha256.New()
	h.Write([]byte("associated-account"))
	h.Write(owner[:])
	h.Write([]byte(asset))
	var a models.Address
	h.Sum(a[:0])
	return a
}

// EnsureAssociated opens the owner's associated account for an asset if it
// does not exist yet, charging the storage deposit to payer.
func (t *Txn) EnsureAssociated(owner models.Address, asset models.AssetID, payer models.Address) (models.Address, error) {
	addr := AssociatedAddress(owner, asset)
	if _, ok := t.st.Accounts[addr]; ok {
		return addr, nil
	}
	if err := t.CreateAccount(addr, asset, owner, payer, false); err != nil {
		return models.ZeroAddress, err
	}
	return addr, nil
}
