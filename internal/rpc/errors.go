package rpc

import (
	"errors"

	"chainvault/go-backend/internal/amm"
	"chainvault/go-backend/internal/arbguard"
	"chainvault/go-backend/internal/authority"
	"chainvault/go-backend/internal/escrow"
	"chainvault/go-backend/internal/keyring"
	"chainvault/go-backend/internal/ledger"
	"chainvault/go-backend/internal/marketplace"
	"chainvault/go-backend/internal/settlement"
	"chainvault/go-backend/internal/staking"
	"chainvault/go-backend/internal/vault"
)

func rpcInvalidParams() *rpcError {
	return &rpcError{Code: -32602, Message: "invalid params"}
}

// Service errors map onto stable codes so clients can branch without
// string matching.
var errorCodes = []struct {
	code int
	errs []error
}{
	{-32004, []error{
		ledger.ErrAccountNotFound,
		escrow.ErrRecordNotFound,
		vault.ErrVaultNotFound,
		marketplace.ErrMarketNotFound,
		marketplace.ErrListingNotFound,
		staking.ErrConfigNotFound,
		staking.ErrStakeNotFound,
		amm.ErrPoolNotFound,
		arbguard.ErrStateNotFound,
		keyring.ErrWalletNotLoaded,
	}},
	{-32009, []error{
		ledger.ErrAccountExists,
		ledger.ErrMintExists,
		escrow.ErrRecordExists,
		vault.ErrVaultExists,
		marketplace.ErrMarketExists,
		marketplace.ErrListingExists,
		staking.ErrConfigExists,
		staking.ErrStakeExists,
		amm.ErrPoolExists,
	}},
	{-32010, []error{settlement.ErrInvalidPhase}},
	{-32011, []error{ledger.ErrInsufficientFunds, ledger.ErrArithmetic}},
	{-32012, []error{
		ledger.ErrUnauthorized,
		ledger.ErrCustodialAccount,
		escrow.ErrNotMaker,
		marketplace.ErrNotMaker,
		staking.ErrNotOwner,
		amm.ErrNotPoolAuthority,
		amm.ErrNoAuthority,
		keyring.ErrInvalidPassphrase,
		keyring.ErrPassphraseLocked,
	}},
	{-32013, []error{settlement.ErrFeeRate, authority.ErrAuthorityMismatch}},
	{-32014, []error{
		staking.ErrMaxStakeReached,
		staking.ErrFreezePeriodNotPassed,
		staking.ErrNothingToClaim,
		amm.ErrPoolLocked,
		amm.ErrSlippageExceeded,
		amm.ErrEmptyPool,
		arbguard.ErrNotProfitable,
		arbguard.ErrBalanceUnderflow,
	}},
	{-32015, []error{
		ledger.ErrAssetMismatch,
		ledger.ErrUnknownAsset,
		escrow.ErrZeroAmount,
		vault.ErrZeroAmount,
		marketplace.ErrZeroPrice,
		amm.ErrZeroAmount,
		amm.ErrSameAsset,
		ledger.ErrNonZeroBalanceOnClose,
		keyring.ErrInvalidMnemonic,
		keyring.ErrMnemonicRequired,
		keyring.ErrPassphraseRequired,
		keyring.ErrInvalidSecretKey,
	}},
}

func mapServiceError(err error) *rpcError {
	for _, group := range errorCodes {
		for _, sentinel := range group.errs {
			if errors.Is(err, sentinel) {
				return &rpcError{Code: group.code, Message: err.Error()}
			}
		}
	}
	return &rpcError{Code: -32000, Message: err.Error()}
}
