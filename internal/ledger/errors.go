package ledger

import "errors"

var (
	ErrAccountNotFound       = errors.New("account not found")
	ErrAccountExists         = errors.New("account already exists")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrArithmetic            = errors.New("amount arithmetic out of range")
	ErrNonZeroBalanceOnClose = errors.New("account balance must be zero on close")
	ErrAssetMismatch         = errors.New("account holds a different asset")
	ErrUnknownAsset          = errors.New("unknown asset")
	ErrUnauthorized          = errors.New("signer does not control account")
	ErrCustodialAccount      = errors.New("custody account can only move funds by derived authority")
	ErrMintExists            = errors.New("mint already registered")
)
