package models

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/mr-tron/base58/base58"
)

const AddressLen = 32

var ErrInvalidAddress = errors.New("invalid address")

// Address identifies an account on the ledger. Rendered base58 like every
// other tool in this ecosystem expects.
type Address [AddressLen]byte

var ZeroAddress Address

func (a Address) String() string {
	return base58.Encode(a[:])
}

func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Short returns a truncated render suitable for logs.
func (a Address) Short() string {
	s := a.String()
	if len(s) <= 8 {
		return s
	}
	return s[:4] + ".." + s[len(s)-4:]
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func ParseAddress(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Address{}, ErrInvalidAddress
	}
	if len(raw) != AddressLen {
		return Address{}, ErrInvalidAddress
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// NewAddress returns a random address for wallet-held accounts. Derived
// program addresses never come from here.
func NewAddress() (Address, error) {
	var a Address
	if _, err := rand.Read(a[:]); err != nil {
		return Address{}, err
	}
	return a, nil
}

// AssetID names an asset tracked by the ledger. The native asset pays
// storage deposits; everything else is a registered mint.
type AssetID string

const NativeAsset AssetID = "native"

// Phase is the lifecycle state of a custody record.
type Phase uint8

const (
	PhaseUninitialized Phase = iota
	PhaseOpen
	PhaseSettled
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseOpen:
		return "open"
	case PhaseSettled:
		return "settled"
	case PhaseCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transition is permitted.
func (p Phase) Terminal() bool {
	return p == PhaseSettled || p == PhaseCancelled
}

// TransferLeg describes one movement inside a settlement, for observability.
type TransferLeg struct {
	Kind   string  `json:"kind"`
	Asset  AssetID `json:"asset"`
	From   Address `json:"from"`
	To     Address `json:"to"`
	Amount uint64  `json:"amount"`
}

// SettlementReceipt reports what a settlement moved. The durable effect is
// the record's phase change; the receipt exists for callers and logs.
type SettlementReceipt struct {
	Record    Address       `json:"record"`
	Program   string        `json:"program"`
	Gross     uint64        `json:"gross"`
	Fee       uint64        `json:"fee"`
	Net       uint64        `json:"net"`
	Legs      []TransferLeg `json:"legs"`
	SettledAt time.Time     `json:"settled_at"`
}
