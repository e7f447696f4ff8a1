package authority

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"filippo.io/edwards25519"

	"chainvault/go-backend/pkg/models"
)

// Domain marker folded into every candidate so derived addresses can never
// collide with any other use of the same hash.
const derivedMarker = "ChainVaultDerivedAddress"

var (
	ErrAuthorityMismatch = errors.New("derived authority does not match presented account")
	ErrNoValidBump       = errors.New("no bump yields an off-curve address")
)

// Seed is the ordered material a custody authority derives from: a fixed
// domain tag plus the owning entities' identifiers.
type Seed struct {
	Tag string   `json:"tag"`
	IDs [][]byte `json:"ids"`
}

func NewSeed(tag string, ids ...[]byte) Seed {
	return Seed{Tag: tag, IDs: ids}
}

// Uint64ID renders a numeric identifier as seed bytes, little-endian.
func Uint64ID(v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:]
}

// Derive walks bumps from 255 downward and returns the first candidate that
// lies outside the valid key space, together with the bump that produced it.
// The bump is persisted by the caller; later calls go through Verify and
// never repeat the search.
func Derive(program models.Address, seed Seed) (models.Address, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		cand := candidate(program, seed, uint8(bump))
		if !onCurve(cand) {
			return cand, uint8(bump), nil
		}
	}
	return models.ZeroAddress, 0, ErrNoValidBump
}

// DeriveWithBump recomputes the candidate for a persisted bump. It does not
// check the off-curve property; Verify does.
func DeriveWithBump(program models.Address, seed Seed, bump uint8) models.Address {
	return candidate(program, seed, bump)
}

// Verify checks that a stored (seed, bump) pair still reproduces the
// expected authority. This is what stops a record from being replayed
// against a custody account it was not created with.
func Verify(program models.Address, seed Seed, bump uint8, expected models.Address) error {
	cand := candidate(program, seed, bump)
	if cand != expected || onCurve(cand) {
		return ErrAuthorityMismatch
	}
	return nil
}

func candidate(program models.Address, seed Seed, bump uint8) models.Address {
	h := sha256.New()
	h.Write([]byte(seed.Tag))
	for _, id := range seed.IDs {
		h.Write(id)
	}
	h.Write([]byte{bump})
	h.Write(program[:])
	h.Write([]byte(derivedMarker))
	var a models.Address
	h.Sum(a[:0])
	return a
}

// onCurve reports whether the bytes decode as a valid edwards25519 point,
// i.e. whether some private key could sign for this address.
func onCurve(a models.Address) bool {
	_, err := new(edwards25519.Point).SetBytes(a[:])
	return err == nil
}
