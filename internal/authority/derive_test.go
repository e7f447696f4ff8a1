package authority

import (
	"errors"
	"testing"

	"filippo.io/edwards25519"

	"chainvault/go-backend/pkg/models"
)

func testProgram(t *testing.T) models.Address {
	t.Helper()
	var p models.Address
	copy(p[:], []byte("custody-program-test-identifier!"))
	return p
}

func TestDeriveDeterministic(t *testing.T) {
	program := testProgram(t)
	seed := NewSeed("vault", []byte("owner-identity"))

	addr1, bump1, err := Derive(program, seed)
	if err != nil {
		t.Fatalf("derive 1 failed: %v", err)
	}
	addr2, bump2, err := Derive(program, seed)
	if err != nil {
		t.Fatalf("derive 2 failed: %v", err)
	}
	if addr1 != addr2 || bump1 != bump2 {
		t.Fatal("derivation should be deterministic for identical inputs")
	}
}

func TestDerivedAddressIsOffCurve(t *testing.T) {
	program := testProgram(t)
	addr, _, err := Derive(program, NewSeed("state", []byte("maker")))
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if _, err := new(edwards25519.Point).SetBytes(addr[:]); err == nil {
		t.Fatal("derived address must not decode as a curve point")
	}
}

func TestVerifyStoredBump(t *testing.T) {
	program := testProgram(t)
	seed := NewSeed("custody", []byte("record-id"), Uint64ID(42))

	addr, bump, err := Derive(program, seed)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if err := Verify(program, seed, bump, addr); err != nil {
		t.Fatalf("verify with stored bump failed: %v", err)
	}
	if got := DeriveWithBump(program, seed, bump); got != addr {
		t.Fatal("derive with stored bump should reproduce the address")
	}
}

func TestVerifyRejectsWrongAccount(t *testing.T) {
	program := testProgram(t)
	seed := NewSeed("custody", []byte("record-a"))

	_, bump, err := Derive(program, seed)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	other, _, err := Derive(program, NewSeed("custody", []byte("record-b")))
	if err != nil {
		t.Fatalf("derive other failed: %v", err)
	}
	if err := Verify(program, seed, bump, other); !errors.Is(err, ErrAuthorityMismatch) {
		t.Fatalf("expected ErrAuthorityMismatch, got %v", err)
	}
}

func TestVerifyRejectsTamperedBump(t *testing.T) {
	program := testProgram(t)
	seed := NewSeed("custody", []byte("record-c"))

	addr, bump, err := Derive(program, seed)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if err := Verify(program, seed, bump-1, addr); !errors.Is(err, ErrAuthorityMismatch) {
		t.Fatalf("expected ErrAuthorityMismatch for wrong bump, got %v", err)
	}
}

func TestDistinctTagsDeriveDistinctAddresses(t *testing.T) {
	program := testProgram(t)
	id := []byte("same-entity")

	a, _, err := Derive(program, NewSeed("state", id))
	if err != nil {
		t.Fatalf("derive state failed: %v", err)
	}
	b, _, err := Derive(program, NewSeed("vault", id))
	if err != nil {
		t.Fatalf("derive vault failed: %v", err)
	}
	if a == b {
		t.Fatal("different tags must not collide")
	}
}
