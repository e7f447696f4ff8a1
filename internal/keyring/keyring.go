// Package keyring manages the wallet keys that sign ledger requests. A
// wallet derives from a bip39 mnemonic; the mnemonic itself is held only
// inside an encrypted envelope and released by passphrase. Repeated wrong
// passphrases back off exponentially.
package keyring

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58/base58"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"

	"chainvault/go-backend/internal/securestore"
	"chainvault/go-backend/pkg/models"
)

const hkdfInfoSigning = "chainvault/wallet/signing/v1"

var (
	ErrInvalidMnemonic    = errors.New("invalid mnemonic")
	ErrInvalidPassphrase  = errors.New("invalid passphrase")
	ErrPassphraseRequired = errors.New("passphrase is required")
	ErrMnemonicRequired   = errors.New("mnemonic is required")
	ErrWalletNotLoaded    = errors.New("no wallet loaded")
	ErrPassphraseLocked   = errors.New("passphrase attempts are temporarily locked")
	ErrInvalidSecretKey   = errors.New("invalid secret key")
)

// Wallet is the in-memory key material for one loaded wallet. The address
// is the signing public key itself.
type Wallet struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	Address    models.Address
}

type Keyring struct {
	mu             sync.RWMutex
	wallet         *Wallet
	envelope       []byte
	failedAttempts int
	lockedUntil    time.Time
	now            func() time.Time
}

func New() *Keyring {
	return &Keyring{now: time.Now}
}

func newKeyringWithClock(now func() time.Time) *Keyring {
	return &Keyring{now: now}
}

// Create generates a fresh 24-word mnemonic and loads the wallet it derives.
func (k *Keyring) Create(passphrase string) (string, *Wallet, error) {
	if strings.TrimSpace(passphrase) == "" {
		return "", nil, ErrPassphraseRequired
	}
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", nil, err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, err
	}
	return k.Import(mnemonic, passphrase)
}

// Import loads the wallet a mnemonic derives and seals the mnemonic under
// the passphrase.
func (k *Keyring) Import(mnemonic, passphrase string) (string, *Wallet, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return "", nil, ErrMnemonicRequired
	}
	if strings.TrimSpace(passphrase) == "" {
		return "", nil, ErrPassphraseRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", nil, ErrInvalidMnemonic
	}

	seedBytes := bip39.NewSeed(mnemonic, "")
	wallet, err := deriveWallet(seedBytes)
	if err != nil {
		return "", nil, err
	}
	env, err := securestore.Encrypt(passphrase, []byte(mnemonic))
	if err != nil {
		return "", nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.wallet = wallet
	k.envelope = env
	k.resetAttemptState()
	return mnemonic, wallet, nil
}

// Export releases the sealed mnemonic after verifying the passphrase.
func (k *Keyring) Export(passphrase string) (string, error) {
	if strings.TrimSpace(passphrase) == "" {
		return "", ErrPassphraseRequired
	}

	k.mu.Lock()
	env := k.envelope
	if err := k.ensureUnlocked(); err != nil {
		k.mu.Unlock()
		return "", err
	}
	k.mu.Unlock()
	if env == nil {
		return "", ErrWalletNotLoaded
	}

	plaintext, err := securestore.Decrypt(passphrase, env)
	if err != nil {
		k.mu.Lock()
		defer k.mu.Unlock()
		k.onFailedAttempt()
		return "", ErrInvalidPassphrase
	}
	k.mu.Lock()
	k.resetAttemptState()
	k.mu.Unlock()

	mnemonic := strings.TrimSpace(string(plaintext))
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", fmt.Errorf("%w: corrupted mnemonic", ErrInvalidMnemonic)
	}
	return mnemonic, nil
}

// ChangePassphrase re-seals the mnemonic under a new passphrase.
func (k *Keyring) ChangePassphrase(oldPassphrase, newPassphrase string) error {
	oldPassphrase = strings.TrimSpace(oldPassphrase)
	newPassphrase = strings.TrimSpace(newPassphrase)
	if oldPassphrase == "" || newPassphrase == "" {
		return ErrPassphraseRequired
	}

	k.mu.Lock()
	env := k.envelope
	if err := k.ensureUnlocked(); err != nil {
		k.mu.Unlock()
		return err
	}
	k.mu.Unlock()
	if env == nil {
		return ErrWalletNotLoaded
	}

	mnemonicBytes, err := securestore.Decrypt(oldPassphrase, env)
	if err != nil {
		k.mu.Lock()
		defer k.mu.Unlock()
		k.onFailedAttempt()
		return ErrInvalidPassphrase
	}
	newEnv, err := securestore.Encrypt(newPassphrase, mnemonicBytes)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.envelope = newEnv
	k.resetAttemptState()
	return nil
}

// Address returns the loaded wallet's address.
func (k *Keyring) Address() (models.Address, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.wallet == nil {
		return models.ZeroAddress, ErrWalletNotLoaded
	}
	return k.wallet.Address, nil
}

// Sign signs a message with the loaded wallet's key.
func (k *Keyring) Sign(message []byte) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.wallet == nil {
		return nil, ErrWalletNotLoaded
	}
	return ed25519.Sign(k.wallet.PrivateKey, message), nil
}

// ValidateMnemonic reports whether a mnemonic is well formed.
func (k *Keyring) ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(strings.TrimSpace(mnemonic))
}

func (k *Keyring) ensureUnlocked() error {
	if k.lockedUntil.IsZero() {
		return nil
	}
	if k.now().Before(k.lockedUntil) {
		return ErrPassphraseLocked
	}
	return nil
}

func (k *Keyring) onFailedAttempt() {
	k.failedAttempts++
	k.lockedUntil = k.now().Add(failedAttemptBackoff(k.failedAttempts))
}

func (k *Keyring) resetAttemptState() {
	k.failedAttempts = 0
	k.lockedUntil = time.Time{}
}

func failedAttemptBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	// 1s, 2s, 4s... up to 32s max.
	shift := attempt - 1
	if shift > 5 {
		shift = 5
	}
	return time.Second * time.Duration(1<<shift)
}

func deriveWallet(seedBytes []byte) (*Wallet, error) {
	signingSeed, err := hkdfExpand(seedBytes, hkdfInfoSigning, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	priv := ed25519.NewKeyFromSeed(signingSeed)
	pub := priv.Public().(ed25519.PublicKey)

	var addr models.Address
	copy(addr[:], pub)
	return &Wallet{PrivateKey: priv, PublicKey: pub, Address: addr}, nil
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeSecretKey renders the 64-byte expanded secret key as base58, the
// interchange format most wallet tools expect.
func EncodeSecretKey(priv ed25519.PrivateKey) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", ErrInvalidSecretKey
	}
	return base58.Encode(priv), nil
}

// DecodeSecretKey parses a base58 secret key back into a usable wallet.
func DecodeSecretKey(encoded string) (*Wallet, error) {
	raw, err := base58.Decode(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecretKey, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, ErrInvalidSecretKey
	}
	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)

	var addr models.Address
	copy(addr[:], pub)
	return &Wallet{PrivateKey: priv, PublicKey: pub, Address: addr}, nil
}
