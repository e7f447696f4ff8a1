package ledger

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"chainvault/go-backend/internal/securestore"
)

type persistedLedger struct {
	Version  int       `json:"version"`
	Accounts []Account `json:"accounts"`
	Mints    []Mint    `json:"mints"`
}

func (l *Ledger) persist(st *state) error {
	if l.path == "" {
		return nil
	}
	snap := persistedLedger{Version: 1}
	for _, acct := range st.Accounts {
		snap.Accounts = append(snap.Accounts, acct)
	}
	for _, mint := range st.Mints {
		snap.Mints = append(snap.Mints, mint)
	}
	sort.Slice(snap.Accounts, func(i, j int) bool {
		return snap.Accounts[i].Address.String() < snap.Accounts[j].Address.String()
	})
	sort.Slice(snap.Mints, func(i, j int) bool {
		return snap.Mints[i].Asset < snap.Mints[j].Asset
	})

	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if l.secret != "" {
		payload, err = securestore.Encrypt(l.secret, payload)
		if err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(l.path, payload, 0o600)
}

func (l *Ledger) load() error {
	if l.path == "" {
		return nil
	}
	raw, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if l.secret != "" {
		raw, err = securestore.Decrypt(l.secret, raw)
		if err != nil {
			return err
		}
	}
	var snap persistedLedger
	if err := json.Unmarshal(raw, &snap); err != nil {
		return err
	}
	if snap.Version != 1 {
		return errors.New("ledger snapshot payload is invalid")
	}
	st := newState()
	for _, acct := range snap.Accounts {
		st.Accounts[acct.Address] = acct
	}
	for _, mint := range snap.Mints {
		st.Mints[mint.Asset] = mint
	}
	l.st = st
	return nil
}
