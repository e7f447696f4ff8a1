package rpc

import (
	"encoding/base64"
	"encoding/json"
)

type walletCreateParams struct {
	Passphrase string `json:"passphrase"`
}

type walletImportParams struct {
	Mnemonic   string `json:"mnemonic"`
	Passphrase string `json:"passphrase"`
}

type walletChangePassphraseParams struct {
	OldPassphrase string `json:"old_passphrase"`
	NewPassphrase string `json:"new_passphrase"`
}

type walletSignParams struct {
	Message string `json:"message"`
}

func (s *Server) dispatchWallet(method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "wallet_create":
		p, rpcErr := decodeParams[walletCreateParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		mnemonic, wallet, err := s.services.Keyring.Create(p.Passphrase)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]string{
			"mnemonic": mnemonic,
			"address":  wallet.Address.String(),
		}, nil, true

	case "wallet_import":
		p, rpcErr := decodeParams[walletImportParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		_, wallet, err := s.services.Keyring.Import(p.Mnemonic, p.Passphrase)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]string{"address": wallet.Address.String()}, nil, true

	case "wallet_export":
		p, rpcErr := decodeParams[walletCreateParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		mnemonic, err := s.services.Keyring.Export(p.Passphrase)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]string{"mnemonic": mnemonic}, nil, true

	case "wallet_change_passphrase":
		p, rpcErr := decodeParams[walletChangePassphraseParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		if err := s.services.Keyring.ChangePassphrase(p.OldPassphrase, p.NewPassphrase); err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]string{"status": "ok"}, nil, true

	case "wallet_address":
		addr, err := s.services.Keyring.Address()
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]string{"address": addr.String()}, nil, true

	case "wallet_sign":
		p, rpcErr := decodeParams[walletSignParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		message, err := base64.StdEncoding.DecodeString(p.Message)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		sig, err := s.services.Keyring.Sign(message)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]string{"signature": base64.StdEncoding.EncodeToString(sig)}, nil, true
	}
	return nil, nil, false
}
