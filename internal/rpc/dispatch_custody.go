package rpc

import (
	"encoding/json"

	"chainvault/go-backend/pkg/models"
)

type ownerParams struct {
	Owner models.Address `json:"owner"`
}

type amountParams struct {
	Owner  models.Address `json:"owner"`
	Amount uint64         `json:"amount"`
}

type escrowMakeParams struct {
	Maker         models.Address `json:"maker"`
	Seed          uint64         `json:"seed"`
	DepositAsset  models.AssetID `json:"deposit_asset"`
	ReceiveAsset  models.AssetID `json:"receive_asset"`
	DepositAmount uint64         `json:"deposit_amount"`
	ReceiveAmount uint64         `json:"receive_amount"`
	FeeBps        uint16         `json:"fee_bps"`
}

type escrowTakeParams struct {
	Record models.Address `json:"record"`
	Taker  models.Address `json:"taker"`
}

type escrowRefundParams struct {
	Record models.Address `json:"record"`
	Maker  models.Address `json:"maker"`
}

type recordParams struct {
	Record models.Address `json:"record"`
}

type balanceParams struct {
	Address models.Address `json:"address"`
}

func (s *Server) dispatchCustody(method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "ledger_balance":
		p, rpcErr := decodeParams[balanceParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		bal, err := s.services.Ledger.Balance(p.Address)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]uint64{"balance": bal}, nil, true

	case "vault_initialize":
		p, rpcErr := decodeParams[ownerParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		st, err := s.services.Vault.Initialize(p.Owner)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return st, nil, true

	case "vault_deposit":
		p, rpcErr := decodeParams[amountParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		if err := s.services.Vault.Deposit(p.Owner, p.Amount); err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]string{"status": "ok"}, nil, true

	case "vault_withdraw":
		p, rpcErr := decodeParams[amountParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		if err := s.services.Vault.Withdraw(p.Owner, p.Amount); err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]string{"status": "ok"}, nil, true

	case "vault_close":
		p, rpcErr := decodeParams[ownerParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		if err := s.services.Vault.Close(p.Owner); err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]string{"status": "ok"}, nil, true

	case "vault_get":
		p, rpcErr := decodeParams[ownerParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		st, err := s.services.Vault.Get(p.Owner)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return st, nil, true

	case "escrow_make":
		p, rpcErr := decodeParams[escrowMakeParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		rec, err := s.services.Escrow.Make(p.Maker, p.Seed, p.DepositAsset, p.ReceiveAsset, p.DepositAmount, p.ReceiveAmount, p.FeeBps)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return rec, nil, true

	case "escrow_take":
		p, rpcErr := decodeParams[escrowTakeParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		receipt, err := s.services.Escrow.Take(p.Record, p.Taker)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return receipt, nil, true

	case "escrow_refund":
		p, rpcErr := decodeParams[escrowRefundParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		if err := s.services.Escrow.Refund(p.Record, p.Maker); err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]string{"status": "ok"}, nil, true

	case "escrow_get":
		p, rpcErr := decodeParams[recordParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		rec, err := s.services.Escrow.Get(p.Record)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return rec, nil, true
	}
	return nil, nil, false
}
