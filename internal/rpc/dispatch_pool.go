package rpc

import (
	"encoding/json"

	"chainvault/go-backend/pkg/models"
)

type poolInitParams struct {
	Payer     models.Address  `json:"payer"`
	Seed      uint64          `json:"seed"`
	AssetX    models.AssetID  `json:"asset_x"`
	AssetY    models.AssetID  `json:"asset_y"`
	FeeBps    uint16          `json:"fee_bps"`
	Authority *models.Address `json:"authority,omitempty"`
}

type poolLiquidityParams struct {
	Seed     uint64         `json:"seed"`
	Caller   models.Address `json:"caller"`
	LPAmount uint64         `json:"lp_amount"`
	LimitX   uint64         `json:"limit_x"`
	LimitY   uint64         `json:"limit_y"`
}

type poolSwapParams struct {
	Seed     uint64         `json:"seed"`
	Trader   models.Address `json:"trader"`
	AssetIn  models.AssetID `json:"asset_in"`
	AmountIn uint64         `json:"amount_in"`
	MinOut   uint64         `json:"min_out"`
}

type poolLockParams struct {
	Seed   uint64         `json:"seed"`
	Caller models.Address `json:"caller"`
}

type arbSaveParams struct {
	Owner models.Address `json:"owner"`
	Asset models.AssetID `json:"asset"`
}

type arbCheckParams struct {
	Owner     models.Address `json:"owner"`
	MinProfit uint64         `json:"min_profit"`
}

func (s *Server) dispatchPool(method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "pool_initialize":
		p, rpcErr := decodeParams[poolInitParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		cfg, err := s.services.AMM.Initialize(p.Payer, p.Seed, p.AssetX, p.AssetY, p.FeeBps, p.Authority)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return cfg, nil, true

	case "pool_deposit":
		p, rpcErr := decodeParams[poolLiquidityParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		if err := s.services.AMM.Deposit(p.Seed, p.Caller, p.LPAmount, p.LimitX, p.LimitY); err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]string{"status": "ok"}, nil, true

	case "pool_withdraw":
		p, rpcErr := decodeParams[poolLiquidityParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		if err := s.services.AMM.Withdraw(p.Seed, p.Caller, p.LPAmount, p.LimitX, p.LimitY); err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]string{"status": "ok"}, nil, true

	case "pool_swap":
		p, rpcErr := decodeParams[poolSwapParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		out, err := s.services.AMM.Swap(p.Seed, p.Trader, p.AssetIn, p.AmountIn, p.MinOut)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]uint64{"amount_out": out}, nil, true

	case "pool_lock":
		p, rpcErr := decodeParams[poolLockParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		if err := s.services.AMM.Lock(p.Seed, p.Caller); err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]string{"status": "ok"}, nil, true

	case "pool_unlock":
		p, rpcErr := decodeParams[poolLockParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		if err := s.services.AMM.Unlock(p.Seed, p.Caller); err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]string{"status": "ok"}, nil, true

	case "pool_get":
		p, rpcErr := decodeParams[poolLockParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		cfg, err := s.services.AMM.Pool(p.Seed)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return cfg, nil, true

	case "arb_save_balance":
		p, rpcErr := decodeParams[arbSaveParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		st, err := s.services.ArbGuard.SaveBalance(p.Owner, p.Asset)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return st, nil, true

	case "arb_check_profit":
		p, rpcErr := decodeParams[arbCheckParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		profit, err := s.services.ArbGuard.CheckProfit(p.Owner, p.MinProfit)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]uint64{"profit": profit}, nil, true
	}
	return nil, nil, false
}
