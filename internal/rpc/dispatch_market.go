package rpc

import (
	"encoding/json"
	"time"

	"chainvault/go-backend/pkg/models"
)

type marketInitParams struct {
	Admin        models.Address `json:"admin"`
	Name         string         `json:"name"`
	FeeBps       uint16         `json:"fee_bps"`
	RewardPerBuy uint64         `json:"reward_per_buy"`
}

type marketListParams struct {
	Market string         `json:"market"`
	Maker  models.Address `json:"maker"`
	Asset  models.AssetID `json:"asset"`
	Price  uint64         `json:"price"`
}

type listingParams struct {
	Listing models.Address `json:"listing"`
	Caller  models.Address `json:"caller"`
}

type stakeInitParams struct {
	Admin          models.Address `json:"admin"`
	PointsPerStake uint8          `json:"points_per_stake"`
	MaxStake       uint8          `json:"max_stake"`
	FreezeSeconds  uint64         `json:"freeze_seconds"`
}

type stakeParams struct {
	Owner models.Address `json:"owner"`
	Asset models.AssetID `json:"asset"`
}

type unstakeParams struct {
	Owner models.Address `json:"owner"`
	Stake models.Address `json:"stake"`
}

func (s *Server) dispatchMarket(method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "market_initialize":
		p, rpcErr := decodeParams[marketInitParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		m, err := s.services.Marketplace.Initialize(p.Admin, p.Name, p.FeeBps, p.RewardPerBuy)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return m, nil, true

	case "market_list":
		p, rpcErr := decodeParams[marketListParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		lst, err := s.services.Marketplace.List(p.Market, p.Maker, p.Asset, p.Price)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return lst, nil, true

	case "market_delist":
		p, rpcErr := decodeParams[listingParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		if err := s.services.Marketplace.Delist(p.Listing, p.Caller); err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]string{"status": "ok"}, nil, true

	case "market_purchase":
		p, rpcErr := decodeParams[listingParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		receipt, err := s.services.Marketplace.Purchase(p.Listing, p.Caller)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return receipt, nil, true

	case "market_get_listing":
		p, rpcErr := decodeParams[listingParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		lst, err := s.services.Marketplace.GetListing(p.Listing)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return lst, nil, true

	case "stake_initialize":
		p, rpcErr := decodeParams[stakeInitParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		cfg, err := s.services.Staking.InitializeConfig(p.Admin, p.PointsPerStake, p.MaxStake, time.Duration(p.FreezeSeconds)*time.Second)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return cfg, nil, true

	case "stake_item":
		p, rpcErr := decodeParams[stakeParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		st, err := s.services.Staking.StakeItem(p.Owner, p.Asset)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return st, nil, true

	case "unstake_item":
		p, rpcErr := decodeParams[unstakeParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		if err := s.services.Staking.UnstakeItem(p.Owner, p.Stake); err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]string{"status": "ok"}, nil, true

	case "stake_claim":
		p, rpcErr := decodeParams[ownerParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		amount, err := s.services.Staking.ClaimRewards(p.Owner)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]uint64{"amount": amount}, nil, true

	case "stake_get_user":
		p, rpcErr := decodeParams[ownerParams](rawParams)
		if rpcErr != nil {
			return nil, rpcErr, true
		}
		u, err := s.services.Staking.GetUser(p.Owner)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return u, nil, true
	}
	return nil, nil, false
}
