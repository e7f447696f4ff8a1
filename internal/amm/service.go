// Package amm implements a constant-product pool: a config record, two
// custody vaults, and an LP mint whose supply tracks deposited liquidity.
// An optional authority may lock the pool against all state-changing calls.
package amm

import (
	"errors"
	"log/slog"
	"math/bits"
	"time"

	"chainvault/go-backend/internal/authority"
	"chainvault/go-backend/internal/ledger"
	"chainvault/go-backend/internal/platform/metrics"
	"chainvault/go-backend/internal/recordstore"
	"chainvault/go-backend/internal/settlement"
	"chainvault/go-backend/pkg/models"
)

const (
	Program   = "amm"
	configTag = "config"
	lpTag     = "lp"
	vaultTag  = "amm-vault"
)

var (
	ErrPoolNotFound     = errors.New("pool not found")
	ErrPoolExists       = errors.New("pool already initialized for this seed")
	ErrPoolLocked       = errors.New("pool is locked")
	ErrNotPoolAuthority = errors.New("caller is not the pool authority")
	ErrNoAuthority      = errors.New("pool has no update authority")
	ErrSlippageExceeded = errors.New("slippage limit exceeded")
	ErrZeroAmount       = errors.New("amount must be positive")
	ErrSameAsset        = errors.New("pool assets must differ")
	ErrEmptyPool        = errors.New("pool has no liquidity")
)

// Config is the persistent pool record. The numeric seed lets one deployer
// run several pools over the same asset pair.
type Config struct {
	Address    models.Address  `json:"address"`
	Seed       uint64          `json:"seed"`
	Authority  *models.Address `json:"authority,omitempty"`
	AssetX     models.AssetID  `json:"asset_x"`
	AssetY     models.AssetID  `json:"asset_y"`
	LPAsset    models.AssetID  `json:"lp_asset"`
	FeeBps     uint16          `json:"fee_bps"`
	Locked     bool            `json:"locked"`
	ConfigBump uint8           `json:"config_bump"`
	LPBump     uint8           `json:"lp_bump"`
	VaultX     models.Address  `json:"vault_x"`
	VaultY     models.Address  `json:"vault_y"`
	VaultXBump uint8           `json:"vault_x_bump"`
	VaultYBump uint8           `json:"vault_y_bump"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (c Config) vaultX() settlement.Custody {
	return settlement.Custody{
		Address: c.VaultX,
		Asset:   c.AssetX,
		Seed:    authority.NewSeed(vaultTag, c.Address[:], []byte(c.AssetX)),
		Bump:    c.VaultXBump,
	}
}

func (c Config) vaultY() settlement.Custody {
	return settlement.Custody{
		Address: c.VaultY,
		Asset:   c.AssetY,
		Seed:    authority.NewSeed(vaultTag, c.Address[:], []byte(c.AssetY)),
		Bump:    c.VaultYBump,
	}
}

type Service struct {
	ledger *ledger.Ledger
	pools  *recordstore.Store[Config]
	log    *slog.Logger
}

func NewService(l *ledger.Ledger, pools *recordstore.Store[Config]) *Service {
	return &Service{ledger: l, pools: pools, log: slog.Default()}
}

// PoolAddress derives the config record address for a numeric seed.
func (s *Service) PoolAddress(seed uint64) (models.Address, error) {
	addr, _, err := authority.Derive(s.ledger.Program(), authority.NewSeed(configTag, authority.Uint64ID(seed)))
	return addr, err
}

// Pool returns the live config for a numeric seed.
func (s *Service) Pool(seed uint64) (Config, error) {
	addr, err := s.PoolAddress(seed)
	if err != nil {
		return Config{}, err
	}
	cfg, ok := s.pools.Get(addr)
	if !ok {
		return Config{}, ErrPoolNotFound
	}
	return cfg, nil
}

// Initialize creates the config record, both vaults, and the LP mint. A nil
// update authority makes the pool immutable: it can never be locked.
func (s *Service) Initialize(payer models.Address, seed uint64, assetX, assetY models.AssetID, feeBps uint16, auth *models.Address) (Config, error) {
	if feeBps > settlement.MaxFeeBps {
		return Config{}, settlement.ErrFeeRate
	}
	if assetX == assetY {
		return Config{}, ErrSameAsset
	}
	cfgAddr, cfgBump, err := authority.Derive(s.ledger.Program(), authority.NewSeed(configTag, authority.Uint64ID(seed)))
	if err != nil {
		return Config{}, err
	}
	lpAuth, lpBump, err := authority.Derive(s.ledger.Program(), authority.NewSeed(lpTag, cfgAddr[:]))
	if err != nil {
		return Config{}, err
	}
	vaultX, vxBump, err := authority.Derive(s.ledger.Program(), authority.NewSeed(vaultTag, cfgAddr[:], []byte(assetX)))
	if err != nil {
		return Config{}, err
	}
	vaultY, vyBump, err := authority.Derive(s.ledger.Program(), authority.NewSeed(vaultTag, cfgAddr[:], []byte(assetY)))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Address:    cfgAddr,
		Seed:       seed,
		Authority:  auth,
		AssetX:     assetX,
		AssetY:     assetY,
		LPAsset:    models.AssetID("lp/" + lpAuth.String()),
		FeeBps:     feeBps,
		ConfigBump: cfgBump,
		LPBump:     lpBump,
		VaultX:     vaultX,
		VaultY:     vaultY,
		VaultXBump: vxBump,
		VaultYBump: vyBump,
		CreatedAt:  time.Now().UTC(),
	}
	err = s.ledger.Execute(func(txn *ledger.Txn) error {
		if _, ok := s.pools.Get(cfgAddr); ok {
			return ErrPoolExists
		}
		if err := txn.CreateAccount(cfgAddr, models.NativeAsset, cfgAddr, payer, true); err != nil {
			return err
		}
		if err := txn.CreateAccount(vaultX, assetX, vaultX, payer, true); err != nil {
			return err
		}
		if err := txn.CreateAccount(vaultY, assetY, vaultY, payer, true); err != nil {
			return err
		}
		if err := txn.RegisterMint(cfg.LPAsset, lpAuth, 6); err != nil {
			return err
		}
		s.pools.StagePut(txn, cfgAddr, cfg)
		return nil
	})
	if err != nil {
		metrics.CountFailure(Program, "initialize")
		return Config{}, err
	}
	s.log.Info("pool initialized", "seed", seed, "x", string(assetX), "y", string(assetY), "fee_bps", feeBps)
	return cfg, nil
}

func (s *Service) setLocked(seed uint64, caller models.Address, locked bool) error {
	return s.ledger.Execute(func(txn *ledger.Txn) error {
		cfg, err := s.Pool(seed)
		if err != nil {
			return err
		}
		if cfg.Authority == nil {
			return ErrNoAuthority
		}
		if *cfg.Authority != caller {
			metrics.CountFailure(Program, "authority")
			return ErrNotPoolAuthority
		}
		cfg.Locked = locked
		s.pools.StagePut(txn, cfg.Address, cfg)
		return nil
	})
}

// Lock freezes the pool against deposits, withdrawals, and swaps.
func (s *Service) Lock(seed uint64, caller models.Address) error {
	return s.setLocked(seed, caller, true)
}

// Unlock reopens a locked pool.
func (s *Service) Unlock(seed uint64, caller models.Address) error {
	return s.setLocked(seed, caller, false)
}

// mulDiv computes floor(a*b/d) through a 128-bit intermediate.
func mulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ledger.ErrArithmetic
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, ledger.ErrArithmetic
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}

// depositAmounts returns the x/y owed for lpAmount of new LP supply. On the
// first deposit the caller's maximums are taken verbatim.
func depositAmounts(lpAmount, lpSupply, reserveX, reserveY, maxX, maxY uint64) (x, y uint64, err error) {
	if lpSupply == 0 {
		return maxX, maxY, nil
	}
	x, err = mulDiv(lpAmount, reserveX, lpSupply)
	if err != nil {
		return 0, 0, err
	}
	y, err = mulDiv(lpAmount, reserveY, lpSupply)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

// Deposit adds liquidity proportionally and mints lpAmount LP tokens. maxX
// and maxY bound what the depositor is willing to pay.
func (s *Service) Deposit(seed uint64, depositor models.Address, lpAmount, maxX, maxY uint64) error {
	if lpAmount == 0 {
		return ErrZeroAmount
	}
	err := s.ledger.Execute(func(txn *ledger.Txn) error {
		cfg, err := s.Pool(seed)
		if err != nil {
			return err
		}
		if cfg.Locked {
			metrics.CountFailure(Program, "locked")
			return ErrPoolLocked
		}
		reserveX, err := txn.Balance(cfg.VaultX)
		if err != nil {
			return err
		}
		reserveY, err := txn.Balance(cfg.VaultY)
		if err != nil {
			return err
		}
		lpSupply, err := txn.Supply(cfg.LPAsset)
		if err != nil {
			return err
		}
		x, y, err := depositAmounts(lpAmount, lpSupply, reserveX, reserveY, maxX, maxY)
		if err != nil {
			return err
		}
		if x > maxX || y > maxY {
			return ErrSlippageExceeded
		}
		if err := txn.Transfer(cfg.AssetX, ledger.AssociatedAddress(depositor, cfg.AssetX), cfg.VaultX, x, depositor); err != nil {
			return err
		}
		if err := txn.Transfer(cfg.AssetY, ledger.AssociatedAddress(depositor, cfg.AssetY), cfg.VaultY, y, depositor); err != nil {
			return err
		}
		to, err := txn.EnsureAssociated(depositor, cfg.LPAsset, depositor)
		if err != nil {
			return err
		}
		return txn.MintTo(cfg.LPAsset, to, lpAmount, authority.NewSeed(lpTag, cfg.Address[:]), cfg.LPBump)
	})
	if err != nil {
		metrics.CountFailure(Program, "deposit")
		return err
	}
	s.log.Info("liquidity deposited", "seed", seed, "lp", lpAmount)
	return nil
}

// Withdraw burns lpAmount LP tokens and releases the proportional reserves.
// minX and minY bound what the withdrawer will accept.
func (s *Service) Withdraw(seed uint64, withdrawer models.Address, lpAmount, minX, minY uint64) error {
	if lpAmount == 0 {
		return ErrZeroAmount
	}
	err := s.ledger.Execute(func(txn *ledger.Txn) error {
		cfg, err := s.Pool(seed)
		if err != nil {
			return err
		}
		if cfg.Locked {
			metrics.CountFailure(Program, "locked")
			return ErrPoolLocked
		}
		reserveX, err := txn.Balance(cfg.VaultX)
		if err != nil {
			return err
		}
		reserveY, err := txn.Balance(cfg.VaultY)
		if err != nil {
			return err
		}
		lpSupply, err := txn.Supply(cfg.LPAsset)
		if err != nil {
			return err
		}
		if lpSupply == 0 {
			return ErrEmptyPool
		}
		x, err := mulDiv(lpAmount, reserveX, lpSupply)
		if err != nil {
			return err
		}
		y, err := mulDiv(lpAmount, reserveY, lpSupply)
		if err != nil {
			return err
		}
		if x < minX || y < minY {
			return ErrSlippageExceeded
		}
		from := ledger.AssociatedAddress(withdrawer, cfg.LPAsset)
		if err := txn.Burn(cfg.LPAsset, from, lpAmount, withdrawer); err != nil {
			return err
		}
		vx := cfg.vaultX()
		if err := txn.TransferWithAuthority(cfg.AssetX, cfg.VaultX, ledger.AssociatedAddress(withdrawer, cfg.AssetX), x, vx.Seed, vx.Bump); err != nil {
			return err
		}
		vy := cfg.vaultY()
		return txn.TransferWithAuthority(cfg.AssetY, cfg.VaultY, ledger.AssociatedAddress(withdrawer, cfg.AssetY), y, vy.Seed, vy.Bump)
	})
	if err != nil {
		metrics.CountFailure(Program, "withdraw")
		return err
	}
	s.log.Info("liquidity withdrawn", "seed", seed, "lp", lpAmount)
	return nil
}

// Swap trades amountIn of assetIn for the other pool asset along the
// constant-product curve, charging the pool fee on the way in. minOut bounds
// the acceptable execution.
func (s *Service) Swap(seed uint64, trader models.Address, assetIn models.AssetID, amountIn, minOut uint64) (uint64, error) {
	if amountIn == 0 {
		return 0, ErrZeroAmount
	}
	var amountOut uint64
	err := s.ledger.Execute(func(txn *ledger.Txn) error {
		cfg, err := s.Pool(seed)
		if err != nil {
			return err
		}
		if cfg.Locked {
			metrics.CountFailure(Program, "locked")
			return ErrPoolLocked
		}
		var vaultIn, vaultOut settlement.Custody
		var assetOut models.AssetID
		switch assetIn {
		case cfg.AssetX:
			vaultIn, vaultOut, assetOut = cfg.vaultX(), cfg.vaultY(), cfg.AssetY
		case cfg.AssetY:
			vaultIn, vaultOut, assetOut = cfg.vaultY(), cfg.vaultX(), cfg.AssetX
		default:
			return ledger.ErrUnknownAsset
		}

		reserveIn, err := txn.Balance(vaultIn.Address)
		if err != nil {
			return err
		}
		reserveOut, err := txn.Balance(vaultOut.Address)
		if err != nil {
			return err
		}
		if reserveIn == 0 || reserveOut == 0 {
			return ErrEmptyPool
		}
		// The fee stays in the input vault, accruing to LPs.
		_, effectiveIn, err := settlement.FeeSplit(amountIn, cfg.FeeBps)
		if err != nil {
			return err
		}
		denom, err := checkedAdd(reserveIn, effectiveIn)
		if err != nil {
			return err
		}
		amountOut, err = mulDiv(reserveOut, effectiveIn, denom)
		if err != nil {
			return err
		}
		if amountOut < minOut {
			return ErrSlippageExceeded
		}
		from := ledger.AssociatedAddress(trader, assetIn)
		if err := txn.Transfer(assetIn, from, vaultIn.Address, amountIn, trader); err != nil {
			return err
		}
		to, err := txn.EnsureAssociated(trader, assetOut, trader)
		if err != nil {
			return err
		}
		return txn.TransferWithAuthority(assetOut, vaultOut.Address, to, amountOut, vaultOut.Seed, vaultOut.Bump)
	})
	if err != nil {
		metrics.CountFailure(Program, "swap")
		return 0, err
	}
	s.log.Info("swap executed", "seed", seed, "in", amountIn, "out", amountOut)
	return amountOut, nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ledger.ErrArithmetic
	}
	return sum, nil
}
