// Package staking layers two domain guards on the custody skeleton: a
// per-user stake ceiling and a freeze period that must elapse before an
// unstake. Points accrue per unstake and convert to reward tokens.
package staking

import (
	"errors"
	"log/slog"
	"time"

	"chainvault/go-backend/internal/authority"
	"chainvault/go-backend/internal/ledger"
	"chainvault/go-backend/internal/platform/metrics"
	"chainvault/go-backend/internal/recordstore"
	"chainvault/go-backend/internal/settlement"
	"chainvault/go-backend/pkg/models"
)

const (
	Program    = "staking"
	configTag  = "config"
	rewardsTag = "rewards"
	userTag    = "user"
	stakeTag   = "stake"
	custodyTag = "stake-custody"
)

var (
	ErrMaxStakeReached       = errors.New("max stake amount reached")
	ErrFreezePeriodNotPassed = errors.New("freeze period not passed")
	ErrConfigNotFound        = errors.New("stake config not found")
	ErrConfigExists          = errors.New("stake config already initialized")
	ErrStakeNotFound         = errors.New("stake record not found")
	ErrStakeExists           = errors.New("asset already staked")
	ErrNotOwner              = errors.New("only the staker may unstake")
	ErrNothingToClaim        = errors.New("no points to claim")
)

// Config is the singleton stake configuration, fetched fresh per request.
type Config struct {
	Address        models.Address `json:"address"`
	Admin          models.Address `json:"admin"`
	PointsPerStake uint8          `json:"points_per_stake"`
	MaxStake       uint8          `json:"max_stake"`
	FreezePeriod   time.Duration  `json:"freeze_period"`
	RewardAsset    models.AssetID `json:"reward_asset"`
	Bump           uint8          `json:"bump"`
	RewardBump     uint8          `json:"reward_bump"`
	CreatedAt      time.Time      `json:"created_at"`
}

// User tracks one staker's running totals.
type User struct {
	Address      models.Address `json:"address"`
	Owner        models.Address `json:"owner"`
	Points       uint32         `json:"points"`
	AmountStaked uint8          `json:"amount_staked"`
	Bump         uint8          `json:"bump"`
}

// Stake is one staked item held in custody until unstake.
type Stake struct {
	Address     models.Address `json:"address"`
	Owner       models.Address `json:"owner"`
	Asset       models.AssetID `json:"asset"`
	StakedAt    time.Time      `json:"staked_at"`
	Phase       models.Phase   `json:"phase"`
	Bump        uint8          `json:"bump"`
	Custody     models.Address `json:"custody"`
	CustodyBump uint8          `json:"custody_bump"`
}

func (st Stake) custody() settlement.Custody {
	return settlement.Custody{
		Address: st.Custody,
		Asset:   st.Asset,
		Seed:    authority.NewSeed(custodyTag, st.Address[:]),
		Bump:    st.CustodyBump,
	}
}

type Service struct {
	ledger *ledger.Ledger
	config *recordstore.Store[Config]
	users  *recordstore.Store[User]
	stakes *recordstore.Store[Stake]
	log    *slog.Logger
	now    func() time.Time
}

func NewService(l *ledger.Ledger, config *recordstore.Store[Config], users *recordstore.Store[User], stakes *recordstore.Store[Stake]) *Service {
	return &Service{
		ledger: l,
		config: config,
		users:  users,
		stakes: stakes,
		log:    slog.Default(),
		now:    time.Now,
	}
}

func newServiceWithClock(l *ledger.Ledger, now func() time.Time) *Service {
	s := NewService(l, recordstore.New[Config](), recordstore.New[User](), recordstore.New[Stake]())
	s.now = now
	return s
}

func (s *Service) configAddress() (models.Address, uint8, error) {
	return authority.Derive(s.ledger.Program(), authority.NewSeed(configTag))
}

// GetConfig returns the live stake configuration.
func (s *Service) GetConfig() (Config, error) {
	addr, _, err := s.configAddress()
	if err != nil {
		return Config{}, err
	}
	cfg, ok := s.config.Get(addr)
	if !ok {
		return Config{}, ErrConfigNotFound
	}
	return cfg, nil
}

// GetUser returns the running totals for an owner.
func (s *Service) GetUser(owner models.Address) (User, error) {
	u, _, err := s.getUser(owner)
	return u, err
}

// getUser resolves the user record, deriving the address and bump when the
// owner has no record yet. Presence is the returned flag; a bump of zero is
// legal and never a sentinel.
func (s *Service) getUser(owner models.Address) (User, bool, error) {
	addr, bump, err := authority.Derive(s.ledger.Program(), authority.NewSeed(userTag, owner[:]))
	if err != nil {
		return User{}, false, err
	}
	if u, ok := s.users.Get(addr); ok {
		return u, true, nil
	}
	return User{Owner: owner, Address: addr, Bump: bump}, false, nil
}

// InitializeConfig creates the config record and the reward mint under a
// derived authority.
func (s *Service) InitializeConfig(admin models.Address, pointsPerStake, maxStake uint8, freezePeriod time.Duration) (Config, error) {
	cfgAddr, cfgBump, err := s.configAddress()
	if err != nil {
		return Config{}, err
	}
	rewardAuth, rewardBump, err := authority.Derive(s.ledger.Program(), authority.NewSeed(rewardsTag, cfgAddr[:]))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Address:        cfgAddr,
		Admin:          admin,
		PointsPerStake: pointsPerStake,
		MaxStake:       maxStake,
		FreezePeriod:   freezePeriod,
		RewardAsset:    models.AssetID("stake-rewards"),
		Bump:           cfgBump,
		RewardBump:     rewardBump,
		CreatedAt:      s.now().UTC(),
	}
	err = s.ledger.Execute(func(txn *ledger.Txn) error {
		if _, ok := s.config.Get(cfgAddr); ok {
			return ErrConfigExists
		}
		if err := txn.CreateAccount(cfgAddr, models.NativeAsset, cfgAddr, admin, true); err != nil {
			return err
		}
		if err := txn.RegisterMint(cfg.RewardAsset, rewardAuth, 6); err != nil {
			return err
		}
		s.config.StagePut(txn, cfgAddr, cfg)
		return nil
	})
	if err != nil {
		metrics.CountFailure(Program, "initialize")
		return Config{}, err
	}
	s.log.Info("stake config initialized", "max_stake", maxStake, "freeze_period", freezePeriod)
	return cfg, nil
}

// StakeItem moves one unit of the asset into custody, subject to the
// configured ceiling: current staked + 1 must not exceed max stake.
func (s *Service) StakeItem(owner models.Address, asset models.AssetID) (Stake, error) {
	var st Stake
	err := s.ledger.Execute(func(txn *ledger.Txn) error {
		// Ceiling and existence checks read live state inside the atomic
		// unit; concurrent stakes serialize here and cannot pass the
		// ceiling together.
		cfg, err := s.GetConfig()
		if err != nil {
			return err
		}
		user, _, err := s.getUser(owner)
		if err != nil {
			return err
		}
		if int(user.AmountStaked)+1 > int(cfg.MaxStake) {
			metrics.CountFailure(Program, "max_stake")
			return ErrMaxStakeReached
		}

		stakeSeed := authority.NewSeed(stakeTag, cfg.Address[:], owner[:], []byte(asset))
		stakeAddr, stakeBump, err := authority.Derive(s.ledger.Program(), stakeSeed)
		if err != nil {
			return err
		}
		if existing, ok := s.stakes.Get(stakeAddr); ok && existing.Phase == models.PhaseOpen {
			return ErrStakeExists
		}
		custodyAddr, custodyBump, err := authority.Derive(s.ledger.Program(), authority.NewSeed(custodyTag, stakeAddr[:]))
		if err != nil {
			return err
		}

		st = Stake{
			Address:     stakeAddr,
			Owner:       owner,
			Asset:       asset,
			StakedAt:    s.now().UTC(),
			Phase:       models.PhaseOpen,
			Bump:        stakeBump,
			Custody:     custodyAddr,
			CustodyBump: custodyBump,
		}
		if err := txn.CreateAccount(stakeAddr, models.NativeAsset, stakeAddr, owner, true); err != nil {
			return err
		}
		if err := txn.CreateAccount(custodyAddr, asset, custodyAddr, owner, true); err != nil {
			return err
		}
		from := ledger.AssociatedAddress(owner, asset)
		if err := txn.Transfer(asset, from, custodyAddr, 1, owner); err != nil {
			return err
		}
		user.AmountStaked++
		s.users.StagePut(txn, user.Address, user)
		s.stakes.StagePut(txn, stakeAddr, st)
		return nil
	})
	if err != nil {
		metrics.CountFailure(Program, "stake")
		return Stake{}, err
	}
	s.log.Info("item staked", "owner", owner.Short(), "asset", string(asset))
	return st, nil
}

// UnstakeItem releases a staked item after the freeze period, closes the
// custody and stake record, and accrues points.
func (s *Service) UnstakeItem(owner models.Address, stakeAddr models.Address) error {
	var points uint32
	err := s.ledger.Execute(func(txn *ledger.Txn) error {
		st, ok := s.stakes.Get(stakeAddr)
		if !ok {
			return ErrStakeNotFound
		}
		if st.Owner != owner {
			return ErrNotOwner
		}
		if err := settlement.EnsureOpen(st.Phase); err != nil {
			metrics.CountFailure(Program, "phase")
			return err
		}
		cfg, err := s.GetConfig()
		if err != nil {
			return err
		}
		if s.now().Before(st.StakedAt.Add(cfg.FreezePeriod)) {
			metrics.CountFailure(Program, "freeze_period")
			return ErrFreezePeriodNotPassed
		}
		user, _, err := s.getUser(owner)
		if err != nil {
			return err
		}

		residualTo := ledger.AssociatedAddress(owner, st.Asset)
		if err := settlement.Close(txn, st.custody(), residualTo, owner); err != nil {
			return err
		}
		if err := txn.CloseAccount(st.Address, owner); err != nil {
			return err
		}
		user.Points += uint32(cfg.PointsPerStake)
		if user.AmountStaked > 0 {
			user.AmountStaked--
		}
		points = user.Points
		s.users.StagePut(txn, user.Address, user)
		st.Phase = models.PhaseCancelled
		s.stakes.StagePut(txn, st.Address, st)
		return nil
	})
	if err != nil {
		metrics.CountFailure(Program, "unstake")
		return err
	}
	s.log.Info("item unstaked", "owner", owner.Short(), "points", points)
	return nil
}

// ClaimRewards converts accrued points into reward tokens minted through
// the derived reward authority.
func (s *Service) ClaimRewards(owner models.Address) (uint64, error) {
	var amount uint64
	err := s.ledger.Execute(func(txn *ledger.Txn) error {
		// The points balance is read inside the atomic unit so two
		// concurrent claims cannot both mint against the same balance.
		cfg, err := s.GetConfig()
		if err != nil {
			return err
		}
		user, _, err := s.getUser(owner)
		if err != nil {
			return err
		}
		if user.Points == 0 {
			return ErrNothingToClaim
		}

		amount = uint64(user.Points)
		to, err := txn.EnsureAssociated(owner, cfg.RewardAsset, owner)
		if err != nil {
			return err
		}
		rewardSeed := authority.NewSeed(rewardsTag, cfg.Address[:])
		if err := txn.MintTo(cfg.RewardAsset, to, amount, rewardSeed, cfg.RewardBump); err != nil {
			return err
		}
		user.Points = 0
		s.users.StagePut(txn, user.Address, user)
		return nil
	})
	if err != nil {
		metrics.CountFailure(Program, "claim")
		return 0, err
	}
	s.log.Info("rewards claimed", "owner", owner.Short(), "amount", amount)
	return amount, nil
}
