// Package marketplace implements list/delist/purchase on top of the shared
// custody skeleton: a listed asset sits behind a listing-derived authority,
// purchases split the price between maker and treasury at the marketplace
// fee rate, and buyers receive an optional reward mint-through.
package marketplace

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
	Program        = "marketplace"
	marketplaceTag = "marketplace"
	treasuryTag    = "treasury"
	rewardsTag     = "rewards"
	listingTag     = "listing"
	custodyTag     = "listing-custody"
)

var (
	ErrMarketNotFound  = errors.New("marketplace not found")
	ErrMarketExists    = errors.New("marketplace name already taken")
	ErrListingNotFound = errors.New("listing not found")
	ErrListingExists   = errors.New("asset is already listed here")
	ErrZeroPrice       = errors.New("listing price must be positive")
	ErrNotMaker        = errors.New("only the maker may delist")
)

// Marketplace is the per-market config record: fee rate, treasury, and the
// derived reward mint authority. It is fetched fresh per request; there is
// no process-wide mutable config.
type Marketplace struct {
	Address         models.Address `json:"address"`
	Admin           models.Address `json:"admin"`
	Name            string         `json:"name"`
	FeeBps          uint16         `json:"fee_bps"`
	RewardPerBuy    uint64         `json:"reward_per_buy"`
	RewardAsset     models.AssetID `json:"reward_asset"`
	Bump            uint8          `json:"bump"`
	Treasury        models.Address `json:"treasury"`
	TreasuryBump    uint8          `json:"treasury_bump"`
	RewardAuthority models.Address `json:"reward_authority"`
	RewardBump      uint8          `json:"reward_bump"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Listing tracks one listed asset. Custody derives from the listing's own
// address so one maker can list under many markets without collision.
type Listing struct {
	Address     models.Address `json:"address"`
	Market      models.Address `json:"market"`
	Maker       models.Address `json:"maker"`
	Buyer       models.Address `json:"buyer,omitempty"`
	Asset       models.AssetID `json:"asset"`
	Price       uint64         `json:"price"`
	Phase       models.Phase   `json:"phase"`
	Bump        uint8          `json:"bump"`
	Custody     models.Address `json:"custody"`
	CustodyBump uint8          `json:"custody_bump"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (l Listing) custody() settlement.Custody {
	return settlement.Custody{
		Address: l.Custody,
		Asset:   l.Asset,
		Seed:    authority.NewSeed(custodyTag, l.Address[:]),
		Bump:    l.CustodyBump,
	}
}

type Service struct {
	ledger   *ledger.Ledger
	markets  *recordstore.Store[Marketplace]
	listings *recordstore.Store[Listing]
	log      *slog.Logger
}

func NewService(l *ledger.Ledger, markets *recordstore.Store[Marketplace], listings *recordstore.Store[Listing]) *Service {
	return &Service{ledger: l, markets: markets, listings: listings, log: slog.Default()}
}

// MarketAddress derives the config record address for a market name.
func (s *Service) MarketAddress(name string) (models.Address, error) {
	addr, _, err := authority.Derive(s.ledger.Program(), authority.NewSeed(marketplaceTag, []byte(name)))
	return addr, err
}

// Market returns the config record for a name.
func (s *Service) Market(name string) (Marketplace, error) {
	addr, err := s.MarketAddress(name)
	if err != nil {
		return Marketplace{}, err
	}
	m, ok := s.markets.Get(addr)
	if !ok {
		return Marketplace{}, ErrMarketNotFound
	}
	return m, nil
}

// GetListing returns the listing record at addr.
func (s *Service) GetListing(addr models.Address) (Listing, error) {
	l, ok := s.listings.Get(addr)
	if !ok {
		return Listing{}, ErrListingNotFound
	}
	return l, nil
}

// Initialize creates a marketplace: config record, treasury account, and
// the reward mint under a derived authority.
func (s *Service) Initialize(admin models.Address, name string, feeBps uint16, rewardPerBuy uint64) (Marketplace, error) {
	if feeBps > settlement.MaxFeeBps {
		return Marketplace{}, settlement.ErrFeeRate
	}
	mktSeed := authority.NewSeed(marketplaceTag, []byte(name))
	mktAddr, mktBump, err := authority.Derive(s.ledger.Program(), mktSeed)
	if err != nil {
		return Marketplace{}, err
	}
	treasuryAddr, treasuryBump, err := authority.Derive(s.ledger.Program(), authority.NewSeed(treasuryTag, mktAddr[:]))
	if err != nil {
		return Marketplace{}, err
	}
	rewardAuth, rewardBump, err := authority.Derive(s.ledger.Program(), authority.NewSeed(rewardsTag, mktAddr[:]))
	if err != nil {
		return Marketplace{}, err
	}

	m := Marketplace{
		Address:         mktAddr,
		Admin:           admin,
		Name:            name,
		FeeBps:          feeBps,
		RewardPerBuy:    rewardPerBuy,
		RewardAsset:     models.AssetID("rewards/" + name),
		Bump:            mktBump,
		Treasury:        treasuryAddr,
		TreasuryBump:    treasuryBump,
		RewardAuthority: rewardAuth,
		RewardBump:      rewardBump,
		CreatedAt:       time.Now().UTC(),
	}
	err = s.ledger.Execute(func(txn *ledger.Txn) error {
		if _, ok := s.markets.Get(mktAddr); ok {
			return ErrMarketExists
		}
		if err := txn.CreateAccount(mktAddr, models.NativeAsset, mktAddr, admin, true); err != nil {
			return err
		}
		if err := txn.CreateAccount(treasuryAddr, models.NativeAsset, treasuryAddr, admin, true); err != nil {
			return err
		}
		if err := txn.RegisterMint(m.RewardAsset, rewardAuth, 6); err != nil {
			return err
		}
		s.markets.StagePut(txn, mktAddr, m)
		return nil
	})
	if err != nil {
		metrics.CountFailure(Program, "initialize")
		return Marketplace{}, err
	}
	s.log.Info("marketplace initialized", "name", name, "fee_bps", feeBps)
	return m, nil
}

// List puts one unit of an asset into custody and opens a listing priced in
// the native asset.
func (s *Service) List(marketName string, maker models.Address, asset models.AssetID, price uint64) (Listing, error) {
	if price == 0 {
		return Listing{}, ErrZeroPrice
	}
	mktAddr, err := s.MarketAddress(marketName)
	if err != nil {
		return Listing{}, err
	}
	listingSeed := authority.NewSeed(listingTag, mktAddr[:], []byte(asset))
	listingAddr, listingBump, err := authority.Derive(s.ledger.Program(), listingSeed)
	if err != nil {
		return Listing{}, err
	}
	custodyAddr, custodyBump, err := authority.Derive(s.ledger.Program(), authority.NewSeed(custodyTag, listingAddr[:]))
	if err != nil {
		return Listing{}, err
	}

	lst := Listing{
		Address:     listingAddr,
		Market:      mktAddr,
		Maker:       maker,
		Asset:       asset,
		Price:       price,
		Phase:       models.PhaseOpen,
		Bump:        listingBump,
		Custody:     custodyAddr,
		CustodyBump: custodyBump,
		CreatedAt:   time.Now().UTC(),
	}
	err = s.ledger.Execute(func(txn *ledger.Txn) error {
		if _, ok := s.markets.Get(mktAddr); !ok {
			return ErrMarketNotFound
		}
		if _, ok := s.listings.Get(listingAddr); ok {
			return ErrListingExists
		}
		if err := txn.CreateAccount(listingAddr, models.NativeAsset, listingAddr, maker, true); err != nil {
			return err
		}
		if err := txn.CreateAccount(custodyAddr, asset, custodyAddr, maker, true); err != nil {
			return err
		}
		from := ledger.AssociatedAddress(maker, asset)
		if err := txn.Transfer(asset, from, custodyAddr, 1, maker); err != nil {
			return err
		}
		s.listings.StagePut(txn, listingAddr, lst)
		return nil
	})
	if err != nil {
		metrics.CountFailure(Program, "list")
		return Listing{}, err
	}
	s.log.Info("asset listed", "listing", listingAddr.Short(), "price", price)
	return lst, nil
}

// Delist returns the custodied asset to the maker and closes the listing.
// Maker-only.
func (s *Service) Delist(listingAddr, caller models.Address) error {
	err := s.ledger.Execute(func(txn *ledger.Txn) error {
		lst, ok := s.listings.Get(listingAddr)
		if !ok {
			return ErrListingNotFound
		}
		if caller != lst.Maker {
			return ErrNotMaker
		}
		if err := settlement.EnsureOpen(lst.Phase); err != nil {
			metrics.CountFailure(Program, "phase")
			return err
		}
		residualTo := ledger.AssociatedAddress(lst.Maker, lst.Asset)
		if err := settlement.Close(txn, lst.custody(), residualTo, lst.Maker); err != nil {
			return err
		}
		if err := txn.CloseAccount(lst.Address, lst.Maker); err != nil {
			return err
		}
		lst.Phase = models.PhaseCancelled
		s.listings.StagePut(txn, lst.Address, lst)
		return nil
	})
	if err != nil {
		metrics.CountFailure(Program, "delist")
		return err
	}
	s.log.Info("asset delisted", "listing", listingAddr.Short())
	return nil
}

// Purchase settles a listing: the buyer pays fee to treasury and net to the
// maker, the asset releases from custody, a reward mints through to the
// buyer, and the listing closes with its deposits refunded to the maker.
func (s *Service) Purchase(listingAddr, buyer models.Address) (models.SettlementReceipt, error) {
	var receipt models.SettlementReceipt
	err := s.ledger.Execute(func(txn *ledger.Txn) error {
		// Phase and config are read inside the atomic unit so a raced
		// second purchase fails on phase, never mid-settlement.
		lst, ok := s.listings.Get(listingAddr)
		if !ok {
			return ErrListingNotFound
		}
		if err := settlement.EnsureOpen(lst.Phase); err != nil {
			metrics.CountFailure(Program, "phase")
			return err
		}
		m, ok := s.markets.Get(lst.Market)
		if !ok {
			return ErrMarketNotFound
		}
		cust := lst.custody()
		if err := cust.Verify(txn); err != nil {
			return err
		}
		fee, net, err := settlement.FeeSplit(lst.Price, m.FeeBps)
		if err != nil {
			return err
		}

		st := settlement.Begin(txn, Program, lst.Address)
		st.Split(lst.Price, fee, net)
		if fee > 0 {
			if err := st.Pay("fee", models.NativeAsset, buyer, m.Treasury, fee, buyer); err != nil {
				return err
			}
		}
		if err := st.Pay("principal", models.NativeAsset, buyer, lst.Maker, net, buyer); err != nil {
			return err
		}
		buyerTo, err := txn.EnsureAssociated(buyer, lst.Asset, buyer)
		if err != nil {
			return err
		}
		if err := st.Release("custody", cust, buyerTo, 1); err != nil {
			return err
		}
		if m.RewardPerBuy > 0 {
			rewardTo, err := txn.EnsureAssociated(buyer, m.RewardAsset, buyer)
			if err != nil {
				return err
			}
			rewardSeed := authority.NewSeed(rewardsTag, m.Address[:])
			if err := st.MintReward("reward", m.RewardAsset, rewardTo, m.RewardPerBuy, rewardSeed, m.RewardBump); err != nil {
				return err
			}
		}
		residualTo := ledger.AssociatedAddress(lst.Maker, lst.Asset)
		if err := settlement.Close(txn, cust, residualTo, lst.Maker); err != nil {
			return err
		}
		if err := txn.CloseAccount(lst.Address, lst.Maker); err != nil {
			return err
		}

		lst.Buyer = buyer
		lst.Phase = models.PhaseSettled
		s.listings.StagePut(txn, lst.Address, lst)
		receipt = st.Receipt()
		return nil
	})
	if err != nil {
		metrics.CountFailure(Program, "purchase")
		return models.SettlementReceipt{}, err
	}
	metrics.ObserveSettlement(receipt)
	s.log.Info("listing purchased", "listing", listingAddr.Short(), "buyer", buyer.Short(), "fee", receipt.Fee, "net", receipt.Net)
	return receipt, nil
}
