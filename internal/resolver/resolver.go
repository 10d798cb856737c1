// Package resolver answers cross-asset questions over the registry: where an
// ISIN trades, which venue is best for it and which venue pairs diverge
// enough to be worth arbitraging.
package resolver

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/pkg/model"
)

var (
	ErrNoVenue         = errors.New("no tradable venue")
	ErrUnknownCriteria = errors.New("unknown selection criteria")
)

// Catalog is the read side of the registry the resolver depends on.
type Catalog interface {
	GetByID(id model.InstrumentID) (model.Instrument, bool)
	GetVenue(id model.VenueID) (model.Venue, bool)
	Listings(isin string) []model.Listing
	VenuesForInstrument(id model.InstrumentID) []model.Venue
	VenueLinksForISIN(isin string) []model.VenueLink
	FindByCUSIP(cusip string) []model.Instrument
	FindByAddress(address string) []model.Instrument
}

type Criteria uint8

const (
	LowestFees Criteria = iota + 1
	HighestLiquidity
	FastestExecution
)

func (c Criteria) String() string {
	switch c {
	case LowestFees:
		return "lowest_fees"
	case HighestLiquidity:
		return "highest_liquidity"
	case FastestExecution:
		return "fastest_execution"
	default:
		return fmt.Sprintf("criteria(%d)", uint8(c))
	}
}

func ParseCriteria(s string) (Criteria, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lowest_fees", "fees", "":
		return LowestFees, nil
	case "highest_liquidity", "liquidity":
		return HighestLiquidity, nil
	case "fastest_execution", "speed":
		return FastestExecution, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCriteria, s)
}

// Config holds the arbitrage thresholds.
type Config struct {
	FeeThresholdBps    decimal.Decimal
	LiquidityThreshold float64
}

func DefaultConfig() Config {
	return Config{
		FeeThresholdBps:    decimal.NewFromInt(5),
		LiquidityThreshold: 0.2,
	}
}

// ArbitragePair is an unordered venue pair whose fees or liquidity differ by
// more than the configured thresholds. A was registered before B.
type ArbitragePair struct {
	A             model.Venue     `json:"a"`
	B             model.Venue     `json:"b"`
	FeeDiffBps    decimal.Decimal `json:"fee_diff_bps"`
	LiquidityDiff float64         `json:"liquidity_diff"`
}

type Resolver struct {
	catalog Catalog
	cfg     Config
	logger  *zap.Logger
}

func New(catalog Catalog, cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{catalog: catalog, cfg: cfg, logger: logger}
}

// FindAllVenuesForISIN returns every listing of the ISIN.
func (r *Resolver) FindAllVenuesForISIN(isin string) []model.Listing {
	return r.catalog.Listings(isin)
}

// venuesForISIN collects the distinct venues linked to any listing of isin,
// ordered by registration.
func (r *Resolver) venuesForISIN(isin string) []model.Venue {
	seen := make(map[model.VenueID]struct{})
	var out []model.Venue
	for _, l := range r.catalog.VenueLinksForISIN(isin) {
		if _, dup := seen[l.VenueID]; dup {
			continue
		}
		seen[l.VenueID] = struct{}{}
		if v, ok := r.catalog.GetVenue(l.VenueID); ok {
			out = append(out, v)
		}
	}
	sortBySeq(out)
	return out
}

func (r *Resolver) FindBestVenueForISIN(isin string, c Criteria) (model.Venue, error) {
	v, err := best(r.venuesForISIN(isin), c)
	if err != nil {
		return model.Venue{}, fmt.Errorf("isin %s: %w", strings.ToUpper(isin), err)
	}
	r.logger.Debug("resolver.best_venue",
		zap.String("isin", isin),
		zap.Stringer("criteria", c),
		zap.String("venue", v.Name))
	return v, nil
}

func (r *Resolver) FindBestVenueForInstrument(id model.InstrumentID, c Criteria) (model.Venue, error) {
	v, err := best(r.catalog.VenuesForInstrument(id), c)
	if err != nil {
		return model.Venue{}, fmt.Errorf("instrument %s: %w", id, err)
	}
	return v, nil
}

// best is a single pass with strict comparison, so on ties the venue
// registered first is kept.
func best(candidates []model.Venue, c Criteria) (model.Venue, error) {
	var (
		pick  model.Venue
		found bool
	)
	for _, v := range candidates {
		if !v.Status.Tradable() {
			continue
		}
		if !found {
			pick, found = v, true
			continue
		}
		better, err := beats(v, pick, c)
		if err != nil {
			return model.Venue{}, err
		}
		if better {
			pick = v
		}
	}
	if !found {
		return model.Venue{}, ErrNoVenue
	}
	return pick, nil
}

func beats(a, b model.Venue, c Criteria) (bool, error) {
	switch c {
	case LowestFees:
		return a.Fees.AverageBps().LessThan(b.Fees.AverageBps()), nil
	case HighestLiquidity:
		return a.Metrics.LiquidityScore > b.Metrics.LiquidityScore, nil
	case FastestExecution:
		return a.Metrics.AvgFillTime < b.Metrics.AvgFillTime, nil
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownCriteria, c)
}

// FindArbitrageVenuesForISIN returns every tradable venue pair whose fee
// difference or liquidity difference exceeds its threshold.
func (r *Resolver) FindArbitrageVenuesForISIN(isin string) []ArbitragePair {
	var venues []model.Venue
	for _, v := range r.venuesForISIN(isin) {
		if v.Status.Tradable() {
			venues = append(venues, v)
		}
	}

	var pairs []ArbitragePair
	for i := 0; i < len(venues); i++ {
		for j := i + 1; j < len(venues); j++ {
			a, b := venues[i], venues[j]
			feeDiff := a.Fees.AverageBps().Sub(b.Fees.AverageBps()).Abs()
			liqDiff := a.Metrics.LiquidityScore - b.Metrics.LiquidityScore
			if liqDiff < 0 {
				liqDiff = -liqDiff
			}
			if feeDiff.GreaterThan(r.cfg.FeeThresholdBps) || liqDiff > r.cfg.LiquidityThreshold {
				pairs = append(pairs, ArbitragePair{A: a, B: b, FeeDiffBps: feeDiff, LiquidityDiff: liqDiff})
			}
		}
	}
	return pairs
}

// FindCrossListedByCUSIP returns every listing sharing the CUSIP.
func (r *Resolver) FindCrossListedByCUSIP(cusip string) []model.Instrument {
	return r.catalog.FindByCUSIP(cusip)
}

// FindTokensByAddress returns deployments of one contract address across chains.
func (r *Resolver) FindTokensByAddress(address string) []model.Instrument {
	return r.catalog.FindByAddress(address)
}

func sortBySeq(vs []model.Venue) {
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].RegisteredSeq < vs[j].RegisteredSeq })
}
