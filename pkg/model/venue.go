package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/venue-registry/pkg/ident"
)

type VenueKind uint8

const (
	VenueKindStock VenueKind = iota + 1
	VenueKindCrypto
	VenueKindFutures
	VenueKindOptions
)

func (k VenueKind) String() string {
	switch k {
	case VenueKindStock:
		return "stock"
	case VenueKindCrypto:
		return "crypto"
	case VenueKindFutures:
		return "futures"
	case VenueKindOptions:
		return "options"
	default:
		return fmt.Sprintf("venue_kind(%d)", uint8(k))
	}
}

// VenueType is a closed sum type: StockVenue, CryptoVenue, FuturesVenue, OptionsVenue.
type VenueType interface {
	VenueKind() VenueKind
}

type StockVenue struct {
	MIC      string `json:"mic"`
	Country  string `json:"country"`
	Timezone string `json:"timezone"`
}

type ExchangeType uint8

const (
	Centralized ExchangeType = iota + 1
	Decentralized
)

type CryptoVenue struct {
	ExchangeType    ExchangeType `json:"exchange_type"`
	SupportedChains []string     `json:"supported_chains,omitempty"`
}

type FuturesVenue struct {
	MIC      string `json:"mic"`
	Clearing string `json:"clearing,omitempty"`
}

type OptionsVenue struct {
	MIC      string `json:"mic"`
	Clearing string `json:"clearing,omitempty"`
}

func (StockVenue) VenueKind() VenueKind   { return VenueKindStock }
func (CryptoVenue) VenueKind() VenueKind  { return VenueKindCrypto }
func (FuturesVenue) VenueKind() VenueKind { return VenueKindFutures }
func (OptionsVenue) VenueKind() VenueKind { return VenueKindOptions }

type VenueStatus uint8

const (
	VenueActive VenueStatus = iota + 1
	VenueDegraded
	VenueHalted
	VenueDelisted // terminal; the row is kept for historical joins
)

func (s VenueStatus) String() string {
	switch s {
	case VenueActive:
		return "active"
	case VenueDegraded:
		return "degraded"
	case VenueHalted:
		return "halted"
	case VenueDelisted:
		return "delisted"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func ParseVenueStatus(s string) (VenueStatus, error) {
	for st := VenueActive; st <= VenueDelisted; st++ {
		if strings.EqualFold(s, st.String()) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown venue status %q", s)
}

func (s VenueStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *VenueStatus) UnmarshalText(b []byte) error {
	v, err := ParseVenueStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Tradable reports whether routing may consider the venue.
func (s VenueStatus) Tradable() bool {
	return s == VenueActive || s == VenueDegraded
}

type Connectivity struct {
	Endpoint          string `json:"endpoint,omitempty"`
	RequestsPerSecond uint32 `json:"requests_per_second"`
	Burst             uint32 `json:"burst"`
}

type VolumeTier struct {
	MinVolume   decimal.Decimal `json:"min_volume"`
	DiscountBps decimal.Decimal `json:"discount_bps"`
}

type FeeStructure struct {
	MakerBps        decimal.Decimal `json:"maker_bps"`
	TakerBps        decimal.Decimal `json:"taker_bps"`
	VolumeDiscounts []VolumeTier    `json:"volume_discounts,omitempty"`
}

// AverageBps is the mean of maker and taker fees.
func (f FeeStructure) AverageBps() decimal.Decimal {
	return f.MakerBps.Add(f.TakerBps).Div(decimal.NewFromInt(2))
}

type Capabilities struct {
	OrderTypes []string        `json:"order_types,omitempty"`
	MinSize    decimal.Decimal `json:"min_size"`
	MaxSize    decimal.Decimal `json:"max_size"`
}

// PerformanceMetrics are rolling, updated in place.
type PerformanceMetrics struct {
	AvgFillTime    time.Duration `json:"avg_fill_time"`
	LiquidityScore float64       `json:"liquidity_score"` // 0..1
	SlippageBps    float64       `json:"slippage_bps"`
	Reliability    float64       `json:"reliability"` // 0..1
}

type Venue struct {
	ID            VenueID            `json:"id"`
	Name          string             `json:"name"`
	Type          VenueType          `json:"type"`
	Status        VenueStatus        `json:"status"`
	Connectivity  Connectivity       `json:"connectivity"`
	Fees          FeeStructure       `json:"fees"`
	Capabilities  Capabilities       `json:"capabilities"`
	Metrics       PerformanceMetrics `json:"metrics"`
	RegisteredSeq uint64             `json:"registered_seq"` // set by the registry
	CreatedAt     time.Time          `json:"created_at"`
}

var ErrInvalidVenue = errors.New("invalid venue")

func (v Venue) Validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidVenue)
	}
	if v.Type == nil {
		return fmt.Errorf("%w: %s has no venue type", ErrInvalidVenue, v.Name)
	}
	return nil
}

// NameKey is the case-normalized venue name.
func (v Venue) NameKey() string {
	return strings.ToUpper(strings.TrimSpace(v.Name))
}

func (v Venue) DeriveID(d ident.Deriver) VenueID {
	return VenueID(d.DeriveStrings(ident.NamespaceVenue, v.NameKey()))
}

// SameKey reports whether two venues derive from the same name.
func (v Venue) SameKey(other Venue) bool { return v.NameKey() == other.NameKey() }

// SameContent compares identity fields only.
func (v Venue) SameContent(other Venue) bool {
	if !v.SameKey(other) {
		return false
	}
	if v.Type == nil || other.Type == nil {
		return v.Type == nil && other.Type == nil
	}
	return v.Type.VenueKind() == other.Type.VenueKind()
}

// Listing pairs an exchange with an instrument listed there under an ISIN.
type Listing struct {
	Exchange   string     `json:"exchange"`
	Instrument Instrument `json:"instrument"`
}

// VenueLink is one row of the instrument/venue link table.
type VenueLink struct {
	VenueID      VenueID      `json:"venue_id"`
	InstrumentID InstrumentID `json:"instrument_id"`
}
