package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/venue-registry/pkg/ident"
)

// InstrumentKind is the discriminant of InstrumentType.
type InstrumentKind uint8

const (
	KindToken InstrumentKind = iota + 1
	KindStock
	KindETF
	KindFuture
	KindOption
	KindCurrency
)

func (k InstrumentKind) String() string {
	switch k {
	case KindToken:
		return "token"
	case KindStock:
		return "stock"
	case KindETF:
		return "etf"
	case KindFuture:
		return "future"
	case KindOption:
		return "option"
	case KindCurrency:
		return "currency"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseInstrumentKind is the inverse of InstrumentKind.String.
func ParseInstrumentKind(s string) (InstrumentKind, error) {
	for k := KindToken; k <= KindCurrency; k++ {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown instrument kind %q", s)
}

// InstrumentType is a closed sum type. The variants are Token, Stock, ETF,
// Future, Option and Currency; switch on the concrete type to handle them.
type InstrumentType interface {
	Kind() InstrumentKind
	// keyFields are the type-specific identity fields, already normalized.
	keyFields() []string
}

type OptionType uint8

const (
	Call OptionType = iota + 1
	Put
)

func (t OptionType) String() string {
	if t == Put {
		return "put"
	}
	return "call"
}

type OptionStyle uint8

const (
	European OptionStyle = iota + 1
	American
)

func (s OptionStyle) String() string {
	if s == American {
		return "american"
	}
	return "european"
}

type Token struct {
	Blockchain      string `json:"blockchain"`
	ContractAddress string `json:"contract_address"`
	TokenStandard   string `json:"token_standard,omitempty"` // e.g. ERC20, SPL
}

type Stock struct {
	Ticker    string              `json:"ticker"`
	Exchange  string              `json:"exchange"` // listing exchange, e.g. NASDAQ, XETRA
	ISIN      string              `json:"isin,omitempty"`
	CUSIP     string              `json:"cusip,omitempty"`
	SEDOL     string              `json:"sedol,omitempty"`
	Sector    string              `json:"sector,omitempty"`
	MarketCap decimal.NullDecimal `json:"market_cap"`
}

type ETF struct {
	Ticker          string `json:"ticker"`
	Exchange        string `json:"exchange"`
	ISIN            string `json:"isin,omitempty"`
	CUSIP           string `json:"cusip,omitempty"`
	Issuer          string `json:"issuer,omitempty"`
	UnderlyingIndex string `json:"underlying_index,omitempty"`
}

type Future struct {
	Underlying   string          `json:"underlying"`
	Exchange     string          `json:"exchange,omitempty"`
	Expiration   time.Time       `json:"expiration"`
	ContractSize decimal.Decimal `json:"contract_size"`
	TickSize     decimal.Decimal `json:"tick_size"`
}

// Option references its underlying by ID rather than embedding it.
type Option struct {
	UnderlyingID InstrumentID    `json:"underlying_id"`
	Strike       decimal.Decimal `json:"strike"`
	Expiration   time.Time       `json:"expiration"`
	OptionType   OptionType      `json:"option_type"`
	Style        OptionStyle     `json:"style"`
}

type Currency struct {
	ISOCode string `json:"iso_code"`
	Country string `json:"country,omitempty"`
}

func (Token) Kind() InstrumentKind    { return KindToken }
func (Stock) Kind() InstrumentKind    { return KindStock }
func (ETF) Kind() InstrumentKind      { return KindETF }
func (Future) Kind() InstrumentKind   { return KindFuture }
func (Option) Kind() InstrumentKind   { return KindOption }
func (Currency) Kind() InstrumentKind { return KindCurrency }

func (t Token) keyFields() []string {
	return []string{strings.ToLower(t.Blockchain), NormalizeAddress(t.ContractAddress)}
}

func (s Stock) keyFields() []string {
	return []string{strings.ToUpper(s.Ticker), strings.ToUpper(s.Exchange)}
}

func (e ETF) keyFields() []string {
	return []string{strings.ToUpper(e.Ticker), strings.ToUpper(e.Exchange)}
}

func (f Future) keyFields() []string {
	return []string{
		strings.ToUpper(f.Underlying),
		strings.ToUpper(f.Exchange),
		strconv.FormatInt(f.Expiration.UnixNano(), 10),
		f.ContractSize.String(),
		f.TickSize.String(),
	}
}

func (o Option) keyFields() []string {
	return []string{
		o.UnderlyingID.String(),
		o.Strike.String(),
		strconv.FormatInt(o.Expiration.UnixNano(), 10),
		o.OptionType.String(),
		o.Style.String(),
	}
}

func (c Currency) keyFields() []string {
	return []string{strings.ToUpper(c.ISOCode)}
}

// NormalizeAddress lower-cases and trims an on-chain address for indexing.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Instrument is a registered tradeable thing. ID is a pure function of the
// identity fields (symbol, type, source, decimals and the type key fields);
// change any of them and the ID must be derived again.
type Instrument struct {
	ID          InstrumentID   `json:"id"`
	Symbol      string         `json:"symbol"`
	Type        InstrumentType `json:"-"`
	Source      Source         `json:"source"`
	Decimals    uint8          `json:"decimals"`
	CreatedAt   time.Time      `json:"created_at"`
	LastUpdated time.Time      `json:"last_updated"`
}

var ErrInvalidInstrument = errors.New("invalid instrument")

// Validate checks the fields needed to derive an identity.
func (i Instrument) Validate() error {
	if strings.TrimSpace(i.Symbol) == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidInstrument)
	}
	if i.Type == nil {
		return fmt.Errorf("%w: %s has no instrument type", ErrInvalidInstrument, i.Symbol)
	}
	if err := i.Source.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidInstrument, i.Symbol, err)
	}
	switch t := i.Type.(type) {
	case Token:
		if t.Blockchain == "" || t.ContractAddress == "" {
			return fmt.Errorf("%w: token %s needs blockchain and contract address", ErrInvalidInstrument, i.Symbol)
		}
	case Stock:
		if t.Ticker == "" || t.Exchange == "" {
			return fmt.Errorf("%w: stock %s needs ticker and exchange", ErrInvalidInstrument, i.Symbol)
		}
	case ETF:
		if t.Ticker == "" || t.Exchange == "" {
			return fmt.Errorf("%w: etf %s needs ticker and exchange", ErrInvalidInstrument, i.Symbol)
		}
	case Future:
		if t.Underlying == "" || t.Expiration.IsZero() {
			return fmt.Errorf("%w: future %s needs underlying and expiration", ErrInvalidInstrument, i.Symbol)
		}
	case Option:
		if t.UnderlyingID.IsZero() || t.Expiration.IsZero() {
			return fmt.Errorf("%w: option %s needs underlying id and expiration", ErrInvalidInstrument, i.Symbol)
		}
	case Currency:
		if t.ISOCode == "" {
			return fmt.Errorf("%w: currency %s needs iso code", ErrInvalidInstrument, i.Symbol)
		}
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidInstrument, i.Type)
	}
	return nil
}

// IdentityKey is the canonical ordered field list the ID is derived from.
func (i Instrument) IdentityKey() []string {
	fields := []string{
		i.Symbol,
		i.Type.Kind().String(),
		i.Source.Key(),
		strconv.Itoa(int(i.Decimals)),
	}
	return append(fields, i.Type.keyFields()...)
}

// DeriveID computes the content ID without mutating i.
func (i Instrument) DeriveID(d ident.Deriver) InstrumentID {
	return InstrumentID(d.DeriveStrings(ident.NamespaceInstrument, i.IdentityKey()...))
}

// SameContent reports whether both instruments have the same identity fields.
func (i Instrument) SameContent(other Instrument) bool {
	if i.Type == nil || other.Type == nil {
		return i.Type == nil && other.Type == nil && i.Symbol == other.Symbol
	}
	a, b := i.IdentityKey(), other.IdentityKey()
	if len(a) != len(b) {
		return false
	}
	for n := range a {
		if a[n] != b[n] {
			return false
		}
	}
	return true
}

// IsSecurity reports whether the instrument carries exchange security identifiers.
func (i Instrument) IsSecurity() bool {
	switch i.Type.(type) {
	case Stock, ETF:
		return true
	}
	return false
}

// ListingVenue is the exchange or chain that scopes symbol uniqueness.
func (i Instrument) ListingVenue() string {
	switch t := i.Type.(type) {
	case Token:
		return strings.ToLower(t.Blockchain)
	case Stock:
		return strings.ToUpper(t.Exchange)
	case ETF:
		return strings.ToUpper(t.Exchange)
	case Future:
		return strings.ToUpper(t.Exchange)
	case Option:
		return t.UnderlyingID.String()
	}
	return ""
}

// SymbolScope is the key under which a symbol must be unique.
func (i Instrument) SymbolScope() string {
	return i.Source.Key() + "|" + i.ListingVenue() + "|" + i.Symbol
}

// ISIN returns the security's ISIN, if any.
func (i Instrument) ISIN() string {
	switch t := i.Type.(type) {
	case Stock:
		return strings.ToUpper(t.ISIN)
	case ETF:
		return strings.ToUpper(t.ISIN)
	}
	return ""
}

// CUSIP returns the security's CUSIP, if any.
func (i Instrument) CUSIP() string {
	switch t := i.Type.(type) {
	case Stock:
		return strings.ToUpper(t.CUSIP)
	case ETF:
		return strings.ToUpper(t.CUSIP)
	}
	return ""
}

// Exchange returns the listing exchange for exchange-traded instruments.
func (i Instrument) Exchange() string {
	switch t := i.Type.(type) {
	case Stock:
		return t.Exchange
	case ETF:
		return t.Exchange
	case Future:
		return t.Exchange
	}
	return ""
}

// ChainAddress returns (chain, normalized address) for tokens.
func (i Instrument) ChainAddress() (string, string, bool) {
	t, ok := i.Type.(Token)
	if !ok {
		return "", "", false
	}
	return strings.ToLower(t.Blockchain), NormalizeAddress(t.ContractAddress), true
}

// MarshalJSON flattens the type variant under "type" with its kind.
func (i Instrument) MarshalJSON() ([]byte, error) {
	type alias Instrument
	var kind string
	if i.Type != nil {
		kind = i.Type.Kind().String()
	}
	return json.Marshal(struct {
		alias
		Kind string         `json:"kind"`
		Spec InstrumentType `json:"type"`
	}{alias: alias(i), Kind: kind, Spec: i.Type})
}
