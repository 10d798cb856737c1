package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/venue-registry/pkg/ident"
)

func weth() Instrument {
	return Instrument{
		Symbol:   "WETH",
		Type:     Token{Blockchain: "ethereum", ContractAddress: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", TokenStandard: "ERC20"},
		Source:   DeFi("ethereum"),
		Decimals: 18,
	}
}

func TestInstrument_DeriveID_IgnoresMutableFields(t *testing.T) {
	d := ident.NewDeriver(ident.Width64)
	a := weth()
	b := weth()
	b.CreatedAt = time.Now()
	b.Type = Token{Blockchain: "Ethereum", ContractAddress: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", TokenStandard: "ERC20"}

	assert.Equal(t, a.DeriveID(d), b.DeriveID(d), "address and chain are case-normalized")
	assert.True(t, a.SameContent(b))
}

func TestInstrument_DeriveID_IdentityFields(t *testing.T) {
	d := ident.NewDeriver(ident.Width64)
	base := weth()

	dec := base
	dec.Decimals = 8
	src := base
	src.Source = CEX("binance")
	sym := base
	sym.Symbol = "ETH"

	for _, other := range []Instrument{dec, src, sym} {
		assert.NotEqual(t, base.DeriveID(d), other.DeriveID(d))
		assert.False(t, base.SameContent(other))
	}
}

func TestInstrument_Validate(t *testing.T) {
	tests := []struct {
		name string
		inst Instrument
		ok   bool
	}{
		{"token", weth(), true},
		{"empty symbol", Instrument{Type: Currency{ISOCode: "USD"}, Source: Synthetic()}, false},
		{"no type", Instrument{Symbol: "X", Source: Synthetic()}, false},
		{"unnamed source", Instrument{Symbol: "AAPL", Type: Stock{Ticker: "AAPL", Exchange: "NASDAQ"}, Source: TradFi("")}, false},
		{"stock without exchange", Instrument{Symbol: "AAPL", Type: Stock{Ticker: "AAPL"}, Source: TradFi("ibkr")}, false},
		{"option without underlying", Instrument{Symbol: "C", Type: Option{Expiration: time.Unix(1, 0)}, Source: Synthetic()}, false},
		{"currency", Instrument{Symbol: "USD", Type: Currency{ISOCode: "USD", Country: "US"}, Source: Synthetic()}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.inst.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidInstrument)
			}
		})
	}
}

func TestInstrument_SecurityAccessors(t *testing.T) {
	aapl := Instrument{
		Symbol: "APC",
		Type:   Stock{Ticker: "APC", Exchange: "xetra", ISIN: "us0378331005", CUSIP: "037833100"},
		Source: TradFi("ibkr"),
	}
	assert.True(t, aapl.IsSecurity())
	assert.Equal(t, "US0378331005", aapl.ISIN())
	assert.Equal(t, "037833100", aapl.CUSIP())
	assert.Equal(t, "XETRA", aapl.ListingVenue())
	assert.Equal(t, "tradfi:ibkr|XETRA|APC", aapl.SymbolScope())

	_, _, ok := aapl.ChainAddress()
	assert.False(t, ok)

	chain, addr, ok := weth().ChainAddress()
	require.True(t, ok)
	assert.Equal(t, "ethereum", chain)
	assert.Equal(t, "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", addr)
}

func TestInstrument_MarshalJSON(t *testing.T) {
	inst := weth()
	inst.ID = inst.DeriveID(ident.NewDeriver(ident.Width64))

	data, err := json.Marshal(inst)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "token", out["kind"])
	assert.Equal(t, inst.ID.String(), out["id"])
	spec, ok := out["type"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ethereum", spec["blockchain"])
}

func TestPool_Canonical(t *testing.T) {
	lo := InstrumentID{Hi: 1}
	hi := InstrumentID{Hi: 2}
	p := Pool{Token0: hi, Token1: lo, DEX: "uniswap_v2", Address: "0xPool", Blockchain: "ethereum"}

	c := p.Canonical()
	assert.Equal(t, lo, c.Token0)
	assert.Equal(t, hi, c.Token1)
	assert.True(t, p.SameContent(c))

	d := ident.NewDeriver(ident.Width64)
	other := p
	other.Address = "0xpool"
	assert.Equal(t, p.DeriveID(d), other.DeriveID(d))
}

func TestPool_Validate(t *testing.T) {
	a := InstrumentID{Hi: 1}
	assert.ErrorIs(t, Pool{Token0: a, Token1: a, DEX: "x", Address: "y", Blockchain: "z"}.Validate(), ErrInvalidPool)
	assert.ErrorIs(t, Pool{Token0: a, DEX: "x", Address: "y", Blockchain: "z"}.Validate(), ErrInvalidPool)
	assert.NoError(t, Pool{Token0: a, Token1: InstrumentID{Hi: 2}, DEX: "x", Address: "y", Blockchain: "z"}.Validate())
}

func TestFeeStructure_AverageBps(t *testing.T) {
	f := FeeStructure{MakerBps: decimal.NewFromInt(2), TakerBps: decimal.NewFromInt(5)}
	assert.True(t, f.AverageBps().Equal(decimal.RequireFromString("3.5")))
}

func TestVenue_DeriveID_CaseInsensitive(t *testing.T) {
	d := ident.NewDeriver(ident.Width64)
	a := Venue{Name: "nasdaq", Type: StockVenue{MIC: "XNAS"}}
	b := Venue{Name: " NASDAQ ", Type: StockVenue{MIC: "XNAS"}}
	assert.Equal(t, a.DeriveID(d), b.DeriveID(d))
	assert.True(t, a.SameContent(b))
	assert.False(t, a.SameContent(Venue{Name: "nasdaq", Type: CryptoVenue{}}))
}

func TestPayload_ToInstrument(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	p := InstrumentPayload{
		Symbol:            "USDC",
		Type:              Token{TokenStandard: "ERC20"},
		Source:            DeFi("ethereum"),
		Decimals:          6,
		BlockchainAddress: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	}
	inst, err := p.ToInstrument(now)
	require.NoError(t, err)
	tok := inst.Type.(Token)
	assert.Equal(t, "ethereum", tok.Blockchain)
	assert.Equal(t, p.BlockchainAddress, tok.ContractAddress)
	assert.Equal(t, now, inst.CreatedAt)

	_, err = InstrumentPayload{Symbol: "BAD", Type: Token{}, Source: CEX("binance")}.ToInstrument(now)
	assert.ErrorIs(t, err, ErrInvalidInstrument)
}

func TestIDs_TextRoundTrip(t *testing.T) {
	id := InstrumentID(ident.NewDeriver(ident.Width128).DeriveStrings(ident.NamespaceInstrument, "BTC"))
	text, err := id.MarshalText()
	require.NoError(t, err)

	var back InstrumentID
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, id, back)

	var bad VenueID
	assert.Error(t, bad.UnmarshalText([]byte("nope")))
}

func TestSourceKind_Parse(t *testing.T) {
	for _, k := range []SourceKind{SourceDeFi, SourceCEX, SourceTradFi, SourceSynthetic} {
		got, err := ParseSourceKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseSourceKind("otc")
	assert.Error(t, err)
	assert.Equal(t, "synthetic", Synthetic().Key())
	assert.Equal(t, "cex:binance", CEX("Binance").Key())
}
