package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/pkg/ident"
	"github.com/Checker-Finance/venue-registry/pkg/model"
)

const appleISIN = "US0378331005"

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	clock := func() time.Time { return time.Unix(1700000000, 0) }
	return New(DefaultConfig(), zap.NewNop(), append([]Option{WithClock(clock)}, opts...)...)
}

func token(symbol, chain, addr string) model.Instrument {
	return model.Instrument{
		Symbol:   symbol,
		Type:     model.Token{Blockchain: chain, ContractAddress: addr, TokenStandard: "ERC20"},
		Source:   model.DeFi(chain),
		Decimals: 18,
	}
}

func stock(symbol, exchange, isin string) model.Instrument {
	return model.Instrument{
		Symbol: symbol,
		Type:   model.Stock{Ticker: symbol, Exchange: exchange, ISIN: isin, CUSIP: "037833100"},
		Source: model.TradFi("refdata"),
	}
}

func venue(name string, takerBps int64) model.Venue {
	return model.Venue{
		Name: name,
		Type: model.StockVenue{MIC: name},
		Fees: model.FeeStructure{
			MakerBps: decimal.NewFromInt(takerBps),
			TakerBps: decimal.NewFromInt(takerBps),
		},
	}
}

// constantHash maps every input to the same digest.
func constantHash([]byte) [32]byte { return [32]byte{0: 0xAB} }

func TestRegisterInstrument_Idempotent(t *testing.T) {
	r := newTestRegistry(t)
	var events []model.RegistryEvent
	r.Bus().Subscribe(func(ev model.RegistryEvent) { events = append(events, ev) })

	id1, err := r.RegisterInstrument(token("WETH", "ethereum", "0xC02a"))
	require.NoError(t, err)
	id2, err := r.RegisterInstrument(token("WETH", "ethereum", "0xc02A"))
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, r.Count())
	assert.Len(t, r.FindBySymbol("WETH"), 1)
	require.Len(t, events, 1)
	assert.Equal(t, model.InstrumentRegistered, events[0].Kind)
}

func TestRegisterInstrument_HashCollision(t *testing.T) {
	r := newTestRegistry(t, WithDeriver(ident.Deriver{Width: ident.Width64, Hash: constantHash}))
	var collisions []model.CollisionRecord
	r.Bus().Subscribe(func(ev model.RegistryEvent) {
		if ev.Kind == model.HashCollisionDetected {
			collisions = append(collisions, *ev.Collision)
		}
	})

	first := token("WETH", "ethereum", "0x1")
	id, err := r.RegisterInstrument(first)
	require.NoError(t, err)

	_, err = r.RegisterInstrument(token("USDC", "ethereum", "0x2"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHashCollision))

	var hce *HashCollisionError
	require.ErrorAs(t, err, &hce)
	assert.Equal(t, "WETH", hce.ExistingSymbol)
	assert.Equal(t, "USDC", hce.NewSymbol)
	assert.Equal(t, id.String(), hce.ID)

	// The original entry is untouched.
	got, ok := r.GetByID(id)
	require.True(t, ok)
	assert.Equal(t, "WETH", got.Symbol)
	_, ok = r.GetBySymbol("USDC")
	assert.False(t, ok)

	assert.Equal(t, 1, r.Count())
	assert.Equal(t, uint64(1), r.Stats().Collisions)
	require.Len(t, r.Collisions(), 1)
	assert.Equal(t, "USDC", r.Collisions()[0].Rejected)
	require.Len(t, collisions, 1)
	assert.Equal(t, "WETH", collisions[0].Existing)
}

func TestRegisterInstrument_CollisionAlert(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CollisionAlertThreshold = 2
	r := New(cfg, zap.NewNop(), WithDeriver(ident.Deriver{Width: ident.Width64, Hash: constantHash}))

	_, err := r.RegisterInstrument(token("A", "ethereum", "0x1"))
	require.NoError(t, err)
	_, err = r.RegisterInstrument(token("B", "ethereum", "0x2"))
	require.ErrorIs(t, err, ErrHashCollision)
	assert.False(t, r.Stats().ExhaustionAlert)

	_, err = r.RegisterInstrument(token("C", "ethereum", "0x3"))
	require.ErrorIs(t, err, ErrHashCollision)
	assert.True(t, r.Stats().ExhaustionAlert)
}

func TestRegisterInstrument_DuplicateSymbolInScope(t *testing.T) {
	r := newTestRegistry(t)
	a := stock("AAPL", "NASDAQ", appleISIN)
	id, err := r.RegisterInstrument(a)
	require.NoError(t, err)

	// Same scope, different identity fields.
	b := a
	b.Decimals = 4
	_, err = r.RegisterInstrument(b)
	var dse *DuplicateSymbolError
	require.ErrorAs(t, err, &dse)
	assert.ErrorIs(t, err, ErrDuplicateSymbol)
	assert.Equal(t, id, dse.ExistingID)
	assert.Equal(t, 1, r.Count())

	// Another exchange is another scope.
	_, err = r.RegisterInstrument(stock("AAPL", "NYSE", appleISIN))
	require.NoError(t, err)
	assert.Len(t, r.FindBySymbol("AAPL"), 2)
}

func TestRegisterInstrument_Invalid(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.RegisterInstrument(model.Instrument{Symbol: "X", Source: model.Synthetic()})
	assert.ErrorIs(t, err, model.ErrInvalidInstrument)
	assert.Zero(t, r.Count())
}

func TestRegisterInstrument_OptionNeedsUnderlying(t *testing.T) {
	r := newTestRegistry(t)
	missing := model.InstrumentID{Hi: 42}
	opt := model.Instrument{
		Symbol: "AAPL240621C200",
		Type: model.Option{
			UnderlyingID: missing,
			Strike:       decimal.NewFromInt(200),
			Expiration:   time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC),
			OptionType:   model.Call,
			Style:        model.American,
		},
		Source: model.TradFi("occ"),
	}
	_, err := r.RegisterInstrument(opt)
	var uie *UnknownInstrumentError
	require.ErrorAs(t, err, &uie)
	assert.Equal(t, missing, uie.ID)

	underlying, err := r.RegisterInstrument(stock("AAPL", "NASDAQ", appleISIN))
	require.NoError(t, err)
	o := opt.Type.(model.Option)
	o.UnderlyingID = underlying
	opt.Type = o
	_, err = r.RegisterInstrument(opt)
	require.NoError(t, err)
	assert.Len(t, r.FindByType(model.KindOption), 1)
}

func TestLookups(t *testing.T) {
	r := newTestRegistry(t)
	weth := token("WETH", "ethereum", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	wethArb := token("WETH", "arbitrum", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	wethID, err := r.RegisterInstrument(weth)
	require.NoError(t, err)
	_, err = r.RegisterInstrument(wethArb)
	require.NoError(t, err)
	aaplID, err := r.RegisterInstrument(stock("AAPL", "NASDAQ", appleISIN))
	require.NoError(t, err)

	got, ok := r.GetBySymbol("WETH")
	require.True(t, ok)
	assert.Equal(t, wethID, got.ID, "first registered wins")

	got, ok = r.GetByAddress("Ethereum", "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	require.True(t, ok)
	assert.Equal(t, wethID, got.ID)
	assert.Len(t, r.FindByAddress("0xC02AAA39B223FE8D0A0E5C4F27EAD9083C756CC2"), 2)

	got, ok = r.GetBySourceSymbol(model.DeFi("arbitrum"), "WETH")
	require.True(t, ok)
	assert.Equal(t, "arbitrum", got.Type.(model.Token).Blockchain)

	got, ok = r.GetByISIN("us0378331005")
	require.True(t, ok)
	assert.Equal(t, aaplID, got.ID)
	got, ok = r.GetByCUSIP("037833100")
	require.True(t, ok)
	assert.Equal(t, aaplID, got.ID)

	assert.Len(t, r.FindByType(model.KindToken), 2)
	assert.Len(t, r.FindBySource(model.TradFi("refdata")), 1)
	assert.Len(t, r.All(), 3)

	_, ok = r.GetBySymbol("NOPE")
	assert.False(t, ok)

	st := r.Stats()
	assert.Equal(t, 3, st.Instruments)
	assert.Greater(t, st.Lookups, st.Hits)
}

func TestCrossVenueISIN(t *testing.T) {
	r := newTestRegistry(t)
	ids := map[model.InstrumentID]string{}
	for _, l := range []struct{ symbol, exchange string }{
		{"AAPL", "NASDAQ"},
		{"AAPL", "NYSE"},
		{"APC", "XETRA"},
	} {
		id, err := r.RegisterInstrument(stock(l.symbol, l.exchange, appleISIN))
		require.NoError(t, err)
		ids[id] = l.exchange
	}
	assert.Len(t, ids, 3, "every listing gets its own id")

	listings := r.Listings(appleISIN)
	require.Len(t, listings, 3)
	var exchanges []string
	for _, l := range listings {
		exchanges = append(exchanges, l.Exchange)
		assert.Equal(t, appleISIN, l.Instrument.ISIN())
	}
	assert.ElementsMatch(t, []string{"NASDAQ", "NYSE", "XETRA"}, exchanges)
}

func TestRegisterPool(t *testing.T) {
	r := newTestRegistry(t)
	weth, err := r.RegisterInstrument(token("WETH", "ethereum", "0x1"))
	require.NoError(t, err)
	usdc, err := r.RegisterInstrument(token("USDC", "ethereum", "0x2"))
	require.NoError(t, err)

	fee := uint32(30)
	p := model.Pool{
		Token0: usdc, Token1: weth,
		DEX: "uniswap_v2", Address: "0xPool", FeeTierBps: &fee,
		Type: model.ConstantProduct, Blockchain: "ethereum",
	}
	id, err := r.RegisterPool(p)
	require.NoError(t, err)

	again, err := r.RegisterPool(p)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, r.PoolCount())

	got, ok := r.GetPool(id)
	require.True(t, ok)
	assert.True(t, got.Token0.Less(got.Token1), "legs are canonical")

	assert.Len(t, r.FindPoolsByPair(weth, usdc), 1)
	assert.Len(t, r.FindPoolsByPair(usdc, weth), 1)
	assert.Len(t, r.FindPoolsByDEX("Uniswap_V2"), 1)
	assert.Len(t, r.FindPoolsByChain("ethereum"), 1)
	_, ok = r.GetPoolByAddress("ethereum", "0xpool")
	assert.True(t, ok)
}

func TestRegisterPool_LegConflictIsNotCollision(t *testing.T) {
	r := newTestRegistry(t)
	a, _ := r.RegisterInstrument(token("A", "ethereum", "0x1"))
	b, _ := r.RegisterInstrument(token("B", "ethereum", "0x2"))
	c, _ := r.RegisterInstrument(token("C", "ethereum", "0x3"))

	id, err := r.RegisterPool(model.Pool{Token0: a, Token1: b, DEX: "uni", Address: "0xp", Blockchain: "ethereum"})
	require.NoError(t, err)

	_, err = r.RegisterPool(model.Pool{Token0: a, Token1: c, DEX: "UNI", Address: "0xP", Blockchain: "ethereum"})
	var pce *PoolConflictError
	require.ErrorAs(t, err, &pce)
	assert.ErrorIs(t, err, ErrPoolConflict)
	assert.NotErrorIs(t, err, ErrHashCollision)
	assert.Equal(t, id, pce.ID)
	assert.ElementsMatch(t, []model.InstrumentID{a, b}, []model.InstrumentID{pce.ExistingToken0, pce.ExistingToken1})
	assert.ElementsMatch(t, []model.InstrumentID{a, c}, []model.InstrumentID{pce.RejectedToken0, pce.RejectedToken1})

	assert.Zero(t, r.Stats().Collisions)
	assert.Empty(t, r.Collisions())
	got, _ := r.GetPool(id)
	assert.ElementsMatch(t, []model.InstrumentID{a, b}, []model.InstrumentID{got.Token0, got.Token1})
}

func TestRegisterPool_HashCollision(t *testing.T) {
	r := newTestRegistry(t)
	a, _ := r.RegisterInstrument(token("A", "ethereum", "0x1"))
	b, _ := r.RegisterInstrument(token("B", "ethereum", "0x2"))

	// Swap the deriver after the legs exist so only pools collide.
	r.deriver = ident.Deriver{Width: ident.Width64, Hash: constantHash}
	_, err := r.RegisterPool(model.Pool{Token0: a, Token1: b, DEX: "uni", Address: "0xp1", Blockchain: "ethereum"})
	require.NoError(t, err)
	_, err = r.RegisterPool(model.Pool{Token0: a, Token1: b, DEX: "uni", Address: "0xp2", Blockchain: "ethereum"})
	require.ErrorIs(t, err, ErrHashCollision)
	assert.Equal(t, uint64(1), r.Stats().Collisions)
}

func TestRegisterPool_UnknownLegNoMutation(t *testing.T) {
	r := newTestRegistry(t)
	weth, err := r.RegisterInstrument(token("WETH", "ethereum", "0x1"))
	require.NoError(t, err)
	ghost := model.InstrumentID{Hi: 7}

	_, err = r.RegisterPool(model.Pool{
		Token0: weth, Token1: ghost, DEX: "curve", Address: "0xabc", Blockchain: "ethereum",
	})
	var uie *UnknownInstrumentError
	require.ErrorAs(t, err, &uie)
	assert.Equal(t, ghost, uie.ID)
	assert.ErrorIs(t, err, ErrUnknownInstrument)

	assert.Zero(t, r.PoolCount())
	assert.Empty(t, r.FindPoolsByDEX("curve"))
	assert.Empty(t, r.FindPoolsByPair(weth, ghost))
}

func TestUpdatePoolLiquidity(t *testing.T) {
	r := newTestRegistry(t)
	a, _ := r.RegisterInstrument(token("A", "ethereum", "0x1"))
	b, _ := r.RegisterInstrument(token("B", "ethereum", "0x2"))
	id, err := r.RegisterPool(model.Pool{Token0: a, Token1: b, DEX: "uni", Address: "0x3", Blockchain: "ethereum"})
	require.NoError(t, err)

	snap := model.LiquiditySnapshot{Reserve0: decimal.NewFromInt(10), Reserve1: decimal.NewFromInt(20), Block: 99}
	require.NoError(t, r.UpdatePoolLiquidity(id, snap))
	got, _ := r.GetPool(id)
	require.NotNil(t, got.Liquidity)
	assert.Equal(t, uint64(99), got.Liquidity.Block)

	var events atomic.Int32
	unsub := r.Bus().Subscribe(func(ev model.RegistryEvent) {
		if ev.Kind == model.PoolLiquidityUpdated {
			events.Add(1)
		}
	})
	defer unsub()
	require.NoError(t, r.UpdatePoolLiquidity(id, *got.Liquidity))
	assert.Zero(t, events.Load(), "unchanged snapshot publishes nothing")

	err = r.UpdatePoolLiquidity(model.PoolID{Hi: 1}, snap)
	assert.ErrorIs(t, err, ErrUnknownPool)
}

func TestVenues(t *testing.T) {
	r := newTestRegistry(t)
	nasdaq, err := r.RegisterVenue(venue("NASDAQ", 10))
	require.NoError(t, err)
	nyse, err := r.RegisterVenue(venue("NYSE", 5))
	require.NoError(t, err)
	again, err := r.RegisterVenue(venue("nasdaq", 10))
	require.NoError(t, err)
	assert.Equal(t, nasdaq, again)

	vs := r.Venues()
	require.Len(t, vs, 2)
	assert.Equal(t, nasdaq, vs[0].ID)
	assert.Equal(t, nyse, vs[1].ID)
	assert.Equal(t, model.VenueActive, vs[0].Status)

	got, ok := r.GetVenueByName(" nyse")
	require.True(t, ok)
	assert.Equal(t, nyse, got.ID)

	require.NoError(t, r.SetVenueStatus(nyse, model.VenueHalted))
	got, _ = r.GetVenue(nyse)
	assert.Equal(t, model.VenueHalted, got.Status)

	require.NoError(t, r.UpdateVenueMetrics(nyse, model.PerformanceMetrics{LiquidityScore: 0.9}))
	got, _ = r.GetVenue(nyse)
	assert.Equal(t, 0.9, got.Metrics.LiquidityScore)

	assert.ErrorIs(t, r.SetVenueStatus(model.VenueID{Hi: 1}, model.VenueActive), ErrUnknownVenue)
	assert.ErrorIs(t, r.UpdateVenueMetrics(model.VenueID{Hi: 1}, model.PerformanceMetrics{}), ErrUnknownVenue)
}

func TestRegisterVenue_KindConflictIsNotCollision(t *testing.T) {
	r := newTestRegistry(t)
	id, err := r.RegisterVenue(venue("CME", 1))
	require.NoError(t, err)

	_, err = r.RegisterVenue(model.Venue{Name: "cme", Type: model.FuturesVenue{MIC: "XCME"}})
	var vce *VenueConflictError
	require.ErrorAs(t, err, &vce)
	assert.ErrorIs(t, err, ErrVenueConflict)
	assert.NotErrorIs(t, err, ErrHashCollision)
	assert.Equal(t, id, vce.ID)
	assert.Equal(t, model.VenueKindStock, vce.ExistingKind)
	assert.Equal(t, model.VenueKindFutures, vce.RejectedKind)
	assert.Contains(t, err.Error(), "CME")

	assert.Zero(t, r.Stats().Collisions)
	assert.Equal(t, 1, r.VenueCount())
}

func histogramSamples(t *testing.T, name string) uint64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var n uint64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			n += m.GetHistogram().GetSampleCount()
		}
	}
	return n
}

func TestRegistrationLatencyHistogram(t *testing.T) {
	r := newTestRegistry(t)
	regBefore := histogramSamples(t, "registry_registration_seconds")
	applyBefore := histogramSamples(t, "registry_frame_apply_seconds")

	_, err := r.RegisterInstrument(token("LAT", "ethereum", "0x10"))
	require.NoError(t, err)
	_, err = r.RegisterVenue(venue("LATX", 1))
	require.NoError(t, err)

	assert.Equal(t, regBefore+2, histogramSamples(t, "registry_registration_seconds"))
	assert.Equal(t, applyBefore, histogramSamples(t, "registry_frame_apply_seconds"))
}

func TestLinkInstrumentToVenue(t *testing.T) {
	r := newTestRegistry(t)
	aapl, err := r.RegisterInstrument(stock("AAPL", "NASDAQ", appleISIN))
	require.NoError(t, err)
	nasdaq, err := r.RegisterVenue(venue("NASDAQ", 10))
	require.NoError(t, err)

	var linked int
	r.Bus().Subscribe(func(ev model.RegistryEvent) {
		if ev.Kind == model.InstrumentLinked {
			linked++
		}
	})

	require.NoError(t, r.LinkInstrumentToVenue(aapl, nasdaq))
	require.NoError(t, r.LinkInstrumentToVenue(aapl, nasdaq))
	assert.Equal(t, 1, linked)
	assert.Equal(t, 1, r.Stats().Links)

	vs := r.VenuesForInstrument(aapl)
	require.Len(t, vs, 1)
	assert.Equal(t, nasdaq, vs[0].ID)
	assert.Len(t, r.InstrumentsForVenue(nasdaq), 1)
	assert.Equal(t, []model.VenueLink{{VenueID: nasdaq, InstrumentID: aapl}}, r.VenueLinksForISIN(appleISIN))

	err = r.LinkInstrumentToVenue(model.InstrumentID{Hi: 3}, nasdaq)
	assert.ErrorIs(t, err, ErrUnknownInstrument)
	err = r.LinkInstrumentToVenue(aapl, model.VenueID{Hi: 3})
	assert.ErrorIs(t, err, ErrUnknownVenue)
	assert.Equal(t, 1, r.Stats().Links)
}

func TestConcurrentRegistration(t *testing.T) {
	r := New(Config{IDWidth: ident.Width128, Stripes: 8}, zap.NewNop())
	const workers, per = 8, 250

	var wg sync.WaitGroup
	errs := make(chan error, workers*per)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				sym := fmt.Sprintf("T%d_%d", w, i)
				if _, err := r.RegisterInstrument(token(sym, "ethereum", "0x"+sym)); err != nil {
					errs <- err
				}
				// Readers run alongside writers.
				r.GetBySymbol(sym)
				r.FindByType(model.KindToken)
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("register: %v", err)
	}

	require.Equal(t, workers*per, r.Count())
	for _, inst := range r.All() {
		got, ok := r.GetBySymbol(inst.Symbol)
		require.True(t, ok, inst.Symbol)
		assert.Equal(t, inst.ID, got.ID)
		chain, addr, _ := inst.ChainAddress()
		got, ok = r.GetByAddress(chain, addr)
		require.True(t, ok)
		assert.Equal(t, inst.ID, got.ID)
	}
	assert.Len(t, r.FindByType(model.KindToken), workers*per)
}
