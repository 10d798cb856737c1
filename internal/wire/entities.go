package wire

import (
	"fmt"
	"time"

	"github.com/Checker-Finance/venue-registry/pkg/ident"
	"github.com/Checker-Finance/venue-registry/pkg/model"
)

func putInstrument(w *writer, inst model.Instrument) {
	if inst.Type == nil {
		w.err = fmt.Errorf("%w: instrument %s has no type", ErrMalformed, inst.Symbol)
		return
	}
	w.id(ident.ID(inst.ID))
	w.str("symbol", inst.Symbol)
	w.u8(uint8(inst.Source.Kind))
	w.str("source", inst.Source.Name)
	w.u8(inst.Decimals)
	w.ts(inst.CreatedAt)
	w.ts(inst.LastUpdated)
	w.u8(uint8(inst.Type.Kind()))

	switch t := inst.Type.(type) {
	case model.Token:
		w.str("blockchain", t.Blockchain)
		w.str("contract_address", t.ContractAddress)
		w.str("token_standard", t.TokenStandard)
	case model.Stock:
		w.str("ticker", t.Ticker)
		w.str("exchange", t.Exchange)
		w.str("isin", t.ISIN)
		w.str("cusip", t.CUSIP)
		w.str("sedol", t.SEDOL)
		w.str("sector", t.Sector)
		w.nullDec("market_cap", t.MarketCap)
	case model.ETF:
		w.str("ticker", t.Ticker)
		w.str("exchange", t.Exchange)
		w.str("isin", t.ISIN)
		w.str("cusip", t.CUSIP)
		w.str("issuer", t.Issuer)
		w.str("underlying_index", t.UnderlyingIndex)
	case model.Future:
		w.str("underlying", t.Underlying)
		w.str("exchange", t.Exchange)
		w.ts(t.Expiration)
		w.dec("contract_size", t.ContractSize)
		w.dec("tick_size", t.TickSize)
	case model.Option:
		w.id(ident.ID(t.UnderlyingID))
		w.dec("strike", t.Strike)
		w.ts(t.Expiration)
		w.u8(uint8(t.OptionType))
		w.u8(uint8(t.Style))
	case model.Currency:
		w.str("iso_code", t.ISOCode)
		w.str("country", t.Country)
	}
}

func readInstrument(r *reader) model.Instrument {
	inst := model.Instrument{
		ID:     model.InstrumentID(r.id()),
		Symbol: r.str(),
	}
	inst.Source = model.Source{Kind: model.SourceKind(r.u8()), Name: r.str()}
	inst.Decimals = r.u8()
	inst.CreatedAt = r.ts()
	inst.LastUpdated = r.ts()

	switch kind := model.InstrumentKind(r.u8()); kind {
	case model.KindToken:
		inst.Type = model.Token{Blockchain: r.str(), ContractAddress: r.str(), TokenStandard: r.str()}
	case model.KindStock:
		inst.Type = model.Stock{
			Ticker: r.str(), Exchange: r.str(), ISIN: r.str(), CUSIP: r.str(),
			SEDOL: r.str(), Sector: r.str(), MarketCap: r.nullDec(),
		}
	case model.KindETF:
		inst.Type = model.ETF{
			Ticker: r.str(), Exchange: r.str(), ISIN: r.str(), CUSIP: r.str(),
			Issuer: r.str(), UnderlyingIndex: r.str(),
		}
	case model.KindFuture:
		inst.Type = model.Future{
			Underlying: r.str(), Exchange: r.str(), Expiration: r.ts(),
			ContractSize: r.dec(), TickSize: r.dec(),
		}
	case model.KindOption:
		inst.Type = model.Option{
			UnderlyingID: model.InstrumentID(r.id()),
			Strike:       r.dec(),
			Expiration:   r.ts(),
			OptionType:   model.OptionType(r.u8()),
			Style:        model.OptionStyle(r.u8()),
		}
	case model.KindCurrency:
		inst.Type = model.Currency{ISOCode: r.str(), Country: r.str()}
	default:
		if r.err == nil {
			r.err = fmt.Errorf("%w: instrument kind %d", ErrMalformed, kind)
		}
	}
	return inst
}

func putLiquidity(w *writer, s model.LiquiditySnapshot) {
	w.dec("reserve0", s.Reserve0)
	w.dec("reserve1", s.Reserve1)
	w.dec("tvl_usd", s.TVLUSD)
	w.u64(s.Block)
	w.ts(s.UpdatedAt)
}

func readLiquidity(r *reader) model.LiquiditySnapshot {
	return model.LiquiditySnapshot{
		Reserve0:  r.dec(),
		Reserve1:  r.dec(),
		TVLUSD:    r.dec(),
		Block:     r.u64(),
		UpdatedAt: r.ts(),
	}
}

func putPool(w *writer, p model.Pool) {
	w.id(ident.ID(p.ID))
	w.id(ident.ID(p.Token0))
	w.id(ident.ID(p.Token1))
	w.str("dex", p.DEX)
	w.str("address", p.Address)
	w.boolean(p.FeeTierBps != nil)
	if p.FeeTierBps != nil {
		w.u32(*p.FeeTierBps)
	}
	w.u8(uint8(p.Type))
	w.str("blockchain", p.Blockchain)
	w.ts(p.CreatedAt)
	w.boolean(p.Liquidity != nil)
	if p.Liquidity != nil {
		putLiquidity(w, *p.Liquidity)
	}
}

func readPool(r *reader) model.Pool {
	p := model.Pool{
		ID:      model.PoolID(r.id()),
		Token0:  model.InstrumentID(r.id()),
		Token1:  model.InstrumentID(r.id()),
		DEX:     r.str(),
		Address: r.str(),
	}
	if r.boolean() {
		fee := r.u32()
		p.FeeTierBps = &fee
	}
	p.Type = model.PoolType(r.u8())
	p.Blockchain = r.str()
	p.CreatedAt = r.ts()
	if r.boolean() {
		s := readLiquidity(r)
		p.Liquidity = &s
	}
	return p
}

func putMetrics(w *writer, m model.PerformanceMetrics) {
	w.i64(int64(m.AvgFillTime))
	w.f64(m.LiquidityScore)
	w.f64(m.SlippageBps)
	w.f64(m.Reliability)
}

func readMetrics(r *reader) model.PerformanceMetrics {
	return model.PerformanceMetrics{
		AvgFillTime:    time.Duration(r.i64()),
		LiquidityScore: r.f64(),
		SlippageBps:    r.f64(),
		Reliability:    r.f64(),
	}
}

func putVenue(w *writer, v model.Venue) {
	if v.Type == nil {
		w.err = fmt.Errorf("%w: venue %s has no type", ErrMalformed, v.Name)
		return
	}
	w.id(ident.ID(v.ID))
	w.str("name", v.Name)
	w.u8(uint8(v.Type.VenueKind()))
	switch t := v.Type.(type) {
	case model.StockVenue:
		w.str("mic", t.MIC)
		w.str("country", t.Country)
		w.str("timezone", t.Timezone)
	case model.CryptoVenue:
		w.u8(uint8(t.ExchangeType))
		w.strs("supported_chains", t.SupportedChains)
	case model.FuturesVenue:
		w.str("mic", t.MIC)
		w.str("clearing", t.Clearing)
	case model.OptionsVenue:
		w.str("mic", t.MIC)
		w.str("clearing", t.Clearing)
	}
	w.u8(uint8(v.Status))

	w.str("endpoint", v.Connectivity.Endpoint)
	w.u32(v.Connectivity.RequestsPerSecond)
	w.u32(v.Connectivity.Burst)

	w.dec("maker_bps", v.Fees.MakerBps)
	w.dec("taker_bps", v.Fees.TakerBps)
	if len(v.Fees.VolumeDiscounts) > MaxStringLen {
		w.err = fmt.Errorf("%w: volume_discounts has %d tiers", ErrFieldTooLong, len(v.Fees.VolumeDiscounts))
		return
	}
	w.u8(uint8(len(v.Fees.VolumeDiscounts)))
	for _, tier := range v.Fees.VolumeDiscounts {
		w.dec("min_volume", tier.MinVolume)
		w.dec("discount_bps", tier.DiscountBps)
	}

	w.strs("order_types", v.Capabilities.OrderTypes)
	w.dec("min_size", v.Capabilities.MinSize)
	w.dec("max_size", v.Capabilities.MaxSize)

	putMetrics(w, v.Metrics)
	w.u64(v.RegisteredSeq)
	w.ts(v.CreatedAt)
}

func readVenue(r *reader) model.Venue {
	v := model.Venue{
		ID:   model.VenueID(r.id()),
		Name: r.str(),
	}
	switch kind := model.VenueKind(r.u8()); kind {
	case model.VenueKindStock:
		v.Type = model.StockVenue{MIC: r.str(), Country: r.str(), Timezone: r.str()}
	case model.VenueKindCrypto:
		v.Type = model.CryptoVenue{ExchangeType: model.ExchangeType(r.u8()), SupportedChains: r.strs()}
	case model.VenueKindFutures:
		v.Type = model.FuturesVenue{MIC: r.str(), Clearing: r.str()}
	case model.VenueKindOptions:
		v.Type = model.OptionsVenue{MIC: r.str(), Clearing: r.str()}
	default:
		if r.err == nil {
			r.err = fmt.Errorf("%w: venue kind %d", ErrMalformed, kind)
		}
		return v
	}
	v.Status = model.VenueStatus(r.u8())

	v.Connectivity = model.Connectivity{
		Endpoint:          r.str(),
		RequestsPerSecond: r.u32(),
		Burst:             r.u32(),
	}

	v.Fees.MakerBps = r.dec()
	v.Fees.TakerBps = r.dec()
	if n := int(r.u8()); n > 0 {
		v.Fees.VolumeDiscounts = make([]model.VolumeTier, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			v.Fees.VolumeDiscounts = append(v.Fees.VolumeDiscounts, model.VolumeTier{
				MinVolume:   r.dec(),
				DiscountBps: r.dec(),
			})
		}
	}

	v.Capabilities = model.Capabilities{
		OrderTypes: r.strs(),
		MinSize:    r.dec(),
		MaxSize:    r.dec(),
	}

	v.Metrics = readMetrics(r)
	v.RegisteredSeq = r.u64()
	v.CreatedAt = r.ts()
	return v
}
