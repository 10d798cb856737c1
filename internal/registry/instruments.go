package registry

import (
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/internal/metrics"
	"github.com/Checker-Finance/venue-registry/pkg/model"
)

// RegisterInstrument derives the instrument's ID and publishes it together
// with its secondary index entries. Registering identical content again is a
// no-op that returns the same ID.
func (r *Registry) RegisterInstrument(inst model.Instrument) (model.InstrumentID, error) {
	defer metrics.ObserveDuration(metrics.RegistrationLatency, time.Now(), entityInstrument)

	if err := inst.Validate(); err != nil {
		metrics.IncRegistration(entityInstrument, "invalid")
		return model.InstrumentID{}, err
	}
	if opt, ok := inst.Type.(model.Option); ok {
		if _, exists := r.instruments.Load(opt.UnderlyingID); !exists {
			metrics.IncRegistration(entityInstrument, "unknown_ref")
			return model.InstrumentID{}, &UnknownInstrumentError{ID: opt.UnderlyingID, Referrer: "option " + inst.Symbol}
		}
	}

	id := inst.DeriveID(r.deriver)
	now := r.now().UTC()
	inst.ID = id
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	if inst.LastUpdated.IsZero() {
		inst.LastUpdated = inst.CreatedAt
	}

	created := false
	var existing model.Instrument
	_, err := r.instruments.Update(id, func(cur model.Instrument, exists bool) (model.Instrument, bool, error) {
		if exists {
			if cur.SameContent(inst) {
				return cur, false, nil
			}
			existing = cur
			return cur, false, &HashCollisionError{
				Entity:         entityInstrument,
				ID:             id.String(),
				ExistingSymbol: cur.Symbol,
				NewSymbol:      inst.Symbol,
			}
		}

		scope := inst.SymbolScope()
		if holder, loaded := r.byScope.LoadOrStore(scope, id); loaded && holder != id {
			return cur, false, &DuplicateSymbolError{Symbol: inst.Symbol, Scope: scope, ExistingID: holder}
		}
		r.stageInstrument(inst)
		created = true
		return inst, true, nil
	})

	var hce *HashCollisionError
	switch {
	case errors.As(err, &hce):
		r.recordCollision(model.CollisionRecord{
			Entity:     entityInstrument,
			ID:         hce.ID,
			Existing:   existing.Symbol,
			Rejected:   inst.Symbol,
			DetectedAt: now,
		})
		return model.InstrumentID{}, err
	case err != nil:
		metrics.IncRegistration(entityInstrument, "duplicate_symbol")
		r.logger.Warn("registry.duplicate_symbol",
			zap.String("symbol", inst.Symbol),
			zap.String("scope", inst.SymbolScope()),
			zap.Error(err))
		return model.InstrumentID{}, err
	case !created:
		metrics.IncRegistration(entityInstrument, "idempotent")
		return id, nil
	}

	metrics.IncRegistration(entityInstrument, "created")
	metrics.SetEntityCount(entityInstrument, r.instruments.Len())
	r.logger.Debug("registry.instrument_registered",
		zap.String("id", id.String()),
		zap.String("symbol", inst.Symbol),
		zap.String("kind", inst.Type.Kind().String()),
		zap.String("source", inst.Source.Key()))
	r.publish(model.RegistryEvent{Kind: model.InstrumentRegistered, At: now, Instrument: &inst})
	return id, nil
}

// stageInstrument writes every secondary entry for inst. Runs under the
// primary stripe of inst.ID, before the primary entry is visible.
func (r *Registry) stageInstrument(inst model.Instrument) {
	id := inst.ID
	r.bySymbol.Append(inst.Symbol, id)
	r.bySourceSym.Append(sourceSymbolKey(inst.Source, inst.Symbol), id)
	r.byKind.Append(inst.Type.Kind(), id)
	r.bySource.Append(inst.Source.Key(), id)

	if chain, addr, ok := inst.ChainAddress(); ok {
		r.byChainAddr.LoadOrStore(chainAddressKey(chain, addr), id)
		r.byAddress.Append(addr, id)
	}
	if isin := inst.ISIN(); isin != "" {
		r.byISIN.LoadOrStore(isin, id)
		r.listings.Append(isin, listingRef{exchange: inst.Exchange(), id: id})
	}
	if cusip := inst.CUSIP(); cusip != "" {
		r.byCUSIP.Append(cusip, id)
	}
}

func sourceSymbolKey(src model.Source, symbol string) string {
	return src.Key() + "|" + symbol
}

func chainAddressKey(chain, addr string) string {
	return strings.ToLower(chain) + ":" + model.NormalizeAddress(addr)
}

// resolve reads the primary table; every lookup ends here.
func (r *Registry) resolve(id model.InstrumentID) (model.Instrument, bool) {
	return r.instruments.Load(id)
}

func (r *Registry) resolveFirst(ids []model.InstrumentID) (model.Instrument, bool) {
	for _, id := range ids {
		if inst, ok := r.resolve(id); ok {
			return inst, true
		}
	}
	return model.Instrument{}, false
}

func (r *Registry) resolveAll(ids []model.InstrumentID) []model.Instrument {
	out := make([]model.Instrument, 0, len(ids))
	for _, id := range ids {
		if inst, ok := r.resolve(id); ok {
			out = append(out, inst)
		}
	}
	return out
}

func (r *Registry) HasInstrument(id model.InstrumentID) bool {
	_, ok := r.resolve(id)
	return ok
}

func (r *Registry) GetByID(id model.InstrumentID) (model.Instrument, bool) {
	inst, ok := r.resolve(id)
	r.lookup("id", ok)
	return inst, ok
}

// GetBySymbol returns the first instrument registered under symbol.
func (r *Registry) GetBySymbol(symbol string) (model.Instrument, bool) {
	inst, ok := r.resolveFirst(r.bySymbol.Get(symbol))
	r.lookup("symbol", ok)
	return inst, ok
}

// FindBySymbol returns every instrument with the symbol in registration order.
func (r *Registry) FindBySymbol(symbol string) []model.Instrument {
	out := r.resolveAll(r.bySymbol.Get(symbol))
	r.lookup("symbol", len(out) > 0)
	return out
}

func (r *Registry) GetBySourceSymbol(src model.Source, symbol string) (model.Instrument, bool) {
	inst, ok := r.resolveFirst(r.bySourceSym.Get(sourceSymbolKey(src, symbol)))
	r.lookup("source_symbol", ok)
	return inst, ok
}

// GetByAddress finds a token by chain and contract address, case-insensitively.
func (r *Registry) GetByAddress(chain, address string) (model.Instrument, bool) {
	var inst model.Instrument
	id, ok := r.byChainAddr.Load(chainAddressKey(chain, address))
	if ok {
		inst, ok = r.resolve(id)
	}
	r.lookup("address", ok)
	return inst, ok
}

// FindByAddress returns tokens sharing a contract address across chains.
func (r *Registry) FindByAddress(address string) []model.Instrument {
	out := r.resolveAll(r.byAddress.Get(model.NormalizeAddress(address)))
	r.lookup("address", len(out) > 0)
	return out
}

// GetByISIN returns the first listing registered under isin.
func (r *Registry) GetByISIN(isin string) (model.Instrument, bool) {
	var inst model.Instrument
	id, ok := r.byISIN.Load(strings.ToUpper(isin))
	if ok {
		inst, ok = r.resolve(id)
	}
	r.lookup("isin", ok)
	return inst, ok
}

func (r *Registry) GetByCUSIP(cusip string) (model.Instrument, bool) {
	inst, ok := r.resolveFirst(r.byCUSIP.Get(strings.ToUpper(cusip)))
	r.lookup("cusip", ok)
	return inst, ok
}

// FindByCUSIP returns every listing sharing the CUSIP.
func (r *Registry) FindByCUSIP(cusip string) []model.Instrument {
	out := r.resolveAll(r.byCUSIP.Get(strings.ToUpper(cusip)))
	r.lookup("cusip", len(out) > 0)
	return out
}

func (r *Registry) FindByType(kind model.InstrumentKind) []model.Instrument {
	out := r.resolveAll(r.byKind.Get(kind))
	r.lookup("type", len(out) > 0)
	return out
}

func (r *Registry) FindBySource(src model.Source) []model.Instrument {
	out := r.resolveAll(r.bySource.Get(src.Key()))
	r.lookup("source", len(out) > 0)
	return out
}

// Listings returns every (exchange, instrument) pair sharing the ISIN, in
// registration order.
func (r *Registry) Listings(isin string) []model.Listing {
	refs := r.listings.Get(strings.ToUpper(isin))
	out := make([]model.Listing, 0, len(refs))
	for _, ref := range refs {
		if inst, ok := r.resolve(ref.id); ok {
			out = append(out, model.Listing{Exchange: ref.exchange, Instrument: inst})
		}
	}
	r.lookup("isin", len(out) > 0)
	return out
}

// All returns every instrument ordered by ID.
func (r *Registry) All() []model.Instrument {
	out := make([]model.Instrument, 0, r.instruments.Len())
	r.instruments.Range(func(_ model.InstrumentID, inst model.Instrument) bool {
		out = append(out, inst)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

func (r *Registry) Count() int {
	return r.instruments.Len()
}
