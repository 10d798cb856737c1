package registry

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/internal/metrics"
	"github.com/Checker-Finance/venue-registry/pkg/model"
)

// RegisterPool canonicalizes leg order and publishes the pool. Both legs must
// already be registered.
func (r *Registry) RegisterPool(p model.Pool) (model.PoolID, error) {
	defer metrics.ObserveDuration(metrics.RegistrationLatency, time.Now(), entityPool)

	if err := p.Validate(); err != nil {
		metrics.IncRegistration(entityPool, "invalid")
		return model.PoolID{}, err
	}
	for _, leg := range []model.InstrumentID{p.Token0, p.Token1} {
		if !r.HasInstrument(leg) {
			metrics.IncRegistration(entityPool, "unknown_ref")
			return model.PoolID{}, &UnknownInstrumentError{ID: leg, Referrer: "pool " + p.Address}
		}
	}

	p = p.Canonical()
	id := p.DeriveID(r.deriver)
	now := r.now().UTC()
	p.ID = id
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}

	created := false
	var existing model.Pool
	_, err := r.pools.Update(id, func(cur model.Pool, exists bool) (model.Pool, bool, error) {
		if exists {
			if cur.SameContent(p) {
				return cur, false, nil
			}
			if cur.SameKey(p) {
				return cur, false, &PoolConflictError{
					ID:             id,
					Address:        cur.Address,
					ExistingToken0: cur.Token0,
					ExistingToken1: cur.Token1,
					RejectedToken0: p.Token0,
					RejectedToken1: p.Token1,
				}
			}
			existing = cur
			return cur, false, &HashCollisionError{
				Entity:         entityPool,
				ID:             id.String(),
				ExistingSymbol: cur.Address,
				NewSymbol:      p.Address,
			}
		}
		r.stagePool(p)
		created = true
		return p, true, nil
	})

	var hce *HashCollisionError
	switch {
	case errors.As(err, &hce):
		r.recordCollision(model.CollisionRecord{
			Entity:     entityPool,
			ID:         hce.ID,
			Existing:   existing.Address,
			Rejected:   p.Address,
			DetectedAt: now,
		})
		return model.PoolID{}, err
	case errors.Is(err, ErrPoolConflict):
		metrics.IncRegistration(entityPool, "conflict")
		r.logger.Warn("registry.pool_conflict", zap.Error(err))
		return model.PoolID{}, err
	case err != nil:
		return model.PoolID{}, err
	case !created:
		metrics.IncRegistration(entityPool, "idempotent")
		return id, nil
	}

	metrics.IncRegistration(entityPool, "created")
	metrics.SetEntityCount(entityPool, r.pools.Len())
	r.logger.Debug("registry.pool_registered",
		zap.String("id", id.String()),
		zap.String("dex", p.DEX),
		zap.String("chain", p.Blockchain),
		zap.String("address", p.Address))
	r.publish(model.RegistryEvent{Kind: model.PoolRegistered, At: now, Pool: &p})
	return id, nil
}

func (r *Registry) stagePool(p model.Pool) {
	r.poolsByPair.Append(model.PairKey(p.Token0, p.Token1), p.ID)
	r.poolsByPair.Append(model.PairKey(p.Token1, p.Token0), p.ID)
	r.poolsByDEX.Append(strings.ToLower(p.DEX), p.ID)
	r.poolsByChain.Append(strings.ToLower(p.Blockchain), p.ID)
	r.poolByAddress.LoadOrStore(chainAddressKey(p.Blockchain, p.Address), p.ID)
}

func (r *Registry) resolvePools(ids []model.PoolID) []model.Pool {
	out := make([]model.Pool, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.pools.Load(id); ok {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) GetPool(id model.PoolID) (model.Pool, bool) {
	p, ok := r.pools.Load(id)
	r.lookup("pool", ok)
	return p, ok
}

// FindPoolsByPair accepts the legs in either order.
func (r *Registry) FindPoolsByPair(a, b model.InstrumentID) []model.Pool {
	out := r.resolvePools(r.poolsByPair.Get(model.PairKey(a, b)))
	r.lookup("pool_pair", len(out) > 0)
	return out
}

func (r *Registry) FindPoolsByDEX(dex string) []model.Pool {
	out := r.resolvePools(r.poolsByDEX.Get(strings.ToLower(dex)))
	r.lookup("pool_dex", len(out) > 0)
	return out
}

func (r *Registry) FindPoolsByChain(chain string) []model.Pool {
	out := r.resolvePools(r.poolsByChain.Get(strings.ToLower(chain)))
	r.lookup("pool_chain", len(out) > 0)
	return out
}

func (r *Registry) GetPoolByAddress(chain, address string) (model.Pool, bool) {
	var p model.Pool
	id, ok := r.poolByAddress.Load(chainAddressKey(chain, address))
	if ok {
		p, ok = r.pools.Load(id)
	}
	r.lookup("pool_address", ok)
	return p, ok
}

func (r *Registry) PoolCount() int {
	return r.pools.Len()
}

// UpdatePoolLiquidity replaces the pool's live liquidity snapshot. An
// unchanged snapshot publishes nothing.
func (r *Registry) UpdatePoolLiquidity(id model.PoolID, snap model.LiquiditySnapshot) error {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = r.now().UTC()
	}
	changed := false
	_, err := r.pools.Update(id, func(cur model.Pool, exists bool) (model.Pool, bool, error) {
		if !exists {
			return cur, false, &UnknownPoolError{ID: id}
		}
		if cur.Liquidity != nil && cur.Liquidity.Equal(snap) {
			return cur, false, nil
		}
		s := snap
		cur.Liquidity = &s
		changed = true
		return cur, true, nil
	})
	if err != nil || !changed {
		return err
	}
	r.publish(model.RegistryEvent{Kind: model.PoolLiquidityUpdated, PoolID: id, Liquidity: &snap})
	return nil
}
