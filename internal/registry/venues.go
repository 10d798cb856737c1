package registry

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/internal/metrics"
	"github.com/Checker-Finance/venue-registry/pkg/model"
)

// RegisterVenue publishes v and assigns its registration sequence. A venue
// with no status starts active.
func (r *Registry) RegisterVenue(v model.Venue) (model.VenueID, error) {
	defer metrics.ObserveDuration(metrics.RegistrationLatency, time.Now(), entityVenue)

	if err := v.Validate(); err != nil {
		metrics.IncRegistration(entityVenue, "invalid")
		return model.VenueID{}, err
	}
	id := v.DeriveID(r.deriver)
	now := r.now().UTC()
	v.ID = id
	if v.Status == 0 {
		v.Status = model.VenueActive
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}

	created := false
	var existing model.Venue
	stored, err := r.venues.Update(id, func(cur model.Venue, exists bool) (model.Venue, bool, error) {
		if exists {
			if cur.SameContent(v) {
				return cur, false, nil
			}
			if cur.SameKey(v) {
				return cur, false, &VenueConflictError{
					ID:           id,
					Name:         cur.Name,
					ExistingKind: cur.Type.VenueKind(),
					RejectedKind: v.Type.VenueKind(),
				}
			}
			existing = cur
			return cur, false, &HashCollisionError{
				Entity:         entityVenue,
				ID:             id.String(),
				ExistingSymbol: cur.Name,
				NewSymbol:      v.Name,
			}
		}
		r.venueByName.LoadOrStore(v.NameKey(), id)
		v.RegisteredSeq = r.venueSeq.Add(1)
		created = true
		return v, true, nil
	})

	var hce *HashCollisionError
	switch {
	case errors.As(err, &hce):
		r.recordCollision(model.CollisionRecord{
			Entity:     entityVenue,
			ID:         hce.ID,
			Existing:   existing.Name,
			Rejected:   v.Name,
			DetectedAt: now,
		})
		return model.VenueID{}, err
	case errors.Is(err, ErrVenueConflict):
		metrics.IncRegistration(entityVenue, "conflict")
		r.logger.Warn("registry.venue_conflict", zap.Error(err))
		return model.VenueID{}, err
	case err != nil:
		return model.VenueID{}, err
	case !created:
		metrics.IncRegistration(entityVenue, "idempotent")
		return id, nil
	}

	metrics.IncRegistration(entityVenue, "created")
	metrics.SetEntityCount(entityVenue, r.venues.Len())
	r.logger.Info("registry.venue_registered",
		zap.String("id", id.String()),
		zap.String("name", stored.Name),
		zap.String("kind", stored.Type.VenueKind().String()),
		zap.Uint64("seq", stored.RegisteredSeq))
	r.publish(model.RegistryEvent{Kind: model.VenueRegistered, At: now, Venue: &stored})
	return id, nil
}

func (r *Registry) GetVenue(id model.VenueID) (model.Venue, bool) {
	v, ok := r.venues.Load(id)
	r.lookup("venue", ok)
	return v, ok
}

// GetVenueByName is case-insensitive.
func (r *Registry) GetVenueByName(name string) (model.Venue, bool) {
	var v model.Venue
	id, ok := r.venueByName.Load(strings.ToUpper(strings.TrimSpace(name)))
	if ok {
		v, ok = r.venues.Load(id)
	}
	r.lookup("venue_name", ok)
	return v, ok
}

// Venues returns every venue in registration order.
func (r *Registry) Venues() []model.Venue {
	out := make([]model.Venue, 0, r.venues.Len())
	r.venues.Range(func(_ model.VenueID, v model.Venue) bool {
		out = append(out, v)
		return true
	})
	sortVenues(out)
	return out
}

func (r *Registry) VenueCount() int {
	return r.venues.Len()
}

func (r *Registry) SetVenueStatus(id model.VenueID, status model.VenueStatus) error {
	var prev model.VenueStatus
	_, err := r.venues.Update(id, func(cur model.Venue, exists bool) (model.Venue, bool, error) {
		if !exists {
			return cur, false, &UnknownVenueError{ID: id}
		}
		prev = cur.Status
		cur.Status = status
		return cur, prev != status, nil
	})
	if err != nil {
		return err
	}
	if prev == status {
		return nil
	}
	r.logger.Info("registry.venue_status_changed",
		zap.String("id", id.String()),
		zap.Stringer("from", prev),
		zap.Stringer("to", status))
	r.publish(model.RegistryEvent{Kind: model.VenueStatusChanged, VenueID: id, Status: status})
	return nil
}

// UpdateVenueMetrics replaces the venue's performance metrics. Unchanged
// metrics publish nothing.
func (r *Registry) UpdateVenueMetrics(id model.VenueID, m model.PerformanceMetrics) error {
	changed := false
	_, err := r.venues.Update(id, func(cur model.Venue, exists bool) (model.Venue, bool, error) {
		if !exists {
			return cur, false, &UnknownVenueError{ID: id}
		}
		if cur.Metrics == m {
			return cur, false, nil
		}
		cur.Metrics = m
		changed = true
		return cur, true, nil
	})
	if err != nil || !changed {
		return err
	}
	r.publish(model.RegistryEvent{Kind: model.VenueMetricsUpdated, VenueID: id, Metrics: &m})
	return nil
}

// LinkInstrumentToVenue records that the instrument trades on the venue.
// Linking the same pair again is a no-op.
func (r *Registry) LinkInstrumentToVenue(instID model.InstrumentID, venueID model.VenueID) error {
	inst, ok := r.resolve(instID)
	if !ok {
		metrics.IncRegistration(entityLink, "unknown_ref")
		return &UnknownInstrumentError{ID: instID, Referrer: "venue link " + venueID.String()}
	}
	if _, ok := r.venues.Load(venueID); !ok {
		metrics.IncRegistration(entityLink, "unknown_ref")
		return &UnknownVenueError{ID: venueID}
	}

	link := model.VenueLink{VenueID: venueID, InstrumentID: instID}
	if _, ok := r.links.Load(link); ok {
		metrics.IncRegistration(entityLink, "idempotent")
		return nil
	}

	// The link row is the primary entry; the projections are staged first.
	r.instrumentVenues.AppendUnique(instID, venueID)
	r.venueInstruments.AppendUnique(venueID, instID)
	if isin := inst.ISIN(); isin != "" {
		r.isinVenues.AppendUnique(isin, link)
	}
	now := r.now().UTC()
	if _, loaded := r.links.LoadOrStore(link, now); loaded {
		metrics.IncRegistration(entityLink, "idempotent")
		return nil
	}

	metrics.IncRegistration(entityLink, "created")
	r.publish(model.RegistryEvent{Kind: model.InstrumentLinked, At: now, Link: &link})
	return nil
}

func (r *Registry) linked(l model.VenueLink) bool {
	_, ok := r.links.Load(l)
	return ok
}

// VenuesForInstrument returns the linked venues in registration order.
func (r *Registry) VenuesForInstrument(id model.InstrumentID) []model.Venue {
	ids := r.instrumentVenues.Get(id)
	out := make([]model.Venue, 0, len(ids))
	for _, vid := range ids {
		if !r.linked(model.VenueLink{VenueID: vid, InstrumentID: id}) {
			continue
		}
		if v, ok := r.venues.Load(vid); ok {
			out = append(out, v)
		}
	}
	sortVenues(out)
	r.lookup("instrument_venues", len(out) > 0)
	return out
}

func (r *Registry) InstrumentsForVenue(id model.VenueID) []model.Instrument {
	ids := r.venueInstruments.Get(id)
	out := make([]model.Instrument, 0, len(ids))
	for _, iid := range ids {
		if !r.linked(model.VenueLink{VenueID: id, InstrumentID: iid}) {
			continue
		}
		if inst, ok := r.resolve(iid); ok {
			out = append(out, inst)
		}
	}
	r.lookup("venue_instruments", len(out) > 0)
	return out
}

// VenueLinksForISIN returns every link whose instrument carries the ISIN.
func (r *Registry) VenueLinksForISIN(isin string) []model.VenueLink {
	all := r.isinVenues.Get(strings.ToUpper(isin))
	out := all[:0]
	for _, l := range all {
		if r.linked(l) {
			out = append(out, l)
		}
	}
	r.lookup("isin_venues", len(out) > 0)
	return out
}
