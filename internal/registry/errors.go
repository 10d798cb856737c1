package registry

import (
	"errors"
	"fmt"

	"github.com/Checker-Finance/venue-registry/pkg/model"
)

var (
	// ErrHashCollision means distinct content derived an ID already in use.
	// It indicates the ID width is undersized and must never be resolved by
	// overwriting.
	ErrHashCollision     = errors.New("hash collision")
	ErrDuplicateSymbol   = errors.New("duplicate symbol")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrUnknownVenue      = errors.New("unknown venue")
	ErrUnknownPool       = errors.New("unknown pool")

	// ErrPoolConflict and ErrVenueConflict mean the same ID inputs arrived
	// with different non-key content. They are data errors, not collisions.
	ErrPoolConflict  = errors.New("pool conflict")
	ErrVenueConflict = errors.New("venue conflict")
)

// HashCollisionError identifies both entities sharing an ID.
type HashCollisionError struct {
	Entity         string
	ID             string
	ExistingSymbol string
	NewSymbol      string
}

func (e *HashCollisionError) Error() string {
	return fmt.Sprintf("%s id %s: existing %q, rejected %q: %v",
		e.Entity, e.ID, e.ExistingSymbol, e.NewSymbol, ErrHashCollision)
}

func (e *HashCollisionError) Unwrap() error { return ErrHashCollision }

// PoolConflictError reports a pool address re-registered with other legs.
type PoolConflictError struct {
	ID             model.PoolID
	Address        string
	ExistingToken0 model.InstrumentID
	ExistingToken1 model.InstrumentID
	RejectedToken0 model.InstrumentID
	RejectedToken1 model.InstrumentID
}

func (e *PoolConflictError) Error() string {
	return fmt.Sprintf("pool %s (%s): registered with legs %s/%s, rejected legs %s/%s: %v",
		e.ID, e.Address, e.ExistingToken0, e.ExistingToken1, e.RejectedToken0, e.RejectedToken1, ErrPoolConflict)
}

func (e *PoolConflictError) Unwrap() error { return ErrPoolConflict }

// VenueConflictError reports a venue name re-registered as another kind.
type VenueConflictError struct {
	ID           model.VenueID
	Name         string
	ExistingKind model.VenueKind
	RejectedKind model.VenueKind
}

func (e *VenueConflictError) Error() string {
	return fmt.Sprintf("venue %s (%s): registered as %v, rejected %v: %v",
		e.ID, e.Name, e.ExistingKind, e.RejectedKind, ErrVenueConflict)
}

func (e *VenueConflictError) Unwrap() error { return ErrVenueConflict }

// DuplicateSymbolError is returned when a symbol is already taken within its scope
// by an instrument with a different identity.
type DuplicateSymbolError struct {
	Symbol     string
	Scope      string
	ExistingID model.InstrumentID
}

func (e *DuplicateSymbolError) Error() string {
	return fmt.Sprintf("symbol %q already registered as %s in scope %q: %v",
		e.Symbol, e.ExistingID, e.Scope, ErrDuplicateSymbol)
}

func (e *DuplicateSymbolError) Unwrap() error { return ErrDuplicateSymbol }

// UnknownInstrumentError names the missing prerequisite and what needed it.
type UnknownInstrumentError struct {
	ID       model.InstrumentID
	Referrer string
}

func (e *UnknownInstrumentError) Error() string {
	if e.Referrer == "" {
		return fmt.Sprintf("instrument %s: %v", e.ID, ErrUnknownInstrument)
	}
	return fmt.Sprintf("instrument %s referenced by %s: %v", e.ID, e.Referrer, ErrUnknownInstrument)
}

func (e *UnknownInstrumentError) Unwrap() error { return ErrUnknownInstrument }

type UnknownVenueError struct {
	ID model.VenueID
}

func (e *UnknownVenueError) Error() string {
	return fmt.Sprintf("venue %s: %v", e.ID, ErrUnknownVenue)
}

func (e *UnknownVenueError) Unwrap() error { return ErrUnknownVenue }

type UnknownPoolError struct {
	ID model.PoolID
}

func (e *UnknownPoolError) Error() string {
	return fmt.Sprintf("pool %s: %v", e.ID, ErrUnknownPool)
}

func (e *UnknownPoolError) Unwrap() error { return ErrUnknownPool }
