package model

import "github.com/Checker-Finance/venue-registry/pkg/ident"

// InstrumentID identifies an Instrument. It is derived from content, never assigned.
type InstrumentID ident.ID

// PoolID identifies a Pool in its own identifier space.
type PoolID ident.ID

// VenueID identifies a Venue.
type VenueID ident.ID

func (id InstrumentID) String() string { return ident.ID(id).String() }
func (id InstrumentID) IsZero() bool   { return ident.ID(id).IsZero() }

// Less orders instrument IDs; pools use it to canonicalize leg order.
func (id InstrumentID) Less(other InstrumentID) bool {
	return ident.ID(id).Less(ident.ID(other))
}

func (id PoolID) String() string  { return ident.ID(id).String() }
func (id PoolID) IsZero() bool    { return ident.ID(id).IsZero() }
func (id VenueID) String() string { return ident.ID(id).String() }
func (id VenueID) IsZero() bool   { return ident.ID(id).IsZero() }

// MarshalText lets IDs serve as JSON map keys and string fields.
func (id InstrumentID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id PoolID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }
func (id VenueID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }

func (id *InstrumentID) UnmarshalText(b []byte) error {
	parsed, err := ident.ParseID(string(b))
	if err != nil {
		return err
	}
	*id = InstrumentID(parsed)
	return nil
}

func (id *PoolID) UnmarshalText(b []byte) error {
	parsed, err := ident.ParseID(string(b))
	if err != nil {
		return err
	}
	*id = PoolID(parsed)
	return nil
}

func (id *VenueID) UnmarshalText(b []byte) error {
	parsed, err := ident.ParseID(string(b))
	if err != nil {
		return err
	}
	*id = VenueID(parsed)
	return nil
}
