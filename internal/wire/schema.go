package wire

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// FieldKind is the wire type of a dynamic field.
type FieldKind string

const (
	KindU8      FieldKind = "u8"
	KindU16     FieldKind = "u16"
	KindU32     FieldKind = "u32"
	KindU64     FieldKind = "u64"
	KindI64     FieldKind = "i64"
	KindF64     FieldKind = "f64"
	KindBool    FieldKind = "bool"
	KindString  FieldKind = "string"
	KindBytes   FieldKind = "bytes"
	KindDecimal FieldKind = "decimal"
)

func (k FieldKind) valid() bool {
	switch k {
	case KindU8, KindU16, KindU32, KindU64, KindI64, KindF64, KindBool, KindString, KindBytes, KindDecimal:
		return true
	}
	return false
}

var ErrInvalidSchema = errors.New("invalid schema")

type FieldDef struct {
	Name string    `yaml:"name"`
	Kind FieldKind `yaml:"kind"`
}

// Schema describes one version of a dynamic message type. Fields are
// encoded in declaration order.
type Schema struct {
	Name    string      `yaml:"name"`
	Type    MessageType `yaml:"type"`
	Version uint8       `yaml:"version"`
	Fields  []FieldDef  `yaml:"fields"`
}

func (s Schema) validate() error {
	if !s.Type.IsDynamic() {
		return fmt.Errorf("%w: %s: type %d is reserved for built-in messages", ErrInvalidSchema, s.Name, uint8(s.Type))
	}
	if s.Version == 0 {
		return fmt.Errorf("%w: %s: version must be positive", ErrInvalidSchema, s.Name)
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: %s: unnamed field", ErrInvalidSchema, s.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: %s: duplicate field %q", ErrInvalidSchema, s.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
		if !f.Kind.valid() {
			return fmt.Errorf("%w: %s.%s: unknown kind %q", ErrInvalidSchema, s.Name, f.Name, f.Kind)
		}
	}
	return nil
}

// Record is a decoded dynamic message.
type Record struct {
	Header Header
	Schema string
	Values map[string]any
}

type schemaKey struct {
	t MessageType
	v uint8
}

// SchemaRegistry holds the dynamic message schemas known to this process.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[schemaKey]Schema
	latest  map[MessageType]uint8
}

func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		schemas: make(map[schemaKey]Schema),
		latest:  make(map[MessageType]uint8),
	}
}

// Register adds a schema. Re-registering a (type, version) pair is an error.
func (s *SchemaRegistry) Register(sc Schema) error {
	if err := sc.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := schemaKey{sc.Type, sc.Version}
	if _, ok := s.schemas[k]; ok {
		return fmt.Errorf("%w: %s v%d already registered", ErrInvalidSchema, sc.Type, sc.Version)
	}
	s.schemas[k] = sc
	if sc.Version > s.latest[sc.Type] {
		s.latest[sc.Type] = sc.Version
	}
	return nil
}

type schemaFile struct {
	Schemas []Schema `yaml:"schemas"`
}

// LoadYAML registers every schema in a document of the form
//
//	schemas:
//	  - name: funding_rate
//	    type: 128
//	    version: 1
//	    fields:
//	      - {name: venue, kind: string}
//	      - {name: rate, kind: decimal}
func (s *SchemaRegistry) LoadYAML(data []byte) error {
	var doc schemaFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	for _, sc := range doc.Schemas {
		if err := s.Register(sc); err != nil {
			return err
		}
	}
	return nil
}

func (s *SchemaRegistry) Lookup(t MessageType, version uint8) (Schema, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schemas[schemaKey{t, version}]
	return sc, ok
}

// Types lists the registered dynamic types.
func (s *SchemaRegistry) Types() []MessageType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MessageType, 0, len(s.latest))
	for t := range s.latest {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EncodeRecord encodes values with the latest schema version of t. Every
// field must be present with the Go type of its kind.
func (s *SchemaRegistry) EncodeRecord(e *Encoder, t MessageType, values map[string]any) ([]byte, error) {
	s.mu.RLock()
	v, ok := s.latest[t]
	sc := s.schemas[schemaKey{t, v}]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return e.encodeVersion(t, v, func(w *writer) {
		for _, f := range sc.Fields {
			if w.err != nil {
				return
			}
			val, ok := values[f.Name]
			if !ok {
				w.err = fmt.Errorf("%w: %s.%s missing", ErrMalformed, sc.Name, f.Name)
				return
			}
			putField(w, f, val)
		}
	})
}

func putField(w *writer, f FieldDef, val any) {
	ok := true
	switch f.Kind {
	case KindU8:
		var x uint8
		x, ok = val.(uint8)
		w.u8(x)
	case KindU16:
		var x uint16
		x, ok = val.(uint16)
		w.u16(x)
	case KindU32:
		var x uint32
		x, ok = val.(uint32)
		w.u32(x)
	case KindU64:
		var x uint64
		x, ok = val.(uint64)
		w.u64(x)
	case KindI64:
		var x int64
		x, ok = val.(int64)
		w.i64(x)
	case KindF64:
		var x float64
		x, ok = val.(float64)
		w.f64(x)
	case KindBool:
		var x bool
		x, ok = val.(bool)
		w.boolean(x)
	case KindString:
		var x string
		x, ok = val.(string)
		w.str(f.Name, x)
	case KindBytes:
		var x []byte
		x, ok = val.([]byte)
		w.bytes(f.Name, x)
	case KindDecimal:
		var x decimal.Decimal
		x, ok = val.(decimal.Decimal)
		w.dec(f.Name, x)
	}
	if !ok && w.err == nil {
		w.err = fmt.Errorf("%w: %s wants %s, got %T", ErrMalformed, f.Name, f.Kind, val)
	}
}

func readField(r *reader, k FieldKind) any {
	switch k {
	case KindU8:
		return r.u8()
	case KindU16:
		return r.u16()
	case KindU32:
		return r.u32()
	case KindU64:
		return r.u64()
	case KindI64:
		return r.i64()
	case KindF64:
		return r.f64()
	case KindBool:
		return r.boolean()
	case KindString:
		return r.str()
	case KindBytes:
		return r.bytes()
	case KindDecimal:
		return r.dec()
	}
	return nil
}

// DecodeRecord validates a dynamic frame and decodes it with the schema
// matching its (type, version).
func (s *SchemaRegistry) DecodeRecord(buf []byte) (Record, error) {
	rec, err := s.decodeRecord(buf)
	if err != nil {
		metricsCodecError(err)
	}
	return rec, err
}

func (s *SchemaRegistry) decodeRecord(buf []byte) (Record, error) {
	h, err := PeekHeader(buf)
	if err != nil {
		return Record{}, err
	}
	if !h.Type.IsDynamic() {
		return Record{}, fmt.Errorf("%w: %s is not a dynamic type", ErrUnknownType, h.Type)
	}
	sc, ok := s.Lookup(h.Type, h.Version)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s v%d", ErrUnsupportedVersion, h.Type, h.Version)
	}
	payload, err := verify(buf, h)
	if err != nil {
		return Record{}, err
	}
	r := &reader{buf: payload}
	values := make(map[string]any, len(sc.Fields))
	for _, f := range sc.Fields {
		values[f.Name] = readField(r, f.Kind)
	}
	if err := r.done(); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", sc.Name, err)
	}
	return Record{Header: h, Schema: sc.Name, Values: values}, nil
}
