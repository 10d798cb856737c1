package model

import (
	"fmt"
	"strings"
)

// SourceKind discriminates where an instrument's data originates.
type SourceKind uint8

const (
	SourceDeFi SourceKind = iota + 1
	SourceCEX
	SourceTradFi
	SourceSynthetic
)

func (k SourceKind) String() string {
	switch k {
	case SourceDeFi:
		return "defi"
	case SourceCEX:
		return "cex"
	case SourceTradFi:
		return "tradfi"
	case SourceSynthetic:
		return "synthetic"
	default:
		return fmt.Sprintf("source(%d)", uint8(k))
	}
}

// ParseSourceKind is the inverse of SourceKind.String.
func ParseSourceKind(s string) (SourceKind, error) {
	switch strings.ToLower(s) {
	case "defi":
		return SourceDeFi, nil
	case "cex":
		return SourceCEX, nil
	case "tradfi":
		return SourceTradFi, nil
	case "synthetic":
		return SourceSynthetic, nil
	}
	return 0, fmt.Errorf("unknown source kind %q", s)
}

func (k SourceKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *SourceKind) UnmarshalText(b []byte) error {
	v, err := ParseSourceKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Source is DeFi{chain}, CEX{exchange}, TradFi{broker} or Synthetic.
// Name holds the chain, exchange or broker and is empty for Synthetic.
type Source struct {
	Kind SourceKind `json:"kind"`
	Name string     `json:"name,omitempty"`
}

func DeFi(chain string) Source       { return Source{Kind: SourceDeFi, Name: chain} }
func CEX(exchange string) Source     { return Source{Kind: SourceCEX, Name: exchange} }
func TradFi(broker string) Source    { return Source{Kind: SourceTradFi, Name: broker} }
func Synthetic() Source              { return Source{Kind: SourceSynthetic} }
func (s Source) String() string      { return s.Key() }
func (s Source) IsZero() bool        { return s.Kind == 0 }
func (s Source) Equal(o Source) bool { return s.Key() == o.Key() }

// Key is the canonical, case-normalized form used in hashes and indices.
func (s Source) Key() string {
	if s.Kind == SourceSynthetic {
		return s.Kind.String()
	}
	return s.Kind.String() + ":" + strings.ToLower(s.Name)
}

// Validate checks that non-synthetic sources are named.
func (s Source) Validate() error {
	switch s.Kind {
	case SourceDeFi, SourceCEX, SourceTradFi:
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("%s source requires a name", s.Kind)
		}
		return nil
	case SourceSynthetic:
		return nil
	}
	return fmt.Errorf("invalid source kind %d", s.Kind)
}
