// Package discovery turns instrument payloads from upstream data sources
// into registry entries.
package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Checker-Finance/venue-registry/pkg/model"
)

var ErrMalformedPayload = errors.New("malformed payload")

// Parser decodes a source-native document into payloads.
type Parser interface {
	Parse(raw []byte) ([]model.InstrumentPayload, error)
}

// payloadDoc is the JSON form of a payload. The instrument type is carried
// as a kind tag plus a type-specific object.
type payloadDoc struct {
	Symbol            string            `json:"symbol"`
	Kind              string            `json:"kind"`
	Type              json.RawMessage   `json:"type,omitempty"`
	Source            model.Source      `json:"source"`
	Decimals          uint8             `json:"decimals"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	BlockchainAddress string            `json:"blockchain_address,omitempty"`
	ExchangeSymbol    string            `json:"exchange_symbol,omitempty"`
	ContractDetails   json.RawMessage   `json:"contract_details,omitempty"`
}

func (d payloadDoc) toPayload() (model.InstrumentPayload, error) {
	typ, err := decodeType(d.Kind, d.Type)
	if err != nil {
		return model.InstrumentPayload{}, fmt.Errorf("%s: %w", d.Symbol, err)
	}
	return model.InstrumentPayload{
		Symbol:            strings.TrimSpace(d.Symbol),
		Type:              typ,
		Source:            d.Source,
		Decimals:          d.Decimals,
		Metadata:          d.Metadata,
		BlockchainAddress: d.BlockchainAddress,
		ExchangeSymbol:    d.ExchangeSymbol,
		ContractDetails:   d.ContractDetails,
	}, nil
}

func decodeType(kind string, raw json.RawMessage) (model.InstrumentType, error) {
	k, err := model.ParseInstrumentKind(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var typ model.InstrumentType
	switch k {
	case model.KindToken:
		var t model.Token
		err = json.Unmarshal(raw, &t)
		typ = t
	case model.KindStock:
		var t model.Stock
		err = json.Unmarshal(raw, &t)
		typ = t
	case model.KindETF:
		var t model.ETF
		err = json.Unmarshal(raw, &t)
		typ = t
	case model.KindFuture:
		var t model.Future
		err = json.Unmarshal(raw, &t)
		typ = t
	case model.KindOption:
		var t model.Option
		err = json.Unmarshal(raw, &t)
		typ = t
	case model.KindCurrency:
		var t model.Currency
		err = json.Unmarshal(raw, &t)
		typ = t
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s type: %v", ErrMalformedPayload, kind, err)
	}
	return typ, nil
}

// JSONParser reads a JSON array of payload documents.
type JSONParser struct{}

func (JSONParser) Parse(raw []byte) ([]model.InstrumentPayload, error) {
	var docs []payloadDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	out := make([]model.InstrumentPayload, 0, len(docs))
	for i, d := range docs {
		p, err := d.toPayload()
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}
