package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// InstrumentPayload is what data-source parsers hand to the registry.
// The registry never parses exchange-native formats itself.
type InstrumentPayload struct {
	Symbol            string            `json:"symbol"`
	Type              InstrumentType    `json:"-"`
	Source            Source            `json:"source"`
	Decimals          uint8             `json:"decimals"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	BlockchainAddress string            `json:"blockchain_address,omitempty"`
	ExchangeSymbol    string            `json:"exchange_symbol,omitempty"` // venue-native symbol, e.g. "BTC-USDT"
	ContractDetails   json.RawMessage   `json:"contract_details,omitempty"`
}

// ToInstrument converts the payload into an unregistered Instrument.
// A token with no contract address inherits BlockchainAddress.
func (p InstrumentPayload) ToInstrument(now time.Time) (Instrument, error) {
	typ := p.Type
	if tok, ok := typ.(Token); ok && tok.ContractAddress == "" {
		tok.ContractAddress = p.BlockchainAddress
		if tok.Blockchain == "" && p.Source.Kind == SourceDeFi {
			tok.Blockchain = p.Source.Name
		}
		typ = tok
	}
	inst := Instrument{
		Symbol:      p.Symbol,
		Type:        typ,
		Source:      p.Source,
		Decimals:    p.Decimals,
		CreatedAt:   now,
		LastUpdated: now,
	}
	if err := inst.Validate(); err != nil {
		return Instrument{}, fmt.Errorf("payload %q: %w", p.Symbol, err)
	}
	return inst, nil
}
