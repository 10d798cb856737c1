package discovery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/pkg/model"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const referenceQuery = `
SELECT symbol, kind, type_spec, source_kind, source_name, decimals,
       blockchain_address, exchange_symbol, metadata
FROM reference.instruments
WHERE active
ORDER BY id`

// ReferenceSource reads the reference-data instrument table.
type ReferenceSource struct {
	db     Querier
	logger *zap.Logger
}

func NewReferenceSource(db Querier, logger *zap.Logger) *ReferenceSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReferenceSource{db: db, logger: logger}
}

func (s *ReferenceSource) Name() string { return "postgres:reference.instruments" }

func (s *ReferenceSource) Load(ctx context.Context) ([]model.InstrumentPayload, error) {
	rows, err := s.db.Query(ctx, referenceQuery)
	if err != nil {
		return nil, fmt.Errorf("query reference instruments: %w", err)
	}
	defer rows.Close()

	var out []model.InstrumentPayload
	for rows.Next() {
		var (
			doc        payloadDoc
			typeSpec   []byte
			sourceKind string
			decimals   int16
			address    *string
			exchSymbol *string
			metadata   []byte
		)
		if err := rows.Scan(&doc.Symbol, &doc.Kind, &typeSpec, &sourceKind, &doc.Source.Name,
			&decimals, &address, &exchSymbol, &metadata); err != nil {
			return nil, fmt.Errorf("scan reference instrument: %w", err)
		}
		if doc.Source.Kind, err = model.ParseSourceKind(sourceKind); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, doc.Symbol, err)
		}
		if decimals < 0 || decimals > 255 {
			return nil, fmt.Errorf("%w: %s: decimals %d out of range", ErrMalformedPayload, doc.Symbol, decimals)
		}
		doc.Decimals = uint8(decimals)
		doc.Type = typeSpec
		if address != nil {
			doc.BlockchainAddress = *address
		}
		if exchSymbol != nil {
			doc.ExchangeSymbol = *exchSymbol
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("%w: %s metadata: %v", ErrMalformedPayload, doc.Symbol, err)
			}
		}

		p, err := doc.toPayload()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reference instruments: %w", err)
	}

	s.logger.Info("discovery.reference_loaded", zap.Int("count", len(out)))
	return out, nil
}
