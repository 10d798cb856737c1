package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/internal/registry"
	"github.com/Checker-Finance/venue-registry/pkg/ident"
	"github.com/Checker-Finance/venue-registry/pkg/model"
)

// Registrar is the write side of the registry used by ingestion.
type Registrar interface {
	RegisterInstrument(inst model.Instrument) (model.InstrumentID, error)
	HasInstrument(id model.InstrumentID) bool
	Deriver() ident.Deriver
}

// PayloadError ties a failure to the payload that caused it.
type PayloadError struct {
	Index  int
	Symbol string
	Err    error
}

func (e PayloadError) Error() string {
	return fmt.Sprintf("payload %d (%s): %v", e.Index, e.Symbol, e.Err)
}

func (e PayloadError) Unwrap() error { return e.Err }

type IngestResult struct {
	Registered []model.InstrumentID
	Duplicates int
	Failed     []PayloadError
}

// Conflicts returns the failures caused by identity conflicts, which point
// at a data problem or an undersized ID width rather than a bad payload.
func (r IngestResult) Conflicts() []PayloadError {
	var out []PayloadError
	for _, f := range r.Failed {
		if errors.Is(f.Err, registry.ErrHashCollision) || errors.Is(f.Err, registry.ErrDuplicateSymbol) {
			out = append(out, f)
		}
	}
	return out
}

type Adapter struct {
	reg    Registrar
	logger *zap.Logger
	now    func() time.Time
}

func NewAdapter(reg Registrar, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{reg: reg, logger: logger, now: time.Now}
}

// Ingest registers every payload. Per-payload failures are collected in the
// result; only context cancellation aborts the batch.
func (a *Adapter) Ingest(ctx context.Context, payloads []model.InstrumentPayload) (IngestResult, error) {
	var res IngestResult
	d := a.reg.Deriver()
	for i, p := range payloads {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		inst, err := p.ToInstrument(a.now().UTC())
		if err != nil {
			res.Failed = append(res.Failed, PayloadError{Index: i, Symbol: p.Symbol, Err: err})
			continue
		}
		existed := a.reg.HasInstrument(inst.DeriveID(d))
		id, err := a.reg.RegisterInstrument(inst)
		switch {
		case err != nil:
			res.Failed = append(res.Failed, PayloadError{Index: i, Symbol: p.Symbol, Err: err})
		case existed:
			res.Duplicates++
		default:
			res.Registered = append(res.Registered, id)
		}
	}

	for _, c := range res.Conflicts() {
		a.logger.Error("discovery.identity_conflict",
			zap.Int("index", c.Index),
			zap.String("symbol", c.Symbol),
			zap.Error(c.Err))
	}
	return res, nil
}

// Run loads src and ingests it.
func (a *Adapter) Run(ctx context.Context, src Source) (IngestResult, error) {
	payloads, err := src.Load(ctx)
	if err != nil {
		return IngestResult{}, fmt.Errorf("load %s: %w", src.Name(), err)
	}
	res, err := a.Ingest(ctx, payloads)
	if err != nil {
		return res, err
	}
	a.logger.Info("discovery.ingest_complete",
		zap.String("source", src.Name()),
		zap.Int("registered", len(res.Registered)),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("failed", len(res.Failed)))
	return res, nil
}
