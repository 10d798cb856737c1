package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/pkg/eventbus"
	"github.com/Checker-Finance/venue-registry/pkg/model"
)

// Execer is the part of pgxpool.Pool the audit log uses.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// CollisionAudit persists hash collision reports to registry.hash_collisions.
type CollisionAudit struct {
	db      Execer
	service string
	timeout time.Duration
	logger  *zap.Logger
}

func NewCollisionAudit(db Execer, service string, logger *zap.Logger) *CollisionAudit {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollisionAudit{db: db, service: service, timeout: 3 * time.Second, logger: logger}
}

// Attach records every collision event published on bus.
func (a *CollisionAudit) Attach(bus *eventbus.EventBus[model.RegistryEvent]) func() {
	return bus.Subscribe(func(ev model.RegistryEvent) {
		if ev.Kind != model.HashCollisionDetected || ev.Collision == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		_ = a.Record(ctx, *ev.Collision)
	})
}

// Record inserts one collision row keyed by a fresh audit id.
func (a *CollisionAudit) Record(ctx context.Context, rec model.CollisionRecord) error {
	_, err := a.db.Exec(ctx, `
		INSERT INTO registry.hash_collisions (
			audit_id, service, entity, id, existing, rejected, detected_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New(), a.service, rec.Entity, rec.ID, rec.Existing, rec.Rejected, rec.DetectedAt)
	if err != nil {
		a.logger.Error("store.pg.insert_collision_failed",
			zap.String("entity", rec.Entity),
			zap.String("id", rec.ID),
			zap.Error(err))
	}
	return err
}
