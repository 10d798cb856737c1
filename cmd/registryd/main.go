package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Checker-Finance/venue-registry/internal/api"
	"github.com/Checker-Finance/venue-registry/internal/discovery"
	"github.com/Checker-Finance/venue-registry/internal/jobs"
	"github.com/Checker-Finance/venue-registry/internal/registry"
	"github.com/Checker-Finance/venue-registry/internal/resolver"
	"github.com/Checker-Finance/venue-registry/internal/store"
	"github.com/Checker-Finance/venue-registry/internal/transport"
	"github.com/Checker-Finance/venue-registry/internal/wire"
	"github.com/Checker-Finance/venue-registry/pkg/config"
	"github.com/Checker-Finance/venue-registry/pkg/ident"
	"github.com/Checker-Finance/venue-registry/pkg/logger"
	"github.com/Checker-Finance/venue-registry/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()
	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	log := logger.L().With(zap.String("node", cfg.NodeID))

	if err := cfg.Validate(); err != nil {
		logg.Fatalw("invalid configuration", "error", err)
	}
	width, err := ident.ParseWidth(cfg.IDWidth)
	if err != nil {
		logg.Fatalw("invalid configuration", "error", err)
	}
	logg.Infow("starting [venue-registry]...", "node", cfg.NodeID, "id_width", int(width))

	// --- Registry and resolver ---
	reg := registry.New(registry.Config{
		IDWidth:                 width,
		Stripes:                 cfg.IndexStripes,
		CollisionAlertThreshold: cfg.CollisionAlertThreshold,
		CollisionAlertWindow:    cfg.CollisionAlertWindow,
	}, log)
	res := resolver.New(reg, resolver.Config{
		FeeThresholdBps:    cfg.ArbFeeThresholdBps,
		LiquidityThreshold: cfg.ArbLiquidityThreshold,
	}, log)

	// --- Store (Redis frame log + optional Postgres) ---
	var (
		st     *store.HybridStore
		pg     *pgxpool.Pool
		frames *store.FrameLog
	)
	if cfg.DatabaseURL != "" {
		logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))
	}
	if cfg.RedisAddr != "" {
		st, err = store.Open(ctx, store.Options{
			RedisAddr:   cfg.RedisAddr,
			RedisDB:     cfg.RedisDB,
			DatabaseURL: cfg.DatabaseURL,
			Pool: store.PGPoolConfig{
				MaxConns: int32(cfg.PGMaxConns),
				MinConns: int32(cfg.PGMinConns),
			},
		}, log)
		if err != nil {
			logg.Fatalw("failed to init store", "error", err)
		}
		pg = st.PG
		frames = store.NewFrameLog(st.Redis(), cfg.RedisStream, cfg.RedisStreamMax, log)
	} else if cfg.DatabaseURL != "" {
		pg, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logg.Fatalw("failed to connect to postgres", "error", err)
		}
	}

	// --- Replication ---
	rep := transport.NewReplicator(cfg.NodeID, reg, cfg.PendingLimit, log)
	if cfg.SchemaFile != "" {
		schemas, err := loadSchemas(cfg.SchemaFile)
		if err != nil {
			logg.Fatalw("failed to load schemas", "file", cfg.SchemaFile, "error", err)
		}
		rep.AcceptRecords(schemas, func(rec wire.Record) {
			log.Debug("replication.dynamic_record",
				zap.String("schema", rec.Schema),
				zap.Uint8("version", rec.Header.Version),
				zap.Uint64("sequence", rec.Header.Sequence))
		})
		logg.Infow("dynamic schemas loaded", "types", len(schemas.Types()))
	}

	// Replay before the broadcaster attaches so restored state is not
	// appended to the log a second time.
	if frames != nil {
		if _, err := rep.Replay(ctx, frames); err != nil {
			logg.Fatalw("frame log replay failed", "error", err)
		}
	}

	var sinks []transport.Sink
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName+"-"+cfg.NodeID))
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		sink, err := transport.NewNATSSink(nc, cfg.NATSSubject, log)
		if err != nil {
			logg.Fatalw("failed to init NATS sink", "error", err)
		}
		sinks = append(sinks, sink)
	}
	var amqpSink *transport.AMQPSink
	if cfg.AMQPURL != "" {
		amqpSink, err = transport.NewAMQPSink(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey, log)
		if err != nil {
			logg.Fatalw("failed to init AMQP sink", "error", err)
		}
		sinks = append(sinks, amqpSink)
	}
	if frames != nil {
		sinks = append(sinks, frames)
	}

	if pg != nil {
		defer store.NewCollisionAudit(pg, cfg.ServiceName, log).Attach(reg.Bus())()
	}

	broadcaster := transport.NewBroadcaster(cfg.NodeID, wire.NewEncoder(width), log, sinks...)
	broadcaster.SuppressReplicated(rep)
	defer broadcaster.Attach(reg.Bus())()

	// --- Discovery ---
	adapter := discovery.NewAdapter(reg, log)
	var sources []discovery.Source
	if cfg.PayloadFile != "" {
		sources = append(sources, discovery.NewFileSource(cfg.PayloadFile, nil, log))
	}
	if cfg.PayloadURL != "" {
		feed := &http.Client{Timeout: cfg.HTTPReadTimeout}
		sources = append(sources, discovery.NewHTTPSource(cfg.PayloadURL, feed, nil, cfg.FeedRetries, log))
	}
	if pg != nil {
		sources = append(sources, discovery.NewReferenceSource(pg, log))
	}
	for _, src := range sources {
		if _, err := adapter.Run(ctx, src); err != nil {
			logg.Warnw("discovery source failed", "source", src.Name(), "error", err)
		}
	}

	var subscriber *transport.NATSSubscriber
	if nc != nil {
		subscriber = transport.NewNATSSubscriber(ctx, nc, cfg.NATSSubject, rep, log)
		if err := subscriber.Start(); err != nil {
			logg.Fatalw("failed to subscribe", "error", err)
		}
	}

	// --- Background jobs ---
	var cache jobs.SnapshotCache
	if st != nil {
		cache = st
	}
	reporter := jobs.NewStatsReporter(log, reg, cache, cfg.StatsKey, cfg.StatsInterval)

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.HTTPReadTimeout,
		WriteTimeout:          cfg.HTTPWriteTimeout,
		IdleTimeout:           cfg.HTTPIdleTimeout,
		DisableStartupMessage: true,
	})
	var conn api.Conn
	if nc != nil {
		conn = nc
	}
	var health api.HealthChecker
	if st != nil {
		health = st
	}
	api.RegisterRoutes(app, conn, health, api.NewRegistryHandler(log, reg, res))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			return fmt.Errorf("fiber listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		reporter.Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logg.Info("shutting down [venue-registry]...")
		reporter.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	logg.Infow("[venue-registry] running",
		"env", cfg.Env,
		"nats", cfg.NATSURL != "",
		"amqp", amqpSink != nil,
		"frame_log", frames != nil,
		"sinks", len(sinks))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Errorw("service stopped with error", "error", err)
	}

	if subscriber != nil {
		_ = subscriber.Stop()
	}
	if nc != nil {
		_ = nc.Drain()
	}
	if amqpSink != nil {
		_ = amqpSink.Close()
	}
	if st != nil {
		_ = st.Close()
	} else if pg != nil {
		pg.Close()
	}
	logg.Info("[venue-registry] stopped")
}

func loadSchemas(path string) (*wire.SchemaRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	schemas := wire.NewSchemaRegistry()
	if err := schemas.LoadYAML(data); err != nil {
		return nil, err
	}
	return schemas, nil
}
