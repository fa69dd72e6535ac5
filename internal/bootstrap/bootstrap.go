// Package bootstrap assembles a shadowrt service from its Config: the
// provenance store and log, the optional Kafka mirror, the label codec, the
// shadow runtime, the cascade lock and destination registry, and the shared
// HTTP router.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"shadowrt/internal/platform/config"
	"shadowrt/internal/platform/database"
	"shadowrt/internal/platform/kafka"
	"shadowrt/internal/platform/metrics"
	"shadowrt/internal/platform/redis"
	"shadowrt/pkg/cascade"
	"shadowrt/pkg/label"
	"shadowrt/pkg/platform/circuit"
	"shadowrt/pkg/platform/httputil"
	"shadowrt/pkg/platform/middleware/accesslog"
	"shadowrt/pkg/platform/middleware/recovery"
	"shadowrt/pkg/platform/middleware/requestid"
	"shadowrt/pkg/platform/middleware/requesttime"
	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/platform/provenance/publishers/stream"
	"shadowrt/pkg/platform/provenance/store/memory"
	"shadowrt/pkg/platform/provenance/store/postgres"
	"shadowrt/pkg/platform/provenance/store/sqlite"
	"shadowrt/pkg/shadow"
)

// LabelIssuer is the issuer claim on signed labels. Every service in a
// deployment shares it along with the signing secret.
const LabelIssuer = "shadowrt"

const breakerCooldown = 30 * time.Second

// Service holds the wired dependencies of one shadowrt service.
type Service struct {
	Config   config.Config
	Logger   *slog.Logger
	Metrics  *prometheus.Registry
	Log      *provenance.Log
	Runtime  *shadow.Runtime
	Locker   cascade.Locker
	Registry *cascade.Registry
	DomainDB *sql.DB

	cascadeMetrics *cascade.Metrics
	closers        []func() error
}

// New wires a Service. On error everything opened so far is closed.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *Service, err error) {
	svc := &Service{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewRegistry(),
	}
	svc.cascadeMetrics = cascade.NewMetrics(svc.Metrics)
	defer func() {
		if err != nil {
			_ = svc.Close()
		}
	}()

	logOpts := []provenance.Option{
		provenance.WithLogger(logger),
		provenance.WithMetrics(provenance.NewMetrics(svc.Metrics)),
	}
	if cfg.HashKey != "" {
		hasher, err := provenance.KeyedBLAKE2b([]byte(cfg.HashKey))
		if err != nil {
			return nil, fmt.Errorf("SHADOW_HASH_KEY: %w", err)
		}
		logOpts = append(logOpts, provenance.WithHasher(hasher))
	}

	store, err := svc.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Kafka.Enabled() {
		mirrored, err := svc.mirror(ctx, store)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		store = mirrored
	}

	svc.Log = provenance.New(cfg.App, store, logOpts...)
	svc.closers = append(svc.closers, svc.Log.Close)
	if err := svc.Log.Init(ctx); err != nil {
		return nil, err
	}

	codec, err := newCodec(cfg)
	if err != nil {
		return nil, err
	}
	svc.Runtime = shadow.New(svc.Log,
		shadow.WithCodec(codec),
		shadow.WithLogger(logger),
		shadow.WithTracerProvider(otel.GetTracerProvider()),
	)

	if err := svc.openLocker(ctx); err != nil {
		return nil, err
	}
	if svc.Registry, err = newRegistry(cfg.Destinations); err != nil {
		return nil, err
	}

	svc.DomainDB, err = database.OpenSQLite(cfg.DomainDB)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, svc.DomainDB.Close)
	return svc, nil
}

func (s *Service) openStore(ctx context.Context) (provenance.Store, error) {
	store, closeDB, err := OpenStore(ctx, s.Config.Store)
	if err != nil {
		return nil, err
	}
	if closeDB != nil {
		s.closers = append(s.closers, closeDB)
	}
	return store, nil
}

// OpenStore opens the provenance store named by cfg. closeDB is non-nil when
// the store sits on a pool the caller must close after the store.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (_ provenance.Store, closeDB func() error, _ error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return memory.NewInMemoryStore(), nil, nil
	case config.StorePostgres:
		db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(db), db.Close, nil
	default:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
}

func (s *Service) mirror(ctx context.Context, store provenance.Store) (provenance.Store, error) {
	client, err := kafka.NewProducer(s.Config.Kafka, s.Logger)
	if err != nil {
		return nil, err
	}
	if err := stream.EnsureTopic(ctx, kafka.NewAdmin(client), s.Config.Kafka.Topic,
		s.Config.Kafka.Partitions, s.Config.Kafka.ReplicationFactor); err != nil {
		// The mirror is best-effort; the topic may be managed elsewhere.
		s.Logger.WarnContext(ctx, "could not ensure provenance topic", "topic", s.Config.Kafka.Topic, "error", err)
	}
	return stream.NewMirror(store, client,
		stream.WithTopic(s.Config.Kafka.Topic),
		stream.WithLogger(s.Logger),
		stream.WithBreaker(circuit.New("kafka-mirror"), breakerCooldown),
	), nil
}

func (s *Service) openLocker(ctx context.Context) error {
	client, err := redis.New(ctx, s.Config.Redis)
	if err != nil {
		return err
	}
	if client == nil {
		s.Locker = cascade.NewMemoryLocker()
		return nil
	}
	s.closers = append(s.closers, client.Close)
	s.Locker = cascade.NewRedisLocker(client.Client)
	return nil
}

func newCodec(cfg config.Config) (label.Codec, error) {
	if cfg.LabelSecret == "" {
		return label.JSONCodec{}, nil
	}
	return label.NewJWTCodec([]byte(cfg.LabelSecret), label.WithIssuer(LabelIssuer))
}

func newRegistry(dests []config.Destination) (*cascade.Registry, error) {
	reg := cascade.NewRegistry()
	for _, d := range dests {
		dest, err := cascade.NewHTTPDestination(d.Name, d.URL,
			cascade.WithCircuitBreaker(circuit.New(d.Name), breakerCooldown))
		if err != nil {
			return nil, fmt.Errorf("destination %s: %w", d.Name, err)
		}
		reg.Register(dest)
	}
	return reg, nil
}

// Coordinator builds the deletion cascade for this service with local as
// its own eraser.
func (s *Service) Coordinator(local cascade.LocalEraser) (*cascade.Coordinator, error) {
	return cascade.NewCoordinator(s.Log, s.Registry, local,
		cascade.WithTimeout(s.Config.DeleteTimeout),
		cascade.WithLocker(s.Locker),
		cascade.WithLogger(s.Logger),
		cascade.WithMetrics(s.cascadeMetrics),
		cascade.WithTracerProvider(otel.GetTracerProvider()),
	)
}

// Router returns a chi router with the common middleware chain, /healthz and
// /metrics mounted.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(accesslog.Middleware(s.Logger))
	r.Use(recovery.Middleware(s.Logger))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "app": s.Config.App})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(s.Metrics))
	return r
}

// OnClose registers fn to run when the Service closes, before anything
// registered earlier.
func (s *Service) OnClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
