package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swiftride/dispatch/internal/dispatch"
	"github.com/swiftride/dispatch/internal/geoindex"
	"github.com/swiftride/dispatch/internal/ledger"
	"github.com/swiftride/dispatch/internal/matching"
	"github.com/swiftride/dispatch/internal/notify"
	"github.com/swiftride/dispatch/internal/pricing"
	"github.com/swiftride/dispatch/internal/rides"
	"github.com/swiftride/dispatch/internal/tracking"
	"github.com/swiftride/dispatch/pkg/config"
	"github.com/swiftride/dispatch/pkg/database"
	"github.com/swiftride/dispatch/pkg/logger"
	"github.com/swiftride/dispatch/pkg/models"
	redisclient "github.com/swiftride/dispatch/pkg/redis"
)

const serviceName = "dispatchd"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting dispatch core",
		zap.String("service", serviceName),
		zap.String("environment", cfg.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage. Postgres backs rides and the ledger; Redis backs the geo
	// index. Either falls back to the in-memory store when unreachable so
	// the binary stays useful in development.
	var rideStore rides.Store = rides.NewMemoryStore()
	var ledgerStore ledger.Store = ledger.NewMemoryStore()
	pool, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Warn("postgres unavailable, using in-memory stores", zap.Error(err))
	} else {
		defer pool.Close()
		rideStore = rides.NewPGStore(pool)
		ledgerStore = ledger.NewPGStore(pool)
		logger.Info("connected to postgres", zap.String("host", cfg.Database.Host))
	}

	var geoStore geoindex.Store = geoindex.NewMemoryStore()
	redisConn, err := redisclient.NewClient(&cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, using in-memory geo index", zap.Error(err))
	} else {
		defer redisConn.Close()
		geoStore = geoindex.NewRedisStore(redisConn)
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.RedisAddr()))
	}

	// Notifications over NATS when configured.
	var notifier notify.Notifier = notify.LogNotifier{}
	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		n, err := notify.NewNATSNotifier(notify.NATSConfig{
			URL:           cfg.NATS.URL,
			Name:          serviceName,
			StreamName:    cfg.NATS.StreamName,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		})
		if err != nil {
			logger.Warn("NATS unavailable, logging notifications", zap.Error(err))
		} else {
			defer n.Close()
			notifier = n
			natsConn, err = nats.Connect(cfg.NATS.URL, nats.Name(serviceName+"-answers"))
			if err != nil {
				logger.Warn("NATS answer subscription unavailable", zap.Error(err))
				natsConn = nil
			} else {
				defer natsConn.Drain()
			}
		}
	}

	pricingEngine := pricing.NewEngine(nil)

	strategy, err := matching.NewStrategy(cfg.Matching.Strategy, cfg.Matching.RatingWeight, cfg.Matching.ProximityWeight)
	if err != nil {
		logger.Fatal("invalid matching configuration", zap.Error(err))
	}

	// Stand-ins for the identity and payment integrations. Production
	// deployments swap these for clients of the real services.
	profiles := newEnvProfileProvider()
	matchingEngine := matching.NewEngine(profiles, strategy)

	ledgerSvc := ledger.NewService(ledgerStore, loggingGateway{}, profiles, notifier, cfg.Ledger)
	lifecycle := rides.NewLifecycleManager(rideStore, pricingEngine, ledgerSvc, geoStore, notifier)
	trackingSvc := tracking.NewService(tracking.NewMemoryStore(), rideStore, geoStore)
	lifecycle.SetLocationRecorder(trackingSvc)

	orchestrator := dispatch.NewOrchestrator(
		rideStore, pricingEngine, matchingEngine, geoStore,
		dispatch.NewMemoryAttemptStore(), notifier, nil, cfg.Dispatch,
	)

	subscribeOps(natsConn, orchestrator, lifecycle, trackingSvc)

	// Periodic payout sweep.
	go func() {
		ticker := time.NewTicker(cfg.Ledger.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := ledgerSvc.RunSweep(ctx); err != nil {
					logger.Error("payout sweep failed", zap.Error(err))
				}
			}
		}
	}()

	// Metrics endpoint.
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}

// offerAnswer is the payload drivers publish to answer an offer.
type offerAnswer struct {
	RideID   uuid.UUID `json:"ride_id"`
	DriverID uuid.UUID `json:"driver_id"`
}

// statusSignal is the payload drivers publish on arrival and trip start.
// Coordinates are optional and recorded on the ride's trail when present.
type statusSignal struct {
	RideID    uuid.UUID `json:"ride_id"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
}

func (s statusSignal) hint() *models.Point {
	if s.Latitude == nil || s.Longitude == nil {
		return nil
	}
	return &models.Point{Latitude: *s.Latitude, Longitude: *s.Longitude}
}

// locationReport is the payload clients publish while a ride is active.
type locationReport struct {
	RideID    uuid.UUID `json:"ride_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	IsDriver  bool      `json:"is_driver"`
}

// subscribeOps routes inbound NATS messages into the core: offer answers to
// the orchestrator, arrival/start signals to the lifecycle manager, and
// location reports to tracking. No-op without a NATS connection.
func subscribeOps(nc *nats.Conn, orch *dispatch.Orchestrator, lifecycle *rides.LifecycleManager, trackingSvc *tracking.Service) {
	if nc == nil {
		return
	}

	answer := func(accept bool) nats.MsgHandler {
		return func(msg *nats.Msg) {
			var a offerAnswer
			if err := json.Unmarshal(msg.Data, &a); err != nil {
				logger.Warn("malformed offer answer", zap.Error(err))
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			var err error
			if accept {
				err = orch.Accept(ctx, a.RideID, a.DriverID)
			} else {
				err = orch.Reject(ctx, a.RideID, a.DriverID)
			}
			if err != nil {
				logger.Debug("offer answer not applied",
					zap.String("ride_id", a.RideID.String()),
					zap.String("driver_id", a.DriverID.String()),
					zap.Error(err),
				)
			}
		}
	}

	rideSignal := func(apply func(ctx context.Context, rideID uuid.UUID, hint *models.Point) error) nats.MsgHandler {
		return func(msg *nats.Msg) {
			var s statusSignal
			if err := json.Unmarshal(msg.Data, &s); err != nil {
				logger.Warn("malformed ride signal", zap.Error(err))
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := apply(ctx, s.RideID, s.hint()); err != nil {
				logger.Debug("ride signal not applied",
					zap.String("ride_id", s.RideID.String()),
					zap.Error(err),
				)
			}
		}
	}

	subs := map[string]nats.MsgHandler{
		"dispatch.answers.accept": answer(true),
		"dispatch.answers.reject": answer(false),
		"dispatch.signals.arrived": rideSignal(func(ctx context.Context, rideID uuid.UUID, hint *models.Point) error {
			_, err := lifecycle.MarkArrived(ctx, rideID, hint)
			return err
		}),
		"dispatch.signals.started": rideSignal(func(ctx context.Context, rideID uuid.UUID, hint *models.Point) error {
			_, err := lifecycle.Start(ctx, rideID, hint)
			return err
		}),
		"dispatch.locations": func(msg *nats.Msg) {
			var r locationReport
			if err := json.Unmarshal(msg.Data, &r); err != nil {
				logger.Warn("malformed location report", zap.Error(err))
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := trackingSvc.RecordUpdate(ctx, r.RideID, r.Latitude, r.Longitude, r.IsDriver); err != nil {
				logger.Debug("location report not applied",
					zap.String("ride_id", r.RideID.String()),
					zap.Error(err),
				)
			}
		},
	}

	for subject, handler := range subs {
		if _, err := nc.Subscribe(subject, handler); err != nil {
			logger.Error("subscription failed",
				zap.String("subject", subject),
				zap.Error(err),
			)
		}
	}
}

// envProfileProvider serves driver profiles and payout methods from
// environment-seeded defaults. It stands in for the identity service.
type envProfileProvider struct {
	defaultRating float64
	vehicleTypes  []models.RideType
	payoutMethod  string
}

func newEnvProfileProvider() *envProfileProvider {
	method := os.Getenv("PAYOUT_DEFAULT_METHOD")
	if method == "" {
		method = "bank_transfer"
	}
	return &envProfileProvider{
		defaultRating: 4.5,
		vehicleTypes: []models.RideType{
			models.RideTypeStandard, models.RideTypePremium, models.RideTypeXL,
			models.RideTypePet, models.RideTypeShared,
		},
		payoutMethod: method,
	}
}

func (p *envProfileProvider) Profiles(ctx context.Context, driverIDs []uuid.UUID) (map[uuid.UUID]matching.DriverProfile, error) {
	out := make(map[uuid.UUID]matching.DriverProfile, len(driverIDs))
	for _, id := range driverIDs {
		out[id] = matching.DriverProfile{
			DriverID:     id,
			Rating:       p.defaultRating,
			VehicleTypes: p.vehicleTypes,
		}
	}
	return out, nil
}

func (p *envProfileProvider) VerifiedMethods(ctx context.Context, driverID uuid.UUID) ([]string, error) {
	return []string{p.payoutMethod}, nil
}

// loggingGateway acknowledges transfers without moving money. It stands in
// for the payment processor client.
type loggingGateway struct{}

func (loggingGateway) Transfer(ctx context.Context, driverID uuid.UUID, amount decimal.Decimal, method string) (string, error) {
	ref := "sim-" + uuid.NewString()
	logger.Info("payout transfer executed",
		zap.String("driver_id", driverID.String()),
		zap.String("amount", amount.String()),
		zap.String("method", method),
		zap.String("external_ref", ref),
	)
	return ref, nil
}
