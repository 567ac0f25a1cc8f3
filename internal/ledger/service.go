package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/swiftride/dispatch/internal/notify"
	"github.com/swiftride/dispatch/pkg/common"
	"github.com/swiftride/dispatch/pkg/config"
	"github.com/swiftride/dispatch/pkg/locking"
	"github.com/swiftride/dispatch/pkg/logger"
	"github.com/swiftride/dispatch/pkg/metrics"
	"github.com/swiftride/dispatch/pkg/models"
	"github.com/swiftride/dispatch/pkg/resilience"
)

// PayoutGateway moves money to the driver's payout method. Transfer returns
// the gateway's reference for the settled transfer.
type PayoutGateway interface {
	Transfer(ctx context.Context, driverID uuid.UUID, amount decimal.Decimal, method string) (externalRef string, err error)
}

// MethodProvider lists a driver's verified payout methods, most preferred
// first.
type MethodProvider interface {
	VerifiedMethods(ctx context.Context, driverID uuid.UUID) ([]string, error)
}

// SweepResult summarizes one automatic payout sweep.
type SweepResult struct {
	Eligible  int
	Succeeded int
	Failed    int
}

// Service owns earnings and payouts. Per-driver operations are serialized so
// balance checks and ledger writes cannot interleave for the same driver.
type Service struct {
	store    Store
	gateway  PayoutGateway
	methods  MethodProvider
	notifier notify.Notifier
	cfg      config.LedgerConfig

	commission decimal.Decimal
	minPayout  decimal.Decimal
	sweepMin   decimal.Decimal

	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	locks   *locking.KeyedMutex
}

// NewService wires the ledger service. The payment gateway sits behind a
// circuit breaker so a failing processor degrades to fast errors. notifier
// may be nil to skip payout notifications.
func NewService(store Store, gateway PayoutGateway, methods MethodProvider, notifier notify.Notifier, cfg config.LedgerConfig) *Service {
	return &Service{
		store:      store,
		gateway:    gateway,
		methods:    methods,
		notifier:   notifier,
		cfg:        cfg,
		commission: decimal.NewFromFloat(cfg.CommissionRate),
		minPayout:  decimal.NewFromFloat(cfg.MinPayoutAmount),
		sweepMin:   decimal.NewFromFloat(cfg.SweepMinBalance),
		breaker: resilience.NewCircuitBreaker(resilience.Settings{
			Name:             "payout-gateway",
			Interval:         60 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		}),
		retry: resilience.DefaultRetryConfig(),
		locks: locking.NewKeyedMutex(),
	}
}

// CreditRideEarning credits the driver with their share of a completed fare,
// the fare total minus commission. A ride is credited at most once: a
// replay is rejected with ErrDuplicateCredit and writes nothing.
func (s *Service) CreditRideEarning(ctx context.Context, driverID, rideID uuid.UUID, fareTotal decimal.Decimal) error {
	if fareTotal.Sign() <= 0 {
		return common.NewValidationError("fare total must be positive")
	}

	net := fareTotal.Mul(decimal.NewFromInt(1).Sub(s.commission)).Round(2)

	s.locks.Lock(driverID)
	defer s.locks.Unlock(driverID)

	entry, err := s.store.Append(ctx, driverID, models.EntryCredit, models.ReasonRideEarning, net, rideID)
	if err != nil {
		if errors.Is(err, common.ErrDuplicateCredit) {
			logger.Warn("duplicate ride earning credit rejected",
				zap.String("ride_id", rideID.String()),
				zap.String("driver_id", driverID.String()),
			)
		}
		return err
	}

	logger.Info("ride earning credited",
		zap.String("ride_id", rideID.String()),
		zap.String("driver_id", driverID.String()),
		zap.String("amount", entry.Amount.String()),
		zap.String("balance", entry.Balance.String()),
	)
	return nil
}

// ReverseRideEarning claws back a previously credited earning with a
// compensating debit. The original entry is untouched.
func (s *Service) ReverseRideEarning(ctx context.Context, driverID, rideID uuid.UUID, fareTotal decimal.Decimal) error {
	net := fareTotal.Mul(decimal.NewFromInt(1).Sub(s.commission)).Round(2)

	s.locks.Lock(driverID)
	defer s.locks.Unlock(driverID)

	_, err := s.store.Append(ctx, driverID, models.EntryDebit, models.ReasonEarningReversal, net, rideID)
	return err
}

// Balance returns the driver's available balance.
func (s *Service) Balance(ctx context.Context, driverID uuid.UUID) (decimal.Decimal, error) {
	return s.store.Balance(ctx, driverID)
}

// History returns the driver's ledger entries, oldest first.
func (s *Service) History(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.LedgerEntry, error) {
	return s.store.History(ctx, driverID, limit, offset)
}

// RequestPayout withdraws amount from the driver's balance through their
// payout method. The balance is debited before the gateway call; a gateway
// failure writes a compensating credit so the ledger never loses money that
// was not transferred. Pass method "" to use the driver's first verified
// method.
func (s *Service) RequestPayout(ctx context.Context, driverID uuid.UUID, amount decimal.Decimal, method string) (*models.Payout, error) {
	if amount.Sign() <= 0 {
		return nil, common.NewValidationError("payout amount must be positive")
	}
	if amount.LessThan(s.minPayout) {
		return nil, common.NewBelowMinimumError("payout below minimum of " + s.minPayout.String())
	}

	method, err := s.resolveMethod(ctx, driverID, method)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(driverID)
	defer s.locks.Unlock(driverID)

	balance, err := s.store.Balance(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(amount) {
		return nil, common.NewInsufficientBalanceError("available balance " + balance.String())
	}

	payout := &models.Payout{
		ID:          uuid.New(),
		DriverID:    driverID,
		Amount:      amount,
		Method:      method,
		Status:      models.PayoutStatusPending,
		InitiatedAt: time.Now().UTC(),
	}
	if err := s.store.CreatePayout(ctx, payout); err != nil {
		return nil, err
	}

	if _, err := s.store.Append(ctx, driverID, models.EntryDebit, models.ReasonPayout, amount, payout.ID); err != nil {
		reason := "ledger debit failed"
		payout, _ = s.store.UpdatePayoutStatus(ctx, payout.ID, models.PayoutStatusPending, models.PayoutStatusFailed, nil, &reason)
		metrics.PayoutResults.WithLabelValues("failed").Inc()
		return payout, err
	}

	payout, err = s.store.UpdatePayoutStatus(ctx, payout.ID, models.PayoutStatusPending, models.PayoutStatusProcessing, nil, nil)
	if err != nil {
		return nil, err
	}

	return s.settle(ctx, payout)
}

// settle executes the gateway transfer for a processing payout and records
// the outcome.
func (s *Service) settle(ctx context.Context, payout *models.Payout) (*models.Payout, error) {
	result, gatewayErr := s.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return resilience.Retry(ctx, s.retry, "payout-transfer", func(ctx context.Context) (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
			defer cancel()
			return s.gateway.Transfer(callCtx, payout.DriverID, payout.Amount, payout.Method)
		})
	})
	var externalRef string
	if gatewayErr == nil {
		externalRef, _ = result.(string)
	}

	if gatewayErr != nil {
		logger.Error("payout transfer failed, refunding balance",
			zap.String("payout_id", payout.ID.String()),
			zap.String("driver_id", payout.DriverID.String()),
			zap.Error(gatewayErr),
		)

		// Compensating credit: the debit stays in history, this entry
		// restores the balance.
		if _, err := s.store.Append(ctx, payout.DriverID, models.EntryCredit, models.ReasonPayoutReversal, payout.Amount, payout.ID); err != nil {
			logger.Error("payout reversal credit failed",
				zap.String("payout_id", payout.ID.String()),
				zap.Error(err),
			)
		}

		reason := gatewayErr.Error()
		failed, updateErr := s.store.UpdatePayoutStatus(ctx, payout.ID, models.PayoutStatusProcessing, models.PayoutStatusFailed, nil, &reason)
		if updateErr != nil {
			return nil, updateErr
		}
		metrics.PayoutResults.WithLabelValues("failed").Inc()
		s.publish(ctx, notify.EventPayoutFailed, failed)
		return failed, common.NewGatewayError("payout transfer failed", gatewayErr)
	}

	completed, err := s.store.UpdatePayoutStatus(ctx, payout.ID, models.PayoutStatusProcessing, models.PayoutStatusCompleted, &externalRef, nil)
	if err != nil {
		return nil, err
	}
	metrics.PayoutResults.WithLabelValues("completed").Inc()
	s.publish(ctx, notify.EventPayoutCompleted, completed)

	logger.Info("payout completed",
		zap.String("payout_id", completed.ID.String()),
		zap.String("driver_id", completed.DriverID.String()),
		zap.String("amount", completed.Amount.String()),
	)
	return completed, nil
}

// publish sends a payout event, best-effort.
func (s *Service) publish(ctx context.Context, eventType string, payout *models.Payout) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, notify.PayoutEvent(eventType, payout)); err != nil {
		logger.Warn("notification publish failed",
			zap.String("type", eventType),
			zap.String("payout_id", payout.ID.String()),
			zap.Error(err),
		)
	}
}

// CancelPayout cancels a pending payout and refunds its debit. A payout in
// processing has an in-flight gateway transfer whose outcome is unknown, so
// it cannot be cancelled; callers get a conflict and must wait for settle.
func (s *Service) CancelPayout(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	payout, err := s.store.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(payout.DriverID)
	defer s.locks.Unlock(payout.DriverID)

	cancelled, err := s.store.UpdatePayoutStatus(ctx, payoutID, models.PayoutStatusPending, models.PayoutStatusCancelled, nil, nil)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.Append(ctx, payout.DriverID, models.EntryCredit, models.ReasonPayoutReversal, payout.Amount, payout.ID); err != nil && !errors.Is(err, common.ErrDuplicateCredit) {
		return nil, err
	}

	metrics.PayoutResults.WithLabelValues("cancelled").Inc()
	s.publish(ctx, notify.EventPayoutCancelled, cancelled)
	return cancelled, nil
}

// GetPayout returns a payout by id.
func (s *Service) GetPayout(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	return s.store.GetPayout(ctx, payoutID)
}

// RunSweep pays out every driver whose balance meets the sweep threshold.
// Drivers are processed concurrently up to the configured limit; one
// driver's failure never blocks the others.
func (s *Service) RunSweep(ctx context.Context) (*SweepResult, error) {
	metrics.SweepRuns.Inc()

	drivers, err := s.store.DriversWithBalanceAtLeast(ctx, s.sweepMin)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Eligible: len(drivers)}
	if len(drivers) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.SweepConcurrency)

	for _, driverID := range drivers {
		driverID := driverID
		g.Go(func() error {
			balance, err := s.store.Balance(gctx, driverID)
			if err == nil && balance.GreaterThanOrEqual(s.sweepMin) {
				_, err = s.RequestPayout(gctx, driverID, balance, "")
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				logger.Warn("sweep payout failed",
					zap.String("driver_id", driverID.String()),
					zap.Error(err),
				)
			} else {
				result.Succeeded++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	logger.Info("payout sweep finished",
		zap.Int("eligible", result.Eligible),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (s *Service) resolveMethod(ctx context.Context, driverID uuid.UUID, method string) (string, error) {
	verified, err := s.methods.VerifiedMethods(ctx, driverID)
	if err != nil {
		return "", err
	}
	if len(verified) == 0 {
		return "", common.NewNoVerifiedMethodError("driver has no verified payout method")
	}
	if method == "" {
		return verified[0], nil
	}
	for _, v := range verified {
		if v == method {
			return method, nil
		}
	}
	return "", common.NewNoVerifiedMethodError("payout method not verified: " + method)
}
