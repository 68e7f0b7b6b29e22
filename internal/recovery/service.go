package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/dukalink/dukalink-backend/internal/bidding"
	"github.com/dukalink/dukalink-backend/internal/orders"
	"github.com/dukalink/dukalink-backend/internal/stock"
	"github.com/dukalink/dukalink-backend/pkg/config"
	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	"github.com/dukalink/dukalink-backend/pkg/logger"
	"github.com/dukalink/dukalink-backend/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// CheckReport is one check's tally within a reconciliation pass.
type CheckReport struct {
	Check    string `json:"check"`
	Found    int    `json:"found"`
	Repaired int    `json:"repaired"`
	Failed   int    `json:"failed"`
}

// Report summarizes one full reconciliation pass.
type Report struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Checks     []CheckReport `json:"checks"`
	Capped     bool          `json:"capped"`
}

// TotalRepaired sums repairs across all checks.
func (r *Report) TotalRepaired() int {
	total := 0
	for _, check := range r.Checks {
		total += check.Repaired
	}
	return total
}

// Service is the reconciliation pass. Each check finds one class of
// inconsistency and repairs it through the same domain operations the live
// path uses, so a repair is always idempotent: a second pass over a healthy
// store changes nothing.
type Service interface {
	Run(ctx context.Context) (*Report, error)
}

type checkFunc struct {
	name string
	run  func(ctx context.Context, budget int, report *CheckReport) error
}

type service struct {
	repo       Repository
	orderSvc   orders.Service
	biddingSvc bidding.Service
	stockSvc   stock.Service
	cfg        config.RecoveryConfig
	metrics    *metrics.RecoveryMetrics
	logg       *logger.Logger
}

// NewService wires the reconciliation service.
func NewService(
	repo Repository,
	orderSvc orders.Service,
	biddingSvc bidding.Service,
	stockSvc stock.Service,
	cfg config.RecoveryConfig,
	rm *metrics.RecoveryMetrics,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("recovery repository required")
	}
	if orderSvc == nil {
		return nil, fmt.Errorf("order service required")
	}
	if biddingSvc == nil {
		return nil, fmt.Errorf("bidding service required")
	}
	if stockSvc == nil {
		return nil, fmt.Errorf("stock service required")
	}
	if cfg.MaxRepairs <= 0 {
		cfg.MaxRepairs = 200
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &service{
		repo:       repo,
		orderSvc:   orderSvc,
		biddingSvc: biddingSvc,
		stockSvc:   stockSvc,
		cfg:        cfg,
		metrics:    rm,
		logg:       logg,
	}, nil
}

// Run executes every check in a fixed order under a shared per-pass repair
// cap. Individual repair failures are collected, never fatal: one stuck
// order must not block the rest of the sweep.
func (s *service) Run(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC()}
	remaining := s.cfg.MaxRepairs

	checks := []checkFunc{
		{name: "expired_bid_windows", run: s.repairExpiredBidWindows},
		{name: "winner_assigned_lagging", run: s.repairWinnerAssignedLagging},
		{name: "delivered_missing_debit", run: s.repairDeliveredMissingDebit},
		{name: "orphan_stock_reservations", run: s.repairOrphanReservations},
		{name: "stale_pending_offers", run: s.repairStaleOffers},
	}

	var errs error
	for _, check := range checks {
		if remaining <= 0 {
			report.Capped = true
			break
		}

		checkReport := CheckReport{Check: check.name}
		started := time.Now()
		if err := check.run(ctx, remaining, &checkReport); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", check.name, err))
		}
		s.metrics.ObserveCheck(check.name, checkReport.Found, checkReport.Repaired, checkReport.Failed, time.Since(started))

		remaining -= checkReport.Repaired
		report.Checks = append(report.Checks, checkReport)

		if s.logg != nil && checkReport.Found > 0 {
			s.logg.Info(ctx, fmt.Sprintf("recovery %s: found %d, repaired %d, failed %d",
				check.name, checkReport.Found, checkReport.Repaired, checkReport.Failed))
		}
	}

	report.FinishedAt = time.Now().UTC()
	return report, errs
}

// repairExpiredBidWindows resolves lapsed bidding rounds: offers on the
// table pick a winner, an empty round fails the order.
func (s *service) repairExpiredBidWindows(ctx context.Context, budget int, report *CheckReport) error {
	candidates, err := s.repo.ExpiredBidOrders(ctx, time.Now().UTC(), s.batch(budget))
	if err != nil {
		return err
	}
	report.Found = len(candidates)

	var errs error
	for _, order := range candidates {
		if report.Repaired >= budget {
			break
		}
		if _, err := s.biddingSvc.SelectWinner(ctx, order.ID); err != nil {
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		report.Repaired++
		s.audit(ctx, order.ID, "resolved expired bid window")
	}
	return errs
}

// repairWinnerAssignedLagging pushes orders with an assigned winner but a
// stale status forward to wholesaler accepted.
func (s *service) repairWinnerAssignedLagging(ctx context.Context, budget int, report *CheckReport) error {
	cutoff := time.Now().UTC().Add(-s.cfg.StaleWinnerBy)
	candidates, err := s.repo.WinnerAssignedLagging(ctx, cutoff, s.batch(budget))
	if err != nil {
		return err
	}
	report.Found = len(candidates)

	var errs error
	for _, order := range candidates {
		if report.Repaired >= budget {
			break
		}
		if _, err := s.orderSvc.Transition(ctx, orders.TransitionInput{
			OrderID: order.ID,
			Target:  enums.OrderStatusWholesalerAccepted,
		}); err != nil {
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		report.Repaired++
		s.audit(ctx, order.ID, "advanced order with assigned winner to wholesaler accepted")
	}
	return errs
}

// repairDeliveredMissingDebit re-runs the delivered transition's entry side
// effect, which backfills the debit and nothing else.
func (s *service) repairDeliveredMissingDebit(ctx context.Context, budget int, report *CheckReport) error {
	candidates, err := s.repo.DeliveredMissingDebit(ctx, s.batch(budget))
	if err != nil {
		return err
	}
	report.Found = len(candidates)

	var errs error
	for _, order := range candidates {
		if report.Repaired >= budget {
			break
		}
		if err := s.ensureDebit(ctx, order); err != nil {
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		report.Repaired++
		s.audit(ctx, order.ID, "backfilled missing debit for delivered order")
	}
	return errs
}

// repairOrphanReservations releases active holds on orders that already
// finished.
func (s *service) repairOrphanReservations(ctx context.Context, budget int, report *CheckReport) error {
	orderIDs, err := s.repo.OrphanActiveReservations(ctx, s.batch(budget))
	if err != nil {
		return err
	}
	report.Found = len(orderIDs)

	var errs error
	for _, orderID := range orderIDs {
		if report.Repaired >= budget {
			break
		}
		if _, err := s.stockSvc.ReleaseForOrder(ctx, orderID); err != nil {
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", orderID, err))
			continue
		}
		report.Repaired++
		s.audit(ctx, orderID, "released orphaned stock reservations")
	}
	return errs
}

// repairStaleOffers expires pending offers left behind by rounds that ended
// without resolving them. The sweep is a single set-based update.
func (s *service) repairStaleOffers(ctx context.Context, budget int, report *CheckReport) error {
	expired, err := s.biddingSvc.ExpireStaleOffers(ctx, s.batch(budget))
	if err != nil {
		return err
	}
	report.Found = int(expired)
	report.Repaired = int(expired)
	return nil
}

func (s *service) batch(budget int) int {
	if budget < s.cfg.BatchSize {
		return budget
	}
	return s.cfg.BatchSize
}

func (s *service) audit(ctx context.Context, orderID uuid.UUID, action string) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithOrderID(ctx, orderID.String())
	logCtx = s.logg.WithField(logCtx, "repair", true)
	s.logg.Info(logCtx, action)
}

func (s *service) ensureDebit(ctx context.Context, order models.Order) error {
	return s.orderSvc.RepairDeliveredDebit(ctx, order.ID)
}
