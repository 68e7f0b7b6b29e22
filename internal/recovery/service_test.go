package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dukalink/dukalink-backend/internal/bidding"
	"github.com/dukalink/dukalink-backend/internal/orders"
	"github.com/dukalink/dukalink-backend/pkg/config"
	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	pkgerrors "github.com/dukalink/dukalink-backend/pkg/errors"
)

// fakeRecoveryRepo hands each check a canned candidate list and records the
// limit it was queried with.
type fakeRecoveryRepo struct {
	expiredBids   []models.Order
	stuckWinners  []models.Order
	missingDebits []models.Order
	orphanOrders  []uuid.UUID
	limits        []int
}

func (r *fakeRecoveryRepo) ExpiredBidOrders(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	r.limits = append(r.limits, limit)
	return capOrders(r.expiredBids, limit), nil
}

func (r *fakeRecoveryRepo) WinnerAssignedLagging(ctx context.Context, assignedBefore time.Time, limit int) ([]models.Order, error) {
	r.limits = append(r.limits, limit)
	return capOrders(r.stuckWinners, limit), nil
}

func (r *fakeRecoveryRepo) DeliveredMissingDebit(ctx context.Context, limit int) ([]models.Order, error) {
	r.limits = append(r.limits, limit)
	return capOrders(r.missingDebits, limit), nil
}

func (r *fakeRecoveryRepo) OrphanActiveReservations(ctx context.Context, limit int) ([]uuid.UUID, error) {
	r.limits = append(r.limits, limit)
	if len(r.orphanOrders) > limit {
		return r.orphanOrders[:limit], nil
	}
	return r.orphanOrders, nil
}

func capOrders(list []models.Order, limit int) []models.Order {
	if len(list) > limit {
		return list[:limit]
	}
	return list
}

type recoveryOrderSvc struct {
	transitions []orders.TransitionInput
	debits      []uuid.UUID
}

func (s *recoveryOrderSvc) Create(ctx context.Context, input orders.CreateInput) (*models.Order, error) {
	return nil, nil
}

func (s *recoveryOrderSvc) CreateInTx(ctx context.Context, tx *gorm.DB, input orders.CreateInput) (*models.Order, error) {
	return nil, nil
}

func (s *recoveryOrderSvc) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return nil, nil
}

func (s *recoveryOrderSvc) Transition(ctx context.Context, input orders.TransitionInput) (*models.Order, error) {
	s.transitions = append(s.transitions, input)
	return &models.Order{ID: input.OrderID, Status: input.Target}, nil
}

func (s *recoveryOrderSvc) TransitionInTx(ctx context.Context, tx *gorm.DB, input orders.TransitionInput) (*models.Order, error) {
	return s.Transition(ctx, input)
}

func (s *recoveryOrderSvc) Validate(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus) (*orders.ValidationResult, error) {
	return nil, nil
}

func (s *recoveryOrderSvc) RepairDeliveredDebit(ctx context.Context, orderID uuid.UUID) error {
	s.debits = append(s.debits, orderID)
	return nil
}

type recoveryBiddingSvc struct {
	selected    []uuid.UUID
	failOn      map[uuid.UUID]error
	staleOffers int64
}

func (s *recoveryBiddingSvc) RouteOrder(ctx context.Context, orderID uuid.UUID, window time.Duration) ([]uuid.UUID, error) {
	return nil, nil
}

func (s *recoveryBiddingSvc) SubmitOffer(ctx context.Context, input bidding.SubmitOfferInput) (*models.VendorOffer, error) {
	return nil, nil
}

func (s *recoveryBiddingSvc) SelectWinner(ctx context.Context, orderID uuid.UUID) (*models.VendorOffer, error) {
	if err, ok := s.failOn[orderID]; ok {
		return nil, err
	}
	s.selected = append(s.selected, orderID)
	return &models.VendorOffer{OrderID: orderID}, nil
}

func (s *recoveryBiddingSvc) OffersForOrder(ctx context.Context, orderID uuid.UUID) ([]models.VendorOffer, error) {
	return nil, nil
}

func (s *recoveryBiddingSvc) ExpireStaleOffers(ctx context.Context, limit int) (int64, error) {
	expired := s.staleOffers
	s.staleOffers = 0
	return expired, nil
}

type recoveryStockSvc struct {
	released []uuid.UUID
}

func (s *recoveryStockSvc) ReserveItemsInTx(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	return nil
}

func (s *recoveryStockSvc) ReleaseForOrderInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int, error) {
	return 0, nil
}

func (s *recoveryStockSvc) ReleaseForOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	s.released = append(s.released, orderID)
	return 1, nil
}

func (s *recoveryStockSvc) ActiveReservations(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error) {
	return nil, nil
}

type recoveryFixture struct {
	repo    *fakeRecoveryRepo
	orders  *recoveryOrderSvc
	bidding *recoveryBiddingSvc
	stock   *recoveryStockSvc
	svc     Service
}

func newRecoveryFixture(t *testing.T, cfg config.RecoveryConfig) *recoveryFixture {
	t.Helper()
	f := &recoveryFixture{
		repo:    &fakeRecoveryRepo{},
		orders:  &recoveryOrderSvc{},
		bidding: &recoveryBiddingSvc{},
		stock:   &recoveryStockSvc{},
	}
	svc, err := NewService(f.repo, f.orders, f.bidding, f.stock, cfg, nil, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func staleOrder(status enums.OrderStatus) models.Order {
	return models.Order{ID: uuid.New(), Status: status}
}

func TestRunExecutesChecksInFixedOrder(t *testing.T) {
	f := newRecoveryFixture(t, config.RecoveryConfig{MaxRepairs: 50, BatchSize: 25})
	f.repo.expiredBids = []models.Order{staleOrder(enums.OrderStatusStockReserved)}
	f.repo.stuckWinners = []models.Order{staleOrder(enums.OrderStatusStockReserved)}
	f.repo.missingDebits = []models.Order{staleOrder(enums.OrderStatusDelivered)}
	f.repo.orphanOrders = []uuid.UUID{uuid.New()}
	f.bidding.staleOffers = 1

	report, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	wantOrder := []string{
		"expired_bid_windows",
		"winner_assigned_lagging",
		"delivered_missing_debit",
		"orphan_stock_reservations",
		"stale_pending_offers",
	}
	if len(report.Checks) != len(wantOrder) {
		t.Fatalf("expected %d checks, got %d", len(wantOrder), len(report.Checks))
	}
	for i, name := range wantOrder {
		if report.Checks[i].Check != name {
			t.Fatalf("check %d: expected %s, got %s", i, name, report.Checks[i].Check)
		}
		if report.Checks[i].Repaired != 1 {
			t.Fatalf("check %s: expected 1 repair, got %d", name, report.Checks[i].Repaired)
		}
	}
	if report.Capped {
		t.Fatal("pass under budget must not report capped")
	}
	if report.TotalRepaired() != 5 {
		t.Fatalf("expected 5 repairs total, got %d", report.TotalRepaired())
	}
}

func TestRunRepairBudgetCapsThePass(t *testing.T) {
	f := newRecoveryFixture(t, config.RecoveryConfig{MaxRepairs: 2, BatchSize: 25})
	f.repo.expiredBids = []models.Order{
		staleOrder(enums.OrderStatusStockReserved),
		staleOrder(enums.OrderStatusStockReserved),
		staleOrder(enums.OrderStatusStockReserved),
	}
	f.repo.stuckWinners = []models.Order{staleOrder(enums.OrderStatusStockReserved)}

	report, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.Capped {
		t.Fatal("exhausting the budget must report capped")
	}
	if report.TotalRepaired() != 2 {
		t.Fatalf("expected exactly 2 repairs, got %d", report.TotalRepaired())
	}
	// The budget ran out on the first check, so later ones never queried.
	if len(report.Checks) != 1 {
		t.Fatalf("expected 1 check before the cap, got %d", len(report.Checks))
	}
	if len(f.orders.transitions) != 0 {
		t.Fatal("capped pass must not reach the stuck winner check")
	}
}

func TestRunOverHealthyStoreIsNoop(t *testing.T) {
	f := newRecoveryFixture(t, config.RecoveryConfig{MaxRepairs: 50, BatchSize: 25})

	report, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.TotalRepaired() != 0 {
		t.Fatalf("healthy store must need no repairs, got %d", report.TotalRepaired())
	}
	if len(f.bidding.selected)+len(f.orders.transitions)+len(f.orders.debits)+len(f.stock.released) != 0 {
		t.Fatal("no repair calls expected on a healthy store")
	}
}

func TestRunCollectsRepairFailuresWithoutAborting(t *testing.T) {
	f := newRecoveryFixture(t, config.RecoveryConfig{MaxRepairs: 50, BatchSize: 25})
	broken := staleOrder(enums.OrderStatusStockReserved)
	healthy := staleOrder(enums.OrderStatusStockReserved)
	f.repo.expiredBids = []models.Order{broken, healthy}
	f.bidding.failOn = map[uuid.UUID]error{
		broken.ID: pkgerrors.New(pkgerrors.CodeConflict, "window still open with no offers"),
	}
	f.repo.orphanOrders = []uuid.UUID{uuid.New()}

	report, err := f.svc.Run(context.Background())
	if err == nil {
		t.Fatal("expected the pass to surface the repair failure")
	}
	first := report.Checks[0]
	if first.Failed != 1 || first.Repaired != 1 {
		t.Fatalf("expected 1 failed and 1 repaired, got %+v", first)
	}
	// A stuck order never blocks the rest of the sweep.
	if len(report.Checks) != 5 {
		t.Fatalf("expected all checks to run, got %d", len(report.Checks))
	}
	if len(f.stock.released) != 1 {
		t.Fatal("later checks must still repair")
	}
}

func TestRunAdvancesStuckWinnerToAccepted(t *testing.T) {
	f := newRecoveryFixture(t, config.RecoveryConfig{MaxRepairs: 50, BatchSize: 25, StaleWinnerBy: 5 * time.Minute})
	stuck := staleOrder(enums.OrderStatusStockReserved)
	f.repo.stuckWinners = []models.Order{stuck}

	if _, err := f.svc.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(f.orders.transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(f.orders.transitions))
	}
	got := f.orders.transitions[0]
	if got.OrderID != stuck.ID || got.Target != enums.OrderStatusWholesalerAccepted {
		t.Fatalf("unexpected transition %+v", got)
	}
}

func TestRunBackfillsDeliveredDebits(t *testing.T) {
	f := newRecoveryFixture(t, config.RecoveryConfig{MaxRepairs: 50, BatchSize: 25})
	delivered := staleOrder(enums.OrderStatusDelivered)
	f.repo.missingDebits = []models.Order{delivered}

	if _, err := f.svc.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(f.orders.debits) != 1 || f.orders.debits[0] != delivered.ID {
		t.Fatalf("expected debit backfill for %s, got %v", delivered.ID, f.orders.debits)
	}
}

func TestRunBatchSizeBoundsEachQuery(t *testing.T) {
	f := newRecoveryFixture(t, config.RecoveryConfig{MaxRepairs: 200, BatchSize: 5})

	if _, err := f.svc.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, limit := range f.repo.limits {
		if limit != 5 {
			t.Fatalf("expected batch size 5, got %d", limit)
		}
	}
}
