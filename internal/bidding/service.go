package bidding

import (
	"context"
	"fmt"
	"time"

	"github.com/dukalink/dukalink-backend/internal/orders"
	"github.com/dukalink/dukalink-backend/internal/queue"
	"github.com/dukalink/dukalink-backend/pkg/db"
	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	pkgerrors "github.com/dukalink/dukalink-backend/pkg/errors"
	"github.com/dukalink/dukalink-backend/pkg/logger"
	"github.com/dukalink/dukalink-backend/pkg/retry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service runs the vendor bidding round: open a window, collect offers,
// pick exactly one winner.
type Service interface {
	RouteOrder(ctx context.Context, orderID uuid.UUID, window time.Duration) ([]uuid.UUID, error)
	SubmitOffer(ctx context.Context, input SubmitOfferInput) (*models.VendorOffer, error)
	SelectWinner(ctx context.Context, orderID uuid.UUID) (*models.VendorOffer, error)
	OffersForOrder(ctx context.Context, orderID uuid.UUID) ([]models.VendorOffer, error)
	ExpireStaleOffers(ctx context.Context, limit int) (int64, error)
}

// SubmitOfferInput is one wholesaler's bid on an order.
type SubmitOfferInput struct {
	OrderID           uuid.UUID
	WholesalerStoreID uuid.UUID
	Price             decimal.Decimal
	TermsDays         int
	IdempotencyKey    string
}

// WholesalerDirectory lists the wholesalers eligible to bid for a retailer.
type WholesalerDirectory interface {
	ListActiveWholesalers(ctx context.Context, retailerID uuid.UUID) ([]uuid.UUID, error)
}

type service struct {
	tx            db.TxRunner
	offers        Repository
	orderRepo     orders.Repository
	orderSvc      orders.Service
	queueSvc      queue.Service
	directory     WholesalerDirectory
	defaultWindow time.Duration
	policy        retry.Policy
	logg          *logger.Logger
}

// NewService wires the bidding service.
func NewService(
	tx db.TxRunner,
	offers Repository,
	orderRepo orders.Repository,
	orderSvc orders.Service,
	queueSvc queue.Service,
	directory WholesalerDirectory,
	defaultWindow time.Duration,
	logg *logger.Logger,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if offers == nil {
		return nil, fmt.Errorf("offer repository required")
	}
	if orderRepo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if orderSvc == nil {
		return nil, fmt.Errorf("order service required")
	}
	if queueSvc == nil {
		return nil, fmt.Errorf("queue service required")
	}
	if directory == nil {
		return nil, fmt.Errorf("wholesaler directory required")
	}
	if defaultWindow <= 0 {
		defaultWindow = 30 * time.Minute
	}
	return &service{
		tx:            tx,
		offers:        offers,
		orderRepo:     orderRepo,
		orderSvc:      orderSvc,
		queueSvc:      queueSvc,
		directory:     directory,
		defaultWindow: defaultWindow,
		policy: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   25 * time.Millisecond,
			Multiplier:  2.0,
			MaxDelay:    500 * time.Millisecond,
			JitterRatio: 0.2,
		},
		logg: logg,
	}, nil
}

// RouteOrder opens the bidding window and fans out one routing job per
// eligible wholesaler. Calling it again while the window is open is a no-op.
func (s *service) RouteOrder(ctx context.Context, orderID uuid.UUID, window time.Duration) ([]uuid.UUID, error) {
	if window <= 0 {
		window = s.defaultWindow
	}

	var routed []uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		order, err := repo.FindForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if order.Status != enums.OrderStatusStockReserved {
			return pkgerrors.New(pkgerrors.CodeStateViolation,
				fmt.Sprintf("order in %s cannot enter bidding", order.Status)).
				WithDetails(map[string]any{"current_state": order.Status})
		}
		if order.WholesalerStoreID != nil {
			return pkgerrors.New(pkgerrors.CodeBidWindowClosed, "winner already selected")
		}
		if order.BidExpiresAt != nil && order.BidExpiresAt.After(time.Now().UTC()) {
			// Window already open; a replayed routing run must not extend it.
			return nil
		}

		eligible, err := s.directory.ListActiveWholesalers(ctx, order.RetailerStoreID)
		if err != nil {
			return err
		}
		if len(eligible) == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "no eligible wholesalers for retailer")
		}

		expiresAt := time.Now().UTC().Add(window)
		if err := repo.SetBidWindow(ctx, orderID, expiresAt); err != nil {
			return err
		}

		for _, wholesalerID := range eligible {
			if _, err := s.queueSvc.Enqueue(ctx, tx, enums.QueueVendorRouting, queue.VendorRoutingPayload{
				OrderID:           orderID,
				WholesalerStoreID: wholesalerID,
			}, 0); err != nil {
				return err
			}
		}
		routed = eligible
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(routed) > 0 && s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, orderID.String())
		s.logg.Info(logCtx, fmt.Sprintf("routed order to %d wholesalers", len(routed)))
	}
	return routed, nil
}

// SubmitOffer records a wholesaler's bid. A replay carrying the same
// idempotency key resolves to the original offer instead of erroring.
func (s *service) SubmitOffer(ctx context.Context, input SubmitOfferInput) (*models.VendorOffer, error) {
	if input.OrderID == uuid.Nil || input.WholesalerStoreID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order and wholesaler ids are required")
	}
	if input.IdempotencyKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	if !input.Price.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "offer price must be positive")
	}
	if input.TermsDays < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "terms days cannot be negative")
	}

	var offer *models.VendorOffer
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		offers := s.offers.WithTx(tx)

		existing, err := offers.FindByOrderAndKey(ctx, input.OrderID, input.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			offer = existing
			return nil
		}

		// Row lock: a submission racing winner selection waits for the
		// selector to commit, then sees the assigned winner below.
		order, err := s.orderRepo.WithTx(tx).FindForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if order.WholesalerStoreID != nil {
			return pkgerrors.New(pkgerrors.CodeBidWindowClosed, "winner already selected for order")
		}
		if order.BidExpiresAt == nil {
			return pkgerrors.New(pkgerrors.CodeStateViolation, "bidding is not open for order")
		}
		if time.Now().UTC().After(*order.BidExpiresAt) {
			return pkgerrors.New(pkgerrors.CodeBidWindowClosed, "bidding window has expired").
				WithDetails(map[string]string{"expired_at": order.BidExpiresAt.Format(time.RFC3339)})
		}

		pending, err := offers.FindPendingByWholesaler(ctx, input.OrderID, input.WholesalerStoreID)
		if err != nil {
			return err
		}
		if pending != nil {
			return pkgerrors.New(pkgerrors.CodeDuplicateOffer, "wholesaler already has a pending offer on order")
		}

		offer = &models.VendorOffer{
			OrderID:           input.OrderID,
			WholesalerStoreID: input.WholesalerStoreID,
			Price:             input.Price,
			TermsDays:         input.TermsDays,
			Status:            enums.OfferStatusPending,
			IdempotencyKey:    input.IdempotencyKey,
		}
		if err := offers.Create(ctx, offer); err != nil {
			if db.IsUniqueViolation(err, "ux_vendor_offers_idempotency") {
				offer, err = offers.FindByOrderAndKey(ctx, input.OrderID, input.IdempotencyKey)
				return err
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// SelectWinner resolves the bidding round for an order: best pending offer
// wins, the rest are rejected, and the order advances to wholesaler
// accepted. An expired round with no offers fails the order. Re-invocation
// after a winner exists returns the accepted offer unchanged.
func (s *service) SelectWinner(ctx context.Context, orderID uuid.UUID) (*models.VendorOffer, error) {
	var winner *models.VendorOffer
	err := s.policy.Do(ctx, db.IsSerializationFailure, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			selected, txErr := s.selectWinnerInTx(ctx, tx, orderID)
			if txErr != nil {
				return txErr
			}
			winner = selected
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return winner, nil
}

func (s *service) selectWinnerInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.VendorOffer, error) {
	orderRepo := s.orderRepo.WithTx(tx)
	offers := s.offers.WithTx(tx)

	order, err := orderRepo.FindForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	if order.WholesalerStoreID != nil {
		return offers.FindAccepted(ctx, orderID)
	}

	pending, err := offers.ListPendingRanked(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expired := order.BidExpiresAt != nil && now.After(*order.BidExpiresAt)

	if len(pending) == 0 {
		if !expired {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "no offers submitted yet and window still open")
		}
		if _, err := s.orderSvc.TransitionInTx(ctx, tx, orders.TransitionInput{
			OrderID: orderID,
			Target:  enums.OrderStatusFailed,
			Reason:  "no offers received before bid window expired",
		}); err != nil {
			return nil, err
		}
		if s.logg != nil {
			logCtx := s.logg.WithOrderID(ctx, orderID.String())
			s.logg.Warn(logCtx, "bid window expired with no offers, order failed")
		}
		return nil, nil
	}

	best := pending[0]

	assigned, err := orderRepo.AssignWinner(ctx, orderID, best.WholesalerStoreID)
	if err != nil {
		return nil, err
	}
	if !assigned {
		// Raced: another selection run won the guarded update first.
		return offers.FindAccepted(ctx, orderID)
	}

	if err := offers.Resolve(ctx, best.ID, enums.OfferStatusAccepted, now); err != nil {
		return nil, err
	}
	if err := offers.ResolvePendingExcept(ctx, orderID, best.ID, enums.OfferStatusRejected, now); err != nil {
		return nil, err
	}

	if _, err := s.orderSvc.TransitionInTx(ctx, tx, orders.TransitionInput{
		OrderID: orderID,
		Target:  enums.OrderStatusWholesalerAccepted,
	}); err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, orderID.String())
		s.logg.Info(logCtx, fmt.Sprintf("winner selected at %s from %d offers", best.Price.StringFixed(2), len(pending)))
	}

	best.Status = enums.OfferStatusAccepted
	best.ResolvedAt = &now
	return &best, nil
}

func (s *service) OffersForOrder(ctx context.Context, orderID uuid.UUID) ([]models.VendorOffer, error) {
	return s.offers.ListByOrder(ctx, orderID)
}

// ExpireStaleOffers sweeps pending offers stranded by rounds that ended
// without them: failed or cancelled orders whose window has lapsed, and
// decided rounds that somehow left an offer unresolved.
func (s *service) ExpireStaleOffers(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = 100
	}
	expired, err := s.offers.ExpirePendingOnSettledOrders(ctx, time.Now().UTC(), limit)
	if err != nil {
		return 0, err
	}
	if expired > 0 && s.logg != nil {
		s.logg.Info(ctx, fmt.Sprintf("expired %d stale pending offers", expired))
	}
	return expired, nil
}
