package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/dukalink/dukalink-backend/pkg/db"
	"github.com/dukalink/dukalink-backend/pkg/db/models"
	pkgerrors "github.com/dukalink/dukalink-backend/pkg/errors"
	"github.com/dukalink/dukalink-backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service places and releases stock holds for orders.
type Service interface {
	ReserveItemsInTx(ctx context.Context, tx *gorm.DB, order *models.Order) error
	ReleaseForOrderInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int, error)
	ReleaseForOrder(ctx context.Context, orderID uuid.UUID) (int, error)
	ActiveReservations(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error)
}

type service struct {
	tx   db.TxRunner
	repo Repository
	logg *logger.Logger
}

// NewService wires the stock service.
func NewService(tx db.TxRunner, repo Repository, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	return &service{tx: tx, repo: repo, logg: logg}, nil
}

// ReserveItemsInTx places one hold per order line. Each line is idempotent:
// an existing active reservation for (order, product) is kept as-is, so a
// replayed job never double-decrements.
func (s *service) ReserveItemsInTx(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	if len(order.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order has no items to reserve")
	}

	repo := s.repo.WithTx(tx)
	for _, item := range order.Items {
		existing, err := repo.FindActiveReservation(ctx, order.ID, item.ProductID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		ok, err := repo.DecrementAvailable(ctx, item.ProductID, item.Qty)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock for product").
				WithDetails(map[string]any{
					"product_id": item.ProductID.String(),
					"requested":  item.Qty,
				})
		}

		if err := repo.CreateReservation(ctx, &models.StockReservation{
			OrderID:   order.ID,
			ProductID: item.ProductID,
			Qty:       item.Qty,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseForOrderInTx returns every active hold for the order to available
// stock. Running it against an order with no active holds is a no-op, so the
// failure paths and the reconciliation sweep can both call it blindly.
func (s *service) ReleaseForOrderInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int, error) {
	if orderID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	repo := s.repo.WithTx(tx)
	reservations, err := repo.ListActiveByOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}

	released := 0
	now := time.Now().UTC()
	for _, res := range reservations {
		if _, err := repo.ReturnReserved(ctx, res.ProductID, res.Qty); err != nil {
			return released, err
		}
		if err := repo.MarkReleased(ctx, res.ID, now); err != nil {
			return released, err
		}
		released++
	}

	if released > 0 && s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, orderID.String())
		s.logg.Info(logCtx, fmt.Sprintf("released %d stock reservations", released))
	}
	return released, nil
}

func (s *service) ReleaseForOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	var released int
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		n, txErr := s.ReleaseForOrderInTx(ctx, tx, orderID)
		released = n
		return txErr
	})
	return released, err
}

func (s *service) ActiveReservations(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error) {
	return s.repo.ListActiveByOrder(ctx, orderID)
}
