package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/dukalink/dukalink-backend/internal/credit"
	"github.com/dukalink/dukalink-backend/internal/stock"
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

// Service drives the order lifecycle. Transition is the single write path
// for status changes: it locks the order row, validates the edge against the
// fixed lifecycle, and runs the entry side effects in the same transaction.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	CreateInTx(ctx context.Context, tx *gorm.DB, input CreateInput) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Transition(ctx context.Context, input TransitionInput) (*models.Order, error)
	TransitionInTx(ctx context.Context, tx *gorm.DB, input TransitionInput) (*models.Order, error)
	Validate(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus) (*ValidationResult, error)
	RepairDeliveredDebit(ctx context.Context, orderID uuid.UUID) error
}

// CreateInput is a new purchase request from a retailer.
type CreateInput struct {
	RetailerStoreID       uuid.UUID
	PreferredWholesalerID uuid.UUID
	Items                 []CreateItemInput
}

// CreateItemInput is one product line on a new order.
type CreateItemInput struct {
	ProductID uuid.UUID
	Qty       int
	UnitPrice decimal.Decimal
}

// TransitionInput requests one lifecycle edge for an order.
type TransitionInput struct {
	OrderID uuid.UUID
	Target  enums.OrderStatus
	Reason  string
}

// ValidationResult is the dry-run answer for a proposed transition.
type ValidationResult struct {
	Valid              bool                `json:"valid"`
	CurrentState       enums.OrderStatus   `json:"current_state"`
	TargetState        enums.OrderStatus   `json:"target_state"`
	AllowedTransitions []enums.OrderStatus `json:"allowed_transitions"`
}

type service struct {
	tx     db.TxRunner
	repo   Repository
	credit credit.Service
	stock  stock.Service
	policy retry.Policy
	logg   *logger.Logger
}

// NewService wires the order lifecycle service.
func NewService(tx db.TxRunner, repo Repository, creditSvc credit.Service, stockSvc stock.Service, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if creditSvc == nil {
		return nil, fmt.Errorf("credit service required")
	}
	if stockSvc == nil {
		return nil, fmt.Errorf("stock service required")
	}
	return &service{
		tx:     tx,
		repo:   repo,
		credit: creditSvc,
		stock:  stockSvc,
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

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	return s.CreateInTx(ctx, nil, input)
}

// CreateInTx validates and persists a new order, inside the caller's
// transaction when one is given.
func (s *service) CreateInTx(ctx context.Context, tx *gorm.DB, input CreateInput) (*models.Order, error) {
	if input.RetailerStoreID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "retailer store id is required")
	}
	if input.PreferredWholesalerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "preferred wholesaler id is required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}

	total := decimal.Zero
	items := make([]models.OrderItem, 0, len(input.Items))
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item product id is required")
		}
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item qty must be positive")
		}
		if !item.UnitPrice.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item unit price must be positive")
		}
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Qty))))
		items = append(items, models.OrderItem{
			ProductID: item.ProductID,
			Qty:       item.Qty,
			UnitPrice: item.UnitPrice,
		})
	}

	order := &models.Order{
		RetailerStoreID:       input.RetailerStoreID,
		PreferredWholesalerID: input.PreferredWholesalerID,
		TotalAmount:           total,
		Status:                enums.OrderStatusCreated,
		Items:                 items,
	}
	if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		s.logg.Info(logCtx, fmt.Sprintf("order created, total %s", total.StringFixed(2)))
	}
	return order, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.Find(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	var order *models.Order
	err := s.policy.Do(ctx, db.IsSerializationFailure, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			updated, txErr := s.TransitionInTx(ctx, tx, input)
			if txErr != nil {
				return txErr
			}
			order = updated
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// TransitionInTx applies one lifecycle edge inside the caller's transaction.
// Re-requesting the current status is a no-op so replayed jobs converge
// instead of erroring.
func (s *service) TransitionInTx(ctx context.Context, tx *gorm.DB, input TransitionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order status %q", input.Target))
	}

	repo := s.repo.WithTx(tx)
	order, err := repo.FindForUpdate(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	if order.Status == input.Target {
		return order, nil
	}
	if !CanTransition(order.Status, input.Target) {
		return nil, stateViolation(order.Status, input.Target)
	}

	if err := s.applySideEffects(ctx, tx, order, input); err != nil {
		return nil, err
	}

	updates := map[string]any{"status": input.Target}
	if input.Target == enums.OrderStatusFailed {
		reason := input.Reason
		if reason == "" {
			reason = "unspecified failure"
		}
		updates["failure_reason"] = reason
	}
	if err := repo.Update(ctx, order.ID, updates); err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		s.logg.Info(logCtx, fmt.Sprintf("order %s -> %s", order.Status, input.Target))
	}

	order.Status = input.Target
	if reason, ok := updates["failure_reason"].(string); ok {
		order.FailureReason = &reason
	}
	return order, nil
}

// applySideEffects runs the entry actions for the target state. They share
// the caller's transaction, so a failed side effect rolls the status change
// back with it.
func (s *service) applySideEffects(ctx context.Context, tx *gorm.DB, order *models.Order, input TransitionInput) error {
	switch input.Target {
	case enums.OrderStatusCreditApproved:
		_, err := s.credit.ReserveInTx(ctx, tx, credit.ReserveInput{
			RetailerStoreID:   order.RetailerStoreID,
			WholesalerStoreID: order.PreferredWholesalerID,
			OrderID:           order.ID,
			Amount:            order.TotalAmount,
		})
		return err

	case enums.OrderStatusStockReserved:
		return s.stock.ReserveItemsInTx(ctx, tx, order)

	case enums.OrderStatusDelivered:
		return s.credit.EnsureDebitInTx(ctx, tx, order)

	case enums.OrderStatusFailed, enums.OrderStatusCancelled:
		reason := input.Reason
		if reason == "" {
			reason = string(input.Target)
		}
		if err := s.credit.ReverseInTx(ctx, tx, order.ID, reason); err != nil {
			return err
		}
		_, err := s.stock.ReleaseForOrderInTx(ctx, tx, order.ID)
		return err
	}
	return nil
}

func (s *service) Validate(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus) (*ValidationResult, error) {
	order, err := s.repo.Find(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	return &ValidationResult{
		Valid:              target.IsValid() && CanTransition(order.Status, target),
		CurrentState:       order.Status,
		TargetState:        target,
		AllowedTransitions: AllowedTransitions(order.Status),
	}, nil
}

// RepairDeliveredDebit re-runs the delivered transition's side effect for an
// already-delivered order: backfill the missing debit, touch nothing else.
func (s *service) RepairDeliveredDebit(ctx context.Context, orderID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.repo.WithTx(tx).FindForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if order.Status != enums.OrderStatusDelivered {
			return nil
		}
		return s.credit.EnsureDebitInTx(ctx, tx, order)
	})
}

func stateViolation(current, target enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateViolation,
		fmt.Sprintf("cannot transition order from %s to %s", current, target)).
		WithDetails(map[string]any{
			"current_state":       current,
			"target_state":        target,
			"allowed_transitions": AllowedTransitions(current),
		})
}
