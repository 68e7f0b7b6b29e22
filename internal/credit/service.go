package credit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukalink/dukalink-backend/internal/ledger"
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

// Service is the credit engine. Every reservation recomputes the pair balance
// from the ledger while holding the relationship row lock, so two concurrent
// orders can never both fit inside the same remaining headroom.
type Service interface {
	Reserve(ctx context.Context, input ReserveInput) (*models.LedgerEntry, error)
	ReserveInTx(ctx context.Context, tx *gorm.DB, input ReserveInput) (*models.LedgerEntry, error)
	Reverse(ctx context.Context, orderID uuid.UUID, reason string) error
	ReverseInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error
	EnsureDebitInTx(ctx context.Context, tx *gorm.DB, order *models.Order) error
	RecordPayment(ctx context.Context, input PaymentInput) (*models.LedgerEntry, error)
	Exposure(ctx context.Context, retailerID, wholesalerID uuid.UUID) (*Exposure, error)
}

// ReserveInput identifies the pair, the order, and the amount to reserve.
type ReserveInput struct {
	RetailerStoreID   uuid.UUID
	WholesalerStoreID uuid.UUID
	OrderID           uuid.UUID
	Amount            decimal.Decimal
}

// PaymentInput records a repayment against a pair's outstanding balance.
type PaymentInput struct {
	RetailerStoreID   uuid.UUID
	WholesalerStoreID uuid.UUID
	OrderID           uuid.UUID
	Amount            decimal.Decimal
	Reference         string
}

// Exposure is a point-in-time read of one pair's credit position.
type Exposure struct {
	RetailerStoreID   uuid.UUID       `json:"retailer_store_id"`
	WholesalerStoreID uuid.UUID       `json:"wholesaler_store_id"`
	CreditLimit       decimal.Decimal `json:"credit_limit"`
	Balance           decimal.Decimal `json:"balance"`
	Headroom          decimal.Decimal `json:"headroom"`
	Utilization       decimal.Decimal `json:"utilization"`
	Active            bool            `json:"active"`
	BlockedReason     *string         `json:"blocked_reason,omitempty"`
}

type service struct {
	tx      db.TxRunner
	rels    Repository
	entries ledger.Service
	policy  retry.Policy
	logg    *logger.Logger
}

// NewService wires the credit engine. All postings flow through the ledger
// service. The retry policy bounds transaction conflict retries, not
// business rejections.
func NewService(tx db.TxRunner, rels Repository, entries ledger.Service, conflictRetries int, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if rels == nil {
		return nil, fmt.Errorf("credit repository required")
	}
	if entries == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if conflictRetries <= 0 {
		conflictRetries = 3
	}
	return &service{
		tx:      tx,
		rels:    rels,
		entries: entries,
		policy: retry.Policy{
			MaxAttempts: conflictRetries,
			BaseDelay:   25 * time.Millisecond,
			Multiplier:  2.0,
			MaxDelay:    500 * time.Millisecond,
			JitterRatio: 0.2,
		},
		logg: logg,
	}, nil
}

func (s *service) Reserve(ctx context.Context, input ReserveInput) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.policy.Do(ctx, db.IsSerializationFailure, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			created, txErr := s.ReserveInTx(ctx, tx, input)
			if txErr != nil {
				return txErr
			}
			entry = created
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ReserveInTx performs the locked check-and-debit inside the caller's
// transaction. Callers owning a wider transaction (the order state machine)
// use this directly so the order row lock and the relationship row lock
// commit or roll back together.
func (s *service) ReserveInTx(ctx context.Context, tx *gorm.DB, input ReserveInput) (*models.LedgerEntry, error) {
	if err := validateReserveInput(input); err != nil {
		return nil, err
	}

	rels := s.rels.WithTx(tx)
	entries := s.entries.WithTx(tx)

	rel, err := rels.FindForUpdate(ctx, input.RetailerStoreID, input.WholesalerStoreID)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no credit relationship for pair")
	}
	if !rel.Active {
		blockErr := pkgerrors.New(pkgerrors.CodeAccountBlocked, "credit relationship is blocked")
		if rel.BlockedReason != nil {
			blockErr = blockErr.WithDetails(map[string]string{"blocked_reason": *rel.BlockedReason})
		}
		return nil, blockErr
	}

	// Replayed reservation for the same order returns the original debit.
	existing, err := entries.EntryForOrder(ctx, input.OrderID, enums.LedgerEntryTypeDebit)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	balance, err := entries.PairBalance(ctx, input.RetailerStoreID, input.WholesalerStoreID)
	if err != nil {
		return nil, err
	}
	headroom := rel.CreditLimit.Sub(balance)

	if input.Amount.GreaterThan(headroom) {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientCredit, "order amount exceeds available credit").
			WithDetails(map[string]string{
				"credit_limit": rel.CreditLimit.StringFixed(2),
				"balance":      balance.StringFixed(2),
				"headroom":     headroom.StringFixed(2),
				"requested":    input.Amount.StringFixed(2),
			})
	}

	due := time.Now().UTC().AddDate(0, 0, rel.PaymentTermsDays)
	entry, err := entries.Record(ctx, ledger.RecordEntryInput{
		RetailerStoreID:   input.RetailerStoreID,
		WholesalerStoreID: input.WholesalerStoreID,
		OrderID:           input.OrderID,
		Type:              enums.LedgerEntryTypeDebit,
		Amount:            input.Amount,
		DueDate:           &due,
	})
	if err != nil {
		// The partial unique index is the backstop against a racing debit
		// for the same order slipping past the lock.
		if db.IsUniqueViolation(err, "ux_ledger_entries_order_debit") {
			return entries.EntryForOrder(ctx, input.OrderID, enums.LedgerEntryTypeDebit)
		}
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, input.OrderID.String())
		s.logg.Info(logCtx, fmt.Sprintf("credit reserved: %s (balance %s of %s)",
			input.Amount.StringFixed(2), balance.Add(input.Amount).StringFixed(2), rel.CreditLimit.StringFixed(2)))
	}
	return entry, nil
}

func (s *service) Reverse(ctx context.Context, orderID uuid.UUID, reason string) error {
	return s.policy.Do(ctx, db.IsSerializationFailure, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.ReverseInTx(ctx, tx, orderID, reason)
		})
	})
}

// ReverseInTx posts the compensating entry for an order's debit. A missing
// debit and an already-reversed order are both no-ops, which is what makes
// reverse-on-failure safe to call from every failure path.
func (s *service) ReverseInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	entries := s.entries.WithTx(tx)

	debit, err := entries.EntryForOrder(ctx, orderID, enums.LedgerEntryTypeDebit)
	if err != nil {
		return err
	}
	if debit == nil {
		return nil
	}

	// Serialize against concurrent reservations on the same pair so the
	// released headroom is visible to the next balance recomputation.
	if _, err := s.rels.WithTx(tx).FindForUpdate(ctx, debit.RetailerStoreID, debit.WholesalerStoreID); err != nil {
		return err
	}

	reversal, err := entries.EntryForOrder(ctx, orderID, enums.LedgerEntryTypeReversal)
	if err != nil {
		return err
	}
	if reversal != nil {
		return nil
	}

	metadata, _ := json.Marshal(map[string]string{"reason": reason})
	if _, err := entries.Record(ctx, ledger.RecordEntryInput{
		RetailerStoreID:   debit.RetailerStoreID,
		WholesalerStoreID: debit.WholesalerStoreID,
		OrderID:           orderID,
		Type:              enums.LedgerEntryTypeReversal,
		Amount:            debit.Amount,
		Metadata:          metadata,
	}); err != nil {
		if db.IsUniqueViolation(err, "ux_ledger_entries_order_reversal") {
			return nil
		}
		return err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, orderID.String())
		s.logg.Info(logCtx, fmt.Sprintf("credit reversed: %s (%s)", debit.Amount.StringFixed(2), reason))
	}
	return nil
}

// EnsureDebitInTx backfills the debit for an order that reached delivery
// without one on record. Recovery and the delivered transition both call it;
// an existing debit makes it a no-op.
func (s *service) EnsureDebitInTx(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}

	wholesalerID := order.PreferredWholesalerID
	if order.WholesalerStoreID != nil {
		wholesalerID = *order.WholesalerStoreID
	}

	entries := s.entries.WithTx(tx)
	existing, err := entries.EntryForOrder(ctx, order.ID, enums.LedgerEntryTypeDebit)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	rel, err := s.rels.WithTx(tx).FindForUpdate(ctx, order.RetailerStoreID, wholesalerID)
	if err != nil {
		return err
	}

	var due *time.Time
	if rel != nil {
		d := time.Now().UTC().AddDate(0, 0, rel.PaymentTermsDays)
		due = &d
	}

	metadata, _ := json.Marshal(map[string]string{"source": "delivery_backfill"})
	if _, err := entries.Record(ctx, ledger.RecordEntryInput{
		RetailerStoreID:   order.RetailerStoreID,
		WholesalerStoreID: wholesalerID,
		OrderID:           order.ID,
		Type:              enums.LedgerEntryTypeDebit,
		Amount:            order.TotalAmount,
		DueDate:           due,
		Metadata:          metadata,
	}); err != nil {
		if db.IsUniqueViolation(err, "ux_ledger_entries_order_debit") {
			return nil
		}
		return err
	}
	return nil
}

func (s *service) RecordPayment(ctx context.Context, input PaymentInput) (*models.LedgerEntry, error) {
	if input.RetailerStoreID == uuid.Nil || input.WholesalerStoreID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "retailer and wholesaler ids are required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}

	var entry *models.LedgerEntry
	err := s.policy.Do(ctx, db.IsSerializationFailure, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			rel, txErr := s.rels.WithTx(tx).FindForUpdate(ctx, input.RetailerStoreID, input.WholesalerStoreID)
			if txErr != nil {
				return txErr
			}
			if rel == nil {
				return pkgerrors.New(pkgerrors.CodeNotFound, "no credit relationship for pair")
			}

			metadata, _ := json.Marshal(map[string]string{"reference": input.Reference})
			entry, txErr = s.entries.WithTx(tx).Record(ctx, ledger.RecordEntryInput{
				RetailerStoreID:   input.RetailerStoreID,
				WholesalerStoreID: input.WholesalerStoreID,
				OrderID:           input.OrderID,
				Type:              enums.LedgerEntryTypeCreditPayment,
				Amount:            input.Amount,
				Metadata:          metadata,
			})
			return txErr
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) Exposure(ctx context.Context, retailerID, wholesalerID uuid.UUID) (*Exposure, error) {
	rel, err := s.rels.Find(ctx, retailerID, wholesalerID)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no credit relationship for pair")
	}

	balance, err := s.entries.PairBalance(ctx, retailerID, wholesalerID)
	if err != nil {
		return nil, err
	}

	utilization := decimal.Zero
	if rel.CreditLimit.IsPositive() {
		utilization = balance.DivRound(rel.CreditLimit, 4)
	}

	return &Exposure{
		RetailerStoreID:   retailerID,
		WholesalerStoreID: wholesalerID,
		CreditLimit:       rel.CreditLimit,
		Balance:           balance,
		Headroom:          rel.CreditLimit.Sub(balance),
		Utilization:       utilization,
		Active:            rel.Active,
		BlockedReason:     rel.BlockedReason,
	}, nil
}

func validateReserveInput(input ReserveInput) error {
	if input.RetailerStoreID == uuid.Nil || input.WholesalerStoreID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "retailer and wholesaler ids are required")
	}
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !input.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "reservation amount must be positive")
	}
	return nil
}
