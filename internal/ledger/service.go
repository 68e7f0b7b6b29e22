package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service is the posting facade over the ledger: validated write-once entries
// plus the derived reads the credit engine builds on.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Record(ctx context.Context, input RecordEntryInput) (*models.LedgerEntry, error)
	EntryForOrder(ctx context.Context, orderID uuid.UUID, entryType enums.LedgerEntryType) (*models.LedgerEntry, error)
	EntriesForOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error)
	PairBalance(ctx context.Context, retailerID, wholesalerID uuid.UUID) (decimal.Decimal, error)
}

type service struct {
	repo Repository
}

// RecordEntryInput captures the immutable data a ledger posting requires.
type RecordEntryInput struct {
	RetailerStoreID   uuid.UUID
	WholesalerStoreID uuid.UUID
	OrderID           uuid.UUID
	Type              enums.LedgerEntryType
	Amount            decimal.Decimal
	DueDate           *time.Time
	Metadata          []byte
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	return &service{repo: s.repo.WithTx(tx)}
}

// Record persists one posting. Repository errors pass through untouched so
// callers can classify unique-index violations.
func (s *service) Record(ctx context.Context, input RecordEntryInput) (*models.LedgerEntry, error) {
	if input.OrderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	if input.RetailerStoreID == uuid.Nil {
		return nil, fmt.Errorf("retailer store id is required")
	}
	if input.WholesalerStoreID == uuid.Nil {
		return nil, fmt.Errorf("wholesaler store id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger entry type %q", input.Type)
	}
	if !input.Amount.IsPositive() {
		return nil, fmt.Errorf("ledger amount must be positive, got %s", input.Amount)
	}

	entry := &models.LedgerEntry{
		RetailerStoreID:   input.RetailerStoreID,
		WholesalerStoreID: input.WholesalerStoreID,
		OrderID:           input.OrderID,
		Type:              input.Type,
		Amount:            input.Amount,
		DueDate:           input.DueDate,
		Metadata:          input.Metadata,
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) EntryForOrder(ctx context.Context, orderID uuid.UUID, entryType enums.LedgerEntryType) (*models.LedgerEntry, error) {
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	return s.repo.FindByOrderAndType(ctx, orderID, entryType)
}

func (s *service) EntriesForOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	return s.repo.ListByOrderID(ctx, orderID)
}

// PairBalance recomputes the pair's outstanding balance from its postings.
// Called under the relationship row lock this is the serialization point of
// every credit decision.
func (s *service) PairBalance(ctx context.Context, retailerID, wholesalerID uuid.UUID) (decimal.Decimal, error) {
	entries, err := s.repo.ListByPair(ctx, retailerID, wholesalerID)
	if err != nil {
		return decimal.Zero, err
	}
	return BalanceOf(entries), nil
}

// BalanceOf derives the outstanding balance for one credit pair from its
// postings: debits owe, everything else compensates.
func BalanceOf(entries []models.LedgerEntry) decimal.Decimal {
	balance := decimal.Zero
	for _, entry := range entries {
		switch entry.Type {
		case enums.LedgerEntryTypeDebit:
			balance = balance.Add(entry.Amount)
		case enums.LedgerEntryTypeReversal, enums.LedgerEntryTypeAdjustment, enums.LedgerEntryTypeCreditPayment:
			balance = balance.Sub(entry.Amount)
		}
	}
	return balance
}
