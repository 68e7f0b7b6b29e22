package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
)

type stubLedgerRepo struct {
	created []*models.LedgerEntry
	found   *models.LedgerEntry
	listed  []models.LedgerEntry
	err     error
}

func (s *stubLedgerRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubLedgerRepo) Create(ctx context.Context, entry *models.LedgerEntry) error {
	if s.err != nil {
		return s.err
	}
	entry.ID = uuid.New()
	s.created = append(s.created, entry)
	return nil
}

func (s *stubLedgerRepo) FindByOrderAndType(ctx context.Context, orderID uuid.UUID, entryType enums.LedgerEntryType) (*models.LedgerEntry, error) {
	return s.found, s.err
}

func (s *stubLedgerRepo) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	return s.listed, s.err
}

func (s *stubLedgerRepo) ListByPair(ctx context.Context, retailerID, wholesalerID uuid.UUID) ([]models.LedgerEntry, error) {
	return s.listed, s.err
}

func TestNewServiceRequiresRepo(t *testing.T) {
	if _, err := NewService(nil); err == nil {
		t.Fatal("expected error creating service without repo")
	}
}

func TestRecordValidatesInput(t *testing.T) {
	svc, err := NewService(&stubLedgerRepo{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	base := RecordEntryInput{
		RetailerStoreID:   uuid.New(),
		WholesalerStoreID: uuid.New(),
		OrderID:           uuid.New(),
		Type:              enums.LedgerEntryTypeDebit,
		Amount:            decimal.NewFromInt(100),
	}

	cases := []struct {
		name   string
		mutate func(*RecordEntryInput)
	}{
		{"missing order id", func(in *RecordEntryInput) { in.OrderID = uuid.Nil }},
		{"missing retailer", func(in *RecordEntryInput) { in.RetailerStoreID = uuid.Nil }},
		{"missing wholesaler", func(in *RecordEntryInput) { in.WholesalerStoreID = uuid.Nil }},
		{"invalid type", func(in *RecordEntryInput) { in.Type = "bogus" }},
		{"zero amount", func(in *RecordEntryInput) { in.Amount = decimal.Zero }},
		{"negative amount", func(in *RecordEntryInput) { in.Amount = decimal.NewFromInt(-5) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := base
			tc.mutate(&input)
			if _, err := svc.Record(context.Background(), input); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestRecordPersistsEntry(t *testing.T) {
	repo := &stubLedgerRepo{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	due := time.Now().UTC().AddDate(0, 0, 30)
	entry, err := svc.Record(context.Background(), RecordEntryInput{
		RetailerStoreID:   uuid.New(),
		WholesalerStoreID: uuid.New(),
		OrderID:           uuid.New(),
		Type:              enums.LedgerEntryTypeDebit,
		Amount:            decimal.NewFromInt(250),
		DueDate:           &due,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if entry.ID == uuid.Nil {
		t.Fatal("expected entry id assigned")
	}
	if entry.DueDate == nil || !entry.DueDate.Equal(due) {
		t.Fatal("expected due date carried onto the entry")
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected 1 created entry, got %d", len(repo.created))
	}
}

func TestEntryForOrderRequiresOrderID(t *testing.T) {
	svc, err := NewService(&stubLedgerRepo{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.EntryForOrder(context.Background(), uuid.Nil, enums.LedgerEntryTypeDebit); err == nil {
		t.Fatal("expected error for missing order id")
	}
}

func TestPairBalanceSumsPostings(t *testing.T) {
	repo := &stubLedgerRepo{
		listed: []models.LedgerEntry{
			{Type: enums.LedgerEntryTypeDebit, Amount: decimal.NewFromInt(40_000)},
			{Type: enums.LedgerEntryTypeCreditPayment, Amount: decimal.NewFromInt(15_000)},
		},
	}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	balance, err := svc.PairBalance(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("pair balance: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(25_000)) {
		t.Fatalf("expected balance 25000, got %s", balance)
	}
}

func TestBalanceOf(t *testing.T) {
	entry := func(entryType enums.LedgerEntryType, amount int64) models.LedgerEntry {
		return models.LedgerEntry{Type: entryType, Amount: decimal.NewFromInt(amount)}
	}

	cases := []struct {
		name    string
		entries []models.LedgerEntry
		want    int64
	}{
		{"empty ledger", nil, 0},
		{"single debit", []models.LedgerEntry{entry(enums.LedgerEntryTypeDebit, 9000)}, 9000},
		{
			"debit fully reversed",
			[]models.LedgerEntry{
				entry(enums.LedgerEntryTypeDebit, 9000),
				entry(enums.LedgerEntryTypeReversal, 9000),
			},
			0,
		},
		{
			"payment reduces balance",
			[]models.LedgerEntry{
				entry(enums.LedgerEntryTypeDebit, 50000),
				entry(enums.LedgerEntryTypeCreditPayment, 20000),
			},
			30000,
		},
		{
			"adjustment compensates",
			[]models.LedgerEntry{
				entry(enums.LedgerEntryTypeDebit, 10000),
				entry(enums.LedgerEntryTypeAdjustment, 1500),
			},
			8500,
		},
		{
			"mixed history",
			[]models.LedgerEntry{
				entry(enums.LedgerEntryTypeDebit, 40000),
				entry(enums.LedgerEntryTypeDebit, 25000),
				entry(enums.LedgerEntryTypeReversal, 25000),
				entry(enums.LedgerEntryTypeCreditPayment, 15000),
			},
			25000,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := BalanceOf(tc.entries)
			if !got.Equal(decimal.NewFromInt(tc.want)) {
				t.Fatalf("expected balance %d, got %s", tc.want, got)
			}
		})
	}
}
