package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm/internal/ledger"
	"crm/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	_, err := Migrate(dsn)
	require.NoError(t, err)

	s, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_CustomerAndInvoice(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	customerID := "C-" + uuid.NewString()
	c := models.NewCustomer(customerID, "Kaya Tekstil", decimal.NewFromInt(100000), now)
	require.NoError(t, s.Customers().Upsert(ctx, c))

	inv := models.Invoice{
		ID:              "INV-" + uuid.NewString(),
		Number:          "2025-0001",
		CustomerID:      customerID,
		Items:           []models.InvoiceItem{{ProductID: "P1", Quantity: 3, UnitPrice: decimal.NewFromInt(1500)}},
		TotalAmount:     decimal.NewFromInt(4500),
		PaidAmount:      decimal.Zero,
		RemainingAmount: decimal.NewFromInt(4500),
		Status:          models.InvoicePending,
		IssueDate:       now,
		DueDate:         now.AddDate(0, 0, 30),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, s.Invoices().Upsert(ctx, inv))

	list, err := s.Invoices().ListByCustomer(ctx, customerID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].RemainingAmount.Equal(decimal.NewFromInt(4500)))
	assert.Equal(t, int64(3), list[0].Items[0].Quantity)
	assert.Nil(t, list[0].PaidAt)

	require.NoError(t, s.Customers().Delete(ctx, customerID))
	got, err := s.Customers().Get(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, models.CustomerInactive, got.Status)
}

func TestStore_ProductNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Products().Get(ctx, "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	err = s.Products().Delete(ctx, "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
