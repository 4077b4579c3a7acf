package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm/internal/credit"
	"crm/internal/ledger/memory"
	"crm/pkg/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var now = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func seedCustomer(t *testing.T, store *memory.Store, id, limit, cachedOutstanding string) {
	t.Helper()
	c := credit.Recompute(models.NewCustomer(id, "Customer "+id, d(limit), now), d(cachedOutstanding))
	require.NoError(t, store.Customers().Upsert(context.Background(), c))
}

func seedInvoice(t *testing.T, store *memory.Store, id, customerID, remaining string) {
	t.Helper()
	require.NoError(t, store.Invoices().Upsert(context.Background(), models.Invoice{
		ID:              id,
		CustomerID:      customerID,
		TotalAmount:     d(remaining),
		RemainingAmount: d(remaining),
		Status:          models.InvoicePending,
		IssueDate:       now,
		DueDate:         now.AddDate(0, 0, 30),
	}))
}

func TestReconcileAll_ReportsDrift(t *testing.T) {
	store := memory.New()
	seedCustomer(t, store, "C1", "100000", "0")
	seedCustomer(t, store, "C2", "50000", "10000")
	seedCustomer(t, store, "C3", "20000", "5000")
	seedInvoice(t, store, "I1", "C1", "94100")
	seedInvoice(t, store, "I2", "C2", "10000")

	r := NewReconciler(store.Customers(), credit.NewEngine(store))
	report, err := r.ReconcileAll(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Customers)
	assert.Equal(t, 2, report.Drifted)
	assert.Equal(t, 0, report.Failed)

	byID := map[string]Drift{}
	for _, res := range report.Results {
		byID[res.CustomerID] = res
	}
	assert.Equal(t, "94100", byID["C1"].Difference.String())
	assert.Equal(t, models.CreditWarning, byID["C1"].StatusAfter)
	assert.False(t, byID["C2"].Drifted())
	assert.Equal(t, "-5000", byID["C3"].Difference.String())

	c3, err := store.Customers().Get(context.Background(), "C3")
	require.NoError(t, err)
	assert.True(t, c3.TotalOutstanding.IsZero())
	assert.Equal(t, "20000", c3.AvailableCredit.String())

	rows := report.Rows()
	require.Len(t, rows, 3)
	assert.Len(t, rows[0], len(ReportHeader))
}

func TestReconcileAll_ManyCustomers(t *testing.T) {
	store := memory.New()
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("C%03d", i)
		seedCustomer(t, store, id, "1000", "0")
		seedInvoice(t, store, "I"+id, id, "10")
	}

	report, err := NewReconciler(store.Customers(), credit.NewEngine(store)).ReconcileAll(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 100, report.Customers)
	assert.Equal(t, 100, report.Drifted)
}

type flakyRecalculator struct{ failID string }

func (f flakyRecalculator) RecalculateFromLedger(_ context.Context, id string) (models.Customer, error) {
	if id == f.failID {
		return models.Customer{}, errors.New("connection reset")
	}
	return models.NewCustomer(id, "", d("10"), now), nil
}

func TestReconcileAll_RecordsFailures(t *testing.T) {
	store := memory.New()
	seedCustomer(t, store, "C1", "10", "0")
	seedCustomer(t, store, "C2", "10", "0")

	report, err := NewReconciler(store.Customers(), flakyRecalculator{failID: "C2"}).ReconcileAll(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, "connection reset", report.Results[1].Error)
}

func TestReconcileAll_Cancelled(t *testing.T) {
	store := memory.New()
	seedCustomer(t, store, "C1", "10", "0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewReconciler(store.Customers(), credit.NewEngine(store)).ReconcileAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
}
