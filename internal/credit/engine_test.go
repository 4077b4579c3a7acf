package credit

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm/internal/ledger"
	"crm/internal/ledger/memory"
	"crm/internal/notify"
	"crm/pkg/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store  *memory.Store
	events *notify.Recorder
	engine *Engine
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.New(),
		events: &notify.Recorder{},
		now:    time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(f.store, WithNotifier(f.events), WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) customer(t *testing.T, id, limit string) {
	t.Helper()
	require.NoError(t, f.store.Customers().Upsert(context.Background(),
		models.NewCustomer(id, "Customer "+id, d(limit), f.now)))
}

func (f *fixture) invoice(t *testing.T, id, customerID, remaining string) {
	t.Helper()
	require.NoError(t, f.store.Invoices().Upsert(context.Background(), models.Invoice{
		ID:              id,
		CustomerID:      customerID,
		TotalAmount:     d(remaining),
		RemainingAmount: d(remaining),
		Status:          models.InvoicePending,
		IssueDate:       f.now,
		DueDate:         f.now.AddDate(0, 0, 30),
	}))
}

func assertCreditInvariant(t *testing.T, c models.Customer) {
	t.Helper()
	assert.True(t, c.AvailableCredit.Equal(c.CreditLimit.Sub(c.TotalOutstanding)),
		"available %s != limit %s - outstanding %s", c.AvailableCredit, c.CreditLimit, c.TotalOutstanding)
	assert.False(t, c.TotalOutstanding.IsNegative())
}

func TestApplyOutstanding_WarningScenario(t *testing.T) {
	f := newFixture(t)
	f.customer(t, "C1", "100000")

	c, err := f.engine.ApplyOutstanding(context.Background(), "C1", d("94100"), nil)
	require.NoError(t, err)

	assert.Equal(t, "5900", c.AvailableCredit.String())
	assert.Equal(t, models.CreditWarning, c.CreditStatus)
	assertCreditInvariant(t, c)

	events := f.events.Of(notify.CreditUpdate)
	require.Len(t, events, 1)
	payload := events[0].Payload.(UpdateEvent)
	assert.Equal(t, ChangeOutstanding, payload.Change)
	assert.Equal(t, models.CreditGood, payload.OldStatus)
	assert.Equal(t, models.CreditWarning, payload.NewStatus)
}

func TestApplyOutstanding_RoundsAndClamps(t *testing.T) {
	f := newFixture(t)
	f.customer(t, "C1", "1000")
	ctx := context.Background()

	c, err := f.engine.ApplyOutstanding(ctx, "C1", d("-250"), nil)
	require.NoError(t, err)
	assert.True(t, c.TotalOutstanding.IsZero())
	assert.Equal(t, "1000", c.AvailableCredit.String())

	paid := f.now.Add(-time.Hour)
	c, err = f.engine.ApplyOutstanding(ctx, "C1", d("899.5"), &paid)
	require.NoError(t, err)
	assert.Equal(t, "900", c.TotalOutstanding.String())
	assert.Equal(t, models.CreditGood, c.CreditStatus)
	require.NotNil(t, c.LastPaymentDate)
	assert.True(t, c.LastPaymentDate.Equal(paid))
	assertCreditInvariant(t, c)
}

func TestApplyOutstanding_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.ApplyOutstanding(context.Background(), "ghost", d("1"), nil)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Empty(t, f.events.Events())
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		limit, outstanding string
		want               models.CreditStatus
	}{
		{"100000", "0", models.CreditGood},
		{"100000", "90000", models.CreditGood},
		{"100000", "90001", models.CreditWarning},
		{"100000", "100000", models.CreditWarning},
		{"100000", "100001", models.CreditExceeded},
		{"0", "0", models.CreditGood},
		{"0", "1", models.CreditExceeded},
		{"3", "2.71", models.CreditWarning},
	}

	for _, tt := range tests {
		t.Run(tt.limit+"/"+tt.outstanding, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(d(tt.limit), d(tt.outstanding)))
		})
	}
}

func TestBlockedIsStickyAcrossRecalculation(t *testing.T) {
	f := newFixture(t)
	f.customer(t, "C1", "100000")
	ctx := context.Background()

	_, err := f.engine.Block(ctx, "C1", "legal dispute")
	require.NoError(t, err)

	c, err := f.engine.ApplyOutstanding(ctx, "C1", d("120000"), nil)
	require.NoError(t, err)
	assert.Equal(t, models.CreditBlocked, c.CreditStatus)
	assert.Equal(t, "-20000", c.AvailableCredit.String())

	c, err = f.engine.Unblock(ctx, "C1", "settled")
	require.NoError(t, err)
	assert.Equal(t, models.CreditExceeded, c.CreditStatus)
	assert.Empty(t, c.BlockReason)

	_, err = f.engine.Block(ctx, "C1", "")
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

func TestRecalculateFromLedger_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.customer(t, "C1", "100000")
	f.invoice(t, "INV-1", "C1", "60000")
	f.invoice(t, "INV-2", "C1", "34100")
	f.invoice(t, "INV-3", "C2", "5000")
	ctx := context.Background()

	first, err := f.engine.RecalculateFromLedger(ctx, "C1")
	require.NoError(t, err)
	second, err := f.engine.RecalculateFromLedger(ctx, "C1")
	require.NoError(t, err)

	assert.Equal(t, "94100", first.TotalOutstanding.String())
	assert.True(t, first.TotalOutstanding.Equal(second.TotalOutstanding))
	assert.Equal(t, models.CreditWarning, second.CreditStatus)
	assert.Len(t, f.events.Of(notify.CreditUpdate), 1)

	_, err = f.engine.RecalculateFromLedger(ctx, "C9")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRecalculateAfterPayment_StampsDate(t *testing.T) {
	f := newFixture(t)
	f.customer(t, "C1", "10000")
	f.invoice(t, "INV-1", "C1", "2500")

	c, err := f.engine.RecalculateAfterPayment(context.Background(), "C1", f.now)
	require.NoError(t, err)
	require.NotNil(t, c.LastPaymentDate)
	assert.Equal(t, "7500", c.AvailableCredit.String())
}

func TestSetCreditLimit_RenegotiatedScenario(t *testing.T) {
	f := newFixture(t)
	f.customer(t, "C1", "20000")
	ctx := ledger.WithActor(context.Background(), "finance-lead")

	_, err := f.engine.ApplyOutstanding(ctx, "C1", d("17700"), nil)
	require.NoError(t, err)
	f.events.Reset()

	change, err := f.engine.SetCreditLimit(ctx, "C1", d("50000"), "renegotiated")
	require.NoError(t, err)

	assert.Equal(t, "32300", change.Customer.AvailableCredit.String())
	assert.Equal(t, models.CreditGood, change.Customer.CreditStatus)
	assertCreditInvariant(t, change.Customer)

	log := change.ChangeLog
	assert.Equal(t, "20000", log.OldLimit.String())
	assert.Equal(t, "50000", log.NewLimit.String())
	assert.Equal(t, "2300", log.OldAvailable.String())
	assert.Equal(t, "32300", log.NewAvailable.String())
	assert.Equal(t, "finance-lead", log.Actor)
	assert.Equal(t, "renegotiated", log.Reason)
	assert.NotEmpty(t, log.ID)

	events := f.events.Of(notify.CreditUpdate)
	require.Len(t, events, 1)
	payload := events[0].Payload.(UpdateEvent)
	assert.Equal(t, ChangeLimit, payload.Change)
	assert.Equal(t, "finance-lead", payload.Actor)
	assert.Equal(t, "renegotiated", payload.Reason)
	assert.Equal(t, f.now, payload.At)
}

func TestSetCreditLimit_Invalid(t *testing.T) {
	f := newFixture(t)
	f.customer(t, "C1", "100")

	_, err := f.engine.SetCreditLimit(context.Background(), "C1", d("-1"), "oops")
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
	assert.Equal(t, ledger.KindInvalid, ledger.KindOf(err))

	_, err = f.engine.SetCreditLimit(context.Background(), "nobody", d("1"), "x")
	assert.Equal(t, ledger.KindNotFound, ledger.KindOf(err))

	c, _ := f.store.Customers().Get(context.Background(), "C1")
	assert.Equal(t, "100", c.CreditLimit.String())
}

func TestCheckPurchaseAdmission_Shortfall(t *testing.T) {
	f := newFixture(t)
	f.customer(t, "C1", "100000")
	ctx := context.Background()
	_, err := f.engine.ApplyOutstanding(ctx, "C1", d("94100"), nil)
	require.NoError(t, err)
	f.events.Reset()

	res, err := f.engine.CheckPurchaseAdmission(ctx, "C1", d("10000"))
	require.NoError(t, err)

	assert.False(t, res.CanPurchase)
	assert.Equal(t, "4100", res.Shortfall.String())
	assert.Nil(t, res.AvailableAfterPurchase)
	assert.Equal(t, []string{WarnInsufficientCredit, WarnCreditWarningStatus}, codes(res.Warnings))

	// dry run: nothing changed, nothing emitted
	c, _ := f.store.Customers().Get(ctx, "C1")
	assert.Equal(t, "5900", c.AvailableCredit.String())
	assert.Empty(t, f.events.Events())
}

func TestCheckPurchaseAdmission_CriticalThreshold(t *testing.T) {
	f := newFixture(t)
	f.customer(t, "C1", "10000")
	ctx := context.Background()

	res, err := f.engine.CheckPurchaseAdmission(ctx, "C1", d("9500"))
	require.NoError(t, err)
	assert.True(t, res.CanPurchase)
	require.NotNil(t, res.AvailableAfterPurchase)
	assert.Equal(t, "500", res.AvailableAfterPurchase.String())
	assert.Equal(t, []string{WarnPostPurchaseCritical}, codes(res.Warnings))

	res, err = f.engine.CheckPurchaseAdmission(ctx, "C1", d("9000"))
	require.NoError(t, err)
	assert.True(t, res.CanPurchase)
	assert.Empty(t, res.Warnings)
}

func TestCheckPurchaseAdmission_Errors(t *testing.T) {
	f := newFixture(t)
	f.customer(t, "C1", "10000")
	ctx := context.Background()

	for _, amount := range []string{"0", "-5"} {
		_, err := f.engine.CheckPurchaseAdmission(ctx, "C1", d(amount))
		assert.ErrorIs(t, err, ledger.ErrInvalidArgument, amount)
	}

	_, err := f.engine.CheckPurchaseAdmission(ctx, "C2", d("1"))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestCheckPurchaseAdmission_BlockedIsAdvisory(t *testing.T) {
	f := newFixture(t)
	f.customer(t, "C1", "10000")
	ctx := context.Background()
	_, err := f.engine.Block(ctx, "C1", "manual review")
	require.NoError(t, err)

	res, err := f.engine.CheckPurchaseAdmission(ctx, "C1", d("100"))
	require.NoError(t, err)
	assert.True(t, res.CanPurchase)
	assert.Contains(t, codes(res.Warnings), WarnAccountBlocked)
}

func codes(ws []Warning) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}
