package admission

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm/internal/credit"
	"crm/internal/ledger"
	"crm/internal/ledger/memory"
	"crm/internal/notify"
	"crm/internal/stock"
	"crm/pkg/models"
)

type harness struct {
	store      *memory.Store
	events     *notify.Recorder
	controller *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: memory.New(), events: &notify.Recorder{}}
	ce := credit.NewEngine(h.store, credit.WithNotifier(h.events))
	se := stock.NewEngine(h.store, stock.WithNotifier(h.events))
	h.controller = NewController(ce, se, se)

	ctx := context.Background()
	require.NoError(t, h.store.Customers().Upsert(ctx,
		models.NewCustomer("C1", "Ozturk Gida", decimal.NewFromInt(100000), time.Now())))
	require.NoError(t, h.store.Products().Upsert(ctx,
		models.Product{ID: "P1", Stock: models.Stock{Current: 15000, Minimum: 100}}))
	require.NoError(t, h.store.Products().Upsert(ctx,
		models.Product{ID: "P2", Stock: models.Stock{Current: 30, Reserved: 10}}))
	return h
}

func line(product string, qty int64, price string) SaleLine {
	return SaleLine{ProductID: product, Quantity: qty, UnitPrice: decimal.RequireFromString(price)}
}

func TestEvaluateSale_Admissible(t *testing.T) {
	h := newHarness(t)

	d, err := h.controller.EvaluateSale(context.Background(), "C1", []SaleLine{
		line("P1", 100, "250.50"),
		line("P2", 20, "100"),
	})
	require.NoError(t, err)

	assert.True(t, d.Admissible)
	assert.Equal(t, "27050", d.TotalAmount.String())
	assert.Empty(t, d.StockShortfalls)
	assert.True(t, d.CreditShortfall.IsZero())
	require.NotNil(t, d.Credit.AvailableAfterPurchase)
	assert.Equal(t, "72950", d.Credit.AvailableAfterPurchase.String())
}

func TestEvaluateSale_StockShortfallRejectsWholeSale(t *testing.T) {
	h := newHarness(t)

	d, err := h.controller.EvaluateSale(context.Background(), "C1", []SaleLine{
		line("P1", 10, "10"),
		line("P2", 15, "10"),
		line("P2", 10, "10"),
	})
	require.NoError(t, err)

	assert.False(t, d.Admissible)
	assert.True(t, d.Credit.CanPurchase)
	require.Len(t, d.StockShortfalls, 1)

	s := d.StockShortfalls[0]
	assert.Equal(t, "P2", s.ProductID)
	assert.Equal(t, []int{1, 2}, s.Lines)
	assert.Equal(t, int64(25), s.Requested)
	assert.Equal(t, int64(20), s.Available)
	assert.Equal(t, int64(5), s.Missing)
}

func TestEvaluateSale_CreditShortfallRejectsWholeSale(t *testing.T) {
	h := newHarness(t)

	d, err := h.controller.EvaluateSale(context.Background(), "C1", []SaleLine{line("P1", 1000, "120")})
	require.NoError(t, err)

	assert.False(t, d.Admissible)
	assert.Empty(t, d.StockShortfalls)
	assert.Equal(t, "20000", d.CreditShortfall.String())
	assert.Equal(t, credit.WarnInsufficientCredit, d.Warnings[0].Code)
}

func TestEvaluateSale_UnknownProductIsAShortfall(t *testing.T) {
	h := newHarness(t)

	d, err := h.controller.EvaluateSale(context.Background(), "C1", []SaleLine{line("P404", 1, "5")})
	require.NoError(t, err)

	assert.False(t, d.Admissible)
	require.Len(t, d.StockShortfalls, 1)
	assert.True(t, d.StockShortfalls[0].Unknown)
	assert.Equal(t, int64(1), d.StockShortfalls[0].Missing)
	assert.Equal(t, WarnUnknownProduct, d.Warnings[len(d.Warnings)-1].Code)
}

func TestEvaluateSale_LowStockAfterSaleWarning(t *testing.T) {
	h := newHarness(t)

	d, err := h.controller.EvaluateSale(context.Background(), "C1", []SaleLine{line("P1", 14950, "1")})
	require.NoError(t, err)

	assert.True(t, d.Admissible)
	require.Len(t, d.Warnings, 1)
	assert.Equal(t, WarnLowStockAfterSale, d.Warnings[0].Code)
}

func TestEvaluateSale_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		customer string
		lines    []SaleLine
		kind     ledger.Kind
	}{
		{"no lines", "C1", nil, ledger.KindInvalid},
		{"zero quantity", "C1", []SaleLine{line("P1", 0, "1")}, ledger.KindInvalid},
		{"negative price", "C1", []SaleLine{line("P1", 1, "-1")}, ledger.KindInvalid},
		{"missing product id", "C1", []SaleLine{line("", 1, "1")}, ledger.KindInvalid},
		{"zero total", "C1", []SaleLine{line("P1", 1, "0")}, ledger.KindInvalid},
		{"unknown customer", "C9", []SaleLine{line("P1", 1, "1")}, ledger.KindNotFound},
		{"combined quantity overflows", "C1", []SaleLine{
			line("P1", math.MaxInt64, "0"),
			line("P1", math.MaxInt64, "0"),
			line("P2", 1, "1"),
		}, ledger.KindInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.controller.EvaluateSale(ctx, tt.customer, tt.lines)
			require.Error(t, err)
			assert.Equal(t, tt.kind, ledger.KindOf(err))
		})
	}
}

func TestEvaluateSale_AccountRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inactive := models.NewCustomer("C2", "Kapanan Ltd", decimal.NewFromInt(100000), time.Now())
	inactive.Status = models.CustomerInactive
	blocked := models.NewCustomer("C3", "Riskli AS", decimal.NewFromInt(100000), time.Now())
	blocked.CreditStatus = models.CreditBlocked
	blocked.BlockReason = "legal dispute"
	require.NoError(t, h.store.Customers().Upsert(ctx, inactive))
	require.NoError(t, h.store.Customers().Upsert(ctx, blocked))

	tests := []struct {
		customer  string
		rejection string
		warning   string
	}{
		{"C2", "customer is inactive", credit.WarnCustomerInactive},
		{"C3", "customer account is blocked", credit.WarnAccountBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.customer, func(t *testing.T) {
			d, err := h.controller.EvaluateSale(ctx, tt.customer, []SaleLine{line("P1", 10, "10")})
			require.NoError(t, err)

			assert.False(t, d.Admissible)
			assert.True(t, d.Credit.CanPurchase)
			assert.Empty(t, d.StockShortfalls)
			assert.Equal(t, tt.rejection, d.AccountRejection)

			var codes []string
			for _, w := range d.Warnings {
				codes = append(codes, w.Code)
			}
			assert.Contains(t, codes, tt.warning)
		})
	}
}

func TestEvaluateSale_NeverMutates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	before := h.store.Export()

	_, err := h.controller.EvaluateSale(ctx, "C1", []SaleLine{line("P1", 20000, "10"), line("P2", 1, "1")})
	require.NoError(t, err)

	assert.Equal(t, before, h.store.Export())
	assert.Empty(t, h.events.Events())
}

type failingStock struct{}

func (failingStock) CheckAvailability(context.Context, string, int64) bool { return false }
func (failingStock) Available(context.Context, string) (int64, error) {
	return 0, errors.New("connection reset")
}

func TestEvaluateSale_StoreFailureIsAnError(t *testing.T) {
	h := newHarness(t)
	c := NewController(credit.NewEngine(h.store), failingStock{}, nil)

	_, err := c.EvaluateSale(context.Background(), "C1", []SaleLine{line("P1", 1, "1")})
	require.Error(t, err)
	assert.Equal(t, ledger.KindInternal, ledger.KindOf(err))
}
