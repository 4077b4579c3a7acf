package sales

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm/internal/admission"
	"crm/internal/credit"
	"crm/internal/invoice"
	"crm/internal/ledger"
	"crm/internal/ledger/memory"
	"crm/internal/notify"
	"crm/internal/stock"
	"crm/pkg/models"
)

type fixture struct {
	store    *memory.Store
	events   *notify.Recorder
	stock    *stock.Engine
	invoices *invoice.Service
	workflow *Workflow
	locker   *ledger.Locker
	ctrl     *admission.Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	f := &fixture{store: memory.New(), events: &notify.Recorder{}, locker: ledger.NewLocker()}
	ce := credit.NewEngine(f.store, credit.WithNotifier(f.events), credit.WithLocker(f.locker), credit.WithClock(clock))
	f.stock = stock.NewEngine(f.store, stock.WithNotifier(f.events), stock.WithLocker(f.locker), stock.WithClock(clock))
	f.ctrl = admission.NewController(ce, f.stock, f.stock)
	f.invoices = invoice.NewService(f.store, ce, invoice.WithLocker(f.locker), invoice.WithClock(clock))
	f.workflow = NewWorkflow(f.locker, f.ctrl, f.stock, f.invoices)

	ctx := context.Background()
	require.NoError(t, f.store.Customers().Upsert(ctx,
		models.NewCustomer("C1", "Ozturk Gida", decimal.NewFromInt(100000), now)))
	require.NoError(t, f.store.Products().Upsert(ctx,
		models.Product{ID: "P1", Name: "Un 50kg", Stock: models.Stock{Current: 15000}}))
	require.NoError(t, f.store.Products().Upsert(ctx,
		models.Product{ID: "P2", Name: "Seker 25kg", Stock: models.Stock{Current: 40}}))
	return f
}

func line(product string, qty int64, price int64) admission.SaleLine {
	return admission.SaleLine{ProductID: product, Quantity: qty, UnitPrice: decimal.NewFromInt(price)}
}

func (f *fixture) product(t *testing.T, id string) models.Product {
	t.Helper()
	p, err := f.store.Products().Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fixture) customer(t *testing.T, id string) models.Customer {
	t.Helper()
	c, err := f.store.Customers().Get(context.Background(), id)
	require.NoError(t, err)
	return c
}

func TestCommit_Admissible(t *testing.T) {
	f := newFixture(t)

	res, err := f.workflow.Commit(context.Background(), CommitRequest{
		CustomerID: "C1",
		Lines:      []admission.SaleLine{line("P1", 100, 900), line("P2", 10, 200), line("P1", 5, 100)},
	})
	require.NoError(t, err)

	assert.True(t, res.Decision.Admissible)
	require.NotNil(t, res.Invoice)
	assert.Equal(t, "92500", res.Invoice.TotalAmount.String())
	assert.Len(t, res.Invoice.Items, 3)
	assert.Equal(t, "Un 50kg", res.Invoice.Items[0].Description)

	require.Len(t, res.Products, 2)
	assert.Equal(t, "P1", res.Products[0].ID)
	assert.Equal(t, int64(14895), res.Products[0].Stock.Current)
	assert.Equal(t, int64(30), res.Products[1].Stock.Current)

	require.NotNil(t, res.Customer)
	assert.Equal(t, "7500", res.Customer.AvailableCredit.String())
	assert.Equal(t, models.CreditWarning, res.Customer.CreditStatus)

	assert.Len(t, f.events.Of(notify.StockUpdate), 3)
	assert.Len(t, f.events.Of(notify.CreditUpdate), 1)
}

func TestCommit_RejectedLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	before := f.store.Export()

	res, err := f.workflow.Commit(context.Background(), CommitRequest{
		CustomerID: "C1",
		Lines:      []admission.SaleLine{line("P1", 10, 100), line("P2", 41, 100)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrSaleRejected)
	assert.Equal(t, ledger.KindRejected, ledger.KindOf(err))
	assert.Contains(t, err.Error(), "P2 short by 1")

	assert.False(t, res.Decision.Admissible)
	assert.Nil(t, res.Invoice)
	assert.Equal(t, before, f.store.Export())
	assert.Empty(t, f.events.Events())
}

func TestCommit_CreditRejection(t *testing.T) {
	f := newFixture(t)

	res, err := f.workflow.Commit(context.Background(), CommitRequest{
		CustomerID: "C1",
		Lines:      []admission.SaleLine{line("P1", 1000, 120)},
	})
	require.ErrorIs(t, err, ledger.ErrSaleRejected)
	assert.Equal(t, "20000", res.Decision.CreditShortfall.String())
	assert.Equal(t, int64(15000), f.product(t, "P1").Stock.Current)
}

func TestCommit_InactiveCustomerMovesNoStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Customers().Delete(ctx, "C1"))
	before := f.store.Export()

	res, err := f.workflow.Commit(ctx, CommitRequest{
		CustomerID: "C1",
		Lines:      []admission.SaleLine{line("P1", 10, 100)},
	})
	require.ErrorIs(t, err, ledger.ErrSaleRejected)
	assert.Contains(t, err.Error(), "customer is inactive")
	assert.Equal(t, "customer is inactive", res.Decision.AccountRejection)

	assert.Equal(t, before, f.store.Export())
	assert.Empty(t, f.events.Events())
}

func TestCommit_InvalidRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.workflow.Commit(context.Background(), CommitRequest{CustomerID: "C1"})
	assert.Equal(t, ledger.KindInvalid, ledger.KindOf(err))

	_, err = f.workflow.Commit(context.Background(), CommitRequest{CustomerID: "C404", Lines: []admission.SaleLine{line("P1", 1, 1)}})
	assert.Equal(t, ledger.KindNotFound, ledger.KindOf(err))
}

type failingIssuer struct{}

func (failingIssuer) Issue(context.Context, invoice.IssueRequest) (invoice.IssueResult, error) {
	return invoice.IssueResult{}, errors.New("disk full")
}

func TestCommit_InvoiceFailureRestoresStock(t *testing.T) {
	f := newFixture(t)
	w := NewWorkflow(f.locker, f.ctrl, f.stock, failingIssuer{})

	_, err := w.Commit(context.Background(), CommitRequest{
		CustomerID: "C1",
		Lines:      []admission.SaleLine{line("P1", 100, 10), line("P2", 5, 10)},
	})
	require.Error(t, err)
	assert.Equal(t, ledger.KindInternal, ledger.KindOf(err))

	assert.Equal(t, int64(15000), f.product(t, "P1").Stock.Current)
	assert.Equal(t, int64(40), f.product(t, "P2").Stock.Current)
	assert.True(t, f.customer(t, "C1").TotalOutstanding.IsZero())

	// two decrements and two restores
	assert.Len(t, f.events.Of(notify.StockUpdate), 4)
}

func TestCommit_ConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const buyers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.workflow.Commit(ctx, CommitRequest{
				CustomerID: "C1",
				Lines:      []admission.SaleLine{line("P2", 7, 1000)},
			})
			if err == nil {
				mu.Lock()
				committed++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ledger.ErrSaleRejected)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, committed)
	assert.Equal(t, int64(5), f.product(t, "P2").Stock.Current)

	c := f.customer(t, "C1")
	assert.Equal(t, "35000", c.TotalOutstanding.String())
	assert.Equal(t, "65000", c.AvailableCredit.String())
}
