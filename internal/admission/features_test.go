package admission_test

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"crm/internal/admission"
	"crm/internal/credit"
	"crm/internal/ledger"
	"crm/internal/ledger/memory"
	"crm/internal/notify"
	"crm/internal/stock"
	"crm/pkg/models"
)

type ledgerTestContext struct {
	store      *memory.Store
	events     *notify.Recorder
	credit     *credit.Engine
	stock      *stock.Engine
	controller *admission.Controller

	err       error
	check     *credit.CheckResult
	decision  *admission.Decision
	shortfall decimal.Decimal
}

func (c *ledgerTestContext) reset() {
	c.store = memory.New()
	c.events = &notify.Recorder{}
	locker := ledger.NewLocker()
	c.credit = credit.NewEngine(c.store, credit.WithNotifier(c.events), credit.WithLocker(locker))
	c.stock = stock.NewEngine(c.store, stock.WithNotifier(c.events), stock.WithLocker(locker))
	c.controller = admission.NewController(c.credit, c.stock, c.stock)
	c.err = nil
	c.check = nil
	c.decision = nil
	c.shortfall = decimal.Zero
}

func (c *ledgerTestContext) aCustomerWithCreditLimit(id string, limit int64) error {
	return c.store.Customers().Upsert(context.Background(),
		models.NewCustomer(id, "Customer "+id, decimal.NewFromInt(limit), time.Now()))
}

func (c *ledgerTestContext) theOutstandingBalanceIs(id string, outstanding int64) error {
	_, err := c.credit.ApplyOutstanding(context.Background(), id, decimal.NewFromInt(outstanding), nil)
	return err
}

func (c *ledgerTestContext) aProductWithUnits(id string, units int64) error {
	return c.store.Products().Upsert(context.Background(), models.Product{
		ID:    id,
		Name:  "Product " + id,
		Stock: models.Stock{Current: units},
	})
}

func (c *ledgerTestContext) iAdjustTheStock(id string, delta int64, reason string) error {
	_, c.err = c.stock.AdjustStock(context.Background(), id, delta, reason)
	return nil
}

func (c *ledgerTestContext) iCheckAPurchase(amount int64, id string) error {
	res, err := c.credit.CheckPurchaseAdmission(context.Background(), id, decimal.NewFromInt(amount))
	if err != nil {
		return err
	}
	c.check = &res
	c.shortfall = res.Shortfall
	return nil
}

func (c *ledgerTestContext) iSetTheCreditLimit(id string, limit int64, reason string) error {
	_, err := c.credit.SetCreditLimit(context.Background(), id, decimal.NewFromInt(limit), reason)
	return err
}

func (c *ledgerTestContext) iEvaluateASale(id string, table *godog.Table) error {
	var lines []admission.SaleLine
	for i, row := range table.Rows {
		if i == 0 {
			continue
		}
		qty, err := strconv.ParseInt(row.Cells[1].Value, 10, 64)
		if err != nil {
			return err
		}
		price, err := decimal.NewFromString(row.Cells[2].Value)
		if err != nil {
			return err
		}
		lines = append(lines, admission.SaleLine{ProductID: row.Cells[0].Value, Quantity: qty, UnitPrice: price})
	}

	decision, err := c.controller.EvaluateSale(context.Background(), id, lines)
	if err != nil {
		c.err = err
		return nil
	}
	c.decision = &decision
	c.shortfall = decision.CreditShortfall
	return nil
}

func (c *ledgerTestContext) customerHasAvailableCredit(id string, want int64) error {
	cust, err := c.store.Customers().Get(context.Background(), id)
	if err != nil {
		return err
	}
	if !cust.AvailableCredit.Equal(decimal.NewFromInt(want)) {
		return fmt.Errorf("expected available credit %d, got %s", want, cust.AvailableCredit)
	}
	if !cust.AvailableCredit.Equal(cust.CreditLimit.Sub(cust.TotalOutstanding)) {
		return fmt.Errorf("available credit %s does not match limit %s - outstanding %s",
			cust.AvailableCredit, cust.CreditLimit, cust.TotalOutstanding)
	}
	return nil
}

func (c *ledgerTestContext) customerHasCreditStatus(id, want string) error {
	cust, err := c.store.Customers().Get(context.Background(), id)
	if err != nil {
		return err
	}
	if string(cust.CreditStatus) != want {
		return fmt.Errorf("expected credit status %q, got %q", want, cust.CreditStatus)
	}
	return nil
}

func (c *ledgerTestContext) theOperationIsRejectedAs(kind string) error {
	if c.err == nil {
		return fmt.Errorf("expected a %s error, got none", kind)
	}
	if got := ledger.KindOf(c.err).String(); got != kind {
		return fmt.Errorf("expected a %s error, got %s: %v", kind, got, c.err)
	}
	return nil
}

func (c *ledgerTestContext) productHasUnits(id string, want int64) error {
	p, err := c.store.Products().Get(context.Background(), id)
	if err != nil {
		return err
	}
	if p.Stock.Current != want {
		return fmt.Errorf("expected %d units of %s, got %d", want, id, p.Stock.Current)
	}
	return nil
}

func (c *ledgerTestContext) eventsWereEmitted(count int, eventType string) error {
	if got := len(c.events.Of(notify.EventType(eventType))); got != count {
		return fmt.Errorf("expected %d %s events, got %d", count, eventType, got)
	}
	return nil
}

func (c *ledgerTestContext) thePurchaseIs(not string) error {
	if c.check == nil {
		return fmt.Errorf("no purchase was checked")
	}
	if want := not == ""; c.check.CanPurchase != want {
		return fmt.Errorf("expected can_purchase=%t, got %t", want, c.check.CanPurchase)
	}
	return nil
}

func (c *ledgerTestContext) theSaleIs(not string) error {
	if c.decision == nil {
		return fmt.Errorf("no sale was evaluated: %v", c.err)
	}
	if want := not == ""; c.decision.Admissible != want {
		return fmt.Errorf("expected admissible=%t, got %t", want, c.decision.Admissible)
	}
	return nil
}

func (c *ledgerTestContext) theCreditShortfallIs(want int64) error {
	if !c.shortfall.Equal(decimal.NewFromInt(want)) {
		return fmt.Errorf("expected credit shortfall %d, got %s", want, c.shortfall)
	}
	return nil
}

func (c *ledgerTestContext) productIsShortBy(id string, missing int64) error {
	if c.decision == nil {
		return fmt.Errorf("no sale was evaluated")
	}
	for _, s := range c.decision.StockShortfalls {
		if s.ProductID == id {
			if s.Missing != missing {
				return fmt.Errorf("expected %s to be short by %d, got %d", id, missing, s.Missing)
			}
			return nil
		}
	}
	return fmt.Errorf("no shortfall reported for %s", id)
}

func (c *ledgerTestContext) noStockShortfallIsReported() error {
	if c.decision == nil {
		return fmt.Errorf("no sale was evaluated")
	}
	if n := len(c.decision.StockShortfalls); n != 0 {
		return fmt.Errorf("expected no stock shortfall, got %d", n)
	}
	return nil
}

func (c *ledgerTestContext) theCreditCheckPassed() error {
	if c.decision == nil || !c.decision.Credit.CanPurchase {
		return fmt.Errorf("expected the credit check to pass")
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &ledgerTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^a customer "([^"]*)" with a credit limit of (\d+)$`, tc.aCustomerWithCreditLimit)
	ctx.Step(`^the outstanding balance of "([^"]*)" is (\d+)$`, tc.theOutstandingBalanceIs)
	ctx.Step(`^a product "([^"]*)" with (\d+) units in stock$`, tc.aProductWithUnits)

	// When steps
	ctx.Step(`^I adjust the stock of "([^"]*)" by (-?\d+) because "([^"]*)"$`, tc.iAdjustTheStock)
	ctx.Step(`^I check a purchase of (\d+) for "([^"]*)"$`, tc.iCheckAPurchase)
	ctx.Step(`^I set the credit limit of "([^"]*)" to (\d+) because "([^"]*)"$`, tc.iSetTheCreditLimit)
	ctx.Step(`^I evaluate a sale for "([^"]*)":$`, tc.iEvaluateASale)

	// Then steps
	ctx.Step(`^customer "([^"]*)" has (\d+) available credit$`, tc.customerHasAvailableCredit)
	ctx.Step(`^customer "([^"]*)" has credit status "([^"]*)"$`, tc.customerHasCreditStatus)
	ctx.Step(`^the operation is rejected as "([^"]*)"$`, tc.theOperationIsRejectedAs)
	ctx.Step(`^product "([^"]*)" has (\d+) units in stock$`, tc.productHasUnits)
	ctx.Step(`^(\d+) "([^"]*)" events? (?:was|were) emitted$`, tc.eventsWereEmitted)
	ctx.Step(`^the purchase is (not )?admissible$`, tc.thePurchaseIs)
	ctx.Step(`^the sale is (not )?admissible$`, tc.theSaleIs)
	ctx.Step(`^the credit shortfall is (\d+)$`, tc.theCreditShortfallIs)
	ctx.Step(`^product "([^"]*)" is short by (\d+) units$`, tc.productIsShortBy)
	ctx.Step(`^no stock shortfall is reported$`, tc.noStockShortfallIsReported)
	ctx.Step(`^the credit check passed$`, tc.theCreditCheckPassed)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"../../features/credit_stock.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
