package invoice_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"crm/internal/credit"
	"crm/internal/invoice"
	"crm/internal/ledger/memory"
	"crm/pkg/models"
)

// Example issues an invoice and settles it in two payments.
func Example() {
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := memory.New()
	if err := store.Customers().Upsert(ctx, models.NewCustomer("C1", "Ozturk Gida", decimal.NewFromInt(100000), now)); err != nil {
		log.Fatal(err)
	}

	engine := credit.NewEngine(store, credit.WithClock(clock))
	svc := invoice.NewService(store, engine, invoice.WithClock(clock), invoice.WithPaymentTerms(15))

	issued, err := svc.Issue(ctx, invoice.IssueRequest{
		ID:         "INV-1",
		Number:     "2025-0001",
		CustomerID: "C1",
		Items: []models.InvoiceItem{
			{ProductID: "P1", Quantity: 100, UnitPrice: decimal.NewFromInt(941)},
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s due %s: %s remaining, customer available %s (%s)\n",
		issued.Invoice.Number,
		issued.Invoice.DueDate.Format(time.DateOnly),
		issued.Invoice.RemainingAmount,
		issued.Customer.AvailableCredit,
		issued.Customer.CreditStatus)

	for _, amount := range []int64{50000, 50000} {
		paid, err := svc.ApplyPayment(ctx, "INV-1", decimal.NewFromInt(amount), now)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("paid %d: %s, %s remaining, overpayment %s\n",
			amount, paid.Invoice.Status, paid.Invoice.RemainingAmount, paid.Overpayment)
	}

	// Output:
	// 2025-0001 due 2025-06-17: 94100 remaining, customer available 5900 (warning)
	// paid 50000: partial, 44100 remaining, overpayment 0
	// paid 50000: paid, 0 remaining, overpayment 5900
}
