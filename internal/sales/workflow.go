// Package sales commits multi-line sales.
//
// Commit holds the customer scope and every product scope from the
// admission decision through the stock decrements and the invoice, so no
// concurrent sale can consume the stock or credit the decision relied on.
package sales

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crm/internal/admission"
	"crm/internal/invoice"
	"crm/internal/ledger"
	"crm/internal/logger"
	"crm/internal/stock"
	"crm/pkg/models"
)

// RollbackReason is the movement reason recorded when a partially applied
// sale is undone.
const RollbackReason = "sale rollback"

// Evaluator decides whether a sale is admissible.
type Evaluator interface {
	EvaluateSale(ctx context.Context, customerID string, lines []admission.SaleLine) (admission.Decision, error)
}

// StockMover applies and undoes stock decrements.
type StockMover interface {
	DecreaseForSale(ctx context.Context, productID string, quantity int64) (models.Product, error)
	AdjustStock(ctx context.Context, productID string, delta int64, reason string) (stock.Adjustment, error)
}

// InvoiceIssuer books the sale on the invoice ledger.
type InvoiceIssuer interface {
	Issue(ctx context.Context, req invoice.IssueRequest) (invoice.IssueResult, error)
}

// CommitRequest is a sale to commit.
type CommitRequest struct {
	CustomerID    string
	Lines         []admission.SaleLine
	InvoiceNumber string    // optional
	IssueDate     time.Time // optional, defaults to now
	DueDate       time.Time // optional, defaults to the payment terms
}

// CommitResult is the outcome of a committed or rejected sale.
type CommitResult struct {
	Decision admission.Decision `json:"decision"`
	Invoice  *models.Invoice    `json:"invoice,omitempty"`
	Customer *models.Customer   `json:"customer,omitempty"`
	Products []models.Product   `json:"products,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
}

// Workflow commits sales.
type Workflow struct {
	locker    *ledger.Locker
	evaluator Evaluator
	stock     StockMover
	invoices  InvoiceIssuer
	log       zerolog.Logger
}

// NewWorkflow builds a workflow. locker must be the one shared with the
// engines behind evaluator, stock and invoices.
func NewWorkflow(locker *ledger.Locker, evaluator Evaluator, stock StockMover, invoices InvoiceIssuer) *Workflow {
	return &Workflow{
		locker:    locker,
		evaluator: evaluator,
		stock:     stock,
		invoices:  invoices,
		log:       logger.WithComponent("sales"),
	}
}

// Commit evaluates the sale and, when admissible, decrements stock line by
// line and issues the invoice. A rejected sale returns the decision together
// with an error wrapping ErrSaleRejected. A failure after the first
// decrement restores every decrement already applied.
func (w *Workflow) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	const op = "CommitSale"

	keys := make([]string, 0, len(req.Lines)+1)
	keys = append(keys, ledger.CustomerKey(req.CustomerID))
	for _, line := range req.Lines {
		keys = append(keys, ledger.ProductKey(line.ProductID))
	}
	ctx, release := w.locker.Acquire(ctx, keys...)
	defer release()

	log := logger.WithActor(w.log, ledger.ActorFrom(ctx)).With().Str("customer_id", req.CustomerID).Logger()

	decision, err := w.evaluator.EvaluateSale(ctx, req.CustomerID, req.Lines)
	if err != nil {
		return CommitResult{}, ledger.WrapOpError(op, req.CustomerID, err)
	}
	result := CommitResult{Decision: decision}

	if !decision.Admissible {
		reason := rejectionDetails(decision)
		log.Info().
			Str("total", decision.TotalAmount.String()).
			Str("reason", reason).
			Msg("Sale rejected")
		return result, ledger.NewOpError(op, req.CustomerID, ledger.ErrSaleRejected, reason)
	}

	applied := make([]admission.SaleLine, 0, len(req.Lines))
	products := make(map[string]models.Product, len(req.Lines))
	order := make([]string, 0, len(req.Lines))
	for _, line := range req.Lines {
		p, err := w.stock.DecreaseForSale(ctx, line.ProductID, line.Quantity)
		if err != nil {
			w.rollback(ctx, applied, log)
			return result, ledger.WrapOpError(op, req.CustomerID, err)
		}
		applied = append(applied, line)
		if _, seen := products[p.ID]; !seen {
			order = append(order, p.ID)
		}
		products[p.ID] = p
	}

	items := make([]models.InvoiceItem, 0, len(req.Lines))
	for _, line := range req.Lines {
		items = append(items, models.InvoiceItem{
			ProductID:   line.ProductID,
			Description: products[line.ProductID].Name,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		})
	}

	issued, err := w.invoices.Issue(ctx, invoice.IssueRequest{
		Number:     req.InvoiceNumber,
		CustomerID: req.CustomerID,
		Items:      items,
		IssueDate:  req.IssueDate,
		DueDate:    req.DueDate,
	})
	if err != nil {
		w.rollback(ctx, applied, log)
		return result, ledger.WrapOpError(op, req.CustomerID, err)
	}

	result.Invoice = &issued.Invoice
	result.Customer = &issued.Customer
	result.Warnings = issued.Warnings
	for _, id := range order {
		result.Products = append(result.Products, products[id])
	}

	log.Info().
		Str("invoice_id", issued.Invoice.ID).
		Str("total", issued.Invoice.TotalAmount.String()).
		Int("lines", len(req.Lines)).
		Str("available_credit", issued.Customer.AvailableCredit.String()).
		Msg("Sale committed")

	return result, nil
}

func (w *Workflow) rollback(ctx context.Context, applied []admission.SaleLine, log zerolog.Logger) {
	for i := len(applied) - 1; i >= 0; i-- {
		line := applied[i]
		if _, err := w.stock.AdjustStock(ctx, line.ProductID, line.Quantity, RollbackReason); err != nil {
			log.Error().Err(err).
				Str("product_id", line.ProductID).
				Int64("quantity", line.Quantity).
				Msg("Failed to restore stock after aborted sale")
		}
	}
	if len(applied) > 0 {
		log.Warn().Int("lines", len(applied)).Msg("Sale rolled back")
	}
}

func rejectionDetails(d admission.Decision) string {
	var parts []string
	if d.AccountRejection != "" {
		parts = append(parts, d.AccountRejection)
	}
	for _, s := range d.StockShortfalls {
		if s.Unknown {
			parts = append(parts, fmt.Sprintf("unknown product %s", s.ProductID))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s short by %d", s.ProductID, s.Missing))
	}
	if d.CreditShortfall.IsPositive() {
		parts = append(parts, "credit short by "+d.CreditShortfall.String())
	}
	if len(parts) == 0 {
		return "not admissible"
	}
	return strings.Join(parts, "; ")
}
