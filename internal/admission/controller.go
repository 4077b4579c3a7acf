// Package admission decides whether a multi-line sale may be committed.
//
// A sale is admissible only when every line has stock and the customer's
// credit covers the total. The controller only reads: committing the sale
// is the caller's job, and a caller that wants the decision to hold at
// commit time must keep the customer and product scopes across both steps.
package admission

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crm/internal/credit"
	"crm/internal/ledger"
	"crm/internal/logger"
	"crm/pkg/models"
)

// Warning codes raised by the controller itself.
const (
	WarnStockShortfall    = "insufficient_stock"
	WarnUnknownProduct    = "unknown_product"
	WarnLowStockAfterSale = "low_stock_after_sale"
)

// SaleLine is one line of a proposed sale.
type SaleLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// StockShortfall describes a product whose demand cannot be served.
// Demand is aggregated over all lines of the product.
type StockShortfall struct {
	ProductID string `json:"product_id"`
	Lines     []int  `json:"lines"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available"`
	Missing   int64  `json:"missing"`
	Unknown   bool   `json:"unknown,omitempty"`
}

// Decision is the combined outcome of the stock and credit checks.
type Decision struct {
	CustomerID      string             `json:"customer_id"`
	Admissible      bool               `json:"admissible"`
	TotalAmount     decimal.Decimal    `json:"total_amount"`
	StockShortfalls []StockShortfall   `json:"stock_shortfalls,omitempty"`
	CreditShortfall decimal.Decimal    `json:"credit_shortfall"`
	Credit          credit.CheckResult `json:"credit"`
	Warnings        []credit.Warning   `json:"warnings,omitempty"`

	// AccountRejection is set when the customer may not buy at all:
	// inactive customers and manually blocked accounts.
	AccountRejection string `json:"account_rejection,omitempty"`
}

// CreditChecker is the credit side of admission.
type CreditChecker interface {
	CheckPurchaseAdmission(ctx context.Context, customerID string, amount decimal.Decimal) (credit.CheckResult, error)
}

// StockChecker is the stock side of admission.
type StockChecker interface {
	CheckAvailability(ctx context.Context, productID string, quantity int64) bool
	Available(ctx context.Context, productID string) (int64, error)
}

// ProductMinimums reports a product's configured minimum stock, if any.
type ProductMinimums interface {
	Minimum(ctx context.Context, productID string) (int64, bool)
}

// Controller is the admission controller.
type Controller struct {
	credit   CreditChecker
	stock    StockChecker
	minimums ProductMinimums
	log      zerolog.Logger
}

// NewController builds a controller. minimums may be nil, which disables
// the low-stock-after-sale warning.
func NewController(c CreditChecker, s StockChecker, minimums ProductMinimums) *Controller {
	return &Controller{
		credit:   c,
		stock:    s,
		minimums: minimums,
		log:      logger.WithComponent("admission"),
	}
}

// EvaluateSale checks every line for stock, sums quantity * unit price,
// and runs the credit check on the total. It never mutates state.
//
// Unknown customers fail with ErrNotFound, malformed lines with
// ErrInvalidArgument. Missing stock or credit, inactive customers and
// blocked accounts are reported in the decision.
func (c *Controller) EvaluateSale(ctx context.Context, customerID string, lines []SaleLine) (Decision, error) {
	const op = "EvaluateSale"

	if len(lines) == 0 {
		return Decision{}, ledger.Invalid(op, customerID, "lines", 0, "a sale needs at least one line")
	}

	total := decimal.Zero
	demand := make(map[string]int64)
	lineIdx := make(map[string][]int)
	order := make([]string, 0, len(lines))
	for i, line := range lines {
		if line.ProductID == "" {
			return Decision{}, ledger.Invalid(op, customerID, fmt.Sprintf("lines[%d].product_id", i), line.ProductID, "product id is required")
		}
		if line.Quantity <= 0 {
			return Decision{}, ledger.Invalid(op, customerID, fmt.Sprintf("lines[%d].quantity", i), line.Quantity, "quantity must be positive")
		}
		if line.UnitPrice.IsNegative() {
			return Decision{}, ledger.Invalid(op, customerID, fmt.Sprintf("lines[%d].unit_price", i), line.UnitPrice.String(), "unit price must not be negative")
		}
		if demand[line.ProductID] > math.MaxInt64-line.Quantity {
			return Decision{}, ledger.Invalid(op, customerID, fmt.Sprintf("lines[%d].quantity", i), line.Quantity,
				fmt.Sprintf("combined quantity of product %s is out of range", line.ProductID))
		}
		if _, seen := demand[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		demand[line.ProductID] += line.Quantity
		lineIdx[line.ProductID] = append(lineIdx[line.ProductID], i)
		total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt(line.Quantity)))
	}

	check, err := c.credit.CheckPurchaseAdmission(ctx, customerID, total)
	if err != nil {
		return Decision{}, ledger.WrapOpError(op, customerID, err)
	}

	decision := Decision{
		CustomerID:      customerID,
		TotalAmount:     total,
		Credit:          check,
		CreditShortfall: check.Shortfall,
		Warnings:        append([]credit.Warning(nil), check.Warnings...),
	}

	for _, productID := range order {
		requested := demand[productID]
		if c.stock.CheckAvailability(ctx, productID, requested) {
			decision.Warnings = append(decision.Warnings, c.lowStockWarning(ctx, productID, requested)...)
			continue
		}

		shortfall := StockShortfall{
			ProductID: productID,
			Lines:     lineIdx[productID],
			Requested: requested,
		}
		available, err := c.stock.Available(ctx, productID)
		switch {
		case err == nil:
			shortfall.Available = available
		case ledger.KindOf(err) == ledger.KindNotFound:
			shortfall.Unknown = true
		default:
			return Decision{}, ledger.WrapOpError(op, customerID, err)
		}
		if shortfall.Available < 0 {
			shortfall.Available = 0
		}
		shortfall.Missing = requested - shortfall.Available
		decision.StockShortfalls = append(decision.StockShortfalls, shortfall)
		decision.Warnings = append(decision.Warnings, shortfallWarning(shortfall))
	}

	decision.AccountRejection = accountRejection(check)
	decision.Admissible = check.CanPurchase &&
		len(decision.StockShortfalls) == 0 &&
		decision.AccountRejection == ""

	c.log.Debug().
		Str("customer_id", customerID).
		Str("total", total.String()).
		Bool("admissible", decision.Admissible).
		Int("stock_shortfalls", len(decision.StockShortfalls)).
		Bool("credit_ok", check.CanPurchase).
		Msg("Sale evaluated")

	return decision, nil
}

func (c *Controller) lowStockWarning(ctx context.Context, productID string, requested int64) []credit.Warning {
	if c.minimums == nil {
		return nil
	}
	minimum, ok := c.minimums.Minimum(ctx, productID)
	if !ok || minimum <= 0 {
		return nil
	}
	available, err := c.stock.Available(ctx, productID)
	if err != nil {
		return nil
	}
	if left := available - requested; left < minimum {
		return []credit.Warning{{
			Code:    WarnLowStockAfterSale,
			Message: fmt.Sprintf("product %s would drop to %d units, below its minimum of %d", productID, left, minimum),
		}}
	}
	return nil
}

func accountRejection(check credit.CheckResult) string {
	switch {
	case check.CustomerStatus == models.CustomerInactive:
		return "customer is inactive"
	case check.CreditStatus == models.CreditBlocked:
		return "customer account is blocked"
	}
	return ""
}

func shortfallWarning(s StockShortfall) credit.Warning {
	if s.Unknown {
		return credit.Warning{
			Code:    WarnUnknownProduct,
			Message: fmt.Sprintf("product %s does not exist", s.ProductID),
		}
	}
	return credit.Warning{
		Code:    WarnStockShortfall,
		Message: fmt.Sprintf("product %s: requested %d, available %d, missing %d", s.ProductID, s.Requested, s.Available, s.Missing),
	}
}
