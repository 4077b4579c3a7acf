package invoice

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crm/internal/ledger"
	"crm/internal/logger"
	"crm/internal/money"
	"crm/pkg/models"
)

// LineValidation checks invoice lines and reconciles them against a total
// declared by the caller.
type LineValidation struct {
	policy money.Policy
	log    zerolog.Logger
}

// NewLineValidation creates a line validator that rounds with policy.
func NewLineValidation(policy money.Policy) *LineValidation {
	return &LineValidation{
		policy: policy,
		log:    logger.WithComponent("invoice-validation"),
	}
}

// LineValidationResult contains the computed total and any warnings.
type LineValidationResult struct {
	Total          decimal.Decimal
	Warnings       []string
	HasDiscrepancy bool
	Discrepancy    decimal.Decimal // percent of the computed total
}

// Validate checks every item and computes the rounded invoice total. When
// declared is set and differs from the computed total, the computed total
// wins and a warning is added.
func (lv *LineValidation) Validate(op, customerID string, items []models.InvoiceItem, declared *decimal.Decimal) (*LineValidationResult, error) {
	if len(items) == 0 {
		return nil, ledger.Invalid(op, customerID, "items", 0, "an invoice needs at least one item")
	}

	result := &LineValidationResult{}
	sum := decimal.Zero
	for i, item := range items {
		field := fmt.Sprintf("items[%d]", i)
		if item.Quantity <= 0 {
			return nil, ledger.Invalid(op, customerID, field+".quantity", item.Quantity, "quantity must be positive")
		}
		if item.UnitPrice.IsNegative() {
			return nil, ledger.Invalid(op, customerID, field+".unit_price", item.UnitPrice.String(), "unit price must not be negative")
		}
		if item.UnitPrice.IsZero() {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s (%s) has a zero unit price", field, item.ProductID))
		}
		sum = sum.Add(item.LineTotal())
	}

	result.Total = lv.policy.Round(sum)
	if !result.Total.IsPositive() {
		return nil, ledger.Invalid(op, customerID, "total", result.Total.String(), "invoice total must be positive")
	}

	if declared != nil {
		want := lv.policy.Round(*declared)
		if !want.Equal(result.Total) {
			result.HasDiscrepancy = true
			result.Discrepancy = want.Sub(result.Total).Abs().Div(result.Total).Mul(decimal.NewFromInt(100)).Round(1)
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"declared total %s differs from line total %s (%s%% difference), using line total",
				lv.policy.Format(want), lv.policy.Format(result.Total), result.Discrepancy))

			lv.log.Warn().
				Str("customer_id", customerID).
				Str("declared", want.String()).
				Str("computed", result.Total.String()).
				Str("discrepancy_pct", result.Discrepancy.String()).
				Msg("Invoice total discrepancy")
		}
	}

	return result, nil
}
