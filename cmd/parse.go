package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crm/internal/admission"
	"crm/internal/money"
)

// parseSaleLines reads lines written as product:quantity:unit-price.
func parseSaleLines(lineArgs []string) ([]admission.SaleLine, error) {
	if len(lineArgs) == 0 {
		return nil, fmt.Errorf("at least one --line product:quantity:unit-price is required")
	}

	lines := make([]admission.SaleLine, 0, len(lineArgs))
	for _, raw := range lineArgs {
		parts := strings.Split(raw, ":")
		if len(parts) != 3 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid line %q, expected product:quantity:unit-price", raw)
		}
		qty, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid quantity in line %q: %w", raw, err)
		}
		price, err := money.Parse(parts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid unit price in line %q: %w", raw, err)
		}
		lines = append(lines, admission.SaleLine{
			ProductID: strings.TrimSpace(parts[0]),
			Quantity:  qty,
			UnitPrice: price,
		})
	}
	return lines, nil
}

// parseAmount reads a decimal command argument.
func parseAmount(name, s string) (decimal.Decimal, error) {
	d, err := money.Parse(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

// parseDateFlag reads an optional YYYY-MM-DD flag value; empty yields the
// zero time.
func parseDateFlag(name, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s date format. Use YYYY-MM-DD: %w", name, err)
	}
	return t, nil
}
