package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crm/internal/credit"
	"crm/internal/invoice"
	"crm/internal/ledger"
	"crm/internal/logger"
	"crm/internal/money"
	"crm/pkg/models"
)

// ImportReason is recorded on credit limit changes made by an import.
const ImportReason = "sheet import"

// RangeReader reads a range of cells. *sheets.Service satisfies it.
type RangeReader interface {
	ReadRange(ctx context.Context, rangeSpec string) ([][]interface{}, error)
}

// LimitSetter changes a customer's credit limit with an audit trail.
type LimitSetter interface {
	SetCreditLimit(ctx context.Context, customerID string, newLimit decimal.Decimal, reason string) (credit.LimitChange, error)
}

// StockSetter overwrites a product's on-hand stock.
type StockSetter interface {
	SetStock(ctx context.Context, productID string, newCurrent float64) (models.Product, error)
}

// SheetImporter loads customers, products and invoices kept in a
// spreadsheet into the ledger. Existing invoices are never overwritten;
// limit and stock changes of existing records go through the engines so
// they are audited and notified. Every row is applied inside the scope of
// the records it touches.
type SheetImporter struct {
	reader RangeReader
	store  ledger.Store
	locker *ledger.Locker
	limits LimitSetter
	stock  StockSetter
	policy money.Policy
	now    func() time.Time
	log    zerolog.Logger
}

// NewSheetImporter creates an importer. locker must be the one the
// engines behind limits and stock use.
func NewSheetImporter(reader RangeReader, store ledger.Store, locker *ledger.Locker, limits LimitSetter, stock StockSetter, policy money.Policy) *SheetImporter {
	return &SheetImporter{
		reader: reader,
		store:  store,
		locker: locker,
		limits: limits,
		stock:  stock,
		policy: policy,
		now:    time.Now,
		log:    logger.WithComponent("reconciliation-import"),
	}
}

// Import reads the three sheets in dependency order. Rows that fail to
// parse or apply are reported and skipped; a sheet that cannot be read
// aborts the import.
func (si *SheetImporter) Import(ctx context.Context) (ImportReport, error) {
	const op = "Import"

	var report ImportReport

	customers, err := si.readCustomers(ctx, &report)
	if err != nil {
		return report, fmt.Errorf("%s: %w", op, err)
	}
	for _, row := range customers {
		created, err := si.applyCustomer(ctx, row)
		if err != nil {
			report.Errors = append(report.Errors, RowError{Sheet: "Customers", Row: row.row, Error: err.Error()})
			continue
		}
		if created {
			report.CustomersCreated++
		} else {
			report.CustomersUpdated++
		}
	}

	products, err := si.readProducts(ctx, &report)
	if err != nil {
		return report, fmt.Errorf("%s: %w", op, err)
	}
	for _, row := range products {
		created, err := si.applyProduct(ctx, row)
		if err != nil {
			report.Errors = append(report.Errors, RowError{Sheet: "Products", Row: row.row, Error: err.Error()})
			continue
		}
		if created {
			report.ProductsCreated++
		} else {
			report.ProductsUpdated++
		}
	}

	invoices, err := si.readInvoices(ctx, &report)
	if err != nil {
		return report, fmt.Errorf("%s: %w", op, err)
	}
	for _, row := range invoices {
		created, err := si.applyInvoice(ctx, row)
		if err != nil {
			report.Errors = append(report.Errors, RowError{Sheet: "Invoices", Row: row.row, Error: err.Error()})
			continue
		}
		if created {
			report.InvoicesCreated++
		} else {
			report.InvoicesSkipped++
		}
	}

	si.log.Info().
		Int("customers_created", report.CustomersCreated).
		Int("customers_updated", report.CustomersUpdated).
		Int("products_created", report.ProductsCreated).
		Int("products_updated", report.ProductsUpdated).
		Int("invoices_created", report.InvoicesCreated).
		Int("invoices_skipped", report.InvoicesSkipped).
		Int("row_errors", len(report.Errors)).
		Msg("Sheet import finished")

	return report, nil
}

type customerRow struct {
	CustomerRow
	row int
}

type productRow struct {
	ProductRow
	row int
}

type invoiceRow struct {
	InvoiceRow
	row int
}

func (si *SheetImporter) readSheet(ctx context.Context, rangeSpec string) ([][]interface{}, error) {
	values, err := si.reader.ReadRange(ctx, rangeSpec)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rangeSpec, err)
	}
	if len(values) <= 1 {
		return nil, nil
	}
	return values[1:], nil
}

func (si *SheetImporter) readCustomers(ctx context.Context, report *ImportReport) ([]customerRow, error) {
	values, err := si.readSheet(ctx, CustomersRange)
	if err != nil {
		return nil, err
	}

	var rows []customerRow
	for i, row := range values {
		rowNum := i + 2
		limit, err := parseLocalizedAmount(getString(row, 2))
		if err == nil && getString(row, 0) == "" {
			err = errors.New("customer id is empty")
		}
		if err != nil {
			si.skip(report, "Customers", rowNum, err)
			continue
		}
		rows = append(rows, customerRow{
			CustomerRow: CustomerRow{ID: getString(row, 0), Name: getString(row, 1), CreditLimit: si.policy.Round(limit)},
			row:         rowNum,
		})
	}
	return rows, nil
}

func (si *SheetImporter) readProducts(ctx context.Context, report *ImportReport) ([]productRow, error) {
	values, err := si.readSheet(ctx, ProductsRange)
	if err != nil {
		return nil, err
	}

	var rows []productRow
	for i, row := range values {
		rowNum := i + 2
		p, err := parseProductRow(row)
		if err != nil {
			si.skip(report, "Products", rowNum, err)
			continue
		}
		p.UnitPrice = si.policy.Round(p.UnitPrice)
		rows = append(rows, productRow{ProductRow: p, row: rowNum})
	}
	return rows, nil
}

func (si *SheetImporter) readInvoices(ctx context.Context, report *ImportReport) ([]invoiceRow, error) {
	values, err := si.readSheet(ctx, InvoicesRange)
	if err != nil {
		return nil, err
	}

	var rows []invoiceRow
	for i, row := range values {
		rowNum := i + 2
		inv, err := parseInvoiceRow(row)
		if err != nil {
			si.skip(report, "Invoices", rowNum, err)
			continue
		}
		inv.Total = si.policy.Round(inv.Total)
		inv.Paid = si.policy.Round(inv.Paid)
		rows = append(rows, invoiceRow{InvoiceRow: inv, row: rowNum})
	}
	return rows, nil
}

func (si *SheetImporter) skip(report *ImportReport, sheet string, row int, err error) {
	si.log.Warn().
		Err(err).
		Str("sheet", sheet).
		Int("row", row).
		Msg("Skipping sheet row")
	report.Errors = append(report.Errors, RowError{Sheet: sheet, Row: row, Error: err.Error()})
}

func (si *SheetImporter) applyCustomer(ctx context.Context, row customerRow) (bool, error) {
	ctx, release := si.locker.Acquire(ctx, ledger.CustomerKey(row.ID))
	defer release()

	customers := si.store.Customers()

	existing, err := customers.Get(ctx, row.ID)
	if errors.Is(err, ledger.ErrNotFound) {
		return true, customers.Upsert(ctx, models.NewCustomer(row.ID, row.Name, row.CreditLimit, si.now()))
	}
	if err != nil {
		return false, err
	}

	if row.Name != "" && row.Name != existing.Name {
		existing.Name = row.Name
		existing.UpdatedAt = si.now()
		if err := customers.Upsert(ctx, existing); err != nil {
			return false, err
		}
	}
	if !existing.CreditLimit.Equal(row.CreditLimit) {
		if _, err := si.limits.SetCreditLimit(ctx, row.ID, row.CreditLimit, ImportReason); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (si *SheetImporter) applyProduct(ctx context.Context, row productRow) (bool, error) {
	ctx, release := si.locker.Acquire(ctx, ledger.ProductKey(row.ID))
	defer release()

	products := si.store.Products()

	existing, err := products.Get(ctx, row.ID)
	if errors.Is(err, ledger.ErrNotFound) {
		now := si.now()
		return true, products.Upsert(ctx, models.Product{
			ID:        row.ID,
			SKU:       row.SKU,
			Name:      row.Name,
			UnitPrice: row.UnitPrice,
			Stock:     models.Stock{Current: row.Current, Minimum: row.Minimum, Maximum: row.Maximum},
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if err != nil {
		return false, err
	}

	existing.SKU = row.SKU
	existing.Name = row.Name
	existing.UnitPrice = row.UnitPrice
	existing.Stock.Minimum = row.Minimum
	existing.Stock.Maximum = row.Maximum
	existing.UpdatedAt = si.now()
	if err := products.Upsert(ctx, existing); err != nil {
		return false, err
	}
	if existing.Stock.Current != row.Current {
		if _, err := si.stock.SetStock(ctx, row.ID, float64(row.Current)); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (si *SheetImporter) applyInvoice(ctx context.Context, row invoiceRow) (bool, error) {
	ctx, release := si.locker.Acquire(ctx, ledger.InvoiceKey(row.ID), ledger.CustomerKey(row.CustomerID))
	defer release()

	invoices := si.store.Invoices()

	if _, err := invoices.Get(ctx, row.ID); err == nil {
		return false, nil
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return false, err
	}
	if _, err := si.store.Customers().Get(ctx, row.CustomerID); err != nil {
		return false, err
	}
	if !row.Total.IsPositive() {
		return false, fmt.Errorf("invoice total must be positive, got %s", row.Total)
	}
	if row.Paid.IsNegative() {
		return false, fmt.Errorf("paid amount must not be negative, got %s", row.Paid)
	}

	now := si.now()
	paid := decimal.Min(row.Paid, row.Total)
	inv := models.Invoice{
		ID:              row.ID,
		Number:          row.Number,
		CustomerID:      row.CustomerID,
		TotalAmount:     row.Total,
		PaidAmount:      paid,
		RemainingAmount: si.policy.RoundNonNegative(row.Total.Sub(paid)),
		IssueDate:       row.IssueDate,
		DueDate:         row.DueDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if inv.Number == "" {
		inv.Number = inv.ID
	}
	inv.Status = invoice.DeriveStatus(inv, now)
	if inv.Status == models.InvoicePaid {
		inv.PaidAt = &now
	}
	return true, invoices.Upsert(ctx, inv)
}

func parseProductRow(row []interface{}) (ProductRow, error) {
	p := ProductRow{
		ID:   getString(row, 0),
		SKU:  getString(row, 1),
		Name: getString(row, 2),
	}
	if p.ID == "" {
		return ProductRow{}, errors.New("product id is empty")
	}

	var err error
	if p.UnitPrice, err = parseLocalizedAmount(getString(row, 3)); err != nil {
		return ProductRow{}, err
	}
	if p.Current, err = parseQuantity(getString(row, 4)); err != nil {
		return ProductRow{}, err
	}
	if p.Minimum, err = parseQuantity(getString(row, 5)); err != nil {
		return ProductRow{}, err
	}
	if p.Maximum, err = parseQuantity(getString(row, 6)); err != nil {
		return ProductRow{}, err
	}
	return p, nil
}

func parseInvoiceRow(row []interface{}) (InvoiceRow, error) {
	inv := InvoiceRow{
		ID:         getString(row, 0),
		Number:     getString(row, 1),
		CustomerID: getString(row, 2),
	}
	if inv.ID == "" || inv.CustomerID == "" {
		return InvoiceRow{}, errors.New("invoice id and customer id are required")
	}

	var err error
	if inv.IssueDate, err = parseDate(getString(row, 3)); err != nil {
		return InvoiceRow{}, err
	}
	if inv.DueDate, err = parseDate(getString(row, 4)); err != nil {
		return InvoiceRow{}, err
	}
	if inv.DueDate.Before(inv.IssueDate) {
		return InvoiceRow{}, fmt.Errorf("due date %s is before issue date %s",
			inv.DueDate.Format(time.DateOnly), inv.IssueDate.Format(time.DateOnly))
	}
	if inv.Total, err = parseLocalizedAmount(getString(row, 5)); err != nil {
		return InvoiceRow{}, err
	}
	if inv.Paid, err = parseLocalizedAmount(getString(row, 6)); err != nil {
		return InvoiceRow{}, err
	}
	return inv, nil
}

// parseDate accepts day-first dotted or slashed dates and ISO dates.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}

	formats := []string{
		"02.01.2006",
		"2.1.2006",
		"02/01/2006",
		"2006-01-02",
	}
	for _, format := range formats {
		if date, err := time.Parse(format, s); err == nil {
			return date, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", s)
}

// parseLocalizedAmount reads amounts written with either separator
// convention: "94.100,00", "94,100.00", "94100" and "1250,5" all parse.
// A lone dot followed by exactly three digits is a thousands separator.
// Empty cells are zero.
func parseLocalizedAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(s)
	for _, sym := range []string{"₺", "TRY", "TL", " "} {
		cleaned = strings.ReplaceAll(cleaned, sym, "")
	}
	if cleaned == "" {
		return decimal.Zero, nil
	}

	negative := strings.HasPrefix(cleaned, "-")
	cleaned = strings.TrimPrefix(cleaned, "-")

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		parts := strings.Split(cleaned, ",")
		if len(parts) == 2 && len(parts[1]) != 3 {
			cleaned = parts[0] + "." + parts[1]
		} else {
			cleaned = strings.Join(parts, "")
		}
	case lastDot >= 0:
		parts := strings.Split(cleaned, ".")
		if len(parts) > 2 || len(parts[1]) == 3 {
			cleaned = strings.Join(parts, "")
		}
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unable to parse amount: %s (cleaned: %s)", s, cleaned)
	}
	if negative {
		amount = amount.Neg()
	}
	return amount, nil
}

func parseQuantity(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", ""), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unable to parse quantity: %s", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("quantity must not be negative: %s", s)
	}
	return n, nil
}

// getString safely extracts a string value from a row slice
func getString(row []interface{}, index int) string {
	if index >= len(row) || row[index] == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", row[index]))
}
