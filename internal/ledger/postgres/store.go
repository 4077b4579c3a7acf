// Package postgres is a ledger.Store backed by PostgreSQL through sqlx.
//
// Money columns are NUMERIC and scan straight into decimal.Decimal; invoice
// items and notes are kept as JSONB documents on the invoice row.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"crm/internal/ledger"
	"crm/pkg/models"
)

// Store implements ledger.Store.
type Store struct {
	db *sqlx.DB
}

var _ ledger.Store = (*Store)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewStore(db), nil
}

// NewStore wraps an existing connection pool.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Customers() ledger.CustomerRepository { return customerRepo{s.db} }
func (s *Store) Invoices() ledger.InvoiceRepository   { return invoiceRepo{s.db} }
func (s *Store) Products() ledger.ProductRepository   { return productRepo{s.db} }

func (s *Store) Close() error { return s.db.Close() }

type customerRow struct {
	ID               string          `db:"id"`
	Name             string          `db:"name"`
	Status           string          `db:"status"`
	CreditLimit      decimal.Decimal `db:"credit_limit"`
	TotalOutstanding decimal.Decimal `db:"total_outstanding"`
	AvailableCredit  decimal.Decimal `db:"available_credit"`
	CreditStatus     string          `db:"credit_status"`
	BlockReason      string          `db:"block_reason"`
	LastPaymentDate  sql.NullTime    `db:"last_payment_date"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

func (r customerRow) model() models.Customer {
	return models.Customer{
		ID:               r.ID,
		Name:             r.Name,
		Status:           models.CustomerStatus(r.Status),
		CreditLimit:      r.CreditLimit,
		TotalOutstanding: r.TotalOutstanding,
		AvailableCredit:  r.AvailableCredit,
		CreditStatus:     models.CreditStatus(r.CreditStatus),
		BlockReason:      r.BlockReason,
		LastPaymentDate:  timePtr(r.LastPaymentDate),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func newCustomerRow(c models.Customer) customerRow {
	return customerRow{
		ID:               c.ID,
		Name:             c.Name,
		Status:           string(c.Status),
		CreditLimit:      c.CreditLimit,
		TotalOutstanding: c.TotalOutstanding,
		AvailableCredit:  c.AvailableCredit,
		CreditStatus:     string(c.CreditStatus),
		BlockReason:      c.BlockReason,
		LastPaymentDate:  nullTime(c.LastPaymentDate),
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

type customerRepo struct{ db *sqlx.DB }

const selectCustomers = `SELECT id, name, status, credit_limit, total_outstanding, available_credit,
	credit_status, block_reason, last_payment_date, created_at, updated_at FROM customers`

func (r customerRepo) Get(ctx context.Context, id string) (models.Customer, error) {
	var row customerRow
	err := r.db.GetContext(ctx, &row, selectCustomers+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Customer{}, ledger.NotFound("GetCustomer", "customer", id)
	}
	if err != nil {
		return models.Customer{}, ledger.WrapOpError("GetCustomer", id, err)
	}
	return row.model(), nil
}

func (r customerRepo) List(ctx context.Context) ([]models.Customer, error) {
	var rows []customerRow
	if err := r.db.SelectContext(ctx, &rows, selectCustomers+` ORDER BY id`); err != nil {
		return nil, ledger.WrapOpError("ListCustomers", "", err)
	}
	out := make([]models.Customer, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

const upsertCustomer = `INSERT INTO customers (id, name, status, credit_limit, total_outstanding,
	available_credit, credit_status, block_reason, last_payment_date, created_at, updated_at)
VALUES (:id, :name, :status, :credit_limit, :total_outstanding, :available_credit,
	:credit_status, :block_reason, :last_payment_date, :created_at, :updated_at)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	status = EXCLUDED.status,
	credit_limit = EXCLUDED.credit_limit,
	total_outstanding = EXCLUDED.total_outstanding,
	available_credit = EXCLUDED.available_credit,
	credit_status = EXCLUDED.credit_status,
	block_reason = EXCLUDED.block_reason,
	last_payment_date = EXCLUDED.last_payment_date,
	updated_at = EXCLUDED.updated_at`

func (r customerRepo) Upsert(ctx context.Context, c models.Customer) error {
	if c.ID == "" {
		return ledger.Invalid("UpsertCustomer", "", "id", c.ID, "must not be empty")
	}
	if _, err := r.db.NamedExecContext(ctx, upsertCustomer, newCustomerRow(c)); err != nil {
		return ledger.WrapOpError("UpsertCustomer", c.ID, err)
	}
	return nil
}

func (r customerRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE customers SET status = $1, updated_at = now() WHERE id = $2`,
		string(models.CustomerInactive), id)
	if err != nil {
		return ledger.WrapOpError("DeleteCustomer", id, err)
	}
	return expectRow(res, "DeleteCustomer", "customer", id)
}

type invoiceRow struct {
	ID              string          `db:"id"`
	Number          string          `db:"number"`
	CustomerID      string          `db:"customer_id"`
	Items           []byte          `db:"items"`
	TotalAmount     decimal.Decimal `db:"total_amount"`
	PaidAmount      decimal.Decimal `db:"paid_amount"`
	RemainingAmount decimal.Decimal `db:"remaining_amount"`
	Status          string          `db:"status"`
	IssueDate       time.Time       `db:"issue_date"`
	DueDate         time.Time       `db:"due_date"`
	PaidAt          sql.NullTime    `db:"paid_at"`
	Notes           []byte          `db:"notes"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func (r invoiceRow) model() (models.Invoice, error) {
	inv := models.Invoice{
		ID:              r.ID,
		Number:          r.Number,
		CustomerID:      r.CustomerID,
		TotalAmount:     r.TotalAmount,
		PaidAmount:      r.PaidAmount,
		RemainingAmount: r.RemainingAmount,
		Status:          models.InvoiceStatus(r.Status),
		IssueDate:       r.IssueDate,
		DueDate:         r.DueDate,
		PaidAt:          timePtr(r.PaidAt),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Items, &inv.Items); err != nil {
		return models.Invoice{}, fmt.Errorf("failed to decode items of invoice %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.Notes, &inv.Notes); err != nil {
		return models.Invoice{}, fmt.Errorf("failed to decode notes of invoice %s: %w", r.ID, err)
	}
	return inv, nil
}

func newInvoiceRow(inv models.Invoice) (invoiceRow, error) {
	items := inv.Items
	if items == nil {
		items = []models.InvoiceItem{}
	}
	notes := inv.Notes
	if notes == nil {
		notes = []models.AuditNote{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return invoiceRow{}, err
	}
	notesJSON, err := json.Marshal(notes)
	if err != nil {
		return invoiceRow{}, err
	}
	return invoiceRow{
		ID:              inv.ID,
		Number:          inv.Number,
		CustomerID:      inv.CustomerID,
		Items:           itemsJSON,
		TotalAmount:     inv.TotalAmount,
		PaidAmount:      inv.PaidAmount,
		RemainingAmount: inv.RemainingAmount,
		Status:          string(inv.Status),
		IssueDate:       inv.IssueDate,
		DueDate:         inv.DueDate,
		PaidAt:          nullTime(inv.PaidAt),
		Notes:           notesJSON,
		CreatedAt:       inv.CreatedAt,
		UpdatedAt:       inv.UpdatedAt,
	}, nil
}

type invoiceRepo struct{ db *sqlx.DB }

const selectInvoices = `SELECT id, number, customer_id, items, total_amount, paid_amount,
	remaining_amount, status, issue_date, due_date, paid_at, notes, created_at, updated_at FROM invoices`

func (r invoiceRepo) Get(ctx context.Context, id string) (models.Invoice, error) {
	var row invoiceRow
	err := r.db.GetContext(ctx, &row, selectInvoices+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Invoice{}, ledger.NotFound("GetInvoice", "invoice", id)
	}
	if err != nil {
		return models.Invoice{}, ledger.WrapOpError("GetInvoice", id, err)
	}
	inv, err := row.model()
	if err != nil {
		return models.Invoice{}, ledger.WrapOpError("GetInvoice", id, err)
	}
	return inv, nil
}

func (r invoiceRepo) List(ctx context.Context) ([]models.Invoice, error) {
	return r.selectMany(ctx, "ListInvoices", selectInvoices+` ORDER BY issue_date, id`)
}

func (r invoiceRepo) ListByCustomer(ctx context.Context, customerID string) ([]models.Invoice, error) {
	return r.selectMany(ctx, "ListInvoicesByCustomer",
		selectInvoices+` WHERE customer_id = $1 ORDER BY issue_date, id`, customerID)
}

func (r invoiceRepo) selectMany(ctx context.Context, op, query string, args ...interface{}) ([]models.Invoice, error) {
	var rows []invoiceRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, ledger.WrapOpError(op, "", err)
	}
	out := make([]models.Invoice, 0, len(rows))
	for _, row := range rows {
		inv, err := row.model()
		if err != nil {
			return nil, ledger.WrapOpError(op, row.ID, err)
		}
		out = append(out, inv)
	}
	return out, nil
}

const upsertInvoice = `INSERT INTO invoices (id, number, customer_id, items, total_amount, paid_amount,
	remaining_amount, status, issue_date, due_date, paid_at, notes, created_at, updated_at)
VALUES (:id, :number, :customer_id, :items, :total_amount, :paid_amount, :remaining_amount,
	:status, :issue_date, :due_date, :paid_at, :notes, :created_at, :updated_at)
ON CONFLICT (id) DO UPDATE SET
	number = EXCLUDED.number,
	items = EXCLUDED.items,
	total_amount = EXCLUDED.total_amount,
	paid_amount = EXCLUDED.paid_amount,
	remaining_amount = EXCLUDED.remaining_amount,
	status = EXCLUDED.status,
	due_date = EXCLUDED.due_date,
	paid_at = EXCLUDED.paid_at,
	notes = EXCLUDED.notes,
	updated_at = EXCLUDED.updated_at`

func (r invoiceRepo) Upsert(ctx context.Context, inv models.Invoice) error {
	if inv.ID == "" {
		return ledger.Invalid("UpsertInvoice", "", "id", inv.ID, "must not be empty")
	}
	row, err := newInvoiceRow(inv)
	if err != nil {
		return ledger.WrapOpError("UpsertInvoice", inv.ID, err)
	}
	if _, err := r.db.NamedExecContext(ctx, upsertInvoice, row); err != nil {
		return ledger.WrapOpError("UpsertInvoice", inv.ID, err)
	}
	return nil
}

type productRow struct {
	ID            string          `db:"id"`
	SKU           string          `db:"sku"`
	Name          string          `db:"name"`
	UnitPrice     decimal.Decimal `db:"unit_price"`
	StockCurrent  int64           `db:"stock_current"`
	StockReserved int64           `db:"stock_reserved"`
	StockMinimum  int64           `db:"stock_minimum"`
	StockMaximum  int64           `db:"stock_maximum"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

func (r productRow) model() models.Product {
	return models.Product{
		ID:        r.ID,
		SKU:       r.SKU,
		Name:      r.Name,
		UnitPrice: r.UnitPrice,
		Stock: models.Stock{
			Current:  r.StockCurrent,
			Reserved: r.StockReserved,
			Minimum:  r.StockMinimum,
			Maximum:  r.StockMaximum,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func newProductRow(p models.Product) productRow {
	return productRow{
		ID:            p.ID,
		SKU:           p.SKU,
		Name:          p.Name,
		UnitPrice:     p.UnitPrice,
		StockCurrent:  p.Stock.Current,
		StockReserved: p.Stock.Reserved,
		StockMinimum:  p.Stock.Minimum,
		StockMaximum:  p.Stock.Maximum,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

type productRepo struct{ db *sqlx.DB }

const selectProducts = `SELECT id, sku, name, unit_price, stock_current, stock_reserved,
	stock_minimum, stock_maximum, created_at, updated_at FROM products`

func (r productRepo) Get(ctx context.Context, id string) (models.Product, error) {
	var row productRow
	err := r.db.GetContext(ctx, &row, selectProducts+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Product{}, ledger.NotFound("GetProduct", "product", id)
	}
	if err != nil {
		return models.Product{}, ledger.WrapOpError("GetProduct", id, err)
	}
	return row.model(), nil
}

func (r productRepo) List(ctx context.Context) ([]models.Product, error) {
	var rows []productRow
	if err := r.db.SelectContext(ctx, &rows, selectProducts+` ORDER BY id`); err != nil {
		return nil, ledger.WrapOpError("ListProducts", "", err)
	}
	out := make([]models.Product, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

const upsertProduct = `INSERT INTO products (id, sku, name, unit_price, stock_current, stock_reserved,
	stock_minimum, stock_maximum, created_at, updated_at)
VALUES (:id, :sku, :name, :unit_price, :stock_current, :stock_reserved, :stock_minimum,
	:stock_maximum, :created_at, :updated_at)
ON CONFLICT (id) DO UPDATE SET
	sku = EXCLUDED.sku,
	name = EXCLUDED.name,
	unit_price = EXCLUDED.unit_price,
	stock_current = EXCLUDED.stock_current,
	stock_reserved = EXCLUDED.stock_reserved,
	stock_minimum = EXCLUDED.stock_minimum,
	stock_maximum = EXCLUDED.stock_maximum,
	updated_at = EXCLUDED.updated_at`

func (r productRepo) Upsert(ctx context.Context, p models.Product) error {
	if p.ID == "" {
		return ledger.Invalid("UpsertProduct", "", "id", p.ID, "must not be empty")
	}
	if _, err := r.db.NamedExecContext(ctx, upsertProduct, newProductRow(p)); err != nil {
		return ledger.WrapOpError("UpsertProduct", p.ID, err)
	}
	return nil
}

func (r productRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return ledger.WrapOpError("DeleteProduct", id, err)
	}
	return expectRow(res, "DeleteProduct", "product", id)
}

func expectRow(res sql.Result, op, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.WrapOpError(op, id, err)
	}
	if n == 0 {
		return ledger.NotFound(op, entity, id)
	}
	return nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
