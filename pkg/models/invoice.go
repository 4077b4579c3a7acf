package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is derived from the remaining amount and the due date.
type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	InvoicePartial InvoiceStatus = "partial"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceOverdue InvoiceStatus = "overdue"
)

type Invoice struct {
	// Core identifiers
	ID         string `json:"id"`          // Unique invoice identifier
	Number     string `json:"number"`      // Human-readable invoice number
	CustomerID string `json:"customer_id"` // Owning customer

	Items []InvoiceItem `json:"items"`

	// Amounts (rounded to the currency's minor unit)
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"` // TotalAmount - PaidAmount, never below zero

	Status InvoiceStatus `json:"status"`

	// Dates
	IssueDate time.Time  `json:"issue_date"`
	DueDate   time.Time  `json:"due_date"`
	PaidAt    *time.Time `json:"paid_at,omitempty"` // Set once RemainingAmount reaches zero

	// Audit notes are the only change accepted after the invoice is paid
	Notes []AuditNote `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InvoiceItem is one sold line. ProductID references a Product.
type InvoiceItem struct {
	ProductID   string          `json:"product_id"`
	Description string          `json:"description,omitempty"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// LineTotal returns quantity * unit price, unrounded.
func (i InvoiceItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity))
}

// AuditNote is a free-text annotation attached to an invoice.
type AuditNote struct {
	Text      string    `json:"text"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

// IsSettled reports whether nothing remains to be paid.
func (inv *Invoice) IsSettled() bool {
	return !inv.RemainingAmount.IsPositive()
}

// Clone returns a deep copy so callers never alias stored slices.
func (inv Invoice) Clone() Invoice {
	out := inv
	out.Items = append([]InvoiceItem(nil), inv.Items...)
	out.Notes = append([]AuditNote(nil), inv.Notes...)
	if inv.PaidAt != nil {
		t := *inv.PaidAt
		out.PaidAt = &t
	}
	return out
}
