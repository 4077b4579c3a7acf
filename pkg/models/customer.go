package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreditStatus is derived from utilization, except CreditBlocked which is
// only ever set and cleared by hand.
type CreditStatus string

const (
	CreditGood     CreditStatus = "good"
	CreditWarning  CreditStatus = "warning"
	CreditExceeded CreditStatus = "exceeded"
	CreditBlocked  CreditStatus = "blocked"
)

// CustomerStatus tracks soft deletion. Customers are never removed.
type CustomerStatus string

const (
	CustomerActive   CustomerStatus = "active"
	CustomerInactive CustomerStatus = "inactive"
)

type Customer struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Status CustomerStatus `json:"status"`

	// Credit exposure. TotalOutstanding is a cached sum of the customer's
	// invoice remaining amounts; AvailableCredit is always
	// CreditLimit - TotalOutstanding and may be negative.
	CreditLimit      decimal.Decimal `json:"credit_limit"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	AvailableCredit  decimal.Decimal `json:"available_credit"`
	CreditStatus     CreditStatus    `json:"credit_status"`
	BlockReason      string          `json:"block_reason,omitempty"`

	LastPaymentDate *time.Time `json:"last_payment_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCustomer returns a customer in its initial state: nothing outstanding,
// full limit available, status good.
func NewCustomer(id, name string, creditLimit decimal.Decimal, now time.Time) Customer {
	return Customer{
		ID:               id,
		Name:             name,
		Status:           CustomerActive,
		CreditLimit:      creditLimit,
		TotalOutstanding: decimal.Zero,
		AvailableCredit:  creditLimit,
		CreditStatus:     CreditGood,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Clone returns a copy that shares no pointers with c.
func (c Customer) Clone() Customer {
	out := c
	if c.LastPaymentDate != nil {
		t := *c.LastPaymentDate
		out.LastPaymentDate = &t
	}
	return out
}

// CreditChangeLog is the audit record of a credit limit change.
type CreditChangeLog struct {
	ID           string          `json:"id"`
	CustomerID   string          `json:"customer_id"`
	OldLimit     decimal.Decimal `json:"old_limit"`
	NewLimit     decimal.Decimal `json:"new_limit"`
	OldAvailable decimal.Decimal `json:"old_available"`
	NewAvailable decimal.Decimal `json:"new_available"`
	OldStatus    CreditStatus    `json:"old_status"`
	NewStatus    CreditStatus    `json:"new_status"`
	Reason       string          `json:"reason"`
	Actor        string          `json:"actor"`
	ChangedAt    time.Time       `json:"changed_at"`
}
