// Package invoice keeps the invoice ledger: issuing invoices, applying
// payments and maintaining their derived status.
//
// Invoices are the source of truth for a customer's outstanding balance.
// Every change that moves a remaining amount is followed by a credit
// recalculation of the owning customer.
//
// Invoice lifecycle:
//   - issued with the full total remaining (pending, or overdue when the due
//     date is already past)
//   - partial while some but not all of the total is paid
//   - paid once nothing remains; a paid invoice only accepts audit notes
package invoice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crm/internal/ledger"
	"crm/internal/logger"
	"crm/internal/money"
	"crm/pkg/models"
)

// DefaultPaymentTerms is used when an issue request has no due date.
const DefaultPaymentTerms = 30 * 24 * time.Hour

// CreditReconciler refreshes a customer's outstanding balance from the
// invoice ledger.
type CreditReconciler interface {
	RecalculateFromLedger(ctx context.Context, customerID string) (models.Customer, error)
	RecalculateAfterPayment(ctx context.Context, customerID string, paidAt time.Time) (models.Customer, error)
}

// IssueRequest describes a new invoice.
type IssueRequest struct {
	ID         string // generated when empty
	Number     string // derived from the issue date and id when empty
	CustomerID string
	Items      []models.InvoiceItem
	IssueDate  time.Time // now when zero
	DueDate    time.Time // issue date plus payment terms when zero

	// DeclaredTotal is the total stated by the caller, checked against the
	// line total.
	DeclaredTotal *decimal.Decimal
}

// IssueResult is the outcome of Issue.
type IssueResult struct {
	Invoice  models.Invoice  `json:"invoice"`
	Customer models.Customer `json:"customer"`
	Warnings []string        `json:"warnings,omitempty"`
}

// PaymentResult is the outcome of ApplyPayment.
type PaymentResult struct {
	Invoice  models.Invoice  `json:"invoice"`
	Customer models.Customer `json:"customer"`

	// Overpayment is the part of the payment that exceeded the remaining
	// amount. It is not booked on the invoice.
	Overpayment decimal.Decimal `json:"overpayment"`
}

// Service manages invoices.
type Service struct {
	invoices   ledger.InvoiceRepository
	customers  ledger.CustomerRepository
	credit     CreditReconciler
	locker     *ledger.Locker
	policy     money.Policy
	validation *LineValidation
	terms      time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLocker shares the customer and invoice scopes with other components.
func WithLocker(l *ledger.Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPolicy sets the rounding policy. The default is the credit engine's.
func WithPolicy(p money.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithPaymentTerms sets the default due date offset in days.
func WithPaymentTerms(days int) Option {
	return func(s *Service) { s.terms = time.Duration(days) * 24 * time.Hour }
}

// NewService creates an invoice service. The rounding policy defaults to the
// reconciler's when it exposes one.
func NewService(store ledger.Store, reconciler CreditReconciler, opts ...Option) *Service {
	s := &Service{
		invoices:  store.Invoices(),
		customers: store.Customers(),
		credit:    reconciler,
		locker:    ledger.NewLocker(),
		policy:    money.TRY(),
		terms:     DefaultPaymentTerms,
		now:       time.Now,
		log:       logger.WithComponent("invoice"),
	}
	if pp, ok := reconciler.(interface{ Policy() money.Policy }); ok {
		s.policy = pp.Policy()
	}
	for _, opt := range opts {
		opt(s)
	}
	s.validation = NewLineValidation(s.policy)
	return s
}

// DeriveStatus is the single status rule of an invoice: paid when nothing
// remains, overdue when the due date has passed, partial when something was
// paid, otherwise pending.
func DeriveStatus(inv models.Invoice, now time.Time) models.InvoiceStatus {
	switch {
	case !inv.RemainingAmount.IsPositive():
		return models.InvoicePaid
	case now.After(inv.DueDate):
		return models.InvoiceOverdue
	case inv.PaidAmount.IsPositive():
		return models.InvoicePartial
	default:
		return models.InvoicePending
	}
}

// Issue creates an invoice with the full total remaining and reconciles
// the customer's credit.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (IssueResult, error) {
	const op = "IssueInvoice"

	if req.CustomerID == "" {
		return IssueResult{}, ledger.Invalid(op, "", "customer_id", req.CustomerID, "customer id is required")
	}
	lines, err := s.validation.Validate(op, req.CustomerID, req.Items, req.DeclaredTotal)
	if err != nil {
		return IssueResult{}, err
	}

	now := s.now()
	issued := req.IssueDate
	if issued.IsZero() {
		issued = now
	}
	due := req.DueDate
	if due.IsZero() {
		due = issued.Add(s.terms)
	}
	if due.Before(issued) {
		return IssueResult{}, ledger.Invalid(op, req.CustomerID, "due_date", due.Format(time.DateOnly), "due date is before the issue date")
	}

	ctx, release := s.locker.Acquire(ctx, ledger.CustomerKey(req.CustomerID))
	defer release()

	customer, err := s.customers.Get(ctx, req.CustomerID)
	if err != nil {
		return IssueResult{}, ledger.WrapOpError(op, req.CustomerID, err)
	}
	if customer.Status == models.CustomerInactive {
		return IssueResult{}, ledger.NewOpError(op, req.CustomerID, ErrInactiveCustomer, "")
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := s.invoices.Get(ctx, id); err == nil {
		return IssueResult{}, ledger.Invalid(op, id, "id", id, "invoice already exists")
	}
	number := req.Number
	if number == "" {
		number = fmt.Sprintf("INV-%s-%s", issued.Format("20060102"), strings.ToUpper(shortID(id)))
	}

	inv := models.Invoice{
		ID:              id,
		Number:          number,
		CustomerID:      req.CustomerID,
		Items:           append([]models.InvoiceItem(nil), req.Items...),
		TotalAmount:     lines.Total,
		PaidAmount:      decimal.Zero,
		RemainingAmount: lines.Total,
		IssueDate:       issued,
		DueDate:         due,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	inv.Status = DeriveStatus(inv, now)

	if err := s.invoices.Upsert(ctx, inv); err != nil {
		return IssueResult{}, ledger.WrapOpError(op, id, err)
	}

	customer, err = s.credit.RecalculateFromLedger(ctx, req.CustomerID)
	if err != nil {
		return IssueResult{}, ledger.WrapOpError(op, id, err)
	}

	log := logger.WithActor(s.log, ledger.ActorFrom(ctx))
	log.Info().
		Str("invoice_id", id).
		Str("number", number).
		Str("customer_id", req.CustomerID).
		Str("total", inv.TotalAmount.String()).
		Time("due_date", due).
		Msg("Invoice issued")

	return IssueResult{Invoice: inv, Customer: customer, Warnings: lines.Warnings}, nil
}

// ApplyPayment books a payment against an invoice and reconciles the
// customer's credit. Paying a settled invoice is rejected with
// ErrInvoiceSettled; paying more than remains settles the invoice and
// reports the excess as overpayment.
func (s *Service) ApplyPayment(ctx context.Context, invoiceID string, amount decimal.Decimal, paidAt time.Time) (PaymentResult, error) {
	const op = "ApplyPayment"

	if !amount.IsPositive() {
		return PaymentResult{}, ledger.Invalid(op, invoiceID, "amount", amount.String(), "payment amount must be positive")
	}

	peek, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return PaymentResult{}, ledger.WrapOpError(op, invoiceID, err)
	}

	ctx, release := s.locker.Acquire(ctx, ledger.InvoiceKey(invoiceID), ledger.CustomerKey(peek.CustomerID))
	defer release()

	inv, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return PaymentResult{}, ledger.WrapOpError(op, invoiceID, err)
	}
	if inv.IsSettled() {
		return PaymentResult{}, ledger.NewOpError(op, invoiceID, ledger.ErrInvoiceSettled, "invoice "+inv.Number+" is already paid")
	}

	now := s.now()
	if paidAt.IsZero() {
		paidAt = now
	}

	amount = s.policy.Round(amount)
	overpayment := decimal.Zero
	if amount.GreaterThan(inv.RemainingAmount) {
		overpayment = amount.Sub(inv.RemainingAmount)
		amount = inv.RemainingAmount
	}

	inv.PaidAmount = inv.PaidAmount.Add(amount)
	inv.RemainingAmount = s.policy.RoundNonNegative(inv.TotalAmount.Sub(inv.PaidAmount))
	inv.Status = DeriveStatus(inv, now)
	if inv.Status == models.InvoicePaid {
		t := paidAt
		inv.PaidAt = &t
	}
	inv.UpdatedAt = now

	if err := s.invoices.Upsert(ctx, inv); err != nil {
		return PaymentResult{}, ledger.WrapOpError(op, invoiceID, err)
	}

	customer, err := s.credit.RecalculateAfterPayment(ctx, inv.CustomerID, paidAt)
	if err != nil {
		return PaymentResult{}, ledger.WrapOpError(op, invoiceID, err)
	}

	log := logger.WithActor(s.log, ledger.ActorFrom(ctx))
	log.Info().
		Str("invoice_id", invoiceID).
		Str("customer_id", inv.CustomerID).
		Str("amount", amount.String()).
		Str("remaining", inv.RemainingAmount.String()).
		Str("status", string(inv.Status)).
		Msg("Payment applied")
	if overpayment.IsPositive() {
		log.Warn().
			Str("invoice_id", invoiceID).
			Str("overpayment", overpayment.String()).
			Msg("Payment exceeded remaining amount")
	}

	return PaymentResult{Invoice: inv, Customer: customer, Overpayment: overpayment}, nil
}

// AddNote appends an audit note. Notes are accepted in every status.
func (s *Service) AddNote(ctx context.Context, invoiceID, text string) (models.Invoice, error) {
	const op = "AddNote"

	text = strings.TrimSpace(text)
	if text == "" {
		return models.Invoice{}, ledger.NewOpError(op, invoiceID, ErrEmptyNote, "")
	}

	ctx, release := s.locker.Acquire(ctx, ledger.InvoiceKey(invoiceID))
	defer release()

	inv, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return models.Invoice{}, ledger.WrapOpError(op, invoiceID, err)
	}

	now := s.now()
	inv.Notes = append(inv.Notes, models.AuditNote{Text: text, Actor: ledger.ActorFrom(ctx), CreatedAt: now})
	inv.UpdatedAt = now
	if err := s.invoices.Upsert(ctx, inv); err != nil {
		return models.Invoice{}, ledger.WrapOpError(op, invoiceID, err)
	}
	return inv, nil
}

// RefreshOverdue re-derives the status of every open invoice at now and
// returns the invoices whose status changed.
func (s *Service) RefreshOverdue(ctx context.Context, now time.Time) ([]models.Invoice, error) {
	const op = "RefreshOverdue"

	all, err := s.invoices.List(ctx)
	if err != nil {
		return nil, ledger.WrapOpError(op, "", err)
	}

	var changed []models.Invoice
	for _, candidate := range all {
		if candidate.IsSettled() || DeriveStatus(candidate, now) == candidate.Status {
			continue
		}
		inv, ok, err := s.refreshOne(ctx, candidate.ID, now)
		if err != nil {
			return changed, ledger.WrapOpError(op, candidate.ID, err)
		}
		if ok {
			changed = append(changed, inv)
		}
	}

	if len(changed) > 0 {
		s.log.Info().Int("invoices", len(changed)).Msg("Invoice statuses refreshed")
	}
	return changed, nil
}

func (s *Service) refreshOne(ctx context.Context, invoiceID string, now time.Time) (models.Invoice, bool, error) {
	ctx, release := s.locker.Acquire(ctx, ledger.InvoiceKey(invoiceID))
	defer release()

	inv, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return models.Invoice{}, false, err
	}
	status := DeriveStatus(inv, now)
	if status == inv.Status {
		return inv, false, nil
	}
	inv.Status = status
	inv.UpdatedAt = s.now()
	if err := s.invoices.Upsert(ctx, inv); err != nil {
		return models.Invoice{}, false, err
	}
	return inv, true, nil
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
