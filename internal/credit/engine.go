// Package credit derives a customer's available credit and credit status
// from the credit limit and the outstanding balance of the invoice ledger.
//
// Every mutation runs inside the customer's ledger scope and reports the
// change to the notifier as a credit-update event. CheckPurchaseAdmission is
// a dry run and never writes.
package credit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crm/internal/ledger"
	"crm/internal/logger"
	"crm/internal/money"
	"crm/internal/notify"
	"crm/pkg/models"
)

// Change kinds carried by credit-update events.
const (
	ChangeOutstanding = "outstanding"
	ChangeLimit       = "limit"
	ChangeBlock       = "block"
	ChangeUnblock     = "unblock"
)

// UpdateEvent is the payload of a credit-update event.
type UpdateEvent struct {
	CustomerID     string              `json:"customer_id"`
	Change         string              `json:"change"`
	OldLimit       decimal.Decimal     `json:"old_limit"`
	NewLimit       decimal.Decimal     `json:"new_limit"`
	OldOutstanding decimal.Decimal     `json:"old_outstanding"`
	NewOutstanding decimal.Decimal     `json:"new_outstanding"`
	OldAvailable   decimal.Decimal     `json:"old_available"`
	NewAvailable   decimal.Decimal     `json:"new_available"`
	OldStatus      models.CreditStatus `json:"old_status"`
	NewStatus      models.CreditStatus `json:"new_status"`
	Reason         string              `json:"reason,omitempty"`
	Actor          string              `json:"actor"`
	At             time.Time           `json:"at"`
}

// LimitChange is the result of SetCreditLimit.
type LimitChange struct {
	Customer  models.Customer        `json:"customer"`
	ChangeLog models.CreditChangeLog `json:"change_log"`
}

// Engine is the credit engine.
type Engine struct {
	customers ledger.CustomerRepository
	invoices  ledger.InvoiceRepository
	locker    *ledger.Locker
	notifier  notify.Notifier
	policy    money.Policy
	now       func() time.Time
	log       zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the change notifier. The default discards events.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithPolicy sets the rounding policy. The default is whole-unit TRY.
func WithPolicy(p money.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithLocker shares a Locker with other engines.
func WithLocker(l *ledger.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a credit engine over store.
func NewEngine(store ledger.Store, opts ...Option) *Engine {
	e := &Engine{
		customers: store.Customers(),
		invoices:  store.Invoices(),
		locker:    ledger.NewLocker(),
		notifier:  notify.Noop{},
		policy:    money.TRY(),
		now:       time.Now,
		log:       logger.WithComponent("credit-engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the engine's rounding policy.
func (e *Engine) Policy() money.Policy {
	return e.policy
}

// ApplyOutstanding sets the customer's outstanding balance to
// max(0, round(newOutstanding)) and recomputes available credit and status.
// A non-nil paymentDate is recorded as the last payment date.
func (e *Engine) ApplyOutstanding(ctx context.Context, customerID string, newOutstanding decimal.Decimal, paymentDate *time.Time) (models.Customer, error) {
	const op = "ApplyOutstanding"

	ctx, release := e.locker.Acquire(ctx, ledger.CustomerKey(customerID))
	defer release()

	c, err := e.customers.Get(ctx, customerID)
	if err != nil {
		return models.Customer{}, ledger.WrapOpError(op, customerID, err)
	}

	before := c
	c = Recompute(c, e.policy.RoundNonNegative(newOutstanding))
	if paymentDate != nil {
		t := *paymentDate
		c.LastPaymentDate = &t
	}

	changed := !before.TotalOutstanding.Equal(c.TotalOutstanding) ||
		!before.AvailableCredit.Equal(c.AvailableCredit) ||
		before.CreditStatus != c.CreditStatus
	if !changed && paymentDate == nil {
		return c, nil
	}

	c.UpdatedAt = e.now()
	if err := e.customers.Upsert(ctx, c); err != nil {
		return models.Customer{}, ledger.WrapOpError(op, customerID, err)
	}

	if changed {
		e.emit(ctx, ChangeOutstanding, before, c, "")
		e.logStatusChange(ctx, before, c)
	}
	return c, nil
}

// RecalculateFromLedger sums the remaining amount of the customer's
// invoices and applies it as the outstanding balance. Running it twice with
// no invoice change in between is a no-op.
func (e *Engine) RecalculateFromLedger(ctx context.Context, customerID string) (models.Customer, error) {
	return e.recalculate(ctx, "RecalculateFromLedger", customerID, nil)
}

// RecalculateAfterPayment reconciles like RecalculateFromLedger and records
// paidAt as the customer's last payment date.
func (e *Engine) RecalculateAfterPayment(ctx context.Context, customerID string, paidAt time.Time) (models.Customer, error) {
	return e.recalculate(ctx, "RecalculateAfterPayment", customerID, &paidAt)
}

func (e *Engine) recalculate(ctx context.Context, op, customerID string, paidAt *time.Time) (models.Customer, error) {
	ctx, release := e.locker.Acquire(ctx, ledger.CustomerKey(customerID))
	defer release()

	if _, err := e.customers.Get(ctx, customerID); err != nil {
		return models.Customer{}, ledger.WrapOpError(op, customerID, err)
	}

	outstanding, err := e.LedgerOutstanding(ctx, customerID)
	if err != nil {
		return models.Customer{}, ledger.WrapOpError(op, customerID, err)
	}
	return e.ApplyOutstanding(ctx, customerID, outstanding, paidAt)
}

// LedgerOutstanding returns the rounded sum of remaining amounts over the
// customer's invoices.
func (e *Engine) LedgerOutstanding(ctx context.Context, customerID string) (decimal.Decimal, error) {
	invoices, err := e.invoices.ListByCustomer(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, inv := range invoices {
		sum = sum.Add(inv.RemainingAmount)
	}
	return e.policy.RoundNonNegative(sum), nil
}

// SetCreditLimit replaces the credit limit and recomputes available credit
// and status against the existing outstanding balance.
func (e *Engine) SetCreditLimit(ctx context.Context, customerID string, newLimit decimal.Decimal, reason string) (LimitChange, error) {
	const op = "SetCreditLimit"

	if newLimit.IsNegative() {
		return LimitChange{}, ledger.Invalid(op, customerID, "newLimit", newLimit.String(), "credit limit must not be negative")
	}

	ctx, release := e.locker.Acquire(ctx, ledger.CustomerKey(customerID))
	defer release()

	c, err := e.customers.Get(ctx, customerID)
	if err != nil {
		return LimitChange{}, ledger.WrapOpError(op, customerID, err)
	}

	before := c
	c.CreditLimit = e.policy.Round(newLimit)
	c = Recompute(c, c.TotalOutstanding)
	now := e.now()
	c.UpdatedAt = now

	if err := e.customers.Upsert(ctx, c); err != nil {
		return LimitChange{}, ledger.WrapOpError(op, customerID, err)
	}

	actor := ledger.ActorFrom(ctx)
	change := models.CreditChangeLog{
		ID:           uuid.NewString(),
		CustomerID:   customerID,
		OldLimit:     before.CreditLimit,
		NewLimit:     c.CreditLimit,
		OldAvailable: before.AvailableCredit,
		NewAvailable: c.AvailableCredit,
		OldStatus:    before.CreditStatus,
		NewStatus:    c.CreditStatus,
		Reason:       reason,
		Actor:        actor,
		ChangedAt:    now,
	}

	e.emit(ctx, ChangeLimit, before, c, reason)
	log := logger.WithActor(e.log, actor)
	log.Info().
		Str("customer_id", customerID).
		Str("old_limit", before.CreditLimit.String()).
		Str("new_limit", c.CreditLimit.String()).
		Str("available_credit", c.AvailableCredit.String()).
		Str("credit_status", string(c.CreditStatus)).
		Str("reason", reason).
		Msg("Credit limit changed")

	return LimitChange{Customer: c, ChangeLog: change}, nil
}

// Block puts the customer into the manual blocked state. Blocked is never
// cleared by recalculation; only Unblock leaves it.
func (e *Engine) Block(ctx context.Context, customerID, reason string) (models.Customer, error) {
	const op = "Block"

	if reason == "" {
		return models.Customer{}, ledger.Invalid(op, customerID, "reason", reason, "a block reason is required")
	}

	ctx, release := e.locker.Acquire(ctx, ledger.CustomerKey(customerID))
	defer release()

	c, err := e.customers.Get(ctx, customerID)
	if err != nil {
		return models.Customer{}, ledger.WrapOpError(op, customerID, err)
	}

	before := c
	c.CreditStatus = models.CreditBlocked
	c.BlockReason = reason
	c.UpdatedAt = e.now()
	if err := e.customers.Upsert(ctx, c); err != nil {
		return models.Customer{}, ledger.WrapOpError(op, customerID, err)
	}

	e.emit(ctx, ChangeBlock, before, c, reason)
	log := logger.WithActor(e.log, ledger.ActorFrom(ctx))
	log.Warn().
		Str("customer_id", customerID).
		Str("reason", reason).
		Msg("Customer credit blocked")
	return c, nil
}

// Unblock leaves the blocked state and derives the status from utilization
// again. Unblocking a customer that is not blocked changes nothing.
func (e *Engine) Unblock(ctx context.Context, customerID, reason string) (models.Customer, error) {
	const op = "Unblock"

	ctx, release := e.locker.Acquire(ctx, ledger.CustomerKey(customerID))
	defer release()

	c, err := e.customers.Get(ctx, customerID)
	if err != nil {
		return models.Customer{}, ledger.WrapOpError(op, customerID, err)
	}
	if c.CreditStatus != models.CreditBlocked {
		return c, nil
	}

	before := c
	c.CreditStatus = DeriveStatus(c.CreditLimit, c.TotalOutstanding)
	c.BlockReason = ""
	c.UpdatedAt = e.now()
	if err := e.customers.Upsert(ctx, c); err != nil {
		return models.Customer{}, ledger.WrapOpError(op, customerID, err)
	}

	e.emit(ctx, ChangeUnblock, before, c, reason)
	log := logger.WithActor(e.log, ledger.ActorFrom(ctx))
	log.Info().
		Str("customer_id", customerID).
		Str("credit_status", string(c.CreditStatus)).
		Msg("Customer credit unblocked")
	return c, nil
}

func (e *Engine) emit(ctx context.Context, change string, before, after models.Customer, reason string) {
	e.notifier.Emit(ctx, notify.CreditUpdate, UpdateEvent{
		CustomerID:     after.ID,
		Change:         change,
		OldLimit:       before.CreditLimit,
		NewLimit:       after.CreditLimit,
		OldOutstanding: before.TotalOutstanding,
		NewOutstanding: after.TotalOutstanding,
		OldAvailable:   before.AvailableCredit,
		NewAvailable:   after.AvailableCredit,
		OldStatus:      before.CreditStatus,
		NewStatus:      after.CreditStatus,
		Reason:         reason,
		Actor:          ledger.ActorFrom(ctx),
		At:             after.UpdatedAt,
	})
}

func (e *Engine) logStatusChange(ctx context.Context, before, after models.Customer) {
	if before.CreditStatus == after.CreditStatus {
		return
	}
	event := e.log.Info()
	if after.CreditStatus == models.CreditExceeded {
		event = e.log.Warn()
	}
	event.
		Str("actor", ledger.ActorFrom(ctx)).
		Str("customer_id", after.ID).
		Str("old_status", string(before.CreditStatus)).
		Str("new_status", string(after.CreditStatus)).
		Str("utilization", Utilization(after.CreditLimit, after.TotalOutstanding).String()).
		Msg("Credit status changed")
}
