// Package stock validates and applies changes to product stock levels.
//
// Stock never goes below zero and reserved units never exceed the units on
// hand. Rejected changes leave the product untouched.
package stock

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crm/internal/ledger"
	"crm/internal/logger"
	"crm/internal/notify"
	"crm/pkg/models"
)

// UpdateEvent is the payload of a stock-update event.
type UpdateEvent struct {
	ProductID     string              `json:"product_id"`
	MovementID    string              `json:"movement_id"`
	MovementType  models.MovementType `json:"movement_type"`
	PreviousStock int64               `json:"previous_stock"`
	NewStock      int64               `json:"new_stock"`
	Quantity      int64               `json:"quantity"`
	Reserved      int64               `json:"reserved"`
	LowStock      bool                `json:"low_stock"`
	Reason        string              `json:"reason,omitempty"`
	Actor         string              `json:"actor"`
	At            time.Time           `json:"at"`
}

// Adjustment is the result of a stock mutation.
type Adjustment struct {
	Product  models.Product       `json:"product"`
	Movement models.StockMovement `json:"movement"`

	// LowStock is set when current stock is below the product minimum.
	LowStock bool `json:"low_stock"`

	// OverMaximum is set when current stock exceeds a configured maximum.
	OverMaximum bool `json:"over_maximum"`
}

// Engine is the stock engine.
type Engine struct {
	products ledger.ProductRepository
	locker   *ledger.Locker
	notifier notify.Notifier
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the receiver of stock-update events.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLocker shares the product scopes with other components.
func WithLocker(l *ledger.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a stock engine over store.
func NewEngine(store ledger.Store, opts ...Option) *Engine {
	e := &Engine{
		products: store.Products(),
		locker:   ledger.NewLocker(),
		notifier: notify.Noop{},
		now:      time.Now,
		log:      logger.WithComponent("stock-engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetStock overwrites current stock with max(0, round(newCurrent)).
// Reservations are cut down to the new level. Levels that do not fit an
// int64 are rejected.
func (e *Engine) SetStock(ctx context.Context, productID string, newCurrent float64) (models.Product, error) {
	const op = "SetStock"

	if math.IsNaN(newCurrent) || math.IsInf(newCurrent, 0) {
		return models.Product{}, ledger.Invalid(op, productID, "newCurrent", newCurrent, "stock level must be a finite number")
	}
	rounded := math.Max(0, math.Round(newCurrent))
	if rounded >= math.MaxInt64 {
		return models.Product{}, ledger.Invalid(op, productID, "newCurrent", newCurrent, "stock level is out of range")
	}
	level := int64(rounded)

	adj, err := e.mutate(ctx, op, productID, func(p *models.Product) (models.MovementType, int64, error) {
		prev := p.Stock.Current
		p.Stock.Current = level
		if p.Stock.Reserved > level {
			p.Stock.Reserved = level
		}
		return models.MovementSet, abs(level - prev), nil
	}, "manual stock count")
	if err != nil {
		return models.Product{}, err
	}
	return adj.Product, nil
}

// AdjustStock applies a signed delta. Positive deltas are inbound
// movements, negative ones outbound. A result below zero, or below the
// reserved units, is rejected with ErrInsufficientStock.
func (e *Engine) AdjustStock(ctx context.Context, productID string, delta int64, reason string) (Adjustment, error) {
	const op = "AdjustStock"

	if delta == 0 {
		return Adjustment{}, ledger.Invalid(op, productID, "delta", delta, "stock adjustment must not be zero")
	}

	return e.mutate(ctx, op, productID, func(p *models.Product) (models.MovementType, int64, error) {
		if delta > 0 && p.Stock.Current > math.MaxInt64-delta {
			return "", 0, ledger.Invalid(op, productID, "delta", delta, "stock level would be out of range")
		}
		next := p.Stock.Current + delta
		if next < 0 {
			return "", 0, ledger.NewOpError(op, productID, ledger.ErrInsufficientStock,
				fmt.Sprintf("cannot remove %d units, %d on hand", -delta, p.Stock.Current))
		}
		if next < p.Stock.Reserved {
			return "", 0, ledger.NewOpError(op, productID, ledger.ErrInsufficientStock,
				fmt.Sprintf("cannot remove %d units, %d of %d on hand are reserved", -delta, p.Stock.Reserved, p.Stock.Current))
		}
		p.Stock.Current = next
		if delta > 0 {
			return models.MovementInbound, delta, nil
		}
		return models.MovementOutbound, -delta, nil
	}, reason)
}

// CheckAvailability reports whether quantity unreserved units are on hand.
// It is false for unknown products.
func (e *Engine) CheckAvailability(ctx context.Context, productID string, quantity int64) bool {
	p, err := e.products.Get(ctx, productID)
	if err != nil {
		return false
	}
	return p.Stock.Available() >= quantity
}

// Available returns the unreserved units of a product.
func (e *Engine) Available(ctx context.Context, productID string) (int64, error) {
	p, err := e.products.Get(ctx, productID)
	if err != nil {
		return 0, ledger.WrapOpError("Available", productID, err)
	}
	return p.Stock.Available(), nil
}

// Minimum returns the product's configured minimum stock.
func (e *Engine) Minimum(ctx context.Context, productID string) (int64, bool) {
	p, err := e.products.Get(ctx, productID)
	if err != nil {
		return 0, false
	}
	return p.Stock.Minimum, true
}

// DecreaseForSale removes sold units. It fails without mutating when the
// units are not available.
func (e *Engine) DecreaseForSale(ctx context.Context, productID string, quantity int64) (models.Product, error) {
	const op = "DecreaseForSale"

	if quantity <= 0 {
		return models.Product{}, ledger.Invalid(op, productID, "quantity", quantity, "sale quantity must be positive")
	}

	adj, err := e.mutate(ctx, op, productID, func(p *models.Product) (models.MovementType, int64, error) {
		if p.Stock.Available() < quantity {
			return "", 0, ledger.NewOpError(op, productID, ledger.ErrInsufficientStock,
				fmt.Sprintf("requested %d, available %d", quantity, p.Stock.Available()))
		}
		p.Stock.Current -= quantity
		return models.MovementOutbound, quantity, nil
	}, "sale")
	if err != nil {
		return models.Product{}, err
	}
	return adj.Product, nil
}

// Reserve locks quantity units for a pending order.
func (e *Engine) Reserve(ctx context.Context, productID string, quantity int64, reason string) (Adjustment, error) {
	const op = "Reserve"

	if quantity <= 0 {
		return Adjustment{}, ledger.Invalid(op, productID, "quantity", quantity, "reservation must be positive")
	}

	return e.mutate(ctx, op, productID, func(p *models.Product) (models.MovementType, int64, error) {
		if p.Stock.Available() < quantity {
			return "", 0, ledger.NewOpError(op, productID, ledger.ErrInsufficientStock,
				fmt.Sprintf("requested %d, available %d", quantity, p.Stock.Available()))
		}
		p.Stock.Reserved += quantity
		return models.MovementReserve, quantity, nil
	}, reason)
}

// Release returns reserved units to the available pool.
func (e *Engine) Release(ctx context.Context, productID string, quantity int64, reason string) (Adjustment, error) {
	const op = "Release"

	if quantity <= 0 {
		return Adjustment{}, ledger.Invalid(op, productID, "quantity", quantity, "release must be positive")
	}

	return e.mutate(ctx, op, productID, func(p *models.Product) (models.MovementType, int64, error) {
		if quantity > p.Stock.Reserved {
			return "", 0, ledger.Invalid(op, productID, "quantity", quantity,
				fmt.Sprintf("only %d units are reserved", p.Stock.Reserved))
		}
		p.Stock.Reserved -= quantity
		return models.MovementRelease, quantity, nil
	}, reason)
}

type mutation func(p *models.Product) (models.MovementType, int64, error)

// mutate runs fn on the product inside its scope and, when fn succeeds,
// stores the result, builds the movement record and emits the event.
func (e *Engine) mutate(ctx context.Context, op, productID string, fn mutation, reason string) (Adjustment, error) {
	ctx, release := e.locker.Acquire(ctx, ledger.ProductKey(productID))
	defer release()

	p, err := e.products.Get(ctx, productID)
	if err != nil {
		return Adjustment{}, ledger.WrapOpError(op, productID, err)
	}

	prev := p.Stock.Current
	kind, qty, err := fn(&p)
	if err != nil {
		e.log.Debug().Err(err).Str("product_id", productID).Str("op", op).Msg("Stock change rejected")
		return Adjustment{}, err
	}

	now := e.now()
	p.UpdatedAt = now
	if err := e.products.Upsert(ctx, p); err != nil {
		return Adjustment{}, ledger.WrapOpError(op, productID, err)
	}

	actor := ledger.ActorFrom(ctx)
	adj := Adjustment{
		Product: p,
		Movement: models.StockMovement{
			ID:            uuid.NewString(),
			ProductID:     productID,
			Type:          kind,
			PreviousStock: prev,
			NewStock:      p.Stock.Current,
			Quantity:      qty,
			Reason:        reason,
			Actor:         actor,
			CreatedAt:     now,
		},
		LowStock:    p.Stock.IsLow(),
		OverMaximum: p.Stock.Maximum > 0 && p.Stock.Current > p.Stock.Maximum,
	}

	e.notifier.Emit(ctx, notify.StockUpdate, UpdateEvent{
		ProductID:     productID,
		MovementID:    adj.Movement.ID,
		MovementType:  kind,
		PreviousStock: prev,
		NewStock:      p.Stock.Current,
		Quantity:      qty,
		Reserved:      p.Stock.Reserved,
		LowStock:      adj.LowStock,
		Reason:        reason,
		Actor:         actor,
		At:            now,
	})

	log := logger.WithActor(e.log, actor)
	log.Info().
		Str("product_id", productID).
		Str("movement", string(kind)).
		Int64("previous_stock", prev).
		Int64("new_stock", p.Stock.Current).
		Int64("reserved", p.Stock.Reserved).
		Str("reason", reason).
		Msg("Stock updated")
	if adj.LowStock {
		log.Warn().
			Str("product_id", productID).
			Int64("current", p.Stock.Current).
			Int64("minimum", p.Stock.Minimum).
			Msg("Stock below minimum")
	}
	if adj.OverMaximum {
		log.Warn().
			Str("product_id", productID).
			Int64("current", p.Stock.Current).
			Int64("maximum", p.Stock.Maximum).
			Msg("Stock above maximum")
	}

	return adj, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
