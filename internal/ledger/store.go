// Package ledger defines the storage abstraction shared by the credit and
// stock engines, the per-entity scopes that serialize their writes, and the
// error taxonomy every core operation reports through.
//
// The store only holds and looks up aggregates. It owns no business rules:
// derived fields such as a customer's available credit are computed by the
// engines and written back through Upsert.
package ledger

import (
	"context"

	"crm/pkg/models"
)

// CustomerRepository stores customers. Customers are never removed: Delete
// marks the customer inactive.
type CustomerRepository interface {
	Get(ctx context.Context, id string) (models.Customer, error)
	List(ctx context.Context) ([]models.Customer, error)
	Upsert(ctx context.Context, customer models.Customer) error
	Delete(ctx context.Context, id string) error
}

// InvoiceRepository stores invoices. Invoices are never deleted.
type InvoiceRepository interface {
	Get(ctx context.Context, id string) (models.Invoice, error)
	List(ctx context.Context) ([]models.Invoice, error)
	ListByCustomer(ctx context.Context, customerID string) ([]models.Invoice, error)
	Upsert(ctx context.Context, invoice models.Invoice) error
}

// ProductRepository stores products. Delete is a hard delete.
type ProductRepository interface {
	Get(ctx context.Context, id string) (models.Product, error)
	List(ctx context.Context) ([]models.Product, error)
	Upsert(ctx context.Context, product models.Product) error
	Delete(ctx context.Context, id string) error
}

// Store bundles the three repositories of the ledger.
//
// Get and Delete return an error matching ErrNotFound for unknown ids.
type Store interface {
	Customers() CustomerRepository
	Invoices() InvoiceRepository
	Products() ProductRepository
	Close() error
}
