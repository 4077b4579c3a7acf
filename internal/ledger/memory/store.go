// Package memory is the in-process ledger store. All three repositories live
// in maps keyed by id; reads and writes exchange copies so callers never
// alias stored state.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"crm/internal/ledger"
	"crm/pkg/models"
)

// Store is a ledger.Store backed by maps.
type Store struct {
	mu        sync.RWMutex
	customers map[string]models.Customer
	invoices  map[string]models.Invoice
	products  map[string]models.Product

	now func() time.Time
}

var _ ledger.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		customers: make(map[string]models.Customer),
		invoices:  make(map[string]models.Invoice),
		products:  make(map[string]models.Product),
		now:       time.Now,
	}
}

func (s *Store) Customers() ledger.CustomerRepository { return customerRepo{s} }
func (s *Store) Invoices() ledger.InvoiceRepository   { return invoiceRepo{s} }
func (s *Store) Products() ledger.ProductRepository   { return productRepo{s} }

// Close is a no-op; the store holds no external resources.
func (s *Store) Close() error { return nil }

type customerRepo struct{ s *Store }

func (r customerRepo) Get(_ context.Context, id string) (models.Customer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	c, ok := r.s.customers[id]
	if !ok {
		return models.Customer{}, ledger.NotFound("GetCustomer", "customer", id)
	}
	return c.Clone(), nil
}

func (r customerRepo) List(_ context.Context) ([]models.Customer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]models.Customer, 0, len(r.s.customers))
	for _, c := range r.s.customers {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r customerRepo) Upsert(_ context.Context, c models.Customer) error {
	if c.ID == "" {
		return ledger.Invalid("UpsertCustomer", "", "id", c.ID, "must not be empty")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.customers[c.ID] = c.Clone()
	return nil
}

// Delete soft-deletes the customer.
func (r customerRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.customers[id]
	if !ok {
		return ledger.NotFound("DeleteCustomer", "customer", id)
	}
	c.Status = models.CustomerInactive
	c.UpdatedAt = r.s.now()
	r.s.customers[id] = c
	return nil
}

type invoiceRepo struct{ s *Store }

func (r invoiceRepo) Get(_ context.Context, id string) (models.Invoice, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	inv, ok := r.s.invoices[id]
	if !ok {
		return models.Invoice{}, ledger.NotFound("GetInvoice", "invoice", id)
	}
	return inv.Clone(), nil
}

func (r invoiceRepo) List(_ context.Context) ([]models.Invoice, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.collect(func(models.Invoice) bool { return true }), nil
}

func (r invoiceRepo) ListByCustomer(_ context.Context, customerID string) ([]models.Invoice, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.collect(func(inv models.Invoice) bool { return inv.CustomerID == customerID }), nil
}

func (r invoiceRepo) collect(keep func(models.Invoice) bool) []models.Invoice {
	out := make([]models.Invoice, 0)
	for _, inv := range r.s.invoices {
		if keep(inv) {
			out = append(out, inv.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssueDate.Equal(out[j].IssueDate) {
			return out[i].IssueDate.Before(out[j].IssueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r invoiceRepo) Upsert(_ context.Context, inv models.Invoice) error {
	if inv.ID == "" {
		return ledger.Invalid("UpsertInvoice", "", "id", inv.ID, "must not be empty")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.invoices[inv.ID] = inv.Clone()
	return nil
}

type productRepo struct{ s *Store }

func (r productRepo) Get(_ context.Context, id string) (models.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.products[id]
	if !ok {
		return models.Product{}, ledger.NotFound("GetProduct", "product", id)
	}
	return p, nil
}

func (r productRepo) List(_ context.Context) ([]models.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]models.Product, 0, len(r.s.products))
	for _, p := range r.s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r productRepo) Upsert(_ context.Context, p models.Product) error {
	if p.ID == "" {
		return ledger.Invalid("UpsertProduct", "", "id", p.ID, "must not be empty")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.products[p.ID] = p
	return nil
}

func (r productRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.products[id]; !ok {
		return ledger.NotFound("DeleteProduct", "product", id)
	}
	delete(r.s.products, id)
	return nil
}
