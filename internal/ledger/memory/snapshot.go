package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"crm/pkg/models"
)

// Snapshot is the serialized form of a Store.
type Snapshot struct {
	Customers []models.Customer `json:"customers"`
	Invoices  []models.Invoice  `json:"invoices"`
	Products  []models.Product  `json:"products"`
}

// Export copies the store's contents into a snapshot ordered by id.
func (s *Store) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Customers: make([]models.Customer, 0, len(s.customers)),
		Invoices:  make([]models.Invoice, 0, len(s.invoices)),
		Products:  make([]models.Product, 0, len(s.products)),
	}
	for _, c := range s.customers {
		snap.Customers = append(snap.Customers, c.Clone())
	}
	for _, inv := range s.invoices {
		snap.Invoices = append(snap.Invoices, inv.Clone())
	}
	for _, p := range s.products {
		snap.Products = append(snap.Products, p)
	}
	sort.Slice(snap.Customers, func(i, j int) bool { return snap.Customers[i].ID < snap.Customers[j].ID })
	sort.Slice(snap.Invoices, func(i, j int) bool { return snap.Invoices[i].ID < snap.Invoices[j].ID })
	sort.Slice(snap.Products, func(i, j int) bool { return snap.Products[i].ID < snap.Products[j].ID })
	return snap
}

// Import replaces the store's contents with the snapshot.
func (s *Store) Import(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.customers = make(map[string]models.Customer, len(snap.Customers))
	s.invoices = make(map[string]models.Invoice, len(snap.Invoices))
	s.products = make(map[string]models.Product, len(snap.Products))
	for _, c := range snap.Customers {
		s.customers[c.ID] = c.Clone()
	}
	for _, inv := range snap.Invoices {
		s.invoices[inv.ID] = inv.Clone()
	}
	for _, p := range snap.Products {
		s.products[p.ID] = p
	}
}

// Load reads a snapshot file into a new store. A missing file yields an
// empty store.
func Load(path string) (*Store, error) {
	s := New()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse ledger file %s: %w", path, err)
	}
	s.Import(snap)
	return s, nil
}

// Save writes the store to path, replacing the file atomically.
func (s *Store) Save(path string) error {
	data, err := json.MarshalIndent(s.Export(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write ledger file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}
	return nil
}
