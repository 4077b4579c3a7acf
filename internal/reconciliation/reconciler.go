// Package reconciliation keeps each customer's cached outstanding balance
// in line with the invoice ledger and imports ledger data kept in a
// spreadsheet.
package reconciliation

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"crm/internal/ledger"
	"crm/internal/logger"
	"crm/pkg/models"
)

// DefaultWorkers is used when ReconcileAll is called with workers <= 0.
const DefaultWorkers = 8

// Recalculator recomputes a customer's credit from the invoice ledger.
type Recalculator interface {
	RecalculateFromLedger(ctx context.Context, customerID string) (models.Customer, error)
}

// Reconciler recalculates every customer in parallel.
type Reconciler struct {
	customers ledger.CustomerRepository
	credit    Recalculator
	log       zerolog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(customers ledger.CustomerRepository, credit Recalculator) *Reconciler {
	return &Reconciler{
		customers: customers,
		credit:    credit,
		log:       logger.WithComponent("reconciliation"),
	}
}

type job struct {
	index    int
	customer models.Customer
}

// ReconcileAll recalculates every customer with a pool of workers and
// reports the drift between the cached and the recomputed outstanding
// balance. Failures of single customers are recorded in the report.
// Customers not reached before ctx is cancelled are reported as failed.
func (r *Reconciler) ReconcileAll(ctx context.Context, workers int) (Report, error) {
	const op = "ReconcileAll"

	customers, err := r.customers.List(ctx)
	if err != nil {
		return Report{}, ledger.WrapOpError(op, "", err)
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}

	r.log.Info().
		Int("customers", len(customers)).
		Int("workers", workers).
		Msg("Reconciling customers")

	jobs := make(chan job, len(customers))
	results := make([]Drift, len(customers))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := range jobs {
				r.log.Debug().
					Int("worker", workerID).
					Str("customer_id", j.customer.ID).
					Msg("Worker reconciling customer")
				results[j.index] = r.reconcileOne(ctx, j.customer)
			}
		}(w)
	}

	for i, c := range customers {
		jobs <- job{index: i, customer: c}
	}
	close(jobs)
	wg.Wait()

	report := Report{Customers: len(results), Results: results}
	for _, d := range results {
		switch {
		case d.Error != "":
			report.Failed++
		case d.Drifted():
			report.Drifted++
		}
	}

	r.log.Info().
		Int("customers", report.Customers).
		Int("drifted", report.Drifted).
		Int("failed", report.Failed).
		Msg("Reconciliation finished")

	return report, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, before models.Customer) Drift {
	d := Drift{
		CustomerID:        before.ID,
		OutstandingBefore: before.TotalOutstanding,
		OutstandingAfter:  before.TotalOutstanding,
		StatusBefore:      before.CreditStatus,
		StatusAfter:       before.CreditStatus,
	}
	if err := ctx.Err(); err != nil {
		d.Error = err.Error()
		return d
	}

	after, err := r.credit.RecalculateFromLedger(ctx, before.ID)
	if err != nil {
		r.log.Error().Err(err).Str("customer_id", before.ID).Msg("Failed to reconcile customer")
		d.Error = err.Error()
		return d
	}

	d.OutstandingAfter = after.TotalOutstanding
	d.StatusAfter = after.CreditStatus
	d.Difference = after.TotalOutstanding.Sub(before.TotalOutstanding)
	if d.Drifted() {
		r.log.Warn().
			Str("customer_id", before.ID).
			Str("before", before.TotalOutstanding.String()).
			Str("after", after.TotalOutstanding.String()).
			Msg("Outstanding balance drifted from the invoice ledger")
	}
	return d
}
