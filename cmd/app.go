package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"crm/internal/admission"
	"crm/internal/config"
	"crm/internal/credit"
	"crm/internal/invoice"
	"crm/internal/ledger"
	"crm/internal/ledger/memory"
	"crm/internal/ledger/postgres"
	"crm/internal/logger"
	"crm/internal/notify"
	"crm/internal/reconciliation"
	"crm/internal/sales"
	"crm/internal/stock"
)

// app is the ledger wired for one command invocation.
type app struct {
	cfg       *config.Config
	store     ledger.Store
	snapshot  *memory.Store // nil unless the memory store is used
	publisher *notify.Publisher
	cancel    context.CancelFunc

	locker     *ledger.Locker
	credit     *credit.Engine
	stock      *stock.Engine
	admission  *admission.Controller
	invoices   *invoice.Service
	sales      *sales.Workflow
	reconciler *reconciliation.Reconciler

	log zerolog.Logger
}

func newApp(ctx context.Context, c *config.Config) (*app, error) {
	a := &app{cfg: c, log: logger.WithComponent("app")}

	policy, err := c.RoundingPolicy()
	if err != nil {
		return nil, err
	}

	switch c.LedgerStore {
	case "postgres":
		store, err := postgres.Open(ctx, c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.store = store
	default:
		store, err := memory.Load(c.LedgerFile)
		if err != nil {
			return nil, err
		}
		a.store = store
		a.snapshot = store
	}

	var notifier notify.Notifier = notify.Noop{}
	opts := notify.Options{TopicPrefix: c.KafkaTopicPrefix, Buffer: c.NotifierBuffer}
	switch c.Notifier {
	case "channel":
		pub, sub := notify.NewChannelPublisher(opts)
		subCtx, cancel := context.WithCancel(context.Background())
		if err := notify.LogEvents(subCtx, sub, c.KafkaTopicPrefix, logger.WithComponent("events")); err != nil {
			cancel()
			_ = a.store.Close()
			return nil, fmt.Errorf("failed to subscribe to change events: %w", err)
		}
		a.publisher, a.cancel, notifier = pub, cancel, pub
	case "kafka":
		pub, err := notify.NewKafkaPublisher(c.KafkaBrokers, opts)
		if err != nil {
			_ = a.store.Close()
			return nil, err
		}
		a.publisher, notifier = pub, pub
	}

	a.locker = ledger.NewLocker()
	a.credit = credit.NewEngine(a.store,
		credit.WithNotifier(notifier),
		credit.WithPolicy(policy),
		credit.WithLocker(a.locker))
	a.stock = stock.NewEngine(a.store,
		stock.WithNotifier(notifier),
		stock.WithLocker(a.locker))
	a.admission = admission.NewController(a.credit, a.stock, a.stock)
	a.invoices = invoice.NewService(a.store, a.credit,
		invoice.WithLocker(a.locker),
		invoice.WithPaymentTerms(c.DefaultPaymentTermsDays))
	a.sales = sales.NewWorkflow(a.locker, a.admission, a.stock, a.invoices)
	a.reconciler = reconciliation.NewReconciler(a.store.Customers(), a.credit)

	a.log.Debug().
		Str("store", c.LedgerStore).
		Str("notifier", c.Notifier).
		Str("currency", policy.Currency).
		Msg("Ledger opened")

	return a, nil
}

// save persists the memory store. Postgres writes are already durable.
func (a *app) save() error {
	if a.snapshot == nil {
		return nil
	}
	if err := a.snapshot.Save(a.cfg.LedgerFile); err != nil {
		return err
	}
	a.log.Debug().Str("file", a.cfg.LedgerFile).Msg("Ledger saved")
	return nil
}

// close drains the notifier and closes the store.
func (a *app) close() error {
	var firstErr error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			firstErr = err
		}
		if dropped := a.publisher.Dropped(); dropped > 0 {
			a.log.Warn().Int64("dropped", dropped).Msg("Change events were dropped")
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// writeOutput prints v as indented JSON to stdout or to the --output file.
func writeOutput(cmd *cobra.Command, v interface{}) error {
	log := logger.WithComponent("output")

	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal output to JSON")
		return fmt.Errorf("failed to create JSON output: %w", err)
	}

	outputPath, _ := cmd.Flags().GetString("output")
	if outputPath != "" {
		if err := os.WriteFile(outputPath, jsonData, 0644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}

		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(jsonData)).
			Msg("Output written to file")
		return nil
	}

	if _, err := os.Stdout.Write(jsonData); err != nil {
		log.Error().Err(err).Msg("Failed to write to stdout")
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Println()
	return nil
}
