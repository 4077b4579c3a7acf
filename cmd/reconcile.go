package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"crm/internal/logger"
	"crm/internal/reconciliation"
	"crm/internal/sheets"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile every customer's credit with the invoice ledger",
	Long: `Recalculate the outstanding balance of every customer from their invoices
and report where the cached balance had drifted.

With --from-sheet the Customers, Products and Invoices sheets of a Google
Sheet are imported first. Existing invoices are never overwritten; credit
limit and stock changes of existing records are applied through the credit
and stock engines.

Required environment variables for --from-sheet and --write-sheet:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  GOOGLE_SHEET_URL - Google Sheets URL (or --sheet-url)`,
	Example: `  # Reconcile with the configured number of workers
  crm reconcile

  # Import the spreadsheet ledger, then reconcile with 16 workers
  crm reconcile --from-sheet --workers 16

  # Write the drift report to a "Reconciliation" sheet
  crm reconcile --write-sheet Reconciliation`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

// ReconcileOutput is the JSON output of reconcile.
type ReconcileOutput struct {
	Import *reconciliation.ImportReport `json:"import,omitempty"`
	Report reconciliation.Report        `json:"report"`
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().Int("workers", 0, "Number of parallel workers (default: RECONCILE_WORKERS)")
	reconcileCmd.Flags().Bool("from-sheet", false, "Import customers, products and invoices from Google Sheets first")
	reconcileCmd.Flags().String("sheet-url", "", "Google Sheets URL (default: GOOGLE_SHEET_URL)")
	reconcileCmd.Flags().String("write-sheet", "", "Write the drift report to this sheet")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("reconcile")
	ctx := cmd.Context()

	workers, _ := cmd.Flags().GetInt("workers")
	fromSheet, _ := cmd.Flags().GetBool("from-sheet")
	sheetURL, _ := cmd.Flags().GetString("sheet-url")
	writeSheet, _ := cmd.Flags().GetString("write-sheet")

	if workers <= 0 {
		workers = ledgerApp.cfg.ReconcileWorkers
	}
	if sheetURL == "" {
		sheetURL = ledgerApp.cfg.GoogleSheetURL
	}

	var sheetsService *sheets.Service
	if fromSheet || writeSheet != "" {
		if sheetURL == "" {
			return fmt.Errorf("GOOGLE_SHEET_URL environment variable or --sheet-url is required")
		}
		var err error
		sheetsService, err = sheets.NewSheetsService(ctx, sheetURL)
		if err != nil {
			return fmt.Errorf("failed to initialize Google Sheets service: %w", err)
		}
		log.Info().Msg("Google Sheets service initialized successfully")
	}

	log.Info().
		Int("workers", workers).
		Bool("from_sheet", fromSheet).
		Str("write_sheet", writeSheet).
		Msg("Starting ledger reconciliation")

	var out ReconcileOutput
	if fromSheet {
		policy, err := ledgerApp.cfg.RoundingPolicy()
		if err != nil {
			return err
		}
		importer := reconciliation.NewSheetImporter(sheetsService, ledgerApp.store, ledgerApp.locker, ledgerApp.credit, ledgerApp.stock, policy)
		report, err := importer.Import(ctx)
		if err != nil {
			return fmt.Errorf("sheet import failed: %w", err)
		}
		out.Import = &report
	}

	report, err := ledgerApp.reconciler.ReconcileAll(ctx, workers)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}
	out.Report = report

	if writeSheet != "" {
		if err := sheetsService.WriteTable(ctx, writeSheet, reconciliation.ReportHeader, report.Rows()); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	log.Info().
		Int("customers", report.Customers).
		Int("drifted", report.Drifted).
		Int("failed", report.Failed).
		Msg("Ledger reconciliation completed")

	return writeOutput(cmd, out)
}
