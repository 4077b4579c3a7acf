package cmd

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"crm/internal/invoice"
	"crm/pkg/models"
)

var invoiceCmd = &cobra.Command{
	Use:   "invoice",
	Short: "Issue invoices and book payments",
	Long: `Issue invoices and book payments against them.

Invoices are the source of truth for a customer's outstanding balance:
issuing an invoice or booking a payment recalculates the customer's credit.
A paid invoice only accepts audit notes.`,
}

var invoiceIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue an invoice",
	Example: `  # Issue an invoice with two lines, due in the default payment terms
  crm invoice issue --customer C1 --line P1:100:900 --line P2:41:100

  # Check the lines against the total on the paper invoice
  crm invoice issue --customer C1 --line P1:10:100 --declared-total 1000 --due 2025-07-31`,
	Args: cobra.NoArgs,
	RunE: runInvoiceIssue,
}

var invoicePayCmd = &cobra.Command{
	Use:     "pay <invoice-id> <amount>",
	Short:   "Book a payment against an invoice",
	Example: `  crm invoice pay INV-1 40000 --paid-at 2025-06-15`,
	Args:    cobra.ExactArgs(2),
	RunE:    runInvoicePay,
}

var invoiceNoteCmd = &cobra.Command{
	Use:   "note <invoice-id> <text>",
	Short: "Add an audit note to an invoice",
	Args:  cobra.ExactArgs(2),
	RunE:  runInvoiceNote,
}

var invoiceRefreshCmd = &cobra.Command{
	Use:   "refresh-overdue",
	Short: "Mark invoices past their due date as overdue",
	Args:  cobra.NoArgs,
	RunE:  runInvoiceRefresh,
}

var invoiceShowCmd = &cobra.Command{
	Use:         "show <invoice-id>",
	Short:       "Show an invoice",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationReadOnly: "true"},
	RunE:        runInvoiceShow,
}

var invoiceListCmd = &cobra.Command{
	Use:         "list",
	Short:       "List invoices",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationReadOnly: "true"},
	RunE:        runInvoiceList,
}

func init() {
	rootCmd.AddCommand(invoiceCmd)
	invoiceCmd.AddCommand(invoiceIssueCmd, invoicePayCmd, invoiceNoteCmd, invoiceRefreshCmd, invoiceShowCmd, invoiceListCmd)

	invoiceIssueCmd.Flags().String("customer", "", "Customer id (required)")
	invoiceIssueCmd.Flags().StringArray("line", nil, "Invoice line as product:quantity:unit-price (repeatable)")
	invoiceIssueCmd.Flags().String("id", "", "Invoice id (default: generated)")
	invoiceIssueCmd.Flags().String("number", "", "Invoice number (default: derived from date and id)")
	invoiceIssueCmd.Flags().String("issue-date", "", "Issue date (format: YYYY-MM-DD, default: today)")
	invoiceIssueCmd.Flags().String("due", "", "Due date (format: YYYY-MM-DD, default: issue date plus payment terms)")
	invoiceIssueCmd.Flags().String("declared-total", "", "Total stated on the source document, checked against the lines")
	_ = invoiceIssueCmd.MarkFlagRequired("customer")

	invoicePayCmd.Flags().String("paid-at", "", "Payment date (format: YYYY-MM-DD, default: now)")
	invoiceRefreshCmd.Flags().String("at", "", "Reference date (format: YYYY-MM-DD, default: now)")
	invoiceListCmd.Flags().String("customer", "", "Only list invoices of this customer")
}

func runInvoiceIssue(cmd *cobra.Command, args []string) error {
	customerID, _ := cmd.Flags().GetString("customer")
	lineArgs, _ := cmd.Flags().GetStringArray("line")
	id, _ := cmd.Flags().GetString("id")
	number, _ := cmd.Flags().GetString("number")
	issueStr, _ := cmd.Flags().GetString("issue-date")
	dueStr, _ := cmd.Flags().GetString("due")
	declaredStr, _ := cmd.Flags().GetString("declared-total")

	lines, err := parseSaleLines(lineArgs)
	if err != nil {
		return err
	}
	items := make([]models.InvoiceItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, models.InvoiceItem{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}

	issueDate, err := parseDateFlag("issue", issueStr)
	if err != nil {
		return err
	}
	dueDate, err := parseDateFlag("due", dueStr)
	if err != nil {
		return err
	}

	var declared *decimal.Decimal
	if declaredStr != "" {
		d, err := parseAmount("declared-total", declaredStr)
		if err != nil {
			return err
		}
		declared = &d
	}

	res, err := ledgerApp.invoices.Issue(cmd.Context(), invoice.IssueRequest{
		ID:            id,
		Number:        number,
		CustomerID:    customerID,
		Items:         items,
		IssueDate:     issueDate,
		DueDate:       dueDate,
		DeclaredTotal: declared,
	})
	if err != nil {
		return err
	}
	return writeOutput(cmd, res)
}

func runInvoicePay(cmd *cobra.Command, args []string) error {
	amount, err := parseAmount("amount", args[1])
	if err != nil {
		return err
	}
	paidAtStr, _ := cmd.Flags().GetString("paid-at")
	paidAt, err := parseDateFlag("paid-at", paidAtStr)
	if err != nil {
		return err
	}

	res, err := ledgerApp.invoices.ApplyPayment(cmd.Context(), args[0], amount, paidAt)
	if err != nil {
		return err
	}
	return writeOutput(cmd, res)
}

func runInvoiceNote(cmd *cobra.Command, args []string) error {
	inv, err := ledgerApp.invoices.AddNote(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	return writeOutput(cmd, inv)
}

func runInvoiceRefresh(cmd *cobra.Command, args []string) error {
	atStr, _ := cmd.Flags().GetString("at")
	at, err := parseDateFlag("at", atStr)
	if err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now()
	}

	changed, err := ledgerApp.invoices.RefreshOverdue(cmd.Context(), at)
	if err != nil {
		return err
	}
	if changed == nil {
		changed = []models.Invoice{}
	}
	return writeOutput(cmd, changed)
}

func runInvoiceShow(cmd *cobra.Command, args []string) error {
	inv, err := ledgerApp.store.Invoices().Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return writeOutput(cmd, inv)
}

func runInvoiceList(cmd *cobra.Command, args []string) error {
	customerID, _ := cmd.Flags().GetString("customer")

	var (
		invoices []models.Invoice
		err      error
	)
	if customerID != "" {
		invoices, err = ledgerApp.store.Invoices().ListByCustomer(cmd.Context(), customerID)
	} else {
		invoices, err = ledgerApp.store.Invoices().List(cmd.Context())
	}
	if err != nil {
		return err
	}
	if invoices == nil {
		invoices = []models.Invoice{}
	}
	return writeOutput(cmd, invoices)
}
