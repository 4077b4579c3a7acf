package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"crm/internal/ledger"
	"crm/internal/sales"
)

var saleCmd = &cobra.Command{
	Use:   "sale",
	Short: "Evaluate and commit multi-line sales",
	Long: `Evaluate and commit multi-line sales.

A sale is admissible only when every line has enough unreserved stock and the
customer's available credit covers the total. A sale is all-or-nothing: one
short line rejects the whole sale.`,
}

var saleEvaluateCmd = &cobra.Command{
	Use:         "evaluate",
	Short:       "Check a sale without committing it",
	Example:     `  crm sale evaluate --customer C1 --line P1:100:250.50 --line P2:20:100`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationReadOnly: "true"},
	RunE:        runSaleEvaluate,
}

var saleCommitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit a sale: decrease stock and issue the invoice",
	Long: `Evaluate the sale and, when admissible, decrease the stock of every line
and issue the invoice while holding the customer and product scopes. A
rejected sale prints the decision and exits with status 4.`,
	Example: `  crm sale commit --customer C1 --line P1:100:250.50 --actor ayse`,
	Args:    cobra.NoArgs,
	RunE:    runSaleCommit,
}

func init() {
	rootCmd.AddCommand(saleCmd)
	saleCmd.AddCommand(saleEvaluateCmd, saleCommitCmd)

	for _, c := range []*cobra.Command{saleEvaluateCmd, saleCommitCmd} {
		c.Flags().String("customer", "", "Customer id (required)")
		c.Flags().StringArray("line", nil, "Sale line as product:quantity:unit-price (repeatable)")
		_ = c.MarkFlagRequired("customer")
	}
	saleCommitCmd.Flags().String("number", "", "Invoice number (default: derived from date and id)")
	saleCommitCmd.Flags().String("due", "", "Invoice due date (format: YYYY-MM-DD)")
}

func runSaleEvaluate(cmd *cobra.Command, args []string) error {
	customerID, _ := cmd.Flags().GetString("customer")
	lineArgs, _ := cmd.Flags().GetStringArray("line")

	lines, err := parseSaleLines(lineArgs)
	if err != nil {
		return err
	}
	decision, err := ledgerApp.admission.EvaluateSale(cmd.Context(), customerID, lines)
	if err != nil {
		return err
	}
	return writeOutput(cmd, decision)
}

func runSaleCommit(cmd *cobra.Command, args []string) error {
	customerID, _ := cmd.Flags().GetString("customer")
	lineArgs, _ := cmd.Flags().GetStringArray("line")
	number, _ := cmd.Flags().GetString("number")
	dueStr, _ := cmd.Flags().GetString("due")

	lines, err := parseSaleLines(lineArgs)
	if err != nil {
		return err
	}
	due, err := parseDateFlag("due", dueStr)
	if err != nil {
		return err
	}

	res, err := ledgerApp.sales.Commit(cmd.Context(), sales.CommitRequest{
		CustomerID:    customerID,
		Lines:         lines,
		InvoiceNumber: number,
		DueDate:       due,
	})
	if errors.Is(err, ledger.ErrSaleRejected) {
		if werr := writeOutput(cmd, res); werr != nil {
			return werr
		}
		return err
	}
	if err != nil {
		return err
	}
	return writeOutput(cmd, res)
}
