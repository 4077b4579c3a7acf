package cmd

import (
	"github.com/spf13/cobra"
)

var creditCmd = &cobra.Command{
	Use:   "credit",
	Short: "Inspect and manage customer credit",
	Long: `Inspect and manage the credit exposure of customers.

A customer's available credit is always the credit limit minus the
outstanding balance of their invoices. The credit status is derived from
utilization (good up to 90%, warning up to 100%, exceeded above), except
"blocked", which is only set and cleared by hand.`,
}

var creditShowCmd = &cobra.Command{
	Use:         "show <customer-id>",
	Short:       "Show a customer's credit",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationReadOnly: "true"},
	RunE:        runCreditShow,
}

var creditCheckCmd = &cobra.Command{
	Use:   "check <customer-id> <amount>",
	Short: "Check whether a purchase fits the customer's available credit",
	Long: `Dry-run a purchase against the customer's available credit. Nothing is
written; the result lists the shortfall and any warnings.`,
	Example:     `  crm credit check C1 10000`,
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{annotationReadOnly: "true"},
	RunE:        runCreditCheck,
}

var creditSetLimitCmd = &cobra.Command{
	Use:     "set-limit <customer-id> <limit>",
	Short:   "Change a customer's credit limit",
	Example: `  crm credit set-limit C1 50000 --reason "renegotiated terms" --actor ayse`,
	Args:    cobra.ExactArgs(2),
	RunE:    runCreditSetLimit,
}

var creditRecalcCmd = &cobra.Command{
	Use:   "recalc <customer-id>",
	Short: "Recalculate a customer's outstanding balance from their invoices",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditRecalc,
}

var creditBlockCmd = &cobra.Command{
	Use:   "block <customer-id>",
	Short: "Block a customer's credit",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditBlock,
}

var creditUnblockCmd = &cobra.Command{
	Use:   "unblock <customer-id>",
	Short: "Lift a credit block and re-derive the status",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditUnblock,
}

func init() {
	rootCmd.AddCommand(creditCmd)
	creditCmd.AddCommand(creditShowCmd, creditCheckCmd, creditSetLimitCmd, creditRecalcCmd, creditBlockCmd, creditUnblockCmd)

	creditSetLimitCmd.Flags().String("reason", "", "Reason recorded in the change log")
	creditBlockCmd.Flags().String("reason", "", "Reason for the block (required)")
	creditUnblockCmd.Flags().String("reason", "", "Reason for lifting the block")
}

func runCreditShow(cmd *cobra.Command, args []string) error {
	c, err := ledgerApp.store.Customers().Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return writeOutput(cmd, c)
}

func runCreditCheck(cmd *cobra.Command, args []string) error {
	amount, err := parseAmount("amount", args[1])
	if err != nil {
		return err
	}
	res, err := ledgerApp.credit.CheckPurchaseAdmission(cmd.Context(), args[0], amount)
	if err != nil {
		return err
	}
	return writeOutput(cmd, res)
}

func runCreditSetLimit(cmd *cobra.Command, args []string) error {
	limit, err := parseAmount("limit", args[1])
	if err != nil {
		return err
	}
	reason, _ := cmd.Flags().GetString("reason")

	change, err := ledgerApp.credit.SetCreditLimit(cmd.Context(), args[0], limit, reason)
	if err != nil {
		return err
	}
	return writeOutput(cmd, change)
}

func runCreditRecalc(cmd *cobra.Command, args []string) error {
	c, err := ledgerApp.credit.RecalculateFromLedger(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return writeOutput(cmd, c)
}

func runCreditBlock(cmd *cobra.Command, args []string) error {
	reason, _ := cmd.Flags().GetString("reason")
	c, err := ledgerApp.credit.Block(cmd.Context(), args[0], reason)
	if err != nil {
		return err
	}
	return writeOutput(cmd, c)
}

func runCreditUnblock(cmd *cobra.Command, args []string) error {
	reason, _ := cmd.Flags().GetString("reason")
	c, err := ledgerApp.credit.Unblock(cmd.Context(), args[0], reason)
	if err != nil {
		return err
	}
	return writeOutput(cmd, c)
}
