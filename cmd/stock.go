package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var stockCmd = &cobra.Command{
	Use:   "stock",
	Short: "Inspect and move product stock",
	Long: `Inspect and move the on-hand stock of products.

Stock never goes below zero or below the reserved units. Every change is
recorded as a stock movement and reported as a stock-update event.`,
}

var stockShowCmd = &cobra.Command{
	Use:         "show <product-id>",
	Short:       "Show a product and its stock",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationReadOnly: "true"},
	RunE:        runStockShow,
}

var stockSetCmd = &cobra.Command{
	Use:   "set <product-id> <quantity>",
	Short: "Overwrite the on-hand stock after a count",
	Long: `Overwrite the on-hand stock. Fractional counts are rounded half away
from zero and negative counts are clamped to zero.`,
	Args: cobra.ExactArgs(2),
	RunE: runStockSet,
}

var stockAdjustCmd = &cobra.Command{
	Use:     "adjust <product-id>",
	Short:   "Apply a signed stock movement",
	Example: `  crm stock adjust P1 --delta=-500 --reason "damaged pallet"`,
	Args:    cobra.ExactArgs(1),
	RunE:    runStockAdjust,
}

var stockCheckCmd = &cobra.Command{
	Use:         "check <product-id> <quantity>",
	Short:       "Check whether the unreserved stock covers a quantity",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{annotationReadOnly: "true"},
	RunE:        runStockCheck,
}

var stockReserveCmd = &cobra.Command{
	Use:   "reserve <product-id> <quantity>",
	Short: "Reserve units for a pending order",
	Args:  cobra.ExactArgs(2),
	RunE:  runStockReserve,
}

var stockReleaseCmd = &cobra.Command{
	Use:   "release <product-id> <quantity>",
	Short: "Return reserved units to the available stock",
	Args:  cobra.ExactArgs(2),
	RunE:  runStockRelease,
}

// StockCheckOutput is the result of stock check.
type StockCheckOutput struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Available int64  `json:"available"`
	Enough    bool   `json:"enough"`
}

func init() {
	rootCmd.AddCommand(stockCmd)
	stockCmd.AddCommand(stockShowCmd, stockSetCmd, stockAdjustCmd, stockCheckCmd, stockReserveCmd, stockReleaseCmd)

	stockAdjustCmd.Flags().Int64("delta", 0, "Units to add (positive) or remove (negative)")
	stockAdjustCmd.Flags().String("reason", "", "Reason recorded on the movement")
	stockReserveCmd.Flags().String("reason", "", "Reason recorded on the movement")
	stockReleaseCmd.Flags().String("reason", "", "Reason recorded on the movement")
}

func parseQuantity(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	return n, nil
}

func runStockShow(cmd *cobra.Command, args []string) error {
	p, err := ledgerApp.store.Products().Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return writeOutput(cmd, p)
}

func runStockSet(cmd *cobra.Command, args []string) error {
	count, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid quantity %q: %w", args[1], err)
	}
	p, err := ledgerApp.stock.SetStock(cmd.Context(), args[0], count)
	if err != nil {
		return err
	}
	return writeOutput(cmd, p)
}

func runStockAdjust(cmd *cobra.Command, args []string) error {
	delta, _ := cmd.Flags().GetInt64("delta")
	reason, _ := cmd.Flags().GetString("reason")

	adj, err := ledgerApp.stock.AdjustStock(cmd.Context(), args[0], delta, reason)
	if err != nil {
		return err
	}
	return writeOutput(cmd, adj)
}

func runStockCheck(cmd *cobra.Command, args []string) error {
	qty, err := parseQuantity(args[1])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	available, err := ledgerApp.stock.Available(ctx, args[0])
	if err != nil {
		return err
	}
	return writeOutput(cmd, StockCheckOutput{
		ProductID: args[0],
		Quantity:  qty,
		Available: available,
		Enough:    ledgerApp.stock.CheckAvailability(ctx, args[0], qty),
	})
}

func runStockReserve(cmd *cobra.Command, args []string) error {
	qty, err := parseQuantity(args[1])
	if err != nil {
		return err
	}
	reason, _ := cmd.Flags().GetString("reason")

	adj, err := ledgerApp.stock.Reserve(cmd.Context(), args[0], qty, reason)
	if err != nil {
		return err
	}
	return writeOutput(cmd, adj)
}

func runStockRelease(cmd *cobra.Command, args []string) error {
	qty, err := parseQuantity(args[1])
	if err != nil {
		return err
	}
	reason, _ := cmd.Flags().GetString("reason")

	adj, err := ledgerApp.stock.Release(cmd.Context(), args[0], qty, reason)
	if err != nil {
		return err
	}
	return writeOutput(cmd, adj)
}
