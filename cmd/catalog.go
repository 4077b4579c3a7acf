package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crm/internal/ledger"
	"crm/pkg/models"
)

var customerCmd = &cobra.Command{
	Use:   "customer",
	Short: "Manage customers",
}

var customerCreateCmd = &cobra.Command{
	Use:     "create <customer-id>",
	Short:   "Create a customer with a credit limit",
	Example: `  crm customer create C1 --name "Ozturk Gida" --limit 100000`,
	Args:    cobra.ExactArgs(1),
	RunE:    runCustomerCreate,
}

var customerDeactivateCmd = &cobra.Command{
	Use:   "deactivate <customer-id>",
	Short: "Deactivate a customer; history is kept",
	Args:  cobra.ExactArgs(1),
	RunE:  runCustomerDeactivate,
}

var customerListCmd = &cobra.Command{
	Use:         "list",
	Short:       "List customers",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationReadOnly: "true"},
	RunE:        runCustomerList,
}

var productCmd = &cobra.Command{
	Use:   "product",
	Short: "Manage products",
}

var productCreateCmd = &cobra.Command{
	Use:     "create <product-id>",
	Short:   "Create a product",
	Example: `  crm product create P1 --name "Un 50kg" --sku UN-50 --price 900 --stock 15000 --min 100`,
	Args:    cobra.ExactArgs(1),
	RunE:    runProductCreate,
}

var productDeleteCmd = &cobra.Command{
	Use:   "delete <product-id>",
	Short: "Delete a product",
	Args:  cobra.ExactArgs(1),
	RunE:  runProductDelete,
}

var productListCmd = &cobra.Command{
	Use:         "list",
	Short:       "List products",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationReadOnly: "true"},
	RunE:        runProductList,
}

func init() {
	rootCmd.AddCommand(customerCmd, productCmd)
	customerCmd.AddCommand(customerCreateCmd, customerDeactivateCmd, customerListCmd)
	productCmd.AddCommand(productCreateCmd, productDeleteCmd, productListCmd)

	customerCreateCmd.Flags().String("name", "", "Customer name")
	customerCreateCmd.Flags().String("limit", "0", "Credit limit")

	productCreateCmd.Flags().String("name", "", "Product name")
	productCreateCmd.Flags().String("sku", "", "Stock keeping unit")
	productCreateCmd.Flags().String("price", "0", "List unit price")
	productCreateCmd.Flags().Int64("stock", 0, "Initial on-hand stock")
	productCreateCmd.Flags().Int64("min", 0, "Minimum stock; falling below it raises a low stock warning")
	productCreateCmd.Flags().Int64("max", 0, "Maximum stock; 0 disables the check")
}

func runCustomerCreate(cmd *cobra.Command, args []string) error {
	const op = "CreateCustomer"
	ctx := cmd.Context()

	name, _ := cmd.Flags().GetString("name")
	limitStr, _ := cmd.Flags().GetString("limit")

	limit, err := parseAmount("limit", limitStr)
	if err != nil {
		return err
	}
	if limit.IsNegative() {
		return ledger.Invalid(op, args[0], "limit", limit.String(), "credit limit must not be negative")
	}
	if _, err := ledgerApp.store.Customers().Get(ctx, args[0]); err == nil {
		return ledger.Invalid(op, args[0], "id", args[0], "customer already exists")
	}

	c := models.NewCustomer(args[0], name, ledgerApp.credit.Policy().Round(limit), time.Now())
	if err := ledgerApp.store.Customers().Upsert(ctx, c); err != nil {
		return err
	}
	return writeOutput(cmd, c)
}

func runCustomerDeactivate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := ledgerApp.store.Customers().Delete(ctx, args[0]); err != nil {
		return err
	}
	c, err := ledgerApp.store.Customers().Get(ctx, args[0])
	if err != nil {
		return err
	}
	return writeOutput(cmd, c)
}

func runCustomerList(cmd *cobra.Command, args []string) error {
	customers, err := ledgerApp.store.Customers().List(cmd.Context())
	if err != nil {
		return err
	}
	if customers == nil {
		customers = []models.Customer{}
	}
	return writeOutput(cmd, customers)
}

func runProductCreate(cmd *cobra.Command, args []string) error {
	const op = "CreateProduct"
	ctx := cmd.Context()

	name, _ := cmd.Flags().GetString("name")
	sku, _ := cmd.Flags().GetString("sku")
	priceStr, _ := cmd.Flags().GetString("price")
	current, _ := cmd.Flags().GetInt64("stock")
	minimum, _ := cmd.Flags().GetInt64("min")
	maximum, _ := cmd.Flags().GetInt64("max")

	price, err := parseAmount("price", priceStr)
	if err != nil {
		return err
	}
	switch {
	case price.IsNegative():
		return ledger.Invalid(op, args[0], "price", price.String(), "price must not be negative")
	case current < 0 || minimum < 0 || maximum < 0:
		return ledger.Invalid(op, args[0], "stock", fmt.Sprintf("%d/%d/%d", current, minimum, maximum), "stock levels must not be negative")
	}
	if _, err := ledgerApp.store.Products().Get(ctx, args[0]); err == nil {
		return ledger.Invalid(op, args[0], "id", args[0], "product already exists")
	}

	now := time.Now()
	p := models.Product{
		ID:        args[0],
		SKU:       sku,
		Name:      name,
		UnitPrice: ledgerApp.credit.Policy().Round(price),
		Stock:     models.Stock{Current: current, Minimum: minimum, Maximum: maximum},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ledgerApp.store.Products().Upsert(ctx, p); err != nil {
		return err
	}
	return writeOutput(cmd, p)
}

func runProductDelete(cmd *cobra.Command, args []string) error {
	if err := ledgerApp.store.Products().Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	return writeOutput(cmd, map[string]string{"deleted": args[0]})
}

func runProductList(cmd *cobra.Command, args []string) error {
	products, err := ledgerApp.store.Products().List(cmd.Context())
	if err != nil {
		return err
	}
	if products == nil {
		products = []models.Product{}
	}
	return writeOutput(cmd, products)
}
