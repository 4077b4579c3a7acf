package reconciliation

import (
	"time"

	"github.com/shopspring/decimal"

	"crm/pkg/models"
)

// Sheet names and ranges read by the importer.
const (
	CustomersRange = "Customers!A:C" // A=ID, B=Name, C=Credit limit
	ProductsRange  = "Products!A:G"  // A=ID, B=SKU, C=Name, D=Unit price, E=Stock, F=Minimum, G=Maximum
	InvoicesRange  = "Invoices!A:G"  // A=ID, B=Number, C=Customer ID, D=Issue date, E=Due date, F=Total, G=Paid
)

// CustomerRow is one row of the Customers sheet.
type CustomerRow struct {
	ID          string
	Name        string
	CreditLimit decimal.Decimal
}

// ProductRow is one row of the Products sheet.
type ProductRow struct {
	ID        string
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	Current   int64
	Minimum   int64
	Maximum   int64
}

// InvoiceRow is one row of the Invoices sheet.
type InvoiceRow struct {
	ID         string
	Number     string
	CustomerID string
	IssueDate  time.Time
	DueDate    time.Time
	Total      decimal.Decimal
	Paid       decimal.Decimal
}

// RowError records a sheet row that could not be imported.
type RowError struct {
	Sheet string `json:"sheet"`
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportReport summarizes a sheet import.
type ImportReport struct {
	CustomersCreated int        `json:"customers_created"`
	CustomersUpdated int        `json:"customers_updated"`
	ProductsCreated  int        `json:"products_created"`
	ProductsUpdated  int        `json:"products_updated"`
	InvoicesCreated  int        `json:"invoices_created"`
	InvoicesSkipped  int        `json:"invoices_skipped"`
	Errors           []RowError `json:"errors,omitempty"`
}

// Drift is the reconciliation outcome of one customer.
type Drift struct {
	CustomerID        string              `json:"customer_id"`
	OutstandingBefore decimal.Decimal     `json:"outstanding_before"`
	OutstandingAfter  decimal.Decimal     `json:"outstanding_after"`
	Difference        decimal.Decimal     `json:"difference"`
	StatusBefore      models.CreditStatus `json:"status_before"`
	StatusAfter       models.CreditStatus `json:"status_after"`
	Error             string              `json:"error,omitempty"`
}

// Drifted reports whether the cached outstanding balance was wrong.
func (d Drift) Drifted() bool {
	return !d.Difference.IsZero()
}

// Report is the result of reconciling every customer.
type Report struct {
	Customers int     `json:"customers"`
	Drifted   int     `json:"drifted"`
	Failed    int     `json:"failed"`
	Results   []Drift `json:"results"`
}

// ReportHeader is the header row of Report.Rows.
var ReportHeader = []string{
	"Customer", "Outstanding before", "Outstanding after", "Difference", "Status before", "Status after", "Error",
}

// Rows renders the report as sheet rows in ReportHeader order.
func (r Report) Rows() [][]interface{} {
	rows := make([][]interface{}, 0, len(r.Results))
	for _, d := range r.Results {
		rows = append(rows, []interface{}{
			d.CustomerID,
			d.OutstandingBefore.String(),
			d.OutstandingAfter.String(),
			d.Difference.String(),
			string(d.StatusBefore),
			string(d.StatusAfter),
			d.Error,
		})
	}
	return rows
}
