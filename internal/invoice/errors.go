package invoice

import (
	"fmt"

	"crm/internal/ledger"
)

// ErrInactiveCustomer is returned when issuing an invoice to a customer that
// has been deactivated.
var ErrInactiveCustomer = fmt.Errorf("customer is inactive: %w", ledger.ErrInvalidArgument)

// ErrEmptyNote is returned for audit notes without text.
var ErrEmptyNote = fmt.Errorf("note text is empty: %w", ledger.ErrInvalidArgument)
