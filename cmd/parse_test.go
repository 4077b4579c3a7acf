package cmd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm/internal/ledger"
)

func TestParseSaleLines(t *testing.T) {
	lines, err := parseSaleLines([]string{"P1:100:250.50", " P2 : 3 : 10 "})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "P1", lines[0].ProductID)
	assert.Equal(t, int64(100), lines[0].Quantity)
	assert.Equal(t, "250.5", lines[0].UnitPrice.String())
	assert.Equal(t, "P2", lines[1].ProductID)

	for _, bad := range []string{"P1:1", ":1:1", "P1:x:1", "P1:1:abc"} {
		_, err := parseSaleLines([]string{bad})
		assert.Error(t, err, bad)
	}

	_, err = parseSaleLines(nil)
	assert.Error(t, err)
}

func TestParseDateFlag(t *testing.T) {
	d, err := parseDateFlag("due", "")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	d, err = parseDateFlag("due", "2025-06-30")
	require.NoError(t, err)
	assert.Equal(t, 30, d.Day())

	_, err = parseDateFlag("due", "30.06.2025")
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("boom"), 1},
		{ledger.Invalid("Op", "X", "f", 1, "bad"), 2},
		{ledger.NotFound("Op", "customer", "X"), 3},
		{ledger.NewOpError("Op", "X", ledger.ErrSaleRejected, ""), 4},
		{ledger.NewOpError("Op", "X", errors.New("disk"), ""), 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), tt.err.Error())
	}
}
