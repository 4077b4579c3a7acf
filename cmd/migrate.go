package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"crm/internal/ledger/postgres"
	"crm/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres ledger schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending schema migrations",
	Long: `Apply the embedded schema migrations to the database in DATABASE_URL.
Running it on an up-to-date schema is a no-op.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationLedger: "none"},
	RunE:        runMigrateUp,
}

// MigrateOutput is the JSON output of migrate up.
type MigrateOutput struct {
	Changed bool `json:"changed"`
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("migrate")

	c, err := effectiveConfig(cmd)
	if err != nil {
		return err
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}

	changed, err := postgres.Migrate(c.DatabaseURL)
	if err != nil {
		return err
	}

	log.Info().Bool("changed", changed).Msg("Schema migrations applied")
	return writeOutput(cmd, MigrateOutput{Changed: changed})
}
