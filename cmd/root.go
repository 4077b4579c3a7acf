package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"crm/internal/config"
	"crm/internal/ledger"
	"crm/internal/logger"
)

var version = "1.0.0"

// Command annotations.
const (
	// annotationLedger set to "none" skips opening the ledger.
	annotationLedger = "ledger"
	// annotationReadOnly set to "true" skips saving the memory snapshot.
	annotationReadOnly = "readonly"
)

var (
	cfg       *config.Config
	cfgErr    error
	ledgerApp *app
)

var rootCmd = &cobra.Command{
	Use:   "crm",
	Short: "CRM ledger - credit and stock admission control",
	Long: `crm manages the customer credit, stock and invoice ledger of a
wholesale business.

Every command reads the ledger, applies at most one change and prints the
result as JSON on stdout. Sales are only committed when every line has stock
and the customer's available credit covers the total.

Configuration is read from the environment (and a .env file):
  LEDGER_STORE        memory (default) or postgres
  LEDGER_FILE         JSON snapshot of the memory store (default ledger.json)
  DATABASE_URL        Postgres connection string
  NOTIFIER            none (default), channel or kafka
  KAFKA_BROKERS       comma separated broker list
  CURRENCY            currency code (default TRY)`,
	Version:            version,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  openLedger,
	PersistentPostRunE: saveLedger,
}

// SetConfig hands the loaded configuration to the commands. A config error
// is reported by the first command that needs the configuration.
func SetConfig(c *config.Config, err error) {
	cfg, cfgErr = c, err
}

// Execute runs the root command and exits with a status derived from the
// error kind.
func Execute() {
	log := logger.WithComponent("cmd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if ledgerApp != nil {
		if cerr := ledgerApp.close(); cerr != nil {
			log.Error().Err(cerr).Msg("Failed to close ledger")
		}
	}

	if err != nil {
		log.Debug().
			Err(err).
			Str("kind", ledger.KindOf(err).String()).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error onto the process exit status.
func exitCode(err error) int {
	var opErr *ledger.OpError
	if !errors.As(err, &opErr) {
		return 1
	}
	switch ledger.KindOf(err) {
	case ledger.KindInvalid:
		return 2
	case ledger.KindNotFound:
		return 3
	case ledger.KindRejected:
		return 4
	default:
		return 1
	}
}

// needsLedger is false for commands that never touch the ledger, including
// cobra's help and completion commands.
func needsLedger(cmd *cobra.Command) bool {
	if cmd.Annotations[annotationLedger] == "none" || cmd.RunE == nil {
		return false
	}
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "completion" || c.Name() == "help" {
			return false
		}
	}
	return true
}

func openLedger(cmd *cobra.Command, args []string) error {
	if !needsLedger(cmd) {
		return nil
	}
	c, err := effectiveConfig(cmd)
	if err != nil {
		return err
	}

	actor, _ := cmd.Flags().GetString("actor")
	ctx := ledger.WithActor(cmd.Context(), actor)

	ledgerApp, err = newApp(ctx, c)
	if err != nil {
		return err
	}
	cmd.SetContext(ctx)
	return nil
}

func saveLedger(cmd *cobra.Command, args []string) error {
	if ledgerApp == nil || cmd.Annotations[annotationReadOnly] == "true" {
		return nil
	}
	return ledgerApp.save()
}

// effectiveConfig applies the persistent flag overrides to the loaded
// configuration.
func effectiveConfig(cmd *cobra.Command) (*config.Config, error) {
	if cfgErr != nil {
		return nil, cfgErr
	}
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}

	c := *cfg
	flags := cmd.Flags()
	if flags.Changed("store") {
		c.LedgerStore, _ = flags.GetString("store")
	}
	if flags.Changed("ledger-file") {
		c.LedgerFile, _ = flags.GetString("ledger-file")
	}
	if flags.Changed("notifier") {
		c.Notifier, _ = flags.GetString("notifier")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func init() {
	rootCmd.PersistentFlags().String("store", "memory", "Ledger store: memory or postgres (overrides LEDGER_STORE)")
	rootCmd.PersistentFlags().String("ledger-file", "ledger.json", "Snapshot file of the memory store (overrides LEDGER_FILE)")
	rootCmd.PersistentFlags().String("notifier", "none", "Change notifier: none, channel or kafka (overrides NOTIFIER)")
	rootCmd.PersistentFlags().String("actor", ledger.SystemActor, "Actor recorded on changes and audit notes")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Write JSON output to file instead of stdout")
}
