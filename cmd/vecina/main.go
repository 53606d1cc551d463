// Vecina - neighborhood-store credit origination.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/vecina/internal/config"
	"github.com/opensource-finance/vecina/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	cfgFile string
	debug   bool
	cfg     *domain.Config
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vecina",
		Short: "Credit origination for neighborhood stores",
		Long: `vecina scores micro-credit applications that arrive in two halves:
the customer's answers over WhatsApp and the shopkeeper's validation at the POS.`,
		Version:           fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); VECINA_* variables override it")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newScoreCmd())
	root.AddCommand(newConfigCmd())
	return root
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if debug || os.Getenv("VECINA_DEBUG") == "true" {
		loaded.Logging.Level = "debug"
	}
	if err := config.InitLogger(loaded.Logging); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	cfg = loaded
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
