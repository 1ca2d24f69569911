// Command boardroom runs the decision governance engine and its admin tools.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	cfhttp "github.com/Strob0t/Boardroom/internal/adapter/http"
	"github.com/Strob0t/Boardroom/internal/config"
	"github.com/Strob0t/Boardroom/internal/logger"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	store      string
	dsn        string
	natsURL    string
}

func main() {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:     "boardroom",
		Short:   "Boardroom - multi-agent decision governance engine",
		Version: cfhttp.Version,
		Long: `Boardroom collects weighted scores from C-suite evaluator agents on a
decision tree, aggregates them under a consensus policy, gates the result
with guardrails and human review, and keeps a provenance trail of every step.`,
		SilenceUsage: true,
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.configPath, "config", config.DefaultConfigFile, "path to the YAML config file")
	pf.StringVar(&g.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	pf.StringVar(&g.store, "store", "", "artifact store backend override (postgres, memory)")
	pf.StringVar(&g.dsn, "dsn", "", "PostgreSQL DSN override")
	pf.StringVar(&g.natsURL, "nats-url", "", "NATS URL override; empty string in config disables NATS")

	rootCmd.AddCommand(serveCmd(&g))
	rootCmd.AddCommand(migrateCmd(&g))
	rootCmd.AddCommand(policyCmd(&g))
	rootCmd.AddCommand(auditCmd(&g))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// load resolves the configuration for cmd, applying only the flags that
// were set on the command line.
func (g *globalFlags) load(cmd *cobra.Command, port *string) (*config.Config, error) {
	flags := config.CLIFlags{ConfigPath: &g.configPath, Port: port}
	set := func(name string, v *string) *string {
		if cmd.Flags().Changed(name) {
			return v
		}
		return nil
	}
	flags.LogLevel = set("log-level", &g.logLevel)
	flags.Store = set("store", &g.store)
	flags.DSN = set("dsn", &g.dsn)
	flags.NatsURL = set("nats-url", &g.natsURL)

	cfg, path, err := config.LoadWithCLI(flags)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	slog.Debug("config loaded", "path", path)
	return cfg, nil
}

// setupLogger installs the configured logger as the slog default.
func setupLogger(cfg *config.Config) logger.Closer {
	l, closer := logger.New(cfg.Logging)
	slog.SetDefault(l)
	return closer
}
