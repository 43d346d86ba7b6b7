package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"useradmin/internal/config"
	"useradmin/internal/logging"
)

const programName = "useradmin"

var log = logging.For(programName)

type globalFlags struct {
	configFile string
	debug      bool
	listen     string
	dbPath     string
	keysDir    string
	scheme     string
}

type configKey struct{}

func configFrom(ctx context.Context) *config.Config {
	cfg, _ := ctx.Value(configKey{}).(*config.Config)
	return cfg
}

func newRootCmd() *cobra.Command {
	var flags globalFlags
	root := &cobra.Command{
		Use:           programName,
		Short:         "Signed user records service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveRun(cmd.Context(), configFrom(cmd.Context()))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "path to config file (default "+config.DefaultPath+")")
	pf.BoolVarP(&flags.debug, "debug", "D", false, "enable debug logging")
	pf.StringVar(&flags.listen, "listen", "", "HTTP listen address (overrides config)")
	pf.StringVar(&flags.dbPath, "db", "", "SQLite database path (overrides config)")
	pf.StringVar(&flags.keysDir, "keys-dir", "", "signing key directory (overrides config)")
	pf.StringVar(&flags.scheme, "scheme", "", "signature scheme for new keys (overrides config)")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(flags.configFile)
		if err != nil {
			return err
		}
		// CLI flags override file and environment values.
		if flags.listen != "" {
			cfg.Server.Listen = flags.listen
		}
		if flags.dbPath != "" {
			cfg.Database.Path = config.ExpandHome(flags.dbPath)
		}
		if flags.keysDir != "" {
			cfg.Keys.Dir = config.ExpandHome(flags.keysDir)
		}
		if flags.scheme != "" {
			cfg.Keys.Scheme = flags.scheme
		}
		if flags.debug {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := logging.Init(logging.Options{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: cmd.ErrOrStderr(),
		}); err != nil {
			return err
		}
		if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		})); err != nil {
			log.Warn("setting GOMAXPROCS failed", "err", err)
		}
		cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
		return nil
	}

	root.AddCommand(serveCommand())
	root.AddCommand(keysCommand())
	root.AddCommand(exportCommand())
	root.AddCommand(verifyCommand())
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		os.Exit(1)
	}
}
