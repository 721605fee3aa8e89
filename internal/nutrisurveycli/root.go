package nutrisurveycli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phillip-england/nutrisurvey/internal/config"
	"github.com/phillip-england/nutrisurvey/internal/envutil"
	"github.com/phillip-england/nutrisurvey/internal/logging"
)

// RootOptions holds the global flags and what PersistentPreRunE resolves
// from them.
type RootOptions struct {
	ConfigPath string
	EnvFile    string
	Verbose    bool

	Config config.Config
	Logger *zap.Logger
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "nutrisurvey",
		Short: "Nutrition intake survey wizard and store",
		Long: `nutrisurvey records five days of meal portions and plate waste for
care subjects. "run api" serves the sqlite-backed store, "run client" the
survey wizard, and "run all" both in one process.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "setup" {
				return nil
			}
			return opts.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.Logger != nil {
				_ = opts.Logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", config.DefaultPath, "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "path to .env file loaded before config")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewSetupCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewRosterCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))
	return cmd
}

// Execute runs the CLI with args, not including the program name.
func Execute(args []string) error {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func (o *RootOptions) load(cmd *cobra.Command) error {
	if err := envutil.LoadDotEnv(o.EnvFile); err != nil {
		return fmt.Errorf("load %s: %w", o.EnvFile, err)
	}
	cfg, err := config.Load(o.ConfigPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, o.Verbose)
	if err != nil {
		return err
	}
	o.Config = cfg
	o.Logger = logger
	return nil
}

func ensureParentDirs(paths ...string) error {
	for _, p := range paths {
		dir := filepath.Dir(p)
		if dir == "." || dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
