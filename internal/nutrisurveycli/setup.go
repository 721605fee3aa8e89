package nutrisurveycli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phillip-england/nutrisurvey/internal/config"
	"github.com/phillip-england/nutrisurvey/internal/envutil"
	"github.com/phillip-england/nutrisurvey/internal/wizard"
)

const envHeader = `Written by nutrisurvey setup. Variables already set in the
environment take precedence over this file, and both override nutrisurvey.yaml.
CSRF_KEY signs wizard form tokens. Changing it invalidates open forms.`

type SetupOptions struct {
	*RootOptions
	Force       bool
	PhotoPolicy string
	Timezone    string
	DBPath      string
}

func NewSetupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SetupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Write a .env file with listen addresses and a fresh CSRF key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd, opts)
		},
	}
	defaults := config.Default()
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing env file")
	cmd.Flags().StringVar(&opts.PhotoPolicy, "photo-policy", wizard.PolicyImmediate, "immediate or deferred photo uploads")
	cmd.Flags().StringVar(&opts.Timezone, "timezone", defaults.Client.Timezone, "time zone for survey timestamps")
	cmd.Flags().StringVar(&opts.DBPath, "db-path", defaults.API.DBPath, "sqlite database file")
	return cmd
}

func runSetup(cmd *cobra.Command, opts *SetupOptions) error {
	if _, err := wizard.NewPolicy(opts.PhotoPolicy, nil, nil); err != nil {
		return err
	}
	key, err := config.NewCSRFKey()
	if err != nil {
		return err
	}
	defaults := config.Default()
	values := map[string]string{
		"API_ADDR":        defaults.API.Addr,
		"CLIENT_ADDR":     defaults.Client.Addr,
		"API_BASE_URL":    defaults.Client.APIBaseURL,
		"STORE_DB_PATH":   opts.DBPath,
		"PHOTO_POLICY":    opts.PhotoPolicy,
		"SURVEY_TIMEZONE": opts.Timezone,
		"CSRF_KEY":        key,
	}
	if err := envutil.WriteDotEnv(opts.EnvFile, envHeader, values, opts.Force); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.EnvFile)
	return nil
}
