package nutrisurveycli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phillip-england/nutrisurvey/internal/remotestore"
)

func NewRosterCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Manage the subject roster",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.xls|file.xlsx>",
		Short: "Upload a roster spreadsheet to the store API",
		Long: `Upload a single-sheet roster. A header row naming the columns (id, name,
facility) is optional; without one the first three columns are used.
Every subject gets a survey progress row.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read roster: %w", err)
			}
			client := remotestore.NewClient(rootOpts.Config.Client.APIBaseURL, nil, rootOpts.Logger)
			n, err := client.ImportRoster(cmd.Context(), filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			rootOpts.Logger.Debug("roster uploaded", zap.String("file", args[0]), zap.Int("subjects", n))
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d subjects\n", n)
			return nil
		},
	})
	return cmd
}
