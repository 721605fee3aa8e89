package nutrisurveycli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/phillip-england/nutrisurvey/internal/backup"
	"github.com/phillip-england/nutrisurvey/internal/remotestore"
)

type BackupOptions struct {
	*RootOptions
	Out string
}

func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write every subject and survey record to an xz-compressed JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Out == "" {
				opts.Out = "nutrisurvey_" + time.Now().Format("20060102_150405") + ".json.xz"
			}
			if err := ensureParentDirs(opts.Out); err != nil {
				return err
			}
			f, err := os.Create(opts.Out)
			if err != nil {
				return fmt.Errorf("create backup file: %w", err)
			}
			defer f.Close()

			loc, err := opts.Config.Client.Location()
			if err != nil {
				return err
			}
			client := remotestore.NewClient(opts.Config.Client.APIBaseURL, nil, opts.Logger)
			archive, err := backup.Write(cmd.Context(), client, f, time.Now().In(loc))
			if err != nil {
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close backup file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d subjects, %d surveys)\n", opts.Out, len(archive.Subjects), len(archive.Surveys))
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "backup file (default nutrisurvey_<timestamp>.json.xz)")
	return cmd
}
