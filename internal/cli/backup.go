package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// BackupOptions holds flags for the backup command.
type BackupOptions struct {
	*RootOptions
	To string
}

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a consistent copy of an embedded data store",
		Long: `Write a consistent copy of the data store to a new file. Only the
embedded SQLite engine supports backups; remote databases are backed up
with their own tooling.

Example:
  repostore backup --url jdbc:sqlite:./config.db --to ./config-backup.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.To, "to", "", "backup file to create (required)")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func runBackup(opts *BackupOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	if opts.To == "" {
		return out.Fail(ExitCommandError, "no backup location", errors.New("--to must not be empty"))
	}
	log, err := opts.logger(cmd)
	if err != nil {
		return out.Fail(ExitCommandError, "invalid logging configuration", err)
	}

	ctx := cmd.Context()
	store, err := opts.openStore(ctx, log)
	if err != nil {
		return out.Fail(ExitFailure, "failed to start data store", err)
	}
	defer store.Stop()

	out.VerboseLog("backing up %s (%s) to %s", store.Name(), store.EngineID(), opts.To)
	if err := store.Backup(ctx, opts.To); err != nil {
		return out.Fail(ExitFailure, "backup failed", err)
	}
	return out.Success(map[string]string{"location": opts.To})
}
