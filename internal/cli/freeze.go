package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/repostore/internal/freeze"
)

// FreezeOptions holds flags for the freeze, unfreeze and watch commands.
type FreezeOptions struct {
	*RootOptions
	Dir    string
	Reason string
}

func (o *FreezeOptions) bindDir(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Dir, "dir", "", "data directory holding the freeze marker (required)")
	_ = cmd.MarkFlagRequired("dir")
}

func (o *FreezeOptions) checkDir(out *OutputFormatter) error {
	info, err := os.Stat(o.Dir)
	if err != nil {
		return out.Fail(ExitCommandError, "invalid data directory", err)
	}
	if !info.IsDir() {
		return out.Fail(ExitCommandError, "invalid data directory", errors.New(o.Dir+" is not a directory"))
	}
	return nil
}

// NewFreezeCommand creates the freeze command.
func NewFreezeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FreezeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "freeze",
		Short: "Make the stores of a data directory read-only",
		Long: `Write the freeze marker into a data directory. Running nodes watching
the directory reject writes, except to immune access types, until the
marker is removed with unfreeze.

Example:
  repostore freeze --dir /var/lib/repostore --reason "database upgrade"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			if err := opts.checkDir(out); err != nil {
				return err
			}
			if err := freeze.WriteMarker(opts.Dir, opts.Reason); err != nil {
				return out.Fail(ExitFailure, "freeze failed", err)
			}
			return out.Success(map[string]any{"dir": opts.Dir, "frozen": true})
		},
	}

	opts.bindDir(cmd)
	cmd.Flags().StringVar(&opts.Reason, "reason", "maintenance", "reason recorded in the marker")

	return cmd
}

// NewUnfreezeCommand creates the unfreeze command.
func NewUnfreezeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FreezeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "unfreeze",
		Short:         "Remove the freeze marker of a data directory",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			if err := opts.checkDir(out); err != nil {
				return err
			}
			if err := freeze.RemoveMarker(opts.Dir); err != nil {
				return out.Fail(ExitFailure, "unfreeze failed", err)
			}
			return out.Success(map[string]any{"dir": opts.Dir, "frozen": false})
		},
	}

	opts.bindDir(cmd)

	return cmd
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FreezeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Hold the data store open and follow the freeze marker",
		Long: `Start the data store and keep its frozen mode in step with the freeze
marker of a data directory until interrupted.

Example:
  repostore watch --dir /var/lib/repostore --url jdbc:sqlite:/var/lib/repostore/config.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	opts.bindDir(cmd)

	return cmd
}

func runWatch(opts *FreezeOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	if err := opts.checkDir(out); err != nil {
		return err
	}
	log, err := opts.logger(cmd)
	if err != nil {
		return out.Fail(ExitCommandError, "invalid logging configuration", err)
	}

	store, err := opts.openStore(context.WithoutCancel(cmd.Context()), log)
	if err != nil {
		return out.Fail(ExitFailure, "failed to start data store", err)
	}
	defer store.Stop()

	w, err := freeze.Watch(opts.Dir, log, store)
	if err != nil {
		return out.Fail(ExitFailure, "failed to watch data directory", err)
	}
	defer w.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out.VerboseLog("watching %s (frozen=%t)", opts.Dir, store.IsFrozen())
	<-ctx.Done()

	return out.Success(map[string]any{"dir": opts.Dir, "frozen": store.IsFrozen()})
}
