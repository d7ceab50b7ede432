package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

// ScriptOptions holds flags for the script command.
type ScriptOptions struct {
	*RootOptions
	Formats []string
}

// NewScriptCommand creates the script command.
func NewScriptCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScriptOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "script",
		Short: "Print the schema DDL of the known access types",
		Long: `Print the DDL the data store runs for each known access type, with
placeholder types resolved for the store's engine, in registration order.

Example:
  repostore script --url jdbc:sqlite:./scratch.db --formats raw`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Formats, "formats", nil, "repository formats whose content tables are included")

	return cmd
}

func runScript(opts *ScriptOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
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

	if err := registerAll(ctx, store, opts.Formats); err != nil {
		return out.Fail(ExitFailure, "failed to register access types", err)
	}

	var script strings.Builder
	if err := store.GenerateScript(&script); err != nil {
		return out.Fail(ExitFailure, "failed to generate script", err)
	}
	if opts.Format == "json" {
		return out.Success(map[string]string{"engine": store.EngineID(), "script": script.String()})
	}
	_, err = cmd.OutOrStdout().Write([]byte(script.String()))
	return err
}
