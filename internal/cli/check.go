package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Formats []string
}

// CheckResult describes a started data store.
type CheckResult struct {
	Store        string            `json:"store"`
	Engine       string            `json:"engine"`
	Lenient      bool              `json:"lenient"`
	Frozen       bool              `json:"frozen"`
	Placeholders map[string]string `json:"placeholders"`
	AccessTypes  []string          `json:"access_types"`
}

func (r CheckResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "store:   %s\n", r.Store)
	fmt.Fprintf(&b, "engine:  %s\n", r.Engine)
	fmt.Fprintf(&b, "lenient: %t\n", r.Lenient)
	fmt.Fprintf(&b, "frozen:  %t\n", r.Frozen)
	b.WriteString("placeholders:\n")
	keys := make([]string, 0, len(r.Placeholders))
	for k := range r.Placeholders {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s = %s\n", k, r.Placeholders[k])
	}
	b.WriteString("access types:\n")
	for _, name := range r.AccessTypes {
		fmt.Fprintf(&b, "  %s\n", name)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Start the data store and report its engine and schema types",
		Long: `Start the data store, register the known access types and report the
engine, the resolved placeholder types and whether lenient identity
handling is in effect. Schema objects are created if missing.

Example:
  repostore check --url jdbc:sqlite:./config.db --formats maven,npm`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Formats, "formats", nil, "repository formats whose content tables are registered")

	return cmd
}

func runCheck(opts *CheckOptions, cmd *cobra.Command) error {
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

	return out.Success(CheckResult{
		Store:        store.Name(),
		Engine:       store.EngineID(),
		Lenient:      store.Lenient(),
		Frozen:       store.IsFrozen(),
		Placeholders: store.Placeholders(),
		AccessTypes:  store.AccessTypes(),
	})
}
