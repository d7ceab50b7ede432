// Package cli implements the repostore operational command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Store names the data store; it selects the REPOSTORE_<STORE>_* settings.
	Store string

	// URL overrides the store's jdbcUrl setting.
	URL string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the repostore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "repostore",
		Short: "repostore - repository data store maintenance",
		Long: `Maintenance tooling for the repository data stores.

Store settings come from REPOSTORE_<STORE>_<KEY> environment variables
(a .env file in the working directory is loaded first). --url supplies
jdbcUrl when the environment does not set it.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Store, "store", "config", "data store name")
	cmd.PersistentFlags().StringVar(&opts.URL, "url", "", "JDBC-style database URL (jdbc:sqlite:<path> or jdbc:postgresql://...)")

	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewScriptCommand(opts))
	cmd.AddCommand(NewFreezeCommand(opts))
	cmd.AddCommand(NewUnfreezeCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewEncryptCommand(opts))

	return cmd
}
