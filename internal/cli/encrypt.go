package cli

import (
	"github.com/spf13/cobra"
)

// NewEncryptCommand creates the encrypt command.
func NewEncryptCommand(rootOpts *RootOptions) *cobra.Command {
	var decrypt bool

	cmd := &cobra.Command{
		Use:   "encrypt <value>",
		Short: "Encrypt a value with the data store cipher",
		Long: `Encrypt a value with the cipher configured by REPOSTORE_CIPHER_PASSWORD,
REPOSTORE_CIPHER_SALT and REPOSTORE_CIPHER_IV, printing base64. With
--decrypt the value is decrypted instead.

Example:
  repostore encrypt 'hunter2'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			svc, err := loadCipher()
			if err != nil {
				return out.Fail(ExitCommandError, "invalid cipher configuration", err)
			}

			var result string
			if decrypt {
				result, err = svc.DecryptString(args[0])
			} else {
				result, err = svc.EncryptString(args[0])
			}
			if err != nil {
				return out.Fail(ExitFailure, "cipher failed", err)
			}
			if rootOpts.Format == "json" {
				return out.Success(map[string]string{"value": result})
			}
			return out.Success(result)
		},
	}

	cmd.Flags().BoolVar(&decrypt, "decrypt", false, "decrypt a base64 value instead")

	return cmd
}
