package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ksred/fhenergy-api/internal/wallet"
)

type keyOutput struct {
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "keygen",
		Short:         "Generate a new wallet key",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wallet.Generate()
			if err != nil {
				return WrapExitError(ExitCommandError, "generate key", err)
			}
			out := keyOutput{Address: w.Address(), PrivateKey: w.PrivateKeyHex()}
			return write(cmd.OutOrStdout(), rootOpts.Format, out, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "address:     %s\nprivate key: %s\n", out.Address, out.PrivateKey)
				return err
			})
		},
	}
}
