package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ksred/fhenergy-api/internal/decryption"
)

// NewDecryptCommand creates the decrypt command.
func NewDecryptCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <offer-id>",
		Short: "Reveal an offer's energy and price by signing a session challenge",
		Long: `Reveal an offer's energy and price by signing a session challenge.

A fresh session is opened against the configured ledger and the --key wallet
signs its challenge. The decryption policy comes from the config file.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := loadWallet(rootOpts)
			if err != nil {
				return err
			}
			e, err := openEnv(rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			rec, err := e.offers.GetOffer(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "load offer", err)
			}

			session, err := decryption.NewSession(e.offers.GetStore().Ledger().Address(), e.cfg.NetworkID, time.Now(), e.cfg.Session.DurationDays)
			if err != nil {
				return WrapExitError(ExitCommandError, "open session", err)
			}
			authorizer := decryption.NewAuthorizer(session, decryption.Policy{
				VerifySignatures: e.cfg.Decryption.VerifySignatures,
				BindRecord:       e.cfg.Decryption.BindRecord,
				OwnerOnly:        e.cfg.Decryption.OwnerOnly,
			})

			plain, err := authorizer.Decrypt(cmd.Context(), rec, w)
			if err != nil {
				return WrapExitError(ExitFailure, "decrypt offer", err)
			}
			return write(cmd.OutOrStdout(), rootOpts.Format, plain, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s  energy %g kWh  price %g  total %g\n", plain.RecordID, plain.Energy, plain.Price, plain.TotalValue)
				return err
			})
		},
	}
}
