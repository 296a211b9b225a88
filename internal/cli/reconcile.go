package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ksred/fhenergy-api/internal/auth"
	"github.com/ksred/fhenergy-api/internal/reconcile"
)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "reconcile",
		Short:         "Check the key index against the stored records",
		Long:          "Check the key index against the stored records. Exits 1 when dangling or malformed entries are found.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			report, err := reconcile.NewProcessor(e.offers.GetStore(), e.cfg.Reconcile.Interval).RunOnce(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "reconcile", err)
			}
			err = write(cmd.OutOrStdout(), rootOpts.Format, report, func(w io.Writer) error {
				fmt.Fprintf(w, "indexed %d, readable %d\n", report.IndexedIDs, report.Records)
				for _, id := range report.Dangling {
					fmt.Fprintf(w, "dangling  %s\n", id)
				}
				for _, d := range report.Malformed {
					fmt.Fprintf(w, "malformed %s\n", d)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if !report.Healthy() {
				return WrapExitError(ExitFailure, "ledger is inconsistent",
					fmt.Errorf("%d dangling, %d malformed", len(report.Dangling), len(report.Malformed)))
			}
			return nil
		},
	}
}

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Operator string
	TTL      time.Duration
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "token",
		Short:         "Mint an operator token for the internal API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Operator == "" {
				return WrapExitError(ExitCommandError, "invalid --operator", errors.New("operator name is required"))
			}
			cfg, err := loadConfig(opts.RootOptions)
			if err != nil {
				return err
			}
			token, err := auth.IssueOperatorToken(cfg.InternalSecret, opts.Operator, opts.TTL)
			if err != nil {
				return WrapExitError(ExitCommandError, "mint token", err)
			}
			return write(cmd.OutOrStdout(), opts.Format, token, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, token.Token)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&opts.Operator, "operator", "operator", "name recorded in the token")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", time.Hour, "token lifetime")

	return cmd
}
