package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ksred/fhenergy-api/internal/offers"
	"github.com/ksred/fhenergy-api/internal/types"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Type   string
	Energy float64
	Price  float64
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an encrypted offer owned by the --key wallet",
		Long: `Submit an encrypted offer owned by the --key wallet.

Example:
  fhectl submit --type supply --energy 10 --price 2.5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := loadWallet(opts.RootOptions)
			if err != nil {
				return err
			}
			e, err := openEnv(opts.RootOptions)
			if err != nil {
				return err
			}
			defer e.Close()

			rec, err := e.offers.SubmitOffer(cmd.Context(), w.Address(), types.OfferType(opts.Type), opts.Energy, opts.Price)
			if err != nil {
				return WrapExitError(ExitFailure, "submit offer", err)
			}
			return writeRecord(cmd.OutOrStdout(), opts.Format, rec)
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "offer type (supply|demand)")
	cmd.Flags().Float64Var(&opts.Energy, "energy", 0, "energy in kWh")
	cmd.Flags().Float64Var(&opts.Price, "price", 0, "price per kWh")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Search string
	Type   string
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List offers, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			typeFilter, ok := offers.ParseTypeFilter(opts.Type)
			if !ok {
				return WrapExitError(ExitCommandError, "invalid --type", fmt.Errorf("%q is not all, supply or demand", opts.Type))
			}
			e, err := openEnv(opts.RootOptions)
			if err != nil {
				return err
			}
			defer e.Close()

			records, diags, err := e.offers.ListOffers(cmd.Context(), opts.Search, typeFilter)
			if err != nil {
				return WrapExitError(ExitFailure, "list offers", err)
			}
			out := offers.ListResponse{Offers: records, Diagnostics: diags}
			return write(cmd.OutOrStdout(), opts.Format, out, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tOWNER\tCREATED")
				for _, r := range records {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Type, r.Status, r.Owner,
						time.Unix(r.Timestamp, 0).UTC().Format(time.RFC3339))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				for _, d := range diags {
					fmt.Fprintf(w, "skipped %s\n", d)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Search, "search", "", "case-insensitive match on id or owner")
	cmd.Flags().StringVar(&opts.Type, "type", "all", "offer type (all|supply|demand)")

	return cmd
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Show market aggregates",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			stats, err := e.offers.MarketStats(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "market stats", err)
			}
			return write(cmd.OutOrStdout(), rootOpts.Format, stats, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "offers: %d (supply %d, demand %d)\npending: %d  matched: %d  completed: %d\nactive traders: %d\n",
					stats.TotalOffers, stats.SupplyCount, stats.DemandCount,
					stats.PendingCount, stats.MatchedCount, stats.CompletedCount,
					stats.ActiveTraders)
				return err
			})
		},
	}
}

// MatchOptions holds flags for the match command.
type MatchOptions struct {
	*RootOptions
	With string
}

// NewMatchCommand creates the match command.
func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "match <offer-id>",
		Short:         "Mark one of your pending offers as matched",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return transition(cmd, opts.RootOptions, func(e *env, actor string) (*types.OrderRecord, error) {
				return e.offers.MatchOrder(cmd.Context(), actor, args[0], opts.With)
			})
		},
	}

	cmd.Flags().StringVar(&opts.With, "with", "", "counterparty reference recorded on the offer")

	return cmd
}

// NewCompleteCommand creates the complete command.
func NewCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "complete <offer-id>",
		Short:         "Mark one of your matched offers as completed",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return transition(cmd, rootOpts, func(e *env, actor string) (*types.OrderRecord, error) {
				return e.offers.CompleteOrder(cmd.Context(), actor, args[0])
			})
		},
	}
}

func transition(cmd *cobra.Command, opts *RootOptions, apply func(e *env, actor string) (*types.OrderRecord, error)) error {
	w, err := loadWallet(opts)
	if err != nil {
		return err
	}
	e, err := openEnv(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	rec, err := apply(e, w.Address())
	if err != nil {
		return WrapExitError(ExitFailure, "update offer", err)
	}
	return writeRecord(cmd.OutOrStdout(), opts.Format, rec)
}

func writeRecord(w io.Writer, format string, rec *types.OrderRecord) error {
	return write(w, format, rec, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s  %s  %s  owner %s\n", rec.ID, rec.Type, rec.Status, rec.Owner)
		return err
	})
}
