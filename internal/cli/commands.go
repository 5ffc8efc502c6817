package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/studiobook/backend/internal/app"
	"github.com/studiobook/backend/internal/database"
	"github.com/studiobook/backend/internal/models"
	"github.com/studiobook/backend/internal/services"
)

func newMigrateCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				if err := database.Migrate(cmd.Context(), a.DB, a.Log); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func newSweepCmd(open Opener) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire credit lots and recognize gift card breakage once",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				now = t
			}
			return withApp(cmd, open, func(a *app.App) error {
				summaries, err := a.Sweeper.SweepOnce(cmd.Context(), now)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), summaries, func(w io.Writer) {
					orgs := make([]string, 0, len(summaries))
					for org := range summaries {
						orgs = append(orgs, org)
					}
					sort.Strings(orgs)
					for _, org := range orgs {
						s := summaries[org]
						fmt.Fprintf(w, "%s: %d cards, %d lots (%d credits) expired\n", org, s.CardsProcessed, s.LotsExpired, s.CreditsExpired)
						for currency, amount := range s.BreakageByCurrency {
							fmt.Fprintf(w, "  breakage %s %s\n", models.FormatAmount(amount, currency), currency)
						}
					}
					if len(orgs) == 0 {
						fmt.Fprintln(w, "nothing expired")
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "sweep as of this RFC 3339 time (default now)")
	return cmd
}

func newReconcileCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Import bank statements and match them against payouts and invoices",
	}
	cmd.AddCommand(newReconcileImportCmd(open))
	cmd.AddCommand(newReconcileRunCmd(open))
	cmd.AddCommand(newReconcileReportCmd(open))
	return cmd
}

func newReconcileImportCmd(open Opener) *cobra.Command {
	var org, format string
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a camt.053 or CSV statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOrg(org); err != nil {
				return err
			}
			f, err := services.ParseStatementFormat(format)
			if err != nil {
				return err
			}
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			return withApp(cmd, open, func(a *app.App) error {
				result, err := a.Reconciliation.Import(cmd.Context(), org, f, file)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), result, func(w io.Writer) {
					fmt.Fprintf(w, "statement %s: %d imported, %d already present\n", result.StatementID, result.Imported, result.Duplicates)
				})
			})
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "organization id")
	cmd.Flags().StringVar(&format, "format", "camt053", "statement format: camt053|csv")
	return cmd
}

func newReconcileRunCmd(open Opener) *cobra.Command {
	var org string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Match open statement lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOrg(org); err != nil {
				return err
			}
			return withApp(cmd, open, func(a *app.App) error {
				result, err := a.Reconciliation.Run(cmd.Context(), org, time.Now())
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), result, func(w io.Writer) {
					fmt.Fprintf(w, "%d auto matched, %d possible, %d unmatched, %d transfers posted\n",
						result.Auto, result.Possible, result.Unmatched, result.Posted)
				})
			})
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "organization id")
	return cmd
}

func newReconcileReportCmd(open Opener) *cobra.Command {
	var org string
	cmd := &cobra.Command{
		Use:   "report LINE_ID",
		Short: "Print the pacs.002 status report of a statement line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOrg(org); err != nil {
				return err
			}
			return withApp(cmd, open, func(a *app.App) error {
				doc, err := a.Reconciliation.StatusReport(cmd.Context(), org, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), doc)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "organization id")
	return cmd
}

func newVerifyCmd(open Opener) *cobra.Command {
	var org string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check every balance projection of an organization against its entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOrg(org); err != nil {
				return err
			}
			return withApp(cmd, open, func(a *app.App) error {
				drifts, err := a.Ledger.VerifyOrg(cmd.Context(), org)
				if err != nil {
					return err
				}
				if err := render(cmd.OutOrStdout(), drifts, func(w io.Writer) {
					for _, d := range drifts {
						fmt.Fprintln(w, d.Error())
					}
					if len(drifts) == 0 {
						fmt.Fprintln(w, "all balances agree with the ledger")
					}
				}); err != nil {
					return err
				}
				if len(drifts) > 0 {
					return fmt.Errorf("%d balances drifted: %w", len(drifts), models.ErrBalanceDrift)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "organization id")
	return cmd
}
