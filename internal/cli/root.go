// Package cli implements ledgerctl, the operator tool for migrations,
// expiry sweeps, reconciliation batches and ledger verification.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/studiobook/backend/internal/app"
	"github.com/studiobook/backend/internal/config"
	"github.com/studiobook/backend/internal/database"
	"github.com/studiobook/backend/internal/logging"
)

// Opener connects to storage and builds the services. The returned func
// releases what it opened.
type Opener func(ctx context.Context) (*app.App, func(), error)

var (
	cfgFile string
	output  string
)

// NewRootCmd returns the ledgerctl command tree.
func NewRootCmd(open Opener) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the studio ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", ".env", "config file")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "output format: json|text")

	rootCmd.AddCommand(newMigrateCmd(open))
	rootCmd.AddCommand(newSweepCmd(open))
	rootCmd.AddCommand(newReconcileCmd(open))
	rootCmd.AddCommand(newVerifyCmd(open))

	return rootCmd
}

// Open is the production Opener: it reads configuration the way the server
// does and connects to Postgres and, when reachable, Redis.
func Open(ctx context.Context) (*app.App, func(), error) {
	config.InitFile(cfgFile)
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logging.NewLoggerWithService("ledgerctl", cfg.Log.Level, cfg.Log.Format)

	db, err := database.InitDB(log)
	if err != nil {
		return nil, nil, err
	}
	rdb := database.InitRedis(log)

	closeAll := func() {
		db.Close()
		if rdb != nil {
			rdb.Close()
		}
	}
	return app.New(cfg, db, rdb, log), closeAll, nil
}

// withApp opens the services for the duration of fn.
func withApp(cmd *cobra.Command, open Opener, fn func(a *app.App) error) error {
	a, closeAll, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer closeAll()
	return fn(a)
}

// render writes v as indented JSON when --output=json, otherwise calls text.
func render(w io.Writer, v any, text func(w io.Writer)) error {
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func requireOrg(org string) error {
	if org == "" {
		return fmt.Errorf("--org is required")
	}
	return nil
}
