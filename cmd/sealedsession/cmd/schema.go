package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sealedsession/config"
	"github.com/jmcleod/sealedsession/storage/postgres"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage the session store schema",
}

var schemaEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create the session table, bucket or key if it does not exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		defer store.Close()

		if err := store.EnsureSchema(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema ready (store: %s)\n", cfg.Store.Driver)
		return nil
	},
}

var schemaDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every PostgreSQL migration, dropping all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Store.Driver != config.DriverPostgres {
			return errors.New("schema down only applies to the postgres driver")
		}
		store, err := postgres.NewFromDSN(cmd.Context(), cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := postgres.MigrateDown(store.DB()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema removed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.AddCommand(schemaEnsureCmd, schemaDownCmd)
}
