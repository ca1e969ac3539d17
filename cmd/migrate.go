package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}
		cmd.Println("schema up to date")
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "config-check",
	Short: "Validate collaborator credentials and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		cmd.Println("configuration ok")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, configCheckCmd)
}
