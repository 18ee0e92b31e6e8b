package main

import (
	"fmt"

	"coderoom/internal/config"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			st, err := openStores(cfg)
			if err != nil {
				return fmt.Errorf("failed to open storage: %w", err)
			}
			defer st.close()

			if err := st.migrate(); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", cfg.DBDriver)
			return err
		},
	}
}
