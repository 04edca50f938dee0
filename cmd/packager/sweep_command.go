package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/dossierpackager/internal/services"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reset dossiers left in processing by a crashed run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := ctx.config(cmd)
			if err != nil {
				return err
			}
			st, err := services.OpenStore(cmd.Context(), config)
			if err != nil {
				return err
			}
			defer st.Close()

			reset, err := st.ResetStuckProcessing(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %d dossiers.\n", reset)
			return nil
		},
	}
}
