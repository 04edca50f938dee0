package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/dossierpackager/internal/services"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var sweep bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Package every eligible dossier once and wait for the batch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, _, err := ctx.openPackager(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			if sweep {
				if err := p.Sweep(cmd.Context()); err != nil {
					return err
				}
			}

			res, err := p.Trigger(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch res.Outcome {
			case services.TriggerAlreadyRunning:
				return fmt.Errorf("a packaging batch is still running")
			case services.TriggerNothingToDo:
				fmt.Fprintln(out, "No dossiers to package.")
				return nil
			}

			p.Wait()
			for _, report := range p.Reports() {
				fmt.Fprintf(out, "Packaged %d, failed %d, skipped %d of %d dossiers.\n",
					report.Packaged, report.Failed, report.Skipped, res.Dossiers)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sweep, "sweep", false, "Reset dossiers stuck in processing before the batch")
	return cmd
}
