package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEnrichCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Crawl stored leads' websites for missing contact details",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, runErr := app.Pipeline.Enrich(cmd.Context(), limit)
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("enrich: %w", runErr)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum leads to enrich (0 = all)")
	return cmd
}
