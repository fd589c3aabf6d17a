package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/lead-finder/internal/campaign"
)

type campaignOptions struct {
	templateID string
	limit      int
	dryRun     bool
	preview    bool
}

func newCampaignCmd() *cobra.Command {
	opts := &campaignOptions{}
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Send a template to eligible leads under the daily cap",
		Long: `Selects leads with a validated email that have not received the
template yet and sends it to each, spacing sends and stopping at the daily
cap. --dry-run renders the messages without sending or recording them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCampaign(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.templateID, "template", "initial_contact", "template id")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum leads to contact (0 = up to the daily cap)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "render without sending (overrides campaign.dry_run)")
	cmd.Flags().BoolVar(&opts.preview, "preview", false, "print rendered messages after the report")
	return cmd
}

func runCampaign(cmd *cobra.Command, opts *campaignOptions) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if !app.Catalog.Has(opts.templateID) {
		return fmt.Errorf("unknown template %q (known: %s)", opts.templateID, strings.Join(app.Catalog.IDs(), ", "))
	}

	report, runErr := app.Throttler.Run(cmd.Context(), opts.templateID, opts.limit)
	if report.Deliveries == nil {
		report.Deliveries = []campaign.Delivery{}
	}
	if err := printJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if opts.preview {
		writePreview(cmd.OutOrStdout(), report.Deliveries)
	}
	if runErr != nil {
		return fmt.Errorf("campaign: %w", runErr)
	}
	return nil
}

func writePreview(w io.Writer, deliveries []campaign.Delivery) {
	for _, d := range deliveries {
		fmt.Fprintf(w, "\n--- %s (%s, %s)\nSubject: %s\n\n%s\n",
			d.Message.To, d.TemplateID, d.Language, d.Message.Subject, d.Message.Body)
	}
}
