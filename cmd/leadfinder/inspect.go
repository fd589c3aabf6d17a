package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/lead-finder/internal/lead"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print repository statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := app.Repo.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

type leadsOptions struct {
	country       string
	source        string
	emailStatus   string
	contactStatus string
	hasEmail      string
	limit         int
	offset        int
	asJSON        bool
}

func newLeadsCmd() *cobra.Command {
	opts := &leadsOptions{}
	cmd := &cobra.Command{
		Use:   "leads",
		Short: "List stored leads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLeads(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.country, "country", "", "filter by country")
	cmd.Flags().StringVar(&opts.source, "source", "", "filter by source")
	cmd.Flags().StringVar(&opts.emailStatus, "email-status", "", "filter by email status")
	cmd.Flags().StringVar(&opts.contactStatus, "contact-status", "", "filter by contact status")
	cmd.Flags().StringVar(&opts.hasEmail, "has-email", "", "true or false")
	cmd.Flags().IntVar(&opts.limit, "limit", 50, "maximum leads to print")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "leads to skip")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func (o *leadsOptions) filter() (lead.Filter, error) {
	f := lead.Filter{
		Country:       o.country,
		Source:        lead.Source(o.source),
		EmailStatus:   lead.EmailStatus(o.emailStatus),
		ContactStatus: lead.ContactStatus(o.contactStatus),
		Limit:         o.limit,
		Offset:        o.offset,
	}
	if f.EmailStatus != "" && !f.EmailStatus.Valid() {
		return f, fmt.Errorf("unknown email status %q", o.emailStatus)
	}
	if f.ContactStatus != "" && !f.ContactStatus.Valid() {
		return f, fmt.Errorf("unknown contact status %q", o.contactStatus)
	}
	if o.hasEmail != "" {
		v, err := strconv.ParseBool(o.hasEmail)
		if err != nil {
			return f, fmt.Errorf("--has-email must be true or false")
		}
		f.HasEmail = &v
	}
	if f.Limit < 0 || f.Offset < 0 {
		return f, fmt.Errorf("--limit and --offset must not be negative")
	}
	return f, nil
}

func runLeads(cmd *cobra.Command, opts *leadsOptions) error {
	filter, err := opts.filter()
	if err != nil {
		return err
	}
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	leads, err := app.Repo.Find(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("find leads: %w", err)
	}
	if opts.asJSON {
		if leads == nil {
			leads = []lead.Lead{}
		}
		return printJSON(cmd.OutOrStdout(), leads)
	}
	return writeLeadTable(cmd.OutOrStdout(), leads)
}

func writeLeadTable(w io.Writer, leads []lead.Lead) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPANY\tCOUNTRY\tEMAIL\tSTATUS\tCONTACT\tSCORE\tSOURCE")
	for _, l := range leads {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			l.CompanyName, l.Country, l.Email, l.EmailStatus, l.ContactStatus, l.Score, l.Source)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write table: %w", err)
	}
	return nil
}
