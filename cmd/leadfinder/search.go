package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-finder/internal/lead"
	"github.com/JakeFAU/lead-finder/internal/pipeline"
)

type searchOptions struct {
	keyword string
	country string
	city    string
	sources []string
}

func newSearchCmd() *cobra.Command {
	opts := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run one keyword search across the enabled sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSearch(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.keyword, "keyword", "", "search keyword, e.g. \"textile importer\"")
	cmd.Flags().StringVar(&opts.country, "country", "", "country to search in")
	cmd.Flags().StringVar(&opts.city, "city", "", "city to search in")
	cmd.Flags().StringSliceVar(&opts.sources, "sources", nil, "sources to use (default: all enabled)")
	_ = cmd.MarkFlagRequired("keyword")
	return cmd
}

func runSearch(cmd *cobra.Command, opts *searchOptions) error {
	keyword := strings.TrimSpace(opts.keyword)
	if keyword == "" {
		return errors.New("--keyword must not be empty")
	}
	query := lead.SearchQuery{
		Keyword: keyword,
		Country: strings.TrimSpace(opts.country),
		City:    strings.TrimSpace(opts.city),
	}
	return runQueries(cmd, []lead.SearchQuery{query}, opts.sources)
}

type bulkSearchOptions struct {
	market        string
	language      string
	keywordLimit  int
	includeCities bool
	sources       []string
}

func newBulkSearchCmd() *cobra.Command {
	opts := &bulkSearchOptions{}
	cmd := &cobra.Command{
		Use:   "bulk-search",
		Short: "Search every country of a market with the configured keywords",
		Long: `Expands a market into one query per country and keyword (and per city
with --cities), then runs every query against every selected source.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBulkSearch(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.market, "market", "", "market name, e.g. europe")
	cmd.Flags().StringVar(&opts.language, "language", "en", "keyword language")
	cmd.Flags().IntVar(&opts.keywordLimit, "keywords-per-country", 3, "keywords used per country (0 = all)")
	cmd.Flags().BoolVar(&opts.includeCities, "cities", false, "also search each configured city")
	cmd.Flags().StringSliceVar(&opts.sources, "sources", nil, "sources to use (default: all enabled)")
	_ = cmd.MarkFlagRequired("market")
	return cmd
}

func runBulkSearch(cmd *cobra.Command, opts *bulkSearchOptions) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := app.Config()
	keywords, ok := cfg.Keywords[opts.language]
	if !ok {
		return fmt.Errorf("no keywords configured for language %q", opts.language)
	}
	queries, err := pipeline.ExpandQueries(cfg.Markets, opts.market, keywords, opts.keywordLimit, opts.includeCities)
	if err != nil {
		return err
	}
	return runQueries(cmd, queries, opts.sources)
}

func runQueries(cmd *cobra.Command, queries []lead.SearchQuery, sources []string) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	scrapers, err := app.Registry.Select(sources...)
	if err != nil {
		return err
	}
	logger := app.Logger()
	logger.Info("starting search batch",
		zap.Int("queries", len(queries)),
		zap.Int("sources", len(scrapers)),
	)

	report, runErr := app.Pipeline.Run(cmd.Context(), queries, scrapers)
	logger.Info("search batch finished",
		zap.Int("listings", report.Listings.Succeeded),
		zap.Int("inserted", report.Inserted),
		zap.Int("merged", report.Merged),
		zap.Duration("duration", report.Duration),
		zap.Error(runErr),
	)
	if err := printJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("search: %w", runErr)
	}
	return nil
}
