package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hxuan190/token-aggregator/internal/adapters/persistence"
	"github.com/hxuan190/token-aggregator/internal/aggregator/adapters/indexer"
	"github.com/hxuan190/token-aggregator/internal/aggregator/services/grouping"
	"github.com/hxuan190/token-aggregator/internal/aggregator/services/pagination"
	"github.com/hxuan190/token-aggregator/internal/config"
	"github.com/hxuan190/token-aggregator/internal/domain"
)

type walkOptions struct {
	endpoints       string
	recordsFile     string
	overridesFile   string
	limit           int
	orderBy         string
	direction       string
	matchAllSymbols bool
	expectedItems   int
	fpr             float64
	timeout         time.Duration
	maxPages        int
}

type walkReport struct {
	Pages      int      `json:"pages"`
	Batches    int      `json:"batches"`
	Groups     int      `json:"groups"`
	Tokens     int      `json:"tokens"`
	Discarded  int      `json:"discarded"`
	Duplicates []string `json:"duplicates"`
	Truncated  bool     `json:"truncated"`
}

func walkCommand() *cobra.Command {
	opts := walkOptions{}
	c := &cobra.Command{
		Use:   "walk",
		Short: "Pages through every multichain token and reports duplicates",
		RunE: func(c *cobra.Command, args []string) error {
			return runWalk(c.Context(), c.OutOrStdout(), opts)
		},
	}

	flags := c.Flags()
	flags.StringVar(&opts.endpoints, "endpoints", os.Getenv("INDEXER_ENDPOINTS"), "indexers as chainId=url,...")
	flags.StringVar(&opts.recordsFile, "records", "", "JSON array of token records to walk instead of live indexers")
	flags.StringVar(&opts.overridesFile, "overrides", "", "JSON override table")
	flags.IntVar(&opts.limit, "limit", 100, "page size")
	flags.StringVar(&opts.orderBy, "order-by", "TVL", "TVL, VOLUME or PRICE")
	flags.StringVar(&opts.direction, "direction", "DESC", "ASC or DESC")
	flags.BoolVar(&opts.matchAllSymbols, "match-all-symbols", false, "allow several tokens of one chain per group")
	flags.IntVar(&opts.expectedItems, "bloom-expected-items", 10000, "bloom filter sizing")
	flags.Float64Var(&opts.fpr, "bloom-fpr", 0.01, "bloom filter false positive rate")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "indexer request timeout")
	flags.IntVar(&opts.maxPages, "max-pages", 10000, "stop after this many pages")
	return c
}

func walkSource(opts walkOptions) (pagination.TokenSource, error) {
	if opts.recordsFile != "" {
		raw, err := os.ReadFile(opts.recordsFile)
		if err != nil {
			return nil, err
		}
		var records []domain.TokenRecord
		if err := sonic.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", opts.recordsFile, err)
		}
		return indexer.NewMemorySource(records), nil
	}

	endpoints, err := config.ParseEndpoints(opts.endpoints)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no indexer endpoints, pass --endpoints or --records")
	}
	clients := make([]indexer.ChainSource, 0, len(endpoints))
	for _, ep := range endpoints {
		clients = append(clients, indexer.NewClient(ep.ChainID, ep.URL, opts.timeout))
	}
	return indexer.NewMultiSource(clients...), nil
}

func runWalk(ctx context.Context, w io.Writer, opts walkOptions) error {
	source, err := walkSource(opts)
	if err != nil {
		return err
	}

	var table domain.OverrideTable
	if opts.overridesFile != "" {
		if table, err = persistence.ReadOverridesFile(opts.overridesFile); err != nil {
			return err
		}
	}

	req := pagination.Request{
		Limit:           opts.limit,
		MatchAllSymbols: opts.matchAllSymbols,
		Overrides:       table,
	}
	if req.Order.Field, err = domain.ParseOrderField(opts.orderBy); err != nil {
		return err
	}
	if req.Order.Direction, err = domain.ParseOrderDirection(opts.direction); err != nil {
		return err
	}

	driver := pagination.NewDriver(source, pagination.Options{
		BloomExpectedItems:     opts.expectedItems,
		BloomFalsePositiveRate: opts.fpr,
		Identity:               grouping.SymbolIdentity{},
	})

	report, err := walk(ctx, driver, req, opts.maxPages)
	if err != nil {
		return err
	}
	out, err := sonic.ConfigStd.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func walk(ctx context.Context, driver *pagination.Driver, req pagination.Request, maxPages int) (walkReport, error) {
	report := walkReport{Duplicates: []string{}}
	seen := make(map[string]bool)

	for {
		if report.Pages >= maxPages {
			report.Truncated = true
			return report, nil
		}
		page, err := driver.Page(ctx, req)
		if err != nil {
			return report, fmt.Errorf("page %d: %w", report.Pages+1, err)
		}
		report.Pages++
		report.Batches += page.Batches
		report.Groups += len(page.Tokens)
		report.Discarded += len(page.Discarded)

		for _, tok := range page.Tokens {
			for _, id := range tok.TokenIDs {
				if seen[id] {
					report.Duplicates = append(report.Duplicates, id)
				}
				seen[id] = true
				report.Tokens++
			}
		}
		log.Debug().Int("page", report.Pages).Int("groups", len(page.Tokens)).Msg("[walk] page done")

		if page.NextCursor == nil {
			return report, nil
		}
		req.Cursor = *page.NextCursor
	}
}
