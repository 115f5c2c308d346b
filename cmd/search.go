package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papertrawl/papertrawl/internal/config"
	"github.com/papertrawl/papertrawl/internal/logging"
	"github.com/papertrawl/papertrawl/internal/metrics"
	"github.com/papertrawl/papertrawl/internal/scholar"
)

type searchFlags struct {
	terms      []string
	exclude    []string
	startYear  int
	endYear    int
	maxResults int
	jsonOut    bool
}

func newSearchCmd() *cobra.Command {
	flags := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a one-off search from the command line",
		Long: `Executes a search directly, without the API or the job queue, and
streams extracted records to stdout as they arrive. Interrupting with Ctrl-C
stops cleanly at the next page boundary.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSearch(cmd, flags)
		},
	}
	cmd.Flags().StringSliceVarP(&flags.terms, "terms", "t", nil, "search terms (required, repeatable)")
	cmd.Flags().StringSliceVarP(&flags.exclude, "exclude", "x", nil, "terms to exclude")
	cmd.Flags().IntVar(&flags.startYear, "start-year", 0, "earliest publication year")
	cmd.Flags().IntVar(&flags.endYear, "end-year", 0, "latest publication year")
	cmd.Flags().IntVarP(&flags.maxResults, "max", "m", 0, "maximum unique records (0 = unlimited)")
	cmd.Flags().BoolVar(&flags.jsonOut, "json", false, "emit records as JSON lines")
	_ = cmd.MarkFlagRequired("terms")
	return cmd
}

func runSearch(cmd *cobra.Command, flags *searchFlags) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	metrics.Init()

	spec := scholar.SearchSpec{
		IncludeTerms: flags.terms,
		ExcludeTerms: flags.exclude,
		StartYear:    flags.startYear,
		EndYear:      flags.endYear,
		MaxResults:   flags.maxResults,
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rotator := buildRotator(cfg, logger)
	searchers, err := buildSearcherFactory(cfg, rotator, logger)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	count := 0
	cb := scholar.Callbacks{
		Records: func(recs []scholar.Record) {
			for _, rec := range recs {
				count++
				if flags.jsonOut {
					_ = enc.Encode(rec)
					continue
				}
				fmt.Printf("%4d. %s\n", count, rec.Title)
				if rec.Authors != "" {
					fmt.Printf("      %s", rec.Authors)
					if rec.Year > 0 {
						fmt.Printf(" (%d)", rec.Year)
					}
					fmt.Println()
				}
				if rec.Citations > 0 {
					fmt.Printf("      cited by %d\n", rec.Citations)
				}
			}
		},
		Status: func(msg string) {
			logger.Info("search status", zap.String("status", msg))
		},
		Interrupt: func() scholar.Interrupt {
			if ctx.Err() != nil {
				return scholar.InterruptCancel
			}
			return scholar.InterruptNone
		},
	}

	var latest scholar.Checkpoint
	cb.Checkpoint = func(cp scholar.Checkpoint) { latest = cp }

	_, err = searchers("cli").Search(ctx, spec, func() scholar.Checkpoint { return latest }, cb)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("search interrupted", zap.Int("records", count))
			return nil
		}
		return fmt.Errorf("search failed after %d records: %w", count, err)
	}
	logger.Info("search complete", zap.Int("records", count))
	return nil
}
