package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicmetrics/statepipe/internal/aggregate"
)

var (
	statsTopLimit  int
	statsTopBottom bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate statistics queries",
	Long:  "Computes national averages, state rankings and percentile comparisons over published facts.",
}

var statsAverageCmd = &cobra.Command{
	Use:   "average <statistic-id> <year>",
	Short: "National average for a statistic and year",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		statisticID, year, err := parseStatYearArgs(args)
		if err != nil {
			return err
		}

		engine, pool, closer, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		if closer != nil {
			defer closer()
		}

		avg, err := engine.NationalAverage(ctx, statisticID, year)
		if err != nil {
			return eris.Wrap(err, "stats average")
		}
		if avg == nil {
			zap.L().Info("no published facts for that statistic and year")
			return nil
		}

		fmt.Printf("national average: %s across %d states (computed %s)\n",
			avg.Value.String(), avg.StateCount, avg.ComputedAt.Format("2006-01-02 15:04"))
		return nil
	},
}

var statsTopCmd = &cobra.Command{
	Use:   "top <statistic-id> <year>",
	Short: "Top or bottom performing states",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		statisticID, year, err := parseStatYearArgs(args)
		if err != nil {
			return err
		}

		engine, pool, closer, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		if closer != nil {
			defer closer()
		}

		order := aggregate.OrderTop
		if statsTopBottom {
			order = aggregate.OrderBottom
		}
		performers, err := engine.TopBottomPerformers(ctx, statisticID, year, statsTopLimit, order)
		if err != nil {
			return eris.Wrap(err, "stats top")
		}
		if len(performers) == 0 {
			zap.L().Info("no published facts for that statistic and year")
			return nil
		}

		formatPerformers(os.Stdout, performers)
		return nil
	},
}

var statsCompareCmd = &cobra.Command{
	Use:   "compare <state-id> <year>",
	Short: "Percentile standing of a state across all statistics",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		stateID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("invalid state id %q", args[0])
		}
		year, err := strconv.Atoi(args[1])
		if err != nil {
			return eris.Errorf("invalid year %q", args[1])
		}

		engine, pool, closer, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		if closer != nil {
			defer closer()
		}

		cmp, err := engine.StateComparison(ctx, stateID, year)
		if err != nil {
			return eris.Wrap(err, "stats compare")
		}
		if cmp == nil {
			return eris.Errorf("state %d not found", stateID)
		}
		if len(cmp.Entries) == 0 {
			zap.L().Info("no published facts for that state and year")
			return nil
		}

		fmt.Printf("%s, %d:\n", cmp.StateName, cmp.Year)
		formatComparison(os.Stdout, cmp.Entries)
		return nil
	},
}

func init() {
	statsTopCmd.Flags().IntVar(&statsTopLimit, "limit", 10, "number of states to list")
	statsTopCmd.Flags().BoolVar(&statsTopBottom, "bottom", false, "list lowest values instead of highest")
	statsCmd.AddCommand(statsAverageCmd)
	statsCmd.AddCommand(statsTopCmd)
	statsCmd.AddCommand(statsCompareCmd)
	rootCmd.AddCommand(statsCmd)
}

func parseStatYearArgs(args []string) (int64, int, error) {
	statisticID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, 0, eris.Errorf("invalid statistic id %q", args[0])
	}
	year, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, eris.Errorf("invalid year %q", args[1])
	}
	return statisticID, year, nil
}

// buildEngine wires the aggregation engine from configuration.
func buildEngine(ctx context.Context) (*aggregate.Engine, *pgxpool.Pool, func() error, error) {
	pool, err := dataPool(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	cat, closer, err := buildCatalog(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}

	ttl := time.Duration(cfg.Aggregate.CacheTTLSecs) * time.Second
	engine := aggregate.NewEngine(pool, cat, cfg.Aggregate.CacheEntries, ttl)
	return engine, pool, closer, nil
}

func formatPerformers(out io.Writer, performers []aggregate.Performer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANK\tSTATE\tVALUE")
	_, _ = fmt.Fprintln(w, "----\t-----\t-----")
	for _, p := range performers {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", p.Rank, p.StateName, p.Value.String())
	}
	_ = w.Flush()
}

func formatComparison(out io.Writer, entries []aggregate.ComparisonEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CATEGORY\tSTATISTIC\tVALUE\tRANK\tOF\tPERCENTILE")
	_, _ = fmt.Fprintln(w, "--------\t---------\t-----\t----\t--\t----------")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			e.CategoryName, e.StatisticName, e.Value.String(), e.Rank, e.StateCount, e.Percentile.StringFixed(2))
	}
	_ = w.Flush()
}
