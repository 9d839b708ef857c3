package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicmetrics/statepipe/internal/aggregate"
)

var (
	coverageCategory int64
	coverageYear     int
)

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Completeness report",
	Long:  "Cross-tabulates published versus staged coverage per statistic and year, with coverage percentage over active states.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		engine, pool, closer, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		if closer != nil {
			defer closer()
		}

		var filters aggregate.CoverageFilters
		if cmd.Flags().Changed("category") {
			filters.CategoryID = &coverageCategory
		}
		if cmd.Flags().Changed("year") {
			filters.Year = &coverageYear
		}

		report, err := engine.CompletenessReport(ctx, filters)
		if err != nil {
			return eris.Wrap(err, "coverage")
		}

		if len(report.Cells) == 0 {
			zap.L().Info("no published or staged facts match the filters")
			return nil
		}

		fmt.Printf("active states: %d\n", report.ActiveStates)
		formatCoverage(os.Stdout, report.Cells)
		return nil
	},
}

func init() {
	coverageCmd.Flags().Int64Var(&coverageCategory, "category", 0, "filter by category id")
	coverageCmd.Flags().IntVar(&coverageYear, "year", 0, "filter by year")
	rootCmd.AddCommand(coverageCmd)
}

func formatCoverage(out io.Writer, cells []aggregate.CoverageCell) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CATEGORY\tSTATISTIC\tYEAR\tPUBLISHED\tSTAGED\tOVERLAP\tCOVERAGE")
	_, _ = fmt.Fprintln(w, "--------\t---------\t----\t---------\t------\t-------\t--------")
	for _, c := range cells {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s%%\n",
			c.CategoryName, c.StatisticName, c.Year,
			c.ProductionStates, c.StagedStates, c.OverlapStates, c.CoveragePct.StringFixed(2))
	}
	_ = w.Flush()
}
