package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicmetrics/statepipe/internal/importer"
)

var (
	importsStatus string
	importsLimit  int
)

var importsCmd = &cobra.Command{
	Use:   "imports",
	Short: "List import attempts",
	Long:  "Displays import attempts newest first, optionally filtered by status.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := dataPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		var status *importer.Status
		if importsStatus != "" {
			s := importer.Status(importsStatus)
			status = &s
		}

		attempts, err := importer.NewPostgresStore(pool).ListAttempts(ctx, status, importsLimit)
		if err != nil {
			return eris.Wrap(err, "imports")
		}

		if len(attempts) == 0 {
			zap.L().Info("no import attempts found")
			return nil
		}

		formatAttempts(os.Stdout, attempts)
		return nil
	},
}

func init() {
	importsCmd.Flags().StringVar(&importsStatus, "status", "", "filter by status (uploaded, staged, validated, validation_failed, published, rolled_back, failed)")
	importsCmd.Flags().IntVar(&importsLimit, "limit", 50, "maximum attempts to list")
	rootCmd.AddCommand(importsCmd)
}

// formatAttempts writes a tabular representation of attempts to w.
func formatAttempts(out io.Writer, attempts []importer.ImportAttempt) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFILE\tSTATUS\tUPLOADED\tBY\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t--------\t--\t-----")

	for _, a := range attempts {
		errMsg := ""
		if a.ErrorMsg != "" {
			errMsg = truncate(a.ErrorMsg, 60)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID,
			a.Filename,
			a.Status,
			a.UploadedAt.Format("2006-01-02 15:04"),
			a.CreatedBy,
			errMsg,
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
