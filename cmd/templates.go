package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicmetrics/statepipe/internal/importer"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage upload templates",
	Long:  "Lists and seeds the well-known CSV upload templates.",
}

var templatesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the well-known templates",
	Long:  "Inserts the multi-category, single-category and legacy-export templates if absent. Safe to run repeatedly.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := dataPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := importer.NewRegistry(pool).Seed(ctx); err != nil {
			return eris.Wrap(err, "templates seed")
		}

		zap.L().Info("templates seeded")
		return nil
	},
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := dataPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		templates, err := importer.NewRegistry(pool).List(ctx)
		if err != nil {
			return eris.Wrap(err, "templates list")
		}

		if len(templates) == 0 {
			zap.L().Info("no templates found, run 'templates seed' first")
			return nil
		}

		formatTemplates(os.Stdout, templates)
		return nil
	},
}

func init() {
	templatesCmd.AddCommand(templatesSeedCmd)
	templatesCmd.AddCommand(templatesListCmd)
	rootCmd.AddCommand(templatesCmd)
}

// formatTemplates writes a tabular representation of templates to w.
func formatTemplates(out io.Writer, templates []importer.Template) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tKIND\tACTIVE\tHEADERS")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t------\t-------")

	for _, t := range templates {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n",
			t.ID, t.Name, t.Kind, t.Active, strings.Join(t.ExpectedHeaders, ","))
	}
	_ = w.Flush()
}
