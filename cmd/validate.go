package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/civicmetrics/statepipe/internal/importer"
)

var validateCmd = &cobra.Command{
	Use:   "validate <import-id>",
	Short: "Validate a staged import",
	Long:  "Checks staged rows for unresolved references, overwrites and implausible values, then moves the attempt to validated or validation_failed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		maxValue, err := maxImportValue()
		if err != nil {
			return err
		}

		pool, err := dataPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		validator := importer.NewValidator(importer.NewPostgresStore(pool), maxValue)
		result, err := validator.Validate(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "validate")
		}

		printValidationResult(result)
		if !result.IsValid {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func printValidationResult(result *importer.ValidationResult) {
	verdict := "valid"
	if !result.IsValid {
		verdict = "validation failed"
	}
	fmt.Printf("%s: %d rows (%d valid, %d errors, %d warnings) in %dms\n",
		verdict, result.Stats.TotalRows, result.Stats.ValidRows,
		result.Stats.ErrorRows, result.Stats.WarningCount, result.Stats.ElapsedMs)

	if len(result.Stats.ByCategory) > 0 {
		fmt.Println("errors by category:")
		for category, n := range result.Stats.ByCategory {
			fmt.Printf("  %s: %d\n", category, n)
		}
	}
	if len(result.Errors) > 0 {
		fmt.Println("errors:")
		for _, e := range result.Errors {
			printValidationError(e)
		}
	}
	if len(result.Warnings) > 0 {
		fmt.Println("warnings:")
		for _, w := range result.Warnings {
			printValidationError(w)
		}
	}
}
