package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/civicmetrics/statepipe/internal/importer"
)

var retryActor string

var retryCmd = &cobra.Command{
	Use:   "retry <import-id>",
	Short: "Retry a failed import",
	Long:  "Creates a fresh attempt for a failed or validation_failed import, re-staged from the original attempt's retained rows. The original record is kept as an audit trail.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := dataPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		cat, closer, err := buildCatalog(pool)
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer()
		}

		store := importer.NewPostgresStore(pool)
		loader := importer.NewLoader(store, cat, cfg.Import.BatchSize)
		retrier := importer.NewRetrier(store, importer.NewRegistry(pool), loader)

		result, err := retrier.Retry(ctx, args[0], actorOrDefault(retryActor))
		if err != nil {
			return eris.Wrap(err, "retry")
		}

		fmt.Println(result.Message)
		if result.Stats != nil {
			fmt.Printf("staged %d rows (%d valid, %d invalid)\n",
				result.Stats.TotalRows, result.Stats.ValidRows, result.Stats.InvalidRows)
		}
		if !result.Success {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	retryCmd.Flags().StringVar(&retryActor, "actor", "", "acting user recorded on the new attempt")
	rootCmd.AddCommand(retryCmd)
}
