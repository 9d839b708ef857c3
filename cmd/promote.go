package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/civicmetrics/statepipe/internal/importer"
)

var promoteActor string

var promoteCmd = &cobra.Command{
	Use:   "promote <import-id>",
	Short: "Publish a validated import",
	Long:  "Promotes every valid staged row into the production fact table inside one transaction and moves the attempt to published.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := dataPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		result, err := importer.NewPromoter(pool).Promote(ctx, args[0], actorOrDefault(promoteActor))
		if err != nil {
			return eris.Wrap(err, "promote")
		}

		fmt.Println(result.Message)
		if !result.Success {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	promoteCmd.Flags().StringVar(&promoteActor, "actor", "", "acting user recorded on the session")
	rootCmd.AddCommand(promoteCmd)
}
