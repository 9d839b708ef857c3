package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/civicmetrics/statepipe/internal/importer"
)

var rollbackActor string

var rollbackCmd = &cobra.Command{
	Use:   "rollback <import-id>",
	Short: "Roll back a published import",
	Long:  "Deletes every production fact created by the import's promotion session and moves the attempt to rolled_back.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := dataPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		result, err := importer.NewRollbacker(pool).Rollback(ctx, args[0], actorOrDefault(rollbackActor))
		if err != nil {
			return eris.Wrap(err, "rollback")
		}

		fmt.Println(result.Message)
		if !result.Success {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackActor, "actor", "", "acting user recorded in the audit message")
	rootCmd.AddCommand(rollbackCmd)
}
