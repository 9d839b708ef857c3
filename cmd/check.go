package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/civicmetrics/statepipe/internal/importer"
)

var checkCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Check a file for duplicate content",
	Long:  "Computes the content fingerprint and reports whether an earlier attempt with identical content exists and whether a new upload would be allowed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		fingerprint, err := importer.Fingerprint(data)
		if err != nil {
			return eris.Wrap(err, "check")
		}

		pool, err := dataPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		guard := importer.NewGuard(importer.NewPostgresStore(pool))
		result, err := guard.Check(ctx, fingerprint)
		if err != nil {
			return eris.Wrap(err, "check")
		}

		fmt.Printf("fingerprint: %s\n", fingerprint)
		if !result.IsDuplicate {
			fmt.Println("no earlier attempt with identical content")
			return nil
		}
		fmt.Println(result.Reason)
		if result.CanRetry {
			fmt.Println("a new upload is allowed")
		} else {
			fmt.Println("a new upload would be rejected")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
