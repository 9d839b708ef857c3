package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/civicmetrics/statepipe/internal/db"
	"github.com/civicmetrics/statepipe/internal/importer"
)

var (
	uploadTemplate string
	uploadMeta     []string
	uploadActor    string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload and stage a CSV or XLSX file",
	Long:  "Parses the file against a template, checks for duplicate content and stages every row for validation.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		metadata, err := parseMetaPairs(uploadMeta)
		if err != nil {
			return err
		}

		pool, err := dataPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		templateID, err := resolveTemplateID(cmd, pool, uploadTemplate)
		if err != nil {
			return err
		}

		pipeline, closer, err := buildPipeline(pool)
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer()
		}

		result, err := pipeline.Upload(ctx, filepath.Base(args[0]), data, templateID, metadata, actorOrDefault(uploadActor))
		if err != nil {
			return eris.Wrap(err, "upload")
		}

		printUploadResult(result)
		if !result.Success {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadTemplate, "template", "t", "", "template name or id (required)")
	uploadCmd.Flags().StringArrayVarP(&uploadMeta, "meta", "m", nil, "metadata key=value pair (repeatable; single-category uploads need category and statistic)")
	uploadCmd.Flags().StringVar(&uploadActor, "actor", "", "acting user recorded on the attempt")
	_ = uploadCmd.MarkFlagRequired("template")
	rootCmd.AddCommand(uploadCmd)
}

// resolveTemplateID accepts either a numeric template id or a template name.
func resolveTemplateID(cmd *cobra.Command, pool db.Pool, ref string) (int64, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return id, nil
	}

	tmpl, err := importer.NewRegistry(pool).ResolveByName(cmd.Context(), ref)
	if err != nil {
		return 0, err
	}
	if tmpl == nil {
		return 0, eris.Errorf("template %q not found; run 'templates list'", ref)
	}
	return tmpl.ID, nil
}

func parseMetaPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, eris.Errorf("invalid --meta %q, expected key=value", pair)
		}
		meta[k] = v
	}
	return meta, nil
}

func printUploadResult(result *importer.UploadResult) {
	fmt.Println(result.Message)
	if result.ImportID != "" {
		fmt.Printf("import id: %s\n", result.ImportID)
	}
	for _, e := range result.Errors {
		printValidationError(e)
	}
}

func printValidationError(e importer.ValidationError) {
	loc := ""
	if e.RowNumber > 0 {
		loc = fmt.Sprintf("row %d: ", e.RowNumber)
	}
	field := ""
	if e.FieldName != "" {
		field = fmt.Sprintf(" [%s]", e.FieldName)
	}
	fmt.Printf("  %s%s (%s)%s\n", loc, e.Message, e.Category, field)
}
