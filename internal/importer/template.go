package importer

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/civicmetrics/statepipe/internal/db"
)

// TemplateKind distinguishes the accepted CSV shapes.
type TemplateKind string

const (
	// KindMultiCategory carries category and measure names per row.
	KindMultiCategory TemplateKind = "multi_category"
	// KindSingleCategory carries only state/year/value; category and
	// statistic context come from the attempt metadata.
	KindSingleCategory TemplateKind = "single_category"
	// KindLegacyExport is the old export format; its numeric id columns are
	// ignored and matching is always by name.
	KindLegacyExport TemplateKind = "legacy_export"
)

// Template defines one accepted upload shape.
type Template struct {
	ID              int64        `json:"id"`
	Name            string       `json:"name"`
	Kind            TemplateKind `json:"kind"`
	ExpectedHeaders []string     `json:"expected_headers"`
	SampleCSV       string       `json:"sample_csv,omitempty"`
	Active          bool         `json:"active"`
}

// templateSchema is the persisted JSON shape of the schema column.
type templateSchema struct {
	ExpectedHeaders []string `json:"expectedHeaders"`
}

//go:embed templates.yaml
var templateSeedYAML []byte

type templateSeedFile struct {
	Templates []struct {
		Name    string       `yaml:"name"`
		Kind    TemplateKind `yaml:"kind"`
		Headers []string     `yaml:"headers"`
		Sample  string       `yaml:"sample"`
	} `yaml:"templates"`
}

// Registry resolves and seeds upload templates.
type Registry struct {
	pool db.Pool
}

// NewRegistry creates a Registry backed by the given pool.
func NewRegistry(pool db.Pool) *Registry {
	return &Registry{pool: pool}
}

// Resolve loads a template by id. Returns (nil, nil) when no active template
// with that id exists.
func (r *Registry) Resolve(ctx context.Context, templateID int64) (*Template, error) {
	var (
		t          Template
		schemaJSON []byte
		sample     *string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, kind, schema, sample_csv, active FROM templates WHERE id = $1 AND active`,
		templateID,
	).Scan(&t.ID, &t.Name, &t.Kind, &schemaJSON, &sample, &t.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "importer: resolve template %d", templateID)
	}

	var schema templateSchema
	if err := json.Unmarshal(schemaJSON, &schema); err != nil {
		return nil, eris.Wrapf(err, "importer: decode schema for template %d", templateID)
	}
	t.ExpectedHeaders = schema.ExpectedHeaders
	if sample != nil {
		t.SampleCSV = *sample
	}
	return &t, nil
}

// ResolveByName loads a template by its well-known name.
func (r *Registry) ResolveByName(ctx context.Context, name string) (*Template, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM templates WHERE name = $1 AND active`, name,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "importer: resolve template %q", name)
	}
	return r.Resolve(ctx, id)
}

// List returns all templates ordered by id.
func (r *Registry) List(ctx context.Context) ([]Template, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, kind, schema, active FROM templates ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "importer: list templates")
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		var (
			t          Template
			schemaJSON []byte
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Kind, &schemaJSON, &t.Active); err != nil {
			return nil, eris.Wrap(err, "importer: scan template row")
		}
		var schema templateSchema
		if err := json.Unmarshal(schemaJSON, &schema); err != nil {
			return nil, eris.Wrapf(err, "importer: decode schema for template %d", t.ID)
		}
		t.ExpectedHeaders = schema.ExpectedHeaders
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// Seed inserts the well-known templates if absent. Safe to run repeatedly.
func (r *Registry) Seed(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "importer.registry"))

	var seeds templateSeedFile
	if err := yaml.Unmarshal(templateSeedYAML, &seeds); err != nil {
		return eris.Wrap(err, "importer: parse template seeds")
	}

	for _, seed := range seeds.Templates {
		schemaJSON, err := json.Marshal(templateSchema{ExpectedHeaders: seed.Headers})
		if err != nil {
			return eris.Wrapf(err, "importer: encode schema for %s", seed.Name)
		}

		tag, err := r.pool.Exec(ctx,
			`INSERT INTO templates (name, kind, schema, sample_csv, active)
			 VALUES ($1, $2, $3, $4, true)
			 ON CONFLICT (name) DO NOTHING`,
			seed.Name, string(seed.Kind), schemaJSON, seed.Sample,
		)
		if err != nil {
			return eris.Wrapf(err, "importer: seed template %s", seed.Name)
		}
		if tag.RowsAffected() > 0 {
			log.Info("seeded template", zap.String("name", seed.Name), zap.String("kind", string(seed.Kind)))
		}
	}
	return nil
}

// HeaderCheck is the outcome of comparing actual upload headers against a
// template's expected headers.
type HeaderCheck struct {
	OK         bool     `json:"ok"`
	Missing    []string `json:"missing,omitempty"`
	Unexpected []string `json:"unexpected,omitempty"`
}

// ValidateHeaders performs a case-insensitive set comparison. Missing
// expected headers and unexpected extra headers are both errors.
func ValidateHeaders(actual []string, tmpl *Template) HeaderCheck {
	expected := make(map[string]string, len(tmpl.ExpectedHeaders))
	for _, h := range tmpl.ExpectedHeaders {
		expected[normalizeHeader(h)] = h
	}

	seen := make(map[string]bool, len(actual))
	check := HeaderCheck{}

	for _, h := range actual {
		key := normalizeHeader(h)
		seen[key] = true
		if _, ok := expected[key]; !ok {
			check.Unexpected = append(check.Unexpected, strings.TrimSpace(h))
		}
	}
	for _, h := range tmpl.ExpectedHeaders {
		if !seen[normalizeHeader(h)] {
			check.Missing = append(check.Missing, h)
		}
	}

	check.OK = len(check.Missing) == 0 && len(check.Unexpected) == 0
	return check
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
