package importer

import (
	"strings"

	"github.com/rotisserie/eris"
)

// CanonicalRow is the shape every template kind maps into before resolution.
// Fields are still raw strings; parsing happens at staging time so failures
// can be recorded per row.
type CanonicalRow struct {
	StateName     string
	CategoryName  string
	StatisticName string
	RawYear       string
	RawValue      string
}

// TemplateRow is one parsed input row, tagged by template kind.
type TemplateRow interface {
	// Canonical maps the row into the canonical shape. meta is the attempt
	// metadata; only single-category rows consult it.
	Canonical(meta map[string]string) CanonicalRow
}

// MultiCategoryRow carries category and measure names inline.
type MultiCategoryRow struct {
	State    string
	Year     string
	Category string
	Measure  string
	Value    string
}

// Canonical implements TemplateRow.
func (r MultiCategoryRow) Canonical(map[string]string) CanonicalRow {
	return CanonicalRow{
		StateName:     r.State,
		CategoryName:  r.Category,
		StatisticName: r.Measure,
		RawYear:       r.Year,
		RawValue:      r.Value,
	}
}

// SingleCategoryRow pulls category and statistic context from the attempt
// metadata ("category" and "statistic" keys).
type SingleCategoryRow struct {
	State string
	Year  string
	Value string
}

// Canonical implements TemplateRow.
func (r SingleCategoryRow) Canonical(meta map[string]string) CanonicalRow {
	return CanonicalRow{
		StateName:     r.State,
		CategoryName:  meta["category"],
		StatisticName: meta["statistic"],
		RawYear:       r.Year,
		RawValue:      r.Value,
	}
}

// LegacyExportRow is the old export format. The numeric id columns in the
// file are ignored; matching is always by name.
type LegacyExportRow struct {
	State       string
	Year        string
	Category    string
	MeasureName string
	Value       string
}

// Canonical implements TemplateRow.
func (r LegacyExportRow) Canonical(map[string]string) CanonicalRow {
	return CanonicalRow{
		StateName:     r.State,
		CategoryName:  r.Category,
		StatisticName: r.MeasureName,
		RawYear:       r.Year,
		RawValue:      r.Value,
	}
}

// headerIndex builds a normalized header name → column index map.
func headerIndex(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, col := range header {
		m[normalizeHeader(col)] = i
	}
	return m
}

// colValue gets a column value by normalized header name.
func colValue(record []string, idx map[string]int, name string) string {
	i, ok := idx[normalizeHeader(name)]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// MapRow maps a raw record into the tagged row type for the template kind.
func MapRow(kind TemplateKind, idx map[string]int, record []string) (TemplateRow, error) {
	switch kind {
	case KindMultiCategory:
		return MultiCategoryRow{
			State:    colValue(record, idx, "State"),
			Year:     colValue(record, idx, "Year"),
			Category: colValue(record, idx, "Category"),
			Measure:  colValue(record, idx, "Measure"),
			Value:    colValue(record, idx, "Value"),
		}, nil
	case KindSingleCategory:
		return SingleCategoryRow{
			State: colValue(record, idx, "State"),
			Year:  colValue(record, idx, "Year"),
			Value: colValue(record, idx, "Value"),
		}, nil
	case KindLegacyExport:
		return LegacyExportRow{
			State:       colValue(record, idx, "State"),
			Year:        colValue(record, idx, "Year"),
			Category:    colValue(record, idx, "Category"),
			MeasureName: colValue(record, idx, "Measure Name"),
			Value:       colValue(record, idx, "Value"),
		}, nil
	default:
		return nil, eris.Errorf("importer: unknown template kind %q", kind)
	}
}

// rawDataMap captures the original record as header → value for audit.
func rawDataMap(header []string, record []string) map[string]string {
	m := make(map[string]string, len(header))
	for i, col := range header {
		if i < len(record) {
			m[strings.TrimSpace(col)] = record[i]
		}
	}
	return m
}
