// Package catalog provides read-only lookup of states, categories, and named
// statistics. The import pipeline resolves human-readable names against it;
// it never mutates catalog data.
package catalog

import "context"

// NationName is the pseudo-state carrying national-level figures. It is
// excluded from coverage denominators and active-state counts.
const NationName = "Nation"

// State is a US state or territory.
type State struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation"`
}

// Category groups statistics (e.g. "Economy", "Education").
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Statistic is a named measure. Names are only unique within a category.
type Statistic struct {
	ID         int64  `json:"id"`
	CategoryID int64  `json:"category_id"`
	Name       string `json:"name"`
}

// Catalog is the reference lookup interface. Lookups are case-insensitive
// and return (nil, nil) when no match exists.
type Catalog interface {
	// StateByName matches on full name or abbreviation.
	StateByName(ctx context.Context, name string) (*State, error)

	// CategoryByName matches on category name.
	CategoryByName(ctx context.Context, name string) (*Category, error)

	// StatisticByName matches on statistic name scoped to a category.
	StatisticByName(ctx context.Context, categoryID int64, name string) (*Statistic, error)

	// ActiveStateCount returns the number of states excluding the Nation
	// pseudo-state.
	ActiveStateCount(ctx context.Context) (int, error)

	// States lists all states ordered by name.
	States(ctx context.Context) ([]State, error)
}
