package db

import (
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// NumericFromDecimal bridges a decimal into a pgx-encodable numeric. A nil
// input encodes as SQL NULL.
func NumericFromDecimal(d *decimal.Decimal) (any, error) {
	if d == nil {
		return nil, nil
	}
	var n pgtype.Numeric
	if err := n.Scan(d.String()); err != nil {
		return nil, eris.Wrap(err, "db: decimal to numeric")
	}
	return n, nil
}

// DecimalFromNumeric converts a scanned numeric back into a decimal pointer.
// An invalid (NULL) numeric converts to nil.
func DecimalFromNumeric(n pgtype.Numeric) (*decimal.Decimal, error) {
	if !n.Valid {
		return nil, nil
	}
	v, err := n.Value()
	if err != nil {
		return nil, eris.Wrap(err, "db: numeric value")
	}
	s, ok := v.(string)
	if !ok {
		return nil, eris.Errorf("db: unexpected numeric driver value %T", v)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, eris.Wrapf(err, "db: parse numeric %q", s)
	}
	return &d, nil
}
