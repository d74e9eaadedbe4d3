package dataprocessing

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"cbstrade/pkg/contracts/domain"

	"github.com/go-playground/validator/v10"
)

// Source column names, matched case-insensitively.
const (
	ColumnYear           = "year"
	ColumnPeriod         = "period"
	ColumnPartnerCountry = "partner_country"
	ColumnProductCode    = "product_code"
	ColumnValue          = "value"
	ColumnFlow           = "flow"
)

var requiredColumns = []string{ColumnPartnerCountry, ColumnProductCode, ColumnValue}

var validate = validator.New()

// Period is the reporting year and month of an archive. It fills in year or
// month for rows that do not carry them.
type Period struct {
	Year  int
	Month int
}

// ColumnMap holds the index of each known column in a header row.
type ColumnMap map[string]int

// NewColumnMap indexes header. It fails when a required column is missing.
func NewColumnMap(header []string) (ColumnMap, error) {
	cols := make(ColumnMap)
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		name = strings.ReplaceAll(name, " ", "_")
		if _, dup := cols[name]; !dup && name != "" {
			cols[name] = i
		}
	}

	var missing []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func (c ColumnMap) get(row []string, name string) (string, bool) {
	idx, ok := c[name]
	if !ok || idx >= len(row) {
		return "", false
	}
	v := strings.TrimSpace(row[idx])
	return v, v != ""
}

// RowDecodeError is a row that could not become a TradeRecord.
type RowDecodeError struct {
	Row    int
	Field  string
	Reason string
}

func (e *RowDecodeError) Error() string {
	return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Reason)
}

// MapRow turns one data row into a TradeRecord. rowNum is the source row
// number used in errors. Year and month come from the row when present and
// from fallback otherwise; a Period of the form YYYYMM sets both.
func MapRow(cols ColumnMap, row []string, rowNum int, fallback Period) (domain.TradeRecord, error) {
	rec := domain.TradeRecord{Year: fallback.Year, Month: fallback.Month}

	if raw, ok := cols.get(row, ColumnPeriod); ok {
		year, month, err := parsePeriod(raw)
		if err != nil {
			return domain.TradeRecord{}, &RowDecodeError{Row: rowNum, Field: ColumnPeriod, Reason: err.Error()}
		}
		if year != 0 {
			rec.Year = year
		}
		rec.Month = month
	}

	if raw, ok := cols.get(row, ColumnYear); ok {
		year, err := parseWhole(raw)
		if err != nil {
			return domain.TradeRecord{}, &RowDecodeError{Row: rowNum, Field: ColumnYear, Reason: err.Error()}
		}
		rec.Year = year
	}

	var ok bool
	if rec.PartnerCountry, ok = cols.get(row, ColumnPartnerCountry); !ok {
		return domain.TradeRecord{}, &RowDecodeError{Row: rowNum, Field: ColumnPartnerCountry, Reason: "missing"}
	}
	if rec.ProductCode, ok = cols.get(row, ColumnProductCode); !ok {
		return domain.TradeRecord{}, &RowDecodeError{Row: rowNum, Field: ColumnProductCode, Reason: "missing"}
	}

	raw, ok := cols.get(row, ColumnValue)
	if !ok {
		return domain.TradeRecord{}, &RowDecodeError{Row: rowNum, Field: ColumnValue, Reason: "missing"}
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return domain.TradeRecord{}, &RowDecodeError{Row: rowNum, Field: ColumnValue, Reason: fmt.Sprintf("not a number: %q", raw)}
	}
	rec.Value = value

	flow, _ := cols.get(row, ColumnFlow)
	rec.Direction = domain.DirectionFromFlow(flow)

	if err := validate.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return domain.TradeRecord{}, &RowDecodeError{
				Row:    rowNum,
				Field:  strings.ToLower(verrs[0].Field()),
				Reason: fmt.Sprintf("failed %q validation (value %v)", verrs[0].Tag(), verrs[0].Value()),
			}
		}
		return domain.TradeRecord{}, &RowDecodeError{Row: rowNum, Field: "record", Reason: err.Error()}
	}
	return rec, nil
}

// parsePeriod accepts M, MM or YYYYMM. Year is zero when absent.
func parsePeriod(raw string) (year, month int, err error) {
	n, err := parseWhole(raw)
	if err != nil {
		return 0, 0, err
	}
	switch {
	case n >= 1 && n <= 12:
		return 0, n, nil
	case n >= 190001 && n <= 220012 && n%100 >= 1 && n%100 <= 12:
		return n / 100, n % 100, nil
	default:
		return 0, 0, fmt.Errorf("unrecognized period %q", raw)
	}
}

// parseWhole parses an integer that may be rendered as a float ("3.0").
func parseWhole(raw string) (int, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("not a whole number: %q", raw)
	}
	return int(f), nil
}
