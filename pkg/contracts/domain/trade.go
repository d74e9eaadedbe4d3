package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Direction is the flow of goods a trade record describes
type Direction string

const (
	DirectionImport Direction = "Import"
	DirectionExport Direction = "Export"
)

// DirectionFromFlow maps the published flow code to a direction.
// Code 1 is an import; every other code, including a missing one, is an export.
func DirectionFromFlow(flow string) Direction {
	code, err := strconv.ParseFloat(strings.TrimSpace(flow), 64)
	if err == nil && code == 1 {
		return DirectionImport
	}
	return DirectionExport
}

// TradeRecord is one normalized row of a trade statistics file.
// The whole tuple is unique in the record store.
type TradeRecord struct {
	Year           int       `json:"year" bson:"year" validate:"required,min=1900,max=2200"`
	Month          int       `json:"month" bson:"month" validate:"required,min=1,max=12"`
	PartnerCountry string    `json:"partner_country" bson:"partner_country" validate:"required"`
	ProductCode    string    `json:"product_code" bson:"product_code" validate:"required"`
	Value          float64   `json:"value" bson:"value"`
	Direction      Direction `json:"direction" bson:"direction" validate:"required,oneof=Import Export"`
}

// String returns a compact representation used in log lines
func (r TradeRecord) String() string {
	return fmt.Sprintf("%04d-%02d %s %s %s %g", r.Year, r.Month, r.Direction, r.PartnerCountry, r.ProductCode, r.Value)
}

// InsertResult reports the outcome of a bulk record insert
type InsertResult struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
}

// Add accumulates another result into r
func (r *InsertResult) Add(other InsertResult) {
	r.Inserted += other.Inserted
	r.Duplicates += other.Duplicates
}
