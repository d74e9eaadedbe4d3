// Package scraper turns the rendered files page into table entries.
package scraper

import (
	"fmt"
	"iter"
	"strconv"
	"strings"

	apperrors "cbstrade/internal/errors"
	"cbstrade/pkg/contracts/domain"

	"github.com/PuerkitoBio/goquery"
)

// TableSelector marks the published files table on the rendered page.
const TableSelector = "table.zebraTable"

// minCells is the number of cells a data row carries:
// year, month, size, last update, download link.
const minCells = 5

// RowError describes a table row that could not be turned into an entry.
type RowError struct {
	Row    int
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("table row %d: %s", e.Row, e.Reason)
}

// ExtractEntries parses html and returns the data rows of the files table in
// document order. Rows whose first cell is not a year reuse the last year
// seen, since the site renders a year only on its first month.
//
// If the table is missing the sequence yields a single structural error and
// stops. Rows that cannot be decoded yield a *RowError and iteration goes on.
// The document is parsed on the first pull.
func ExtractEntries(html string) iter.Seq2[domain.TableEntry, error] {
	return func(yield func(domain.TableEntry, error) bool) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			yield(domain.TableEntry{}, apperrors.NewParsingError("failed to parse rendered page", err))
			return
		}

		table := doc.Find(TableSelector).First()
		if table.Length() == 0 {
			yield(domain.TableEntry{}, apperrors.NewStructuralError("files table not found on page", nil).
				WithContext("selector", TableSelector))
			return
		}

		year := 0
		rows := table.Find("tr")
		for i := 1; i < rows.Length(); i++ {
			cells := rows.Eq(i).Find("td")
			if cells.Length() < minCells {
				continue
			}

			if y, ok := parseYear(cells.Eq(0).Text()); ok {
				year = y
			}

			entry, err := decodeRow(i, year, cells)
			if !yield(entry, err) {
				return
			}
		}
	}
}

func decodeRow(row, year int, cells *goquery.Selection) (domain.TableEntry, error) {
	if year == 0 {
		return domain.TableEntry{}, &RowError{Row: row, Reason: "no year seen yet"}
	}

	monthText := cellText(cells.Eq(1))
	month, err := strconv.Atoi(monthText)
	if err != nil || month < 1 || month > 12 {
		return domain.TableEntry{}, &RowError{Row: row, Reason: fmt.Sprintf("invalid month %q", monthText)}
	}

	href, ok := cells.Eq(cells.Length() - 1).Find("a").First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return domain.TableEntry{}, &RowError{Row: row, Reason: "no download link"}
	}

	return domain.TableEntry{
		Row:            row,
		Year:           year,
		Month:          month,
		FileSize:       cellText(cells.Eq(2)),
		LastUpdateDate: cellText(cells.Eq(3)),
		Link:           href,
	}, nil
}

// parseYear accepts only unsigned digit strings, like the site's year cell.
func parseYear(text string) (int, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	y, err := strconv.Atoi(text)
	if err != nil || y == 0 {
		return 0, false
	}
	return y, true
}

func cellText(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}
