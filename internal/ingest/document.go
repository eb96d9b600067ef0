package ingest

import (
	"strconv"
	"strings"
	"time"

	"bookbazaar/pkg/domain"
)

// BuildDocument maps one export row onto an inventory document. Cells
// already present pass through, including the sentinel; defaults apply
// only to columns the export lacks entirely.
func BuildDocument(row Row, source string, now time.Time) domain.Listing {
	title := cell(row, "No Title", "Book Name", "Book_Name")

	board, ok := row["Board"]
	if !ok || board == Sentinel {
		board = deriveBoard(title)
	}

	school := cell(row, "General", "School")
	tag := strings.ReplaceAll(strings.TrimSpace(strings.ToLower(school)), " ", "-")

	return domain.Listing{
		"category_type":     "coursebook",
		"sub_category_type": cell(row, "General", "Sub Category"),
		"publisher":         cell(row, "Unknown", "Publisher"),
		"board":             board,
		domain.FieldTitle:   title,
		domain.FieldPrice:   parsePrice(row),
		"sku":               cell(row, Sentinel, "SKU"),
		"images":            []string{cell(row, "", "Image URL", "Image_URL")},
		"attributes": map[string]any{
			"school_tags": []string{tag},
			"class":       cell(row, "General", "Class"),
		},
		"source":       source,
		"last_updated": now,
	}
}

// deriveBoard guesses a board from title keywords when the export has
// no usable Board cell.
func deriveBoard(title string) string {
	switch {
	case strings.Contains(title, "Sindh"):
		return "Sindh Board"
	case strings.Contains(title, "Punjab"):
		return "Punjab Board"
	default:
		return "General"
	}
}

// cell returns the first of keys present in the row, else the default.
func cell(row Row, def string, keys ...string) string {
	for _, key := range keys {
		if v, ok := row[key]; ok {
			return v
		}
	}
	return def
}

// parsePrice returns a numeric price when the cell parses, the raw
// cell when it does not, and zero when the column is missing.
func parsePrice(row Row) any {
	raw, ok := row["Price"]
	if !ok {
		return float64(0)
	}
	if n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
		return n
	}
	return raw
}
