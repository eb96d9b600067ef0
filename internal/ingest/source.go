package ingest

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// Sentinel is the placeholder written into blank or missing cells,
// matching the exports this adapter consumes.
const Sentinel = "N/A"

// Row is one record of a tabular export, column name to cell value.
type Row = map[string]string

// Source yields the rows of one inventory batch.
type Source interface {
	Name() string
	Rows() ([]Row, error)
}

// CSVSource reads rows from a CSV export. The first record is the
// header; short records are padded with the sentinel.
type CSVSource struct {
	name string
	path string
}

// NewCSVSource builds a source reading path, reported under name.
func NewCSVSource(name, path string) *CSVSource {
	return &CSVSource{name: name, path: path}
}

// Name returns the source label stamped on ingested documents.
func (s *CSVSource) Name() string { return s.name }

// Rows reads and parses the whole file.
func (s *CSVSource) Rows() ([]Row, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(Row, len(header))
		for i, col := range header {
			col = strings.TrimSpace(col)
			if col == "" {
				continue
			}
			value := Sentinel
			if i < len(record) {
				if cell := strings.TrimSpace(record[i]); cell != "" {
					value = cell
				}
			}
			row[col] = value
		}
		rows = append(rows, row)
	}
	return rows, nil
}
