package storage

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// utf8BOM is written by spreadsheet tools and by older dashboard exports.
const utf8BOM = "\ufeff"

// EncodeCSV serialises a table with a header row.
func EncodeCSV(t Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Columns); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for i, row := range t.Rows {
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeCSV parses CSV content whose first row is the header. Short rows are
// padded and long rows truncated to the header width.
func DecodeCSV(id TableID, data []byte) (Table, error) {
	content := strings.TrimPrefix(string(data), utf8BOM)
	if strings.TrimSpace(content) == "" {
		return Table{ID: id}, nil
	}

	r := csv.NewReader(strings.NewReader(content))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return Table{ID: id}, fmt.Errorf("failed to parse %s: %w", id, err)
	}
	if len(records) == 0 {
		return Table{ID: id}, nil
	}

	header := make([]string, len(records[0]))
	for i, col := range records[0] {
		header[i] = strings.TrimSpace(col)
	}

	rows := make([][]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		if isBlank(rec) {
			continue
		}
		row := make([]string, len(header))
		copy(row, rec)
		rows = append(rows, row)
	}

	return Table{ID: id, Columns: header, Rows: rows}, nil
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
