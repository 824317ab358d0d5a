package decoders

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// CSV decodes one delimited record. With Columns set the body is a single
// data row; otherwise the first row is the header and the second the data.
type CSV struct {
	Columns []string
	// Comma defaults to ','.
	Comma rune
}

func (c CSV) Decode(data []byte) (map[string]any, error) {
	r := csv.NewReader(bytes.NewReader(data))
	if c.Comma != 0 {
		r.Comma = c.Comma
	}
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	columns := c.Columns
	if len(columns) == 0 {
		header, err := r.Read()
		if err != nil {
			return nil, fmt.Errorf("csv: read header: %w", err)
		}
		columns = header
	}

	row, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv: no data row")
	}
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}
	if len(row) != len(columns) {
		return nil, fmt.Errorf("csv: %d values for %d columns", len(row), len(columns))
	}
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		return nil, errors.New("csv: more than one data row")
	}

	record := make(map[string]any, len(columns))
	for i, col := range columns {
		record[col] = row[i]
	}
	return record, nil
}
