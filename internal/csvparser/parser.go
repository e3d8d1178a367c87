package csvparser

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// Row is one recipient extracted from an uploaded CSV. Email comes from
// the "Email" column (case-insensitive); every other column becomes a
// template variable keyed by its header.
type Row struct {
	Email     string
	Variables map[string]string
}

// ParseRows reads recipient rows from a CSV with a header line. Malformed
// rows and rows without an email are skipped. maxRows caps how many data
// rows are accepted.
func ParseRows(r io.Reader, maxRows int) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return nil, err
	}

	emailIdx := -1
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
		if strings.EqualFold(headers[i], "email") {
			emailIdx = i
		}
	}
	if emailIdx == -1 {
		return nil, errors.New("csv must contain an Email column")
	}

	if maxRows <= 0 {
		maxRows = 1000
	}

	rows := make([]Row, 0)
	for len(rows) < maxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) != len(headers) {
			continue
		}

		email := strings.TrimSpace(record[emailIdx])
		if email == "" {
			continue
		}

		variables := make(map[string]string, len(headers)-1)
		for i, value := range record {
			if i == emailIdx || headers[i] == "" {
				continue
			}
			variables[headers[i]] = strings.TrimSpace(value)
		}

		rows = append(rows, Row{Email: email, Variables: variables})
	}

	if len(rows) == 0 {
		return nil, errors.New("csv must contain at least one recipient row")
	}

	return rows, nil
}
