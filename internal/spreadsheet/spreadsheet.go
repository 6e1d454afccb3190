// Package spreadsheet turns uploaded xlsx and csv files into raw batch rows.
package spreadsheet

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/xuri/excelize/v2"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrNoHeader          = errors.New("header row could not be detected")
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// Parse reads a batch file, choosing the parser by extension. The first
// non-empty row is the header; headers are lowercased with spaces, dots and
// dashes turned into underscores. Blank cells are left out of the row so
// the validator reports them as missing.
func Parse(fileName string, r io.Reader) ([]models.RawRow, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fileName, err)
	}

	var records [][]string
	switch ext := strings.ToLower(filepath.Ext(fileName)); ext {
	case ".csv":
		records, err = readCSV(payload)
	case ".xlsx", ".xlsm":
		records, err = readExcel(payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}

	return toRows(records)
}

func readCSV(payload []byte) ([][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return records, nil
}

func readExcel(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return rows, nil
}

func toRows(records [][]string) ([]models.RawRow, error) {
	var headers []string
	var rows []models.RawRow

	for _, record := range records {
		if isBlank(record) {
			continue
		}
		if headers == nil {
			headers = NormalizeHeaders(record)
			continue
		}

		row := make(models.RawRow, len(headers))
		for i, header := range headers {
			if i >= len(record) || header == "" {
				continue
			}
			if v := strings.TrimSpace(record[i]); v != "" {
				row[header] = v
			}
		}
		rows = append(rows, row)
	}

	if headers == nil {
		return nil, ErrNoHeader
	}
	return rows, nil
}

// NormalizeHeaders maps display headers such as "Company Symbol" to field
// names such as "company_symbol". Duplicate headers keep their first column.
func NormalizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]bool, len(raw))

	for i, value := range raw {
		name := strings.ToLower(strings.TrimSpace(value))
		name = strings.NewReplacer(" ", "_", ".", "_", "-", "_").Replace(name)
		name = strings.Trim(name, "_")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		headers[i] = name
	}
	return headers
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
