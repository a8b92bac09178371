package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Table is a parsed extract: a header row plus data rows keyed by header.
type Table struct {
	Headers    []string
	Rows       []map[string]string
	SourceFile string
}

// ReadOptions tunes extract parsing.
type ReadOptions struct {
	// Delimiter for delimited text files; zero means comma.
	Delimiter rune
	// Encoding names the source charset; "windows-1252" is the only
	// non-UTF-8 charset the POS exporter produces.
	Encoding string
}

// ReadTable parses a delimited text or .xlsx extract into a Table.
func ReadTable(path string, opts ReadOptions) (*Table, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return readWorkbook(path)
	}
	return readDelimited(path, opts)
}

func readDelimited(path string, opts ReadOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("importer: open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	var source io.Reader = f
	switch strings.ToLower(opts.Encoding) {
	case "", "utf-8", "utf8":
	case "windows-1252", "cp1252":
		source = transform.NewReader(f, charmap.Windows1252.NewDecoder())
	default:
		return nil, fmt.Errorf("importer: unsupported encoding %q", opts.Encoding)
	}

	reader := csv.NewReader(source)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("importer: read %s: %w", path, err)
	}
	return tableFromRecords(records, path)
}

func readWorkbook(path string) (*Table, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("importer: open workbook %s: %w", path, err)
	}
	defer func() {
		_ = book.Close()
	}()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("importer: workbook %s has no sheets", path)
	}
	records, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("importer: read workbook %s: %w", path, err)
	}
	return tableFromRecords(records, path)
}

func tableFromRecords(records [][]string, path string) (*Table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("importer: %s is empty", path)
	}
	headers := make([]string, 0, len(records[0]))
	for i, header := range records[0] {
		if i == 0 {
			header = strings.TrimPrefix(header, "﻿")
		}
		headers = append(headers, strings.TrimSpace(header))
	}

	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		if isBlankRecord(record) {
			continue
		}
		row := make(map[string]string, len(headers))
		for i, header := range headers {
			if header == "" {
				continue
			}
			if i < len(record) {
				row[header] = record[i]
			} else {
				row[header] = ""
			}
		}
		rows = append(rows, row)
	}
	return &Table{Headers: headers, Rows: rows, SourceFile: filepath.Base(path)}, nil
}

func isBlankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
