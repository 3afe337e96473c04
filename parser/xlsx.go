package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser renders spreadsheet rows into pipe-delimited text, one block
// per sheet, prefixed with the sheet name so the extraction stages can treat
// sheets as document sections.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx", "xlsm"} }

func (p *XLSXParser) Parse(_ context.Context, path string) (*Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var out strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		if out.Len() > 0 {
			out.WriteString("\n")
		}
		out.WriteString(sheet + "\n")
		for _, row := range rows {
			out.WriteString("| " + strings.Join(row, " | ") + " |\n")
		}
	}

	if out.Len() == 0 {
		return nil, fmt.Errorf("no data found in %s", filepath.Base(path))
	}

	return &Document{
		Name:   filepath.Base(path),
		Format: formatOf(path),
		Text:   out.String(),
	}, nil
}
