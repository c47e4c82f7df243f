package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser renders every sheet as a pipe-delimited table.
type XLSXParser struct{}

func (p *XLSXParser) Extensions() []string { return []string{"xlsx", "xlsm"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) (*Result, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("parser: opening workbook: %w", err)
	}
	defer f.Close()

	var sections []Section
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		var sb strings.Builder
		for _, row := range rows {
			sb.WriteString("| " + strings.Join(row, " | ") + " |\n")
		}
		sections = append(sections, Section{Heading: sheet, Content: sb.String()})
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("parser: no data in workbook")
	}
	return &Result{Sections: sections, Format: "xlsx"}, nil
}
