package source

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/yungbote/pricebook-backend/internal/ingestion/extractor"
)

type xlsxSource struct{}

// XLSX reads every sheet as a page, rows top to bottom, cells left to right.
func XLSX() TokenSource { return xlsxSource{} }

func (xlsxSource) Kind() string { return "xlsx" }

func (xlsxSource) GroupOptions() extractor.GroupOptions { return extractor.DefaultGroupOptions() }

func (xlsxSource) Tokens(data []byte) ([]extractor.Token, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("xlsx open: %w", err)
	}
	defer f.Close()

	var toks []extractor.Token
	for si, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("xlsx rows %q: %w", sheet, err)
		}
		for r, row := range rows {
			for c, cell := range row {
				cell = strings.TrimSpace(cell)
				if cell == "" {
					continue
				}
				toks = append(toks, extractor.Token{
					Page: si + 1,
					X:    float64(c),
					Y:    -float64(r) * rowPitch,
					Text: cell,
				})
			}
		}
	}
	return toks, nil
}
