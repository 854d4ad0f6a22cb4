package source

import (
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/yungbote/pricebook-backend/internal/ingestion/extractor"
)

func TestDetectText(t *testing.T) {
	src, err := Detect([]byte("B0001.0030 h Oficial 28,59\n"))
	if err != nil || src.Kind() != "text" {
		t.Fatalf("Detect text: %v %v", src, err)
	}
	if _, err := Detect(nil); err == nil {
		t.Fatalf("empty document accepted")
	}
	if _, err := Detect([]byte{0x00, 0x01, 0x02, 0x03}); err == nil {
		t.Fatalf("binary accepted")
	}
	if src, err := Detect([]byte("%PDF-1.7\n")); err != nil || src.Kind() != "pdf" {
		t.Fatalf("Detect pdf: %v %v", src, err)
	}
}

func TestTextTokensKeepLineOrder(t *testing.T) {
	toks, err := Text().Tokens([]byte("first line\r\nsecond\tline\n\nthird\fnext page"))
	if err != nil {
		t.Fatalf("Tokens: %v", err)
	}
	lines := extractor.GroupLines(toks, Text().GroupOptions())
	want := []string{"first line", "second line", "third", "next page"}
	if len(lines) != len(want) {
		t.Fatalf("want %d lines got %+v", len(want), lines)
	}
	for i, w := range want {
		if lines[i].Text != w {
			t.Fatalf("line %d: want %q got %q", i, w, lines[i].Text)
		}
	}
	if lines[3].Page != 2 {
		t.Fatalf("form feed did not start a page: %+v", lines[3])
	}
}

func TestXLSXTokens(t *testing.T) {
	f := excelize.NewFile()
	rows := [][]any{
		{"Código", "Ud", "Descripción", "Precio"},
		{"B0001.0030", "h", "Oficial 1a", "28,59"},
		{"B0001.0070", "u", "Ladrillo", "23,01"},
	}
	for r, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, r+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}

	src, err := Detect(buf.Bytes())
	if err != nil || src.Kind() != "xlsx" {
		t.Fatalf("Detect xlsx: %v %v", src, err)
	}
	toks, err := src.Tokens(buf.Bytes())
	if err != nil {
		t.Fatalf("Tokens: %v", err)
	}
	lines := extractor.GroupLines(toks, src.GroupOptions())
	if len(lines) != 3 || lines[1].Text != "B0001.0030 h Oficial 1a 28,59" {
		t.Fatalf("unexpected lines %+v", lines)
	}
}
