package source

import (
	"bytes"
	"fmt"

	pdf "github.com/ledongthuc/pdf"

	"github.com/yungbote/pricebook-backend/internal/ingestion/extractor"
)

type pdfSource struct{}

func PDF() TokenSource { return pdfSource{} }

func (pdfSource) Kind() string { return "pdf" }

func (pdfSource) GroupOptions() extractor.GroupOptions { return extractor.DefaultGroupOptions() }

// Tokens returns one token per glyph run with its page-space position.
// The reader panics on some malformed streams; that is reported as an error.
func (pdfSource) Tokens(data []byte) (toks []extractor.Token, err error) {
	defer func() {
		if r := recover(); r != nil {
			toks = nil
			err = fmt.Errorf("pdf content: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("pdf reader: %w", err)
	}
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, t := range p.Content().Text {
			toks = append(toks, extractor.Token{Page: i, X: t.X, Y: t.Y, W: t.W, Text: t.S})
		}
	}
	return toks, nil
}
