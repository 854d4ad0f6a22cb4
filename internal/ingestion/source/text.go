package source

import (
	"strings"

	"github.com/yungbote/pricebook-backend/internal/ingestion/extractor"
)

type textSource struct{}

// Text treats each line as one token; form feeds start a new page.
func Text() TokenSource { return textSource{} }

func (textSource) Kind() string { return "text" }

func (textSource) GroupOptions() extractor.GroupOptions { return extractor.DefaultGroupOptions() }

func (textSource) Tokens(data []byte) ([]extractor.Token, error) {
	s := strings.ToValidUTF8(string(data), " ")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var toks []extractor.Token
	for pi, page := range strings.Split(s, "\f") {
		for li, line := range strings.Split(page, "\n") {
			line = strings.TrimSpace(strings.ReplaceAll(line, "\t", " "))
			if line == "" {
				continue
			}
			toks = append(toks, extractor.Token{
				Page: pi + 1,
				Y:    -float64(li) * rowPitch,
				Text: line,
			})
		}
	}
	return toks, nil
}
