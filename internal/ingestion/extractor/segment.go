package extractor

import (
	"regexp"
	"strings"

	types "github.com/yungbote/pricebook-backend/internal/domain/catalog"
)

// RawRecord is a code plus the text that followed it, before field parsing.
type RawRecord struct {
	Code string
	Page int
	Text string
}

type SegmentResult struct {
	Records []RawRecord
	Errors  []*types.ParseError
}

// Segmenter turns lines into candidate records. Ingestion only depends on
// this, so a price book with a different layout needs only a new Segmenter.
type Segmenter interface {
	Segment(lines []Line) SegmentResult
}

// CodeGrammar segments on letter-prefixed numeric codes like B0001.0030.
type CodeGrammar struct {
	RecordStart    *regexp.Regexp
	CodeLike       *regexp.Regexp
	SectionHeading *regexp.Regexp
}

var (
	defaultRecordStart    = regexp.MustCompile(`^([A-Z]{1,2}\d{3,4}(?:\.\d{2,4})?)(?:\s+|$)`)
	defaultCodeLike       = regexp.MustCompile(`^[A-Z]{1,2}\d`)
	defaultSectionHeading = regexp.MustCompile(`(?i)^(CAP[IÍ]TULO|SECCI[OÓ]N|TEMA)\b`)
)

func NewCodeGrammar() *CodeGrammar {
	return &CodeGrammar{
		RecordStart:    defaultRecordStart,
		CodeLike:       defaultCodeLike,
		SectionHeading: defaultSectionHeading,
	}
}

func (g *CodeGrammar) Segment(lines []Line) SegmentResult {
	var (
		res      SegmentResult
		cur      *RawRecord
		prevPage = -1
	)
	flush := func() {
		if cur != nil {
			res.Records = append(res.Records, *cur)
			cur = nil
		}
	}

	for _, ln := range lines {
		text := strings.TrimSpace(ln.Text)
		if text == "" {
			continue
		}
		if ln.Page != prevPage {
			flush()
			prevPage = ln.Page
		}
		if g.SectionHeading.MatchString(text) {
			flush()
			continue
		}
		if m := g.RecordStart.FindStringSubmatch(text); m != nil {
			flush()
			cur = &RawRecord{
				Code: m[1],
				Page: ln.Page,
				Text: strings.TrimSpace(text[len(m[0]):]),
			}
			continue
		}
		if g.CodeLike.MatchString(text) {
			flush()
			res.Errors = append(res.Errors, &types.ParseError{
				Page:   ln.Page,
				Line:   text,
				Reason: "code does not match catalog grammar",
			})
			continue
		}
		// Text outside any record (titles, column headers) is ignored.
		if cur != nil {
			if cur.Text == "" {
				cur.Text = text
			} else {
				cur.Text += " " + text
			}
		}
	}
	flush()
	return res
}
