package extractor

import (
	"math"
	"sort"
	"strings"
)

// Token is a positioned piece of text. Y grows upward, as in PDF user space.
// W is the advance width when the source knows it (PDF glyphs); zero means
// the token is a whole word or cell.
type Token struct {
	Page int
	X    float64
	Y    float64
	W    float64
	Text string
}

// Line is a reconstructed text line.
type Line struct {
	Page int
	Y    float64
	Text string
}

type GroupOptions struct {
	// YQuantum is the vertical bucket size; tokens whose Y rounds to the
	// same bucket on the same page form one line.
	YQuantum float64
	// SpaceGap is the horizontal gap between glyphs above which a space is inserted.
	SpaceGap float64
}

func DefaultGroupOptions() GroupOptions {
	return GroupOptions{YQuantum: 2.0, SpaceGap: 1.5}
}

type lineKey struct {
	page   int
	bucket int64
}

// GroupLines buckets tokens by page and quantized Y, then joins each bucket
// left to right. Lines come back top to bottom, page by page.
func GroupLines(tokens []Token, opts GroupOptions) []Line {
	if opts.YQuantum <= 0 {
		opts.YQuantum = DefaultGroupOptions().YQuantum
	}
	if opts.SpaceGap <= 0 {
		opts.SpaceGap = DefaultGroupOptions().SpaceGap
	}

	buckets := map[lineKey][]Token{}
	for _, t := range tokens {
		if t.Text == "" {
			continue
		}
		k := lineKey{page: t.Page, bucket: int64(math.Round(t.Y / opts.YQuantum))}
		buckets[k] = append(buckets[k], t)
	}

	keys := make([]lineKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].page != keys[j].page {
			return keys[i].page < keys[j].page
		}
		return keys[i].bucket > keys[j].bucket
	})

	out := make([]Line, 0, len(keys))
	for _, k := range keys {
		toks := buckets[k]
		sort.SliceStable(toks, func(i, j int) bool { return toks[i].X < toks[j].X })
		text := joinTokens(toks, opts.SpaceGap)
		if text == "" {
			continue
		}
		out = append(out, Line{Page: k.page, Y: float64(k.bucket) * opts.YQuantum, Text: text})
	}
	return out
}

func joinTokens(toks []Token, spaceGap float64) string {
	var b strings.Builder
	for i, t := range toks {
		if i > 0 {
			prev := toks[i-1]
			if prev.W <= 0 || t.W <= 0 || t.X-(prev.X+prev.W) > spaceGap {
				b.WriteByte(' ')
			}
		}
		b.WriteString(t.Text)
	}
	return collapseWhitespace(b.String())
}

func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}
