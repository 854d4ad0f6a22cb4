package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	types "github.com/yungbote/pricebook-backend/internal/domain/catalog"
)

var (
	commaDecimal   = regexp.MustCompile(`^-?(\d{1,3}(\.\d{3})+|\d+),\d+$`)
	dotThousands   = regexp.MustCompile(`^-?\d{1,3}(\.\d{3})+$`)
	dotDecimal     = regexp.MustCompile(`^-?\d+\.\d+$`)
	plainInteger   = regexp.MustCompile(`^-?\d+$`)
	priceCandidate = regexp.MustCompile(`^-?\d[\d.]*(,\d+)?€?$`)
)

// ParsePrice reads a comma-decimal amount with optional thousands dots.
// Dot-only amounts are ambiguous; they parse (1.234 as thousands, 12.5 as a
// decimal) with flagged set so the row can be reviewed.
func ParsePrice(s string) (d decimal.Decimal, flagged bool, err error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "€"))
	switch {
	case commaDecimal.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case dotThousands.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
		flagged = true
	case dotDecimal.MatchString(s):
		flagged = true
	case plainInteger.MatchString(s):
	default:
		return decimal.Zero, false, fmt.Errorf("not a price: %q", s)
	}
	d, err = decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("not a price: %q: %w", s, err)
	}
	return d, flagged, nil
}

// FormatPrice writes d with two decimals and a comma separator, the inverse of ParsePrice.
func FormatPrice(d decimal.Decimal) string {
	return strings.Replace(d.StringFixed(2), ".", ",", 1)
}

var unitVocabulary = map[string]string{
	"m": "m", "ml": "ml", "m2": "m2", "m3": "m3", "km": "km",
	"u": "u", "ud": "ud", "uds": "ud", "h": "h", "kg": "kg", "t": "t",
	"l": "l", "pa": "pa", "d": "d", "mes": "mes",
}

// NormalizeUnit maps a raw unit onto the vocabulary.
func NormalizeUnit(raw string) (string, bool) {
	u := strings.ToLower(strings.TrimSpace(raw))
	u = strings.NewReplacer("²", "2", "³", "3").Replace(u)
	u = strings.TrimSuffix(u, ".")
	canon, ok := unitVocabulary[u]
	return canon, ok
}

// Record is a validated catalog row, not yet embedded.
type Record struct {
	Code        string
	Description string
	Unit        string
	UnitPrice   decimal.Decimal
	Flagged     bool
}

// pricePosition returns the last comma-decimal field, or the last numeric
// field when the record has none. Integers in continuation lines such as
// thicknesses never win over a comma-decimal amount.
func pricePosition(fields []string) int {
	last := -1
	for i := len(fields) - 1; i >= 1; i-- {
		if !priceCandidate.MatchString(fields[i]) {
			continue
		}
		if commaDecimal.MatchString(strings.TrimSuffix(fields[i], "€")) {
			return i
		}
		if last < 0 {
			last = i
		}
	}
	return last
}

// ParseRecord takes the unit from the first field after the code and the
// price from pricePosition; everything else is description.
func ParseRecord(raw RawRecord) (*Record, error) {
	fields := strings.Fields(raw.Text)
	if len(fields) < 2 {
		return nil, &types.ValidationError{Code: raw.Code, Field: "unit", Reason: "record has no unit and price"}
	}
	unit, ok := NormalizeUnit(fields[0])
	if !ok {
		return nil, &types.ValidationError{Code: raw.Code, Field: "unit", Reason: fmt.Sprintf("unknown unit %q", fields[0])}
	}

	priceIdx := pricePosition(fields)
	if priceIdx < 0 {
		return nil, &types.ValidationError{Code: raw.Code, Field: "price", Reason: "no price found"}
	}
	price, flagged, err := ParsePrice(fields[priceIdx])
	if err != nil {
		return nil, &types.ValidationError{Code: raw.Code, Field: "price", Reason: err.Error()}
	}
	if !price.IsPositive() {
		return nil, &types.ValidationError{Code: raw.Code, Field: "price", Reason: "price must be positive"}
	}

	desc := make([]string, 0, len(fields))
	desc = append(desc, fields[1:priceIdx]...)
	desc = append(desc, fields[priceIdx+1:]...)
	if len(desc) == 0 {
		return nil, &types.ValidationError{Code: raw.Code, Field: "description", Reason: "empty description"}
	}

	return &Record{
		Code:        raw.Code,
		Description: strings.Join(desc, " "),
		Unit:        unit,
		UnitPrice:   price.Round(2),
		Flagged:     flagged,
	}, nil
}
