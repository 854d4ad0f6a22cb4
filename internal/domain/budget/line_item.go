package budget

import (
	"github.com/shopspring/decimal"
)

type LineItemType string

const (
	TypeMaterial LineItemType = "material"
	TypeAssembly LineItemType = "assembly"
)

type PriceSource string

const (
	SourceCatalog     PriceSource = "catalog"
	SourceWebEstimate PriceSource = "web_estimate"
	SourcePlaceholder PriceSource = "placeholder"
)

// Synthetic code prefixes for items that did not come from the catalog.
const (
	AssemblyCodePrefix = "ASM-"
	EstimateCodePrefix = "EST-"
)

// LineItem is a resolved task: exactly one of Material or Assembly is set.
type LineItem struct {
	Type     LineItemType   `json:"type"`
	Material *MaterialMatch `json:"material,omitempty"`
	Assembly *Assembly      `json:"assembly,omitempty"`
}

type MaterialMatch struct {
	Code            string          `json:"code"`
	Description     string          `json:"description"`
	Unit            string          `json:"unit"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Quantity        decimal.Decimal `json:"quantity"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	MatchConfidence float64         `json:"match_confidence"`
	Source          PriceSource     `json:"source"`
	SourceURL       string          `json:"source_url,omitempty"`
	IsEstimate      bool            `json:"is_estimate"`
	NeedsReview     bool            `json:"needs_review,omitempty"`
}

type Assembly struct {
	SyntheticCode string          `json:"synthetic_code"`
	Description   string          `json:"description"`
	Note          string          `json:"note,omitempty"`
	Unit          string          `json:"unit"`
	Quantity      decimal.Decimal `json:"quantity"`
	Components    []LineItem      `json:"components"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	IsEstimate    bool            `json:"is_estimate"`
}

func NewMaterial(m MaterialMatch) LineItem {
	m.TotalPrice = Money(m.UnitPrice.Mul(m.Quantity))
	return LineItem{Type: TypeMaterial, Material: &m}
}

// NewAssembly recomputes the total from the components.
func NewAssembly(a Assembly) LineItem {
	total := decimal.Zero
	estimate := false
	for _, c := range a.Components {
		total = total.Add(c.Total())
		estimate = estimate || c.IsEstimate()
	}
	a.TotalPrice = Money(total)
	a.IsEstimate = a.IsEstimate || estimate
	return LineItem{Type: TypeAssembly, Assembly: &a}
}

func (li LineItem) Total() decimal.Decimal {
	switch {
	case li.Material != nil:
		return li.Material.TotalPrice
	case li.Assembly != nil:
		return li.Assembly.TotalPrice
	default:
		return decimal.Zero
	}
}

func (li LineItem) Code() string {
	switch {
	case li.Material != nil:
		return li.Material.Code
	case li.Assembly != nil:
		return li.Assembly.SyntheticCode
	default:
		return ""
	}
}

func (li LineItem) Description() string {
	switch {
	case li.Material != nil:
		return li.Material.Description
	case li.Assembly != nil:
		return li.Assembly.Description
	default:
		return ""
	}
}

func (li LineItem) IsEstimate() bool {
	switch {
	case li.Material != nil:
		return li.Material.IsEstimate
	case li.Assembly != nil:
		return li.Assembly.IsEstimate
	default:
		return false
	}
}

// Depth is 0 for a material and 1 + the deepest component for an assembly.
func (li LineItem) Depth() int {
	if li.Assembly == nil {
		return 0
	}
	deepest := 0
	for _, c := range li.Assembly.Components {
		if d := c.Depth() + 1; d > deepest {
			deepest = d
		}
	}
	return deepest
}

// Money rounds half away from zero to cents.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
