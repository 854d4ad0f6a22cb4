package budget

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Chapter struct {
	Name     string          `json:"name"`
	Items    []LineItem      `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// Rates are the surcharges applied on top of the material execution price.
type Rates struct {
	OverheadPct      decimal.Decimal `json:"overhead_pct"`
	BenefitPct       decimal.Decimal `json:"benefit_pct"`
	TaxPct           decimal.Decimal `json:"tax_pct"`
	GlobalAdjustment decimal.Decimal `json:"global_adjustment"`
}

func DefaultRates() Rates {
	return Rates{
		OverheadPct:      decimal.NewFromInt(13),
		BenefitPct:       decimal.NewFromInt(6),
		TaxPct:           decimal.NewFromInt(21),
		GlobalAdjustment: decimal.Zero,
	}
}

// Validate rejects percentages outside [0, 100]. GlobalAdjustment may be
// negative, a discount.
func (r Rates) Validate() error {
	for _, f := range []struct {
		name string
		v    decimal.Decimal
	}{{"overhead_pct", r.OverheadPct}, {"benefit_pct", r.BenefitPct}, {"tax_pct", r.TaxPct}} {
		if f.v.IsNegative() || f.v.GreaterThan(hundred) {
			return fmt.Errorf("%s must be between 0 and 100, got %s", f.name, f.v.String())
		}
	}
	return nil
}

type CostBreakdown struct {
	MaterialExecutionPrice decimal.Decimal `json:"material_execution_price"`
	OverheadExpenses       decimal.Decimal `json:"overhead_expenses"`
	IndustrialBenefit      decimal.Decimal `json:"industrial_benefit"`
	Tax                    decimal.Decimal `json:"tax"`
	GlobalAdjustment       decimal.Decimal `json:"global_adjustment"`
	Total                  decimal.Decimal `json:"total"`
	Rates                  Rates           `json:"rates"`
}

type Budget struct {
	Chapters       []Chapter       `json:"chapters"`
	CostBreakdown  CostBreakdown   `json:"cost_breakdown"`
	TotalEstimated decimal.Decimal `json:"total_estimated"`
}

var hundred = decimal.NewFromInt(100)

func pct(base, p decimal.Decimal) decimal.Decimal {
	return Money(base.Mul(p).Div(hundred))
}

// ComputeBreakdown applies, in order: execution price, overhead, benefit, tax, adjustment.
// Overhead and benefit are percentages of the execution price; tax applies to their sum.
func ComputeBreakdown(chapters []Chapter, r Rates) CostBreakdown {
	pem := decimal.Zero
	for _, ch := range chapters {
		pem = pem.Add(ch.Subtotal)
	}
	pem = Money(pem)
	overhead := pct(pem, r.OverheadPct)
	benefit := pct(pem, r.BenefitPct)
	contract := pem.Add(overhead).Add(benefit)
	tax := pct(contract, r.TaxPct)
	adj := Money(r.GlobalAdjustment)
	return CostBreakdown{
		MaterialExecutionPrice: pem,
		OverheadExpenses:       overhead,
		IndustrialBenefit:      benefit,
		Tax:                    tax,
		GlobalAdjustment:       adj,
		Total:                  contract.Add(tax).Add(adj),
		Rates:                  r,
	}
}

// NewChapter sums item totals into the subtotal.
func NewChapter(name string, items []LineItem) Chapter {
	sub := decimal.Zero
	for _, it := range items {
		sub = sub.Add(it.Total())
	}
	return Chapter{Name: name, Items: items, Subtotal: Money(sub)}
}

// Validate checks the arithmetic invariants of a finished budget.
func (b *Budget) Validate() error {
	pem := decimal.Zero
	for i, ch := range b.Chapters {
		sum := decimal.Zero
		for _, it := range ch.Items {
			if it.Material == nil && it.Assembly == nil {
				return fmt.Errorf("chapter %d %q: empty line item", i, ch.Name)
			}
			sum = sum.Add(it.Total())
		}
		if !Money(sum).Equal(ch.Subtotal) {
			return fmt.Errorf("chapter %q subtotal %s != items %s", ch.Name, ch.Subtotal, Money(sum))
		}
		pem = pem.Add(ch.Subtotal)
	}
	if !Money(pem).Equal(b.CostBreakdown.MaterialExecutionPrice) {
		return fmt.Errorf("execution price %s != chapters %s", b.CostBreakdown.MaterialExecutionPrice, Money(pem))
	}
	if !b.TotalEstimated.Equal(b.CostBreakdown.Total) {
		return fmt.Errorf("total %s != breakdown total %s", b.TotalEstimated, b.CostBreakdown.Total)
	}
	return nil
}
