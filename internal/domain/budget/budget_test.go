package budget

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMaterialTotal(t *testing.T) {
	li := NewMaterial(MaterialMatch{Code: "P001", UnitPrice: d("8.50"), Quantity: d("20")})
	if !li.Total().Equal(d("170")) {
		t.Fatalf("want 170 got %s", li.Total())
	}
	if li.Depth() != 0 {
		t.Fatalf("material depth should be 0")
	}
}

func TestAssemblyTotalAndDepth(t *testing.T) {
	inner := NewAssembly(Assembly{
		SyntheticCode: "ASM-inner",
		Components: []LineItem{
			NewMaterial(MaterialMatch{UnitPrice: d("10"), Quantity: d("2")}),
			NewMaterial(MaterialMatch{UnitPrice: d("1.25"), Quantity: d("4"), IsEstimate: true}),
		},
	})
	outer := NewAssembly(Assembly{
		SyntheticCode: "ASM-outer",
		Components: []LineItem{
			inner,
			NewMaterial(MaterialMatch{UnitPrice: d("3"), Quantity: d("1")}),
		},
	})
	if !inner.Total().Equal(d("25")) {
		t.Fatalf("inner total: want 25 got %s", inner.Total())
	}
	if !outer.Total().Equal(d("28")) {
		t.Fatalf("outer total: want 28 got %s", outer.Total())
	}
	if !outer.IsEstimate() {
		t.Fatalf("estimate flag should propagate from components")
	}
	if outer.Depth() != 2 {
		t.Fatalf("want depth 2 got %d", outer.Depth())
	}
}

func TestComputeBreakdownOrder(t *testing.T) {
	chapters := []Chapter{
		NewChapter("Demoliciones", []LineItem{NewMaterial(MaterialMatch{UnitPrice: d("600"), Quantity: d("1")})}),
		NewChapter("Pintura", []LineItem{NewMaterial(MaterialMatch{UnitPrice: d("400"), Quantity: d("1")})}),
	}
	r := DefaultRates()
	r.GlobalAdjustment = d("-50")
	cb := ComputeBreakdown(chapters, r)

	// 1000 + 130 + 60 = 1190; tax 21% = 249.90; 1439.90 - 50 = 1389.90
	checks := map[string][2]decimal.Decimal{
		"pem":      {cb.MaterialExecutionPrice, d("1000")},
		"overhead": {cb.OverheadExpenses, d("130")},
		"benefit":  {cb.IndustrialBenefit, d("60")},
		"tax":      {cb.Tax, d("249.90")},
		"total":    {cb.Total, d("1389.90")},
	}
	for name, pair := range checks {
		if !pair[0].Equal(pair[1]) {
			t.Fatalf("%s: want %s got %s", name, pair[1], pair[0])
		}
	}

	b := Budget{Chapters: chapters, CostBreakdown: cb, TotalEstimated: cb.Total}
	if err := b.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	b.TotalEstimated = d("1")
	if err := b.Validate(); err == nil {
		t.Fatalf("expected validation failure on mismatched total")
	}
}

func TestRatesValidate(t *testing.T) {
	if err := DefaultRates().Validate(); err != nil {
		t.Fatalf("default rates rejected: %v", err)
	}
	discount := DefaultRates()
	discount.GlobalAdjustment = decimal.NewFromInt(-500)
	if err := discount.Validate(); err != nil {
		t.Fatalf("negative adjustment rejected: %v", err)
	}
	for _, bad := range []Rates{
		{OverheadPct: decimal.NewFromInt(-1)},
		{BenefitPct: decimal.NewFromInt(101)},
		{TaxPct: decimal.RequireFromString("-0.01")},
	} {
		if err := bad.Validate(); err == nil {
			t.Fatalf("want error for %+v", bad)
		}
	}
}
