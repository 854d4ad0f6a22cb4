package promptstyle

import "strings"

const marker = "PRICEBOOK_PROMPT_STYLE_V1"

// ApplySystem prepends a short guidance block to system prompts.
func ApplySystem(system string, mode string) string {
	base := strings.TrimSpace(system)
	if base == "" || strings.Contains(base, marker) {
		return base
	}
	mode = strings.ToLower(strings.TrimSpace(mode))

	var b strings.Builder
	b.WriteString(marker)
	b.WriteString("\nYou assist a construction estimator working with Spanish price books.")
	b.WriteString("\nPrices are in euros, excluding VAT, unless stated otherwise.")
	b.WriteString("\nUse measurement units from: m, m2, m3, u, h, kg, t, l, ml, pa.")
	b.WriteString("\nDo not invent sources. If unsure, report low confidence.")
	if mode == "json" {
		b.WriteString("\nReturn a single JSON object that conforms to the schema and contains no extra keys.")
	}
	b.WriteString("\n---\n")
	b.WriteString(base)
	return b.String()
}
