package fields

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"docfields/pkg/models"
)

const itemAmount = `\$?\s?(\d{1,3}(?:,\d{3})+\.\d{2}|\d+[.,]\d{2})`

// "2 COCA COLA 600ML 18.50 37.00" or "1 X PAN DULCE $12.00"
var lineItemPattern = regexp.MustCompile(`(?i)^(\d{1,3}(?:[.,]\d{1,3})?)\s*(?:X|PZA?S?|PZ|UNI?|UND|KG|LT)?\.?\s+(.*?\p{L}.*?)\s+` + itemAmount + `(?:\s+` + itemAmount + `)?\s*[A-Z]?$`)

// findLineItems parses "quantity description [unit price] amount" lines.
// With a single amount the unit price is amount / quantity.
func findLineItems(text string, summary []string) []models.LineItem {
	items := []models.LineItem{}

	for _, line := range lines(text) {
		m := lineItemPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		desc := strings.Join(strings.Fields(m[2]), " ")
		if isSummaryLine(desc, summary) {
			continue
		}

		qty, err := ParseAmount(m[1])
		if err != nil || !qty.IsPositive() {
			continue
		}
		first, err := ParseAmount(m[3])
		if err != nil {
			continue
		}

		unit := first
		if m[4] == "" {
			unit = first.DivRound(qty, 2)
		}

		items = append(items, models.LineItem{
			Description: desc,
			Quantity:    models.Amount{Decimal: qty},
			UnitPrice:   models.Amount{Decimal: unit.Round(2)},
		})
	}

	return items
}

func isSummaryLine(desc string, summary []string) bool {
	folded := fold(desc)
	for _, s := range summary {
		if _, ok := containsWord(folded, s); ok {
			return true
		}
	}
	return false
}

// itemsTotal sums quantity x unit price.
func itemsTotal(items []models.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Quantity.Mul(it.UnitPrice.Decimal))
	}
	return sum
}
