package fields

import (
	"fmt"

	"github.com/shopspring/decimal"

	"docfields/pkg/models"
)

// amountTolerance is the largest rounding difference accepted between
// subtotal + tax and total.
var amountTolerance = decimal.New(2, -2)

// CheckAmounts cross-validates the extracted amounts and returns a warning
// per inconsistency. Fields are never modified: a value the document does
// not state is not derived from the others.
func (e *Extractor) CheckAmounts(f *models.ExtractedFields) []string {
	var warnings []string

	if f.Subtotal != nil && f.TaxAmount != nil && f.Total != nil {
		calculated := f.Subtotal.Add(f.TaxAmount.Decimal)
		if diff := calculated.Sub(f.Total.Decimal).Abs(); diff.GreaterThan(amountTolerance) {
			warnings = append(warnings, fmt.Sprintf(
				"subtotal (%s) + tax (%s) = %s, but total is %s",
				f.Subtotal, f.TaxAmount, calculated.StringFixed(2), f.Total))
			e.log.Warn().
				Str("subtotal", f.Subtotal.String()).
				Str("tax", f.TaxAmount.String()).
				Str("total", f.Total.String()).
				Str("difference", diff.StringFixed(2)).
				Msg("Amount calculation discrepancy detected")
		}
	}

	if f.Subtotal != nil && f.Total != nil && f.Subtotal.GreaterThan(f.Total.Decimal) {
		warnings = append(warnings, fmt.Sprintf("subtotal (%s) exceeds total (%s)", f.Subtotal, f.Total))
	}

	// Line item mismatches are logged, never reported.
	if len(f.LineItems) > 0 && f.Subtotal != nil {
		if sum := itemsTotal(f.LineItems).Round(2); sum.Sub(f.Subtotal.Decimal).Abs().GreaterThan(amountTolerance) {
			e.log.Debug().
				Str("items_sum", sum.StringFixed(2)).
				Str("subtotal", f.Subtotal.String()).
				Msg("Line items do not add up to subtotal")
		}
	}

	return warnings
}
