package fields

import (
	"regexp"
	"strings"

	"docfields/pkg/models"
)

// AmountRule locates one money field by its labels. Labels are tried in
// priority order; within one label the first match in document order wins.
type AmountRule struct {
	Field  string
	Labels []string

	// NotAfter lists folded words that disqualify a label when they
	// directly precede it on the same line ("SUB TOTAL" is not a total).
	NotAfter []string

	// BareFallback picks the largest unlabelled amount when no label matches.
	BareFallback bool
}

// KeywordRule maps document keywords onto a normalized value.
type KeywordRule struct {
	Value    string
	Keywords []string
}

// Rules is the declarative rule set used by the Extractor.
type Rules struct {
	Amounts  []AmountRule
	Payments []KeywordRule

	// Summary lists folded words that mark a line as a receipt summary
	// rather than a purchased item.
	Summary []string
}

// DefaultRules returns the rule set for Mexican and English receipts.
func DefaultRules() Rules {
	return Rules{
		Amounts: []AmountRule{
			{
				Field:        models.FieldTotal,
				Labels:       []string{"GRAN TOTAL", "GRAND TOTAL", "TOTAL A PAGAR", "IMPORTE TOTAL", "TOTAL", "AMOUNT DUE", "TO PAY", "A PAGAR"},
				NotAfter:     []string{"SUB"},
				BareFallback: true,
			},
			{
				Field:  models.FieldSubtotal,
				Labels: []string{"SUBTOTAL", "SUB TOTAL", "SUB-TOTAL"},
			},
			{
				Field:  models.FieldTaxAmount,
				Labels: []string{"TOTAL IVA", "IVA", "I.V.A.", "IMPUESTOS", "IMPUESTO", "TAX", "VAT"},
			},
		},
		Payments: []KeywordRule{
			{Value: "card", Keywords: []string{"TARJETA", "T CREDITO", "T DEBITO", "CREDIT CARD", "DEBIT CARD", "CARD", "VISA", "MASTERCARD", "MASTER CARD", "AMEX", "AMERICAN EXPRESS", "TDC", "TDD"}},
			{Value: "cash", Keywords: []string{"EFECTIVO", "CASH", "CONTADO"}},
			{Value: "transfer", Keywords: []string{"TRANSFERENCIA", "TRANSFER", "SPEI", "WIRE"}},
			{Value: "check", Keywords: []string{"CHEQUE", "CHECK"}},
		},
		Summary: []string{"TOTAL", "SUBTOTAL", "SUB TOTAL", "IVA", "I V A", "IMPUESTO", "IMPUESTOS", "TAX", "CAMBIO", "CHANGE", "EFECTIVO", "CASH", "TARJETA", "PAGO", "DESCUENTO", "AHORRO", "PROPINA", "ARTICULOS", "ITEMS"},
	}
}

type compiledAmountRule struct {
	AmountRule
	patterns []*regexp.Regexp
}

func compileAmountRules(rules []AmountRule) []compiledAmountRule {
	out := make([]compiledAmountRule, 0, len(rules))
	for _, r := range rules {
		c := compiledAmountRule{AmountRule: r}
		for _, l := range r.Labels {
			c.patterns = append(c.patterns, labelPattern(l))
		}
		out = append(out, c)
	}
	return out
}

// find applies the rule to text. labelled is false when the value came
// from the bare fallback.
func (r compiledAmountRule) find(text string) (match amountMatch, label string, ok bool) {
	for i, re := range r.patterns {
		if m, ok := findLabelled(re, text, r.NotAfter); ok {
			return m, r.Labels[i], true
		}
	}
	if r.BareFallback {
		if m, ok := largestBare(text); ok {
			return m, "", true
		}
	}
	return amountMatch{}, "", false
}

// findKeyword returns the value whose keyword appears earliest in text.
func findKeyword(rules []KeywordRule, text string) (string, bool) {
	folded := fold(text)
	best, bestPos := "", -1
	for _, r := range rules {
		for _, kw := range r.Keywords {
			if pos, ok := containsWord(folded, fold(kw)); ok && (bestPos < 0 || pos < bestPos) {
				best, bestPos = r.Value, pos
			}
		}
	}
	return best, bestPos >= 0
}

// RFC: three (legal entity) or four (individual) letters, the registration
// date as YYMMDD and a three character homoclave. Separators between the
// groups are accepted only right after an RFC label.
var (
	taxIDPattern         = regexp.MustCompile(`(?i)(?:^|[^A-Z0-9Ñ&])([A-ZÑ&]{3,4})(\d{2})(\d{2})(\d{2})([A-Z0-9]{3})(?:[^A-Z0-9]|$)`)
	labelledTaxIDPattern = regexp.MustCompile(`(?i)(?:^|[^\p{L}])R\.?[ \t]?F\.?[ \t]?C\.?[ \t:.#\-]*([A-ZÑ&]{3,4})[ \-]?(\d{2})(\d{2})(\d{2})[ \-]?([A-Z0-9]{3})(?:[^A-Z0-9]|$)`)
)

// findTaxID returns the first well-formed RFC in document order, upper
// cased and without separators.
func findTaxID(text string) (string, bool) {
	best, bestPos := "", -1
	for _, re := range []*regexp.Regexp{labelledTaxIDPattern, taxIDPattern} {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			month, day := atoi2(text[m[6]:m[7]]), atoi2(text[m[8]:m[9]])
			if month < 1 || month > 12 || day < 1 || day > 31 {
				continue
			}
			if bestPos < 0 || m[2] < bestPos {
				best = strings.ToUpper(text[m[2]:m[3]] + text[m[4]:m[5]] + text[m[6]:m[7]] + text[m[8]:m[9]] + text[m[10]:m[11]])
				bestPos = m[2]
			}
			break
		}
	}
	return best, bestPos >= 0
}

func atoi2(s string) int {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return -1
	}
	return int(s[0]-'0')*10 + int(s[1]-'0')
}
