package fields

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	amountSep      = `[ \t:.\-=*#()]*`
	amountCurrency = `(?:(?:MXN|USD|EUR|M\.?[ \t]?N\.?)[ \t]*)?\$?[ \t]*`
	amountPercent  = `(?:\d{1,2}(?:[.,]\d{1,2})?[ \t]*%` + amountSep + `)?`
	amountNumber   = `(-?\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{1,2})?|-?\d+(?:[.,]\d{1,2})?)`
)

// bareAmountPattern matches an unlabelled money value. Two decimals are
// required so that quantities, dates and phone numbers are not mistaken
// for amounts.
var bareAmountPattern = regexp.MustCompile(`(?:^|[^\d.,])\$?\s?(\d{1,3}(?:,\d{3})+\.\d{2}|\d{1,3}(?:\.\d{3})+,\d{2}|\d+[.,]\d{2})(?:[^\d.,%]|$)`)

// groupedTail matches the rest of a space-grouped amount such as "1 500.00"
// after its leading digits.
var groupedTail = regexp.MustCompile(`^ (\d{3}(?: \d{3})*[.,]\d{2})(?:[^\d.,]|$)`)

// unitWords may follow an amount on the same line without making it a count.
var unitWords = map[string]bool{"MXN": true, "USD": true, "EUR": true, "MN": true, "M.N.": true, "PESOS": true, "PESO": true}

// labelPattern builds a same-line "LABEL [pct] [currency] amount" pattern.
// The label must not be preceded by a letter, so TOTAL never matches inside
// SUBTOTAL.
func labelPattern(label string) *regexp.Regexp {
	var b strings.Builder
	for i, word := range strings.Fields(label) {
		if i > 0 {
			b.WriteString(`[ \t\-]*`)
		}
		// Dots in abbreviations such as I.V.A. are optional.
		for _, r := range word {
			if r == '.' {
				b.WriteString(`\.?`)
				continue
			}
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return regexp.MustCompile(`(?im)(?:^|[^\p{L}])(` + b.String() + `)` + amountSep + amountPercent + amountCurrency + amountNumber + `(?:[^\d.,%]|$)`)
}

// ParseAmount converts an OCR'd money string into a decimal. Both
// 1,234.56 and 1.234,56 layouts are understood. When only one separator
// kind appears, a single occurrence followed by at most two digits is the
// decimal separator; anything else is a thousands separator.
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(s)
	for _, junk := range []string{" ", "$", "€", "MXN", "USD", "EUR"} {
		cleaned = strings.ReplaceAll(cleaned, junk, "")
	}

	hasDot, hasComma := strings.Contains(cleaned, "."), strings.Contains(cleaned, ",")
	switch {
	case hasDot && hasComma:
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case hasComma:
		cleaned = normalizeSingleSeparator(cleaned, ",")
	case hasDot:
		cleaned = normalizeSingleSeparator(cleaned, ".")
	}

	return decimal.NewFromString(cleaned)
}

func normalizeSingleSeparator(s, sep string) string {
	parts := strings.Split(s, sep)
	if len(parts) == 2 && len(parts[1]) <= 2 {
		return parts[0] + "." + parts[1]
	}
	return strings.Join(parts, "")
}

type amountMatch struct {
	value decimal.Decimal
	pos   int
}

// findLabelled returns the first amount in document order following the
// label matched by re. Matches whose label is preceded on the same line by
// one of notAfter (folded) are skipped.
func findLabelled(re *regexp.Regexp, text string, notAfter []string) (amountMatch, bool) {
	for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
		if precededBy(text, m[2], notAfter) {
			continue
		}
		raw := text[m[4]:m[5]]
		if isPlainInteger(raw) {
			tail := restOfLine(text, m[5])
			if g := groupedTail.FindStringSubmatch(tail); g != nil && len(strings.TrimPrefix(raw, "-")) <= 3 {
				raw += strings.ReplaceAll(g[1], " ", "")
			} else if startsWithWord(tail) {
				// "TOTAL 3 ARTICULOS" is a count.
				continue
			}
		}
		v, err := ParseAmount(raw)
		if err != nil {
			continue
		}
		return amountMatch{value: v, pos: m[2]}, true
	}
	return amountMatch{}, false
}

func isPlainInteger(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func restOfLine(text string, from int) string {
	rest := text[from:]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// startsWithWord reports whether s begins, after blanks, with a word that is
// not a currency unit.
func startsWithWord(s string) bool {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return false
	}
	word := fields[0]
	r, _ := utf8.DecodeRuneInString(word)
	return unicode.IsLetter(r) && !unitWords[strings.ToUpper(word)]
}

func precededBy(text string, labelStart int, words []string) bool {
	if len(words) == 0 {
		return false
	}
	lineStart := strings.LastIndexByte(text[:labelStart], '\n') + 1
	prefix := fold(text[lineStart:labelStart])
	for _, w := range words {
		if prefix == w || strings.HasSuffix(prefix, " "+w) {
			return true
		}
	}
	return false
}

// largestBare returns the biggest unlabelled amount in text.
func largestBare(text string) (amountMatch, bool) {
	var best amountMatch
	found := false
	for _, line := range strings.Split(text, "\n") {
		for _, m := range bareAmountPattern.FindAllStringSubmatch(line, -1) {
			v, err := ParseAmount(m[1])
			if err != nil || !v.IsPositive() {
				continue
			}
			if !found || v.GreaterThan(best.value) {
				best = amountMatch{value: v}
				found = true
			}
		}
	}
	return best, found
}
