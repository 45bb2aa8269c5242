package fields

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold upper-cases s, strips accents and collapses every run of
// non-alphanumeric characters into one space. Offsets are not preserved.
func fold(s string) string {
	// Transformers carry state; build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}

	var b strings.Builder
	b.Grow(len(out))
	space := true
	for _, r := range strings.ToUpper(out) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '&' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// containsWord reports whether the folded phrase occurs in folded text on
// word boundaries, returning its byte offset in the folded text.
func containsWord(foldedText, foldedPhrase string) (int, bool) {
	if foldedPhrase == "" {
		return 0, false
	}
	hay := " " + foldedText + " "
	i := strings.Index(hay, " "+foldedPhrase+" ")
	if i < 0 {
		return 0, false
	}
	return i, true
}

// lines splits text into trimmed lines, dropping nothing so indices match the source.
func lines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i := range raw {
		raw[i] = strings.TrimSpace(raw[i])
	}
	return raw
}
