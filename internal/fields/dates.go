package fields

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// 15/03/2024, 15-03-24, 15.03.2024, 15/MAR/2024
	dmyPattern = regexp.MustCompile(`(?i)(?:^|[^\d])(\d{1,2})(?:[/\-.](\d{1,2})[/\-.]|[/\-. ]([A-Z]{3,4})[/\-. ])(\d{4}|\d{2})(?:[^\d]|$)`)

	// 2024-03-15, 2024/03/15
	isoPattern = regexp.MustCompile(`(?:^|[^\d])(\d{4})[\-/](\d{2})[\-/](\d{2})(?:[^\d]|$)`)
)

var monthAbbrev = map[string]time.Month{
	"ENE": time.January, "JAN": time.January,
	"FEB": time.February,
	"MAR": time.March,
	"ABR": time.April, "APR": time.April,
	"MAY": time.May,
	"JUN": time.June,
	"JUL": time.July,
	"AGO": time.August, "AUG": time.August,
	"SEP": time.September, "SEPT": time.September,
	"OCT": time.October,
	"NOV": time.November,
	"DIC": time.December, "DEC": time.December,
}

type dateCandidate struct {
	pos   int
	value string
}

// findDate returns the first valid calendar date in document order,
// formatted YYYY-MM-DD. Impossible dates such as 31/02/2024 are skipped.
func findDate(text string) (string, bool) {
	var candidates []dateCandidate

	for _, m := range dmyPattern.FindAllStringSubmatchIndex(text, -1) {
		day, year := text[m[2]:m[3]], text[m[8]:m[9]]
		var month string
		if m[4] >= 0 {
			month = text[m[4]:m[5]]
		} else {
			month = text[m[6]:m[7]]
		}
		if v, ok := buildDate(year, month, day); ok {
			candidates = append(candidates, dateCandidate{pos: m[2], value: v})
		}
	}
	for _, m := range isoPattern.FindAllStringSubmatchIndex(text, -1) {
		year, month, day := text[m[2]:m[3]], text[m[4]:m[5]], text[m[6]:m[7]]
		if v, ok := buildDate(year, month, day); ok {
			candidates = append(candidates, dateCandidate{pos: m[2], value: v})
		}
	}

	if len(candidates) == 0 {
		return "", false
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].pos < candidates[j].pos })
	return candidates[0].value, true
}

func buildDate(yearStr, monthStr, dayStr string) (string, bool) {
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return "", false
	}
	if len(yearStr) == 2 {
		year += 2000
	}

	var month time.Month
	if m, ok := monthAbbrev[strings.ToUpper(monthStr)]; ok {
		month = m
	} else {
		n, err := strconv.Atoi(monthStr)
		if err != nil {
			return "", false
		}
		month = time.Month(n)
	}

	day, err := strconv.Atoi(dayStr)
	if err != nil {
		return "", false
	}
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return "", false
	}

	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow, e.g. Feb 31 becomes Mar 2.
	if t.Day() != day || t.Month() != month {
		return "", false
	}
	return t.Format("2006-01-02"), true
}
