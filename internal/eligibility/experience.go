package eligibility

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	dps "github.com/markusmobius/go-dateparser"

	"github.com/spigell/shortlister/internal/snapshot"
)

const daysPerYear = 365.25

// monthYear matches numeric "MM/YYYY" dates, which dateparse reads as a day.
var monthYear = regexp.MustCompile(`^(\d{1,2})[/.](\d{4})$`)

// dateparserConfig resolves month-only dates such as "Jan 2020" to the first
// of the month. A fresh value is built per call since Parse may fill it in.
func dateparserConfig() *dps.Configuration {
	return &dps.Configuration{
		DefaultTimezone:     time.UTC,
		PreferredDayOfMonth: dps.First,
		RequiredParts:       []string{"month", "year"},
	}
}

func (e *Evaluator) experience(entries []snapshot.Experience) (Reason, float64, []string) {
	if len(entries) == 0 {
		return Reason{Text: "No work experience provided"}, 0, nil
	}

	years, warnings := TotalYears(entries, e.today(), e.criteria.MaxEntryYears)
	required := e.criteria.MinYears

	if years >= required {
		return Reason{Pass: true, Text: fmt.Sprintf("%.2f years of experience (>= %.1f required)", years, required)}, years, warnings
	}
	if company, ok := e.tier1(entries); ok {
		return Reason{Pass: true, Text: fmt.Sprintf("Worked at %s (tier-1 company)", company)}, years, warnings
	}
	return Reason{Text: fmt.Sprintf("Only %.2f years of experience (< %.1f required) and no tier-1 company", years, required)}, years, warnings
}

// tier1 returns the first company containing a tier-1 name, ignoring case.
func (e *Evaluator) tier1(entries []snapshot.Experience) (string, bool) {
	for _, entry := range entries {
		company := strings.ToLower(entry.Company)
		for _, t := range e.criteria.Tier1Companies {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" && strings.Contains(company, t) {
				return strings.TrimSpace(entry.Company), true
			}
		}
	}
	return "", false
}

// TotalYears sums whole-day spans divided by 365.25. Entries without a start,
// starting in the future, ending before they start or carrying unreadable
// dates are skipped with a warning. Open-ended and future ends count up to
// today, and each entry contributes at most maxEntryYears.
func TotalYears(entries []snapshot.Experience, today time.Time, maxEntryYears float64) (float64, []string) {
	var (
		total    float64
		warnings []string
	)

	for i, entry := range entries {
		label := fmt.Sprintf("experience #%d (%s)", i+1, strings.TrimSpace(entry.Company))
		skip := func(format string, args ...any) {
			warnings = append(warnings, label+": "+fmt.Sprintf(format, args...)+", skipped")
		}

		if strings.TrimSpace(entry.Start) == "" {
			skip("missing start date")
			continue
		}
		start, err := parseDate(entry.Start)
		if err != nil {
			skip("unreadable start date %q", entry.Start)
			continue
		}
		if start.After(today) {
			skip("start date %s is in the future", start.Format(time.DateOnly))
			continue
		}

		end := today
		if !snapshot.IsOngoing(entry.End) {
			if end, err = parseDate(entry.End); err != nil {
				skip("unreadable end date %q", entry.End)
				continue
			}
			if end.After(today) {
				warnings = append(warnings, fmt.Sprintf("%s: end date %s is in the future, counted until today", label, end.Format(time.DateOnly)))
				end = today
			}
		}
		if end.Before(start) {
			skip("end date is before start date")
			continue
		}

		days := int(end.Sub(start).Hours() / 24)
		years := float64(days) / daysPerYear
		if maxEntryYears > 0 && years > maxEntryYears {
			warnings = append(warnings, fmt.Sprintf("%s: %.1f years capped at %.0f", label, years, maxEntryYears))
			years = maxEntryYears
		}
		total += years
	}

	return total, warnings
}

// parseDate tries the fixed layouts of dateparse first and falls back to
// go-dateparser for free text with month names.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if m := monthYear.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[1])
		s = fmt.Sprintf("%s-%02d-01", m[2], month)
	}

	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		d, fallbackErr := dps.Parse(dateparserConfig(), s)
		if fallbackErr != nil || d.Time.IsZero() {
			return time.Time{}, err
		}
		t = d.Time
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}
