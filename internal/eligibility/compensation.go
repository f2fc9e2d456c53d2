package eligibility

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spigell/shortlister/internal/snapshot"
)

// compensation compares the preferred rate and weekly availability. An empty
// currency is read as the default one; any other currency is not comparable.
func (e *Evaluator) compensation(salary *snapshot.Salary) Reason {
	if salary == nil {
		return Reason{Text: "No salary preferences provided"}
	}

	c := e.criteria
	currency := strings.ToUpper(strings.TrimSpace(salary.Currency))
	if currency != "" && currency != c.Currency {
		return Reason{Text: fmt.Sprintf("Currency %s is not comparable to %s (no conversion performed)", currency, c.Currency)}
	}

	var failures []string
	if salary.PreferredRate > c.MaxRate {
		failures = append(failures, fmt.Sprintf("rate $%s/hr exceeds $%s", num(salary.PreferredRate), num(c.MaxRate)))
	}
	if salary.Availability < c.MinAvailability {
		failures = append(failures, fmt.Sprintf("availability %s hrs/week below %s", num(salary.Availability), num(c.MinAvailability)))
	}
	if len(failures) > 0 {
		return Reason{Text: strings.Join(failures, "; ")}
	}

	return Reason{Pass: true, Text: fmt.Sprintf("$%s/hr (<= $%s) and %s hrs/week (>= %s)",
		num(salary.PreferredRate), num(c.MaxRate), num(salary.Availability), num(c.MinAvailability))}
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
