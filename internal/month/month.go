package month

import (
	"fmt"
	"regexp"
	"sort"
	"time"
)

// Layout is the canonical month format. Values in this layout order
// correctly under plain string comparison.
const Layout = "2006-01"

var monthRegex = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// Clock is the source of "now" for elapsed-month checks.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock always reports the same instant.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time {
	return c.At
}

// Fixed returns a clock pinned to the first day of the given month.
// It panics on a malformed month and is meant for tests and tooling.
func Fixed(m string) FixedClock {
	t, err := time.Parse(Layout, m)
	if err != nil {
		panic(fmt.Sprintf("month: invalid fixed month %q: %v", m, err))
	}
	return FixedClock{At: t.UTC()}
}

// Current returns the clock's month in canonical form.
func Current(c Clock) string {
	return c.Now().UTC().Format(Layout)
}

// Valid reports whether s is a canonical YYYY-MM month.
func Valid(s string) bool {
	return monthRegex.MatchString(s)
}

// Parse validates s and returns it unchanged. Non-padded months and
// two-digit years are rejected since they would break ordering.
func Parse(s string) (string, error) {
	if !Valid(s) {
		return "", fmt.Errorf("month %q is not in YYYY-MM format", s)
	}
	return s, nil
}

// After reports whether a is strictly later than b.
func After(a, b string) bool {
	return a > b
}

// Started reports whether m has begun relative to current.
func Started(m, current string) bool {
	return m <= current
}

// Dedupe drops repeated months, keeping first-seen order.
func Dedupe(months []string) []string {
	seen := make(map[string]struct{}, len(months))
	out := make([]string, 0, len(months))
	for _, m := range months {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// SortAscending sorts months in place, oldest first.
func SortAscending(months []string) {
	sort.Strings(months)
}
