package scoring

import "strconv"

// formatAmount renders a value drawn from the transaction itself (always a
// float field) the way the source's Python float repr does: an integral
// value still carries a trailing ".0".
func formatAmount(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s
		}
	}
	return s + ".0"
}

// formatParam renders a rule parameter the way it was authored: plain
// integers stay plain, only genuinely fractional values show a decimal
// point. This matches the literal reason strings in the spec's concrete
// scenarios, e.g. "amount 1500.0 > 1000" (field value floats, parameter
// does not).
func formatParam(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
