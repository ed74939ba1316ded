// Package convert holds the small numeric helpers shared by the exchange
// adapters and event construction.
package convert

import (
	"strconv"
	"strings"
)

// ParseFloat parses exchange decimal strings ("0.00100000"); blanks and
// garbage read as zero.
func ParseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

// ParseInt parses an integer field such as leverage. Binance occasionally
// sends integral values as "5.0".
func ParseInt(s string) int {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return int(ParseFloat(s))
}

// FloatPtr returns a pointer to v, for optional event fields.
func FloatPtr(v float64) *float64 {
	return &v
}

// FormatID renders an exchange numeric id as the string id used in the ledger.
func FormatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
