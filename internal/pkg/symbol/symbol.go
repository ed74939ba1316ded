// Package symbol normalizes perpetual contract symbols to the exchange form
// used across the engine (BTCUSDT).
package symbol

import (
	"strings"
)

var quoteCurrencies = []string{"USDT", "USDC", "BUSD", "FDUSD"}

type Symbol struct {
	Base  string
	Quote string
}

// String returns the concatenated exchange form, e.g. BTCUSDT.
func (s Symbol) String() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// Parse accepts BTCUSDT, BTC/USDT, btc-usdt and BTC/USDT:USDT.
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	s = strings.ReplaceAll(s, "-", "/")
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{
				Base:  s[:len(s)-len(quote)],
				Quote: quote,
			}
		}
	}
	return Symbol{}
}

// Normalize returns the exchange form or the trimmed upper-case input when
// the quote currency is not recognised.
func Normalize(s string) string {
	if norm := Parse(s).String(); norm != "" {
		return norm
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

// IsValid reports whether s parses into a base and a known quote.
func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
