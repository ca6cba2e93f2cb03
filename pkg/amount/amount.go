package amount

import (
	"fmt"
	"math/big"
	"strings"
)

// HumanToRaw converts a human decimal amount ("1.5") into raw base units
// ("1500000000000000000" for 18 decimals) using pure string scaling.
// Binary floating point is never involved.
func HumanToRaw(human string, decimals int32) (string, error) {
	human = strings.TrimSpace(human)
	if human == "" {
		return "", fmt.Errorf("amount: empty value")
	}
	if decimals < 0 {
		return "", fmt.Errorf("amount: negative decimals %d", decimals)
	}
	if strings.HasPrefix(human, "-") {
		return "", fmt.Errorf("amount: negative value %q", human)
	}

	whole := human
	frac := ""
	if i := strings.IndexByte(human, '.'); i >= 0 {
		whole, frac = human[:i], human[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || (frac != "" && !isDigits(frac)) {
		return "", fmt.Errorf("amount: malformed value %q", human)
	}
	if len(frac) > int(decimals) {
		// Excess precision cannot be represented on chain.
		trimmed := strings.TrimRight(frac[decimals:], "0")
		if trimmed != "" {
			return "", fmt.Errorf("amount: %q exceeds %d decimals", human, decimals)
		}
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))

	raw, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return "", fmt.Errorf("amount: cannot parse %q", human)
	}
	return raw.String(), nil
}

// RawToHuman renders raw base units back into a human decimal string with
// trailing zeros trimmed.
func RawToHuman(raw string, decimals int32) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !isDigits(raw) {
		return "", fmt.Errorf("amount: malformed raw value %q", raw)
	}
	if decimals == 0 {
		return strings.TrimLeft(raw, "0") + zeroIfEmpty(raw), nil
	}
	for len(raw) <= int(decimals) {
		raw = "0" + raw
	}
	cut := len(raw) - int(decimals)
	whole := strings.TrimLeft(raw[:cut], "0")
	if whole == "" {
		whole = "0"
	}
	frac := strings.TrimRight(raw[cut:], "0")
	if frac == "" {
		return whole, nil
	}
	return whole + "." + frac, nil
}

// ParseRaw parses a raw base-unit string into a big.Int.
func ParseRaw(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("amount: cannot parse raw value %q", raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount: negative raw value %q", raw)
	}
	return v, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func zeroIfEmpty(raw string) string {
	if strings.TrimLeft(raw, "0") == "" {
		return "0"
	}
	return ""
}
