package ledger

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// creditScale is the number of micro-credits per whole credit.
const creditScale = 1_000_000

// Credits is an exact fixed-point quota amount with micro-credit (10^-6)
// resolution. Using an integer representation avoids the drift that
// floating point accumulates across many small consumption events.
// Serialized as a decimal string, e.g. "1.25".
type Credits int64

// CreditsFromInt returns the amount of n whole credits.
func CreditsFromInt(n int64) Credits {
	return Credits(n * creditScale)
}

// CreditsFromMicros returns the amount of n micro-credits.
func CreditsFromMicros(n int64) Credits {
	return Credits(n)
}

// ParseCredits parses a decimal string such as "12", "0.5" or "3.141592"
// into an exact amount. At most six fractional digits are accepted;
// anything finer would silently lose precision.
func ParseCredits(s string) (Credits, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}

	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 6 {
		return 0, fmt.Errorf("%w: %q exceeds micro-credit precision", ErrInvalidAmount, s)
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	var f int64
	if frac != "" {
		f, err = strconv.ParseInt(frac+strings.Repeat("0", 6-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}

	if w > (math.MaxInt64-f)/creditScale {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, s)
	}

	micros := w*creditScale + f
	if neg {
		micros = -micros
	}
	return Credits(micros), nil
}

// MustParseCredits is ParseCredits that panics on invalid input.
// Intended for constants and tests.
func MustParseCredits(s string) Credits {
	c, err := ParseCredits(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Micros returns the raw micro-credit count.
func (c Credits) Micros() int64 { return int64(c) }

// IsNegative reports whether the amount is below zero. A negative
// remaining-quota counter is a legal transient state after an
// under-reserved commit.
func (c Credits) IsNegative() bool { return c < 0 }

// String renders the amount as a decimal string with trailing zeros
// trimmed: 1500000 micro-credits -> "1.5", 2000000 -> "2".
func (c Credits) String() string {
	micros := int64(c)
	sign := ""
	if micros < 0 {
		sign = "-"
		micros = -micros
	}

	whole := micros / creditScale
	frac := micros % creditScale
	if frac == 0 {
		return sign + strconv.FormatInt(whole, 10)
	}

	fs := strings.TrimRight(fmt.Sprintf("%06d", frac), "0")
	return sign + strconv.FormatInt(whole, 10) + "." + fs
}

// MarshalJSON encodes the amount as a decimal string so consumers never
// see a binary float.
func (c Credits) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(c.String())), nil
}

// UnmarshalJSON accepts either a JSON string ("1.25") or a bare integer.
func (c *Credits) UnmarshalJSON(data []byte) error {
	s := string(data)
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	parsed, err := ParseCredits(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
