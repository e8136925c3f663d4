package util

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

func digitsOnly(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone returns the comparable 10-digit form (last 10 digits).
func NormalizePhone(raw string) string {
	d := digitsOnly(raw)
	if len(d) > 10 {
		d = d[len(d)-10:]
	}
	return d
}

// ForTwilio formats a number as +1XXXXXXXXXX.
func ForTwilio(raw string) string {
	d := digitsOnly(raw)
	switch {
	case d == "":
		return ""
	case len(d) == 10:
		return "+1" + d
	default: // 11 digits with leading 1, or something foreign
		return "+" + d
	}
}

// ForRingCentral formats a number as 1XXXXXXXXXX (no plus).
func ForRingCentral(raw string) string {
	d := digitsOnly(raw)
	if len(d) == 10 {
		return "1" + d
	}
	return d
}

// ValidPhone reports whether raw parses as a valid NANP/E.164 number.
func ValidPhone(raw string) bool {
	e := ForTwilio(raw)
	if e == "" {
		return false
	}
	num, err := phonenumbers.Parse(e, "US")
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(num)
}
