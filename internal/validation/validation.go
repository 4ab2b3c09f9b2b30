package validation

import (
	"errors"
	"net/mail"
	"strconv"
	"strings"
	"unicode"
)

// City bounds in runes.
const (
	CityMinLen = 1
	CityMaxLen = 100
)

// ErrCityEmpty is returned when the city is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city is required")

// ErrCityTooShort is returned when the city length is below the minimum.
var ErrCityTooShort = errors.New("city too short")

// ErrCityTooLong is returned when the city length exceeds the maximum.
var ErrCityTooLong = errors.New("city too long")

// ErrCityInvalidChars is returned when the city contains disallowed characters.
var ErrCityInvalidChars = errors.New("city contains invalid characters")

var (
	ErrMonthNotInteger = errors.New("month must be an integer")
	ErrMonthOutOfRange = errors.New("month must be between 1 and 12")
	ErrInvalidID       = errors.New("id must be a positive integer")
	ErrEmailInvalid    = errors.New("email is invalid")
	ErrPasswordEmpty   = errors.New("password is required")
)

// ValidateCity trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to allowed characters: letters (Unicode), digits, space, comma,
// hyphen and apostrophe. Returns the trimmed string. Lowercasing is left to the
// cache layer.
func ValidateCity(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrCityEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrCityTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '\'', '’':
		return true
	}
	return false
}

// ParseMonth parses a month path segment. Only unsigned base-10 integers in 1..12 are
// accepted; "13", "0", "+5" and "abc" are rejected.
func ParseMonth(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.IndexFunc(raw, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return 0, ErrMonthNotInteger
	}
	m, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ErrMonthNotInteger
	}
	if !ValidMonth(m) {
		return 0, ErrMonthOutOfRange
	}
	return m, nil
}

// ValidMonth reports whether m is a calendar month number.
func ValidMonth(m int) bool {
	return m >= 1 && m <= 12
}

// ParseID parses a positive integer resource identifier.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}

// NormalizeEmail trims and lowercases an address and checks it parses as a
// bare addr-spec (no display name).
func NormalizeEmail(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", ErrEmailInvalid
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", ErrEmailInvalid
	}
	return s, nil
}

// RequirePassword rejects an empty password. Whitespace is significant.
func RequirePassword(p string) error {
	if p == "" {
		return ErrPasswordEmpty
	}
	return nil
}
