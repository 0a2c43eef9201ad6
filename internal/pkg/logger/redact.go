package logger

import (
	"regexp"
	"strings"
)

var phoneRegex = regexp.MustCompile(`\+?\d[\d\-\s]{8,14}\d`)

// redactValue masks customer-identifying values before they reach the log
// stream. Record keys and assignee initials are operational identifiers
// and stay readable; names and phone numbers do not.
func redactValue(key, val string) string {
	k := strings.ToLower(key)
	if strings.Contains(k, "name") || strings.Contains(k, "customer") {
		return RedactName(val)
	}
	if strings.Contains(k, "phone") {
		return RedactPhone(val)
	}
	return phoneRegex.ReplaceAllStringFunc(val, RedactPhone)
}

// RedactName keeps the first rune of a person's name and masks the rest.
func RedactName(name string) string {
	r := []rune(strings.TrimSpace(name))
	if len(r) <= 1 {
		return "***"
	}
	return string(r[0]) + "***"
}

// RedactPhone keeps the last four digits of a phone number.
func RedactPhone(phone string) string {
	var digits []rune
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 4 {
		return "***"
	}
	return "***" + string(digits[len(digits)-4:])
}
