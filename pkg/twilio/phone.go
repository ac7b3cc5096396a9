package twilio

import "regexp"

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ValidE164 reports whether s is a well-formed E.164 phone number.
func ValidE164(s string) bool {
	return e164Pattern.MatchString(s)
}
