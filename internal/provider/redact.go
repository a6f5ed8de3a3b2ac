package provider

import "regexp"

// Patterns resembling national-ID numbers, card numbers and email
// addresses, replaced with fixed sentinel tokens before any network
// call or persistence. The substitution is one-way.
var (
	ssnRe   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	cardRe  = regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)
	emailRe = regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)
)

// Redact scrubs sensitive-looking patterns from text.
func Redact(text string) string {
	out := ssnRe.ReplaceAllString(text, "[REDACTED_SSN]")
	out = cardRe.ReplaceAllString(out, "[REDACTED_CARD]")
	out = emailRe.ReplaceAllString(out, "[REDACTED_EMAIL]")
	return out
}
