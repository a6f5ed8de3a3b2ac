package auth

import "crypto/subtle"

// BootstrapKeyMatches compares an operator-supplied admin key against
// the configured value in constant time. An empty configured key
// disables bootstrap access entirely.
func BootstrapKeyMatches(configured, candidate string) bool {
	if configured == "" || candidate == "" {
		return false
	}
	if len(configured) != len(candidate) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(candidate)) == 1
}
