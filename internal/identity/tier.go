package identity

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tier controls rate-limit quota and the per-submission value ceiling.
type Tier string

const (
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
	TierAdmin   Tier = "admin"
)

// ClassifyTier derives a tier from the shape of an API key. Length is
// counted in characters, not bytes.
//
// This is a compatibility policy kept from the first deployment: any key
// containing "admin" is promoted. Replace with an explicit key-to-tier table
// once existing keys have been migrated.
func ClassifyTier(key string) Tier {
	n := utf8.RuneCountInString(key)
	if n > 20 || strings.Contains(strings.ToLower(key), "admin") {
		return TierAdmin
	}
	if n > 15 && hasDigitAndLetter(key) {
		return TierPremium
	}
	return TierBasic
}

func hasDigitAndLetter(s string) bool {
	var digit, letter bool
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsLetter(r):
			letter = true
		}
		if digit && letter {
			return true
		}
	}
	return false
}
