package privacy

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const otherToken = "other"

var interruptionReasons = map[string]struct{}{
	"noise":       {},
	"hunger":      {},
	"diaper":      {},
	"teething":    {},
	"illness":     {},
	"nightmare":   {},
	"temperature": {},
	"light":       {},
}

var activityTypes = map[string]struct{}{
	"bath":       {},
	"play":       {},
	"tummy_time": {},
	"walk":       {},
	"reading":    {},
	"medicine":   {},
	"diaper":     {},
	"pumping":    {},
	"doctor":     {},
	"massage":    {},
}

var levels = map[string]struct{}{
	"low":    {},
	"medium": {},
	"high":   {},
	"quiet":  {},
	"loud":   {},
	"dark":   {},
	"dim":    {},
	"bright": {},
}

// noteCategories is scanned in order; the first keyword found decides the category.
var noteCategories = []struct {
	keyword  string
	category string
}{
	{"teeth", "teething"},
	{"teething", "teething"},
	{"fever", "illness"},
	{"sick", "illness"},
	{"cough", "illness"},
	{"diaper", "diaper"},
	{"nappy", "diaper"},
	{"hungry", "hunger"},
	{"hunger", "hunger"},
	{"noise", "noise"},
	{"loud", "noise"},
	{"nightmare", "nightmare"},
	{"too hot", "temperature"},
	{"too cold", "temperature"},
	{"temperature", "temperature"},
	{"light", "light"},
	{"fussy", "fussiness"},
	{"cried", "fussiness"},
	{"crying", "fussiness"},
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// closedToken returns s when it belongs to vocabulary and "other" otherwise.
func closedToken(s string, vocabulary map[string]struct{}) string {
	token := normalize(s)
	if _, ok := vocabulary[token]; ok {
		return token
	}
	return otherToken
}

func optionalToken(s string, vocabulary map[string]struct{}) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return closedToken(s, vocabulary)
}

// redactedToken replaces notes that already read like a placeholder.
const redactedToken = "[redacted]"

// redactNotes maps free text to a category token or a length-only placeholder.
func redactNotes(notes string) *string {
	trimmed := strings.TrimSpace(notes)
	if trimmed == "" {
		return nil
	}
	lowered := strings.ToLower(trimmed)
	out := fmt.Sprintf("[redacted:%d chars]", utf8.RuneCountInString(trimmed))
	for _, c := range noteCategories {
		if strings.Contains(lowered, c.keyword) {
			out = "category:" + c.category
			break
		}
	}
	if out == notes || out == trimmed {
		out = redactedToken
	}
	return &out
}
