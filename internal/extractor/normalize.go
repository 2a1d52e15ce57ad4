package extractor

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var honorifics = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "miss": true, "dr": true, "prof": true,
	"eng": true, "engr": true, "chief": true, "alhaji": true, "alhaja": true, "nt": true,
}

var nameStopWords = map[string]bool{
	"account": true, "your": true, "bank": true, "transfer": true, "payment": true,
	"alert": true, "notification": true, "transaction": true, "credit": true, "debit": true,
}

// NormalizeName trims, lowercases, folds diacritics and collapses internal
// whitespace. It is used for both extracted names and payer hints so that
// similarity scoring compares like with like.
func NormalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// cleanName turns a raw captured name into a normalised one, or "" when the
// capture does not look like a person or business name
func cleanName(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "@") {
		return ""
	}

	// cut at the first character that cannot be part of a name
	end := len(raw)
	for i, r := range raw {
		if !(unicode.IsLetter(r) || unicode.IsSpace(r) || r == '.' || r == '\'' || r == '-') {
			end = i
			break
		}
	}
	name := NormalizeName(strings.Trim(raw[:end], " .-'"))

	tokens := strings.Fields(name)
	for len(tokens) > 0 && honorifics[strings.TrimSuffix(tokens[0], ".")] {
		tokens = tokens[1:]
	}
	for _, tok := range tokens {
		if nameStopWords[tok] {
			return ""
		}
	}
	name = strings.Join(tokens, " ")
	if len([]rune(name)) < 3 {
		return ""
	}
	return name
}
