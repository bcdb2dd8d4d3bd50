package conversation

import "regexp"

// Lightweight entity extraction applied while collecting info. Best effort
// only: a turn with no match simply contributes no entity.
var (
	datePattern   = regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{4}|\d{4}-\d{1,2}-\d{1,2})\b`)
	amountPattern = regexp.MustCompile(`(?:₹|Rs\.?\s*|INR\s*)(\d+(?:,\d{3})*(?:\.\d+)?)`)
)

// ExtractEntities pulls date-like and currency-prefixed substrings out of a
// raw message.
func ExtractEntities(text string) map[string]string {
	entities := make(map[string]string)
	if match := datePattern.FindString(text); match != "" {
		entities["date"] = match
	}
	if match := amountPattern.FindStringSubmatch(text); match != nil {
		entities["amount"] = match[1]
	}
	return entities
}
