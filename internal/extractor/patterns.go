package extractor

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/models"
)

var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:amount|sum|value|total|paid|payment|deposit|transfer|credit(?:ed)?)[\s:]*(?:ngn|naira|₦|n)\s*([\d,]+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)(?:ngn|naira|₦)\s*([\d,]+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)([\d,]+(?:\.\d+)?)\s*(?:naira|ngn)\b`),
	// N5,000.00 shorthand
	regexp.MustCompile(`\bN\s?(\d{1,3}(?:,\d{3})+(?:\.\d{2})?|\d+\.\d{2})\b`),
}

// MinPlausibleAmount is the smallest bare figure the fallback strategy takes
// for a payment amount. Smaller numbers are dates, times or counters.
const MinPlausibleAmount = 10

var looseAmountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:amount|sum|total|paid|credit(?:ed)?)\D{0,20}?(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)`),
	// the figure must stand alone, so 01.03.2024 and 10.30.15 never match
	regexp.MustCompile(`(?:^|[^\d.,])(\d{1,3}(?:,\d{3})+(?:\.\d{2})?|\d+\.\d{2})(?:$|[^\d.,]|[.,](?:$|\D))`),
}

var namePatterns = []*regexp.Regexp{
	// 0123456789-JOHN DOE TRF FOR ...
	regexp.MustCompile(`\d+\s*-\s*([A-Z][A-Z ]{2,}?)\s+(?:TRF|TRANSFER)\b`),
	regexp.MustCompile(`(?i)\bfrom\s+([a-z][a-z .'-]+?)\s+to\b`),
	regexp.MustCompile(`(?im)\btransfer\s+from\s+([a-z][a-z .'-]{2,}?)\s*(?:/|,|-|\bref\b|$)`),
	regexp.MustCompile(`(?im)^\s*(?:remarks?|narration|description)\s*:?\s*(.+)$`),
	regexp.MustCompile(`(?im)(?:sender(?:\s*name)?|payer|depositor|originator|account\s*name|from)\s*:\s*(.+)$`),
}

var accountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:account\s*(?:number|no\.?|#)|a/c(?:\s*no\.?)?|acct(?:\s*no\.?)?)\s*:?\s*(\d{6,})`),
}

var paymentKeywords = regexp.MustCompile(`(?i)credit|amount|transfer|deposit|payment|received|ngn|naira|₦`)

var (
	amountLabels  = []string{"amount", "transaction amount", "credit amount", "amount credited", "sum", "value", "total"}
	nameLabels    = []string{"sender", "sender name", "from", "payer", "depositor", "originator", "account name", "remitter"}
	remarkLabels  = []string{"description", "narration", "remarks", "remark"}
	accountLabels = []string{"account number", "account no", "account no.", "account", "a/c", "acct", "acct no"}
)

// fields is what a strategy managed to pull out of a body
type fields struct {
	amount  *decimal.Decimal
	name    string
	account string
	bank    string
}

func (f *fields) merge(other fields) {
	if f.amount == nil && other.amount != nil {
		f.amount = other.amount
	}
	if f.name == "" {
		f.name = other.name
	}
	if f.account == "" {
		f.account = other.account
	}
}

func (f fields) empty() bool {
	return f.amount == nil && f.name == "" && f.account == ""
}

// firstAmount returns the first capture of any pattern that parses as a positive amount
func firstAmount(text string, patterns []*regexp.Regexp) *decimal.Decimal {
	return firstAmountAtLeast(text, patterns, decimal.Zero)
}

// firstAmountAtLeast is firstAmount ignoring figures below min
func firstAmountAtLeast(text string, patterns []*regexp.Regexp, min decimal.Decimal) *decimal.Decimal {
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if d, err := models.ParseAmount(m[1]); err == nil && d.GreaterThanOrEqual(min) {
				return &d
			}
		}
	}
	return nil
}

func firstName(text string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if name := nameFromCapture(m[1]); name != "" {
				return name
			}
		}
	}
	return ""
}

// nameFromCapture cleans a capture, looking inside bank description strings first
func nameFromCapture(capture string) string {
	if m := namePatterns[0].FindStringSubmatch(capture); m != nil {
		if name := cleanName(m[1]); name != "" {
			return name
		}
	}
	if m := namePatterns[2].FindStringSubmatch(capture); m != nil {
		if name := cleanName(m[1]); name != "" {
			return name
		}
	}
	return cleanName(capture)
}

func firstAccount(text string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if acc := models.NormalizeAccountNumber(m[1]); acc != "" {
				return acc
			}
		}
	}
	return ""
}

// scanText applies the generic patterns to a plain-text rendering
func scanText(text string) fields {
	return fields{
		amount:  firstAmount(text, amountPatterns),
		name:    firstName(text, namePatterns),
		account: firstAccount(text, accountPatterns),
	}
}

// labelMatches reports whether a table label names one of the wanted fields;
// "amount" matches "Amount:" and "Amount (NGN)" but not "Amount Due Date"
func labelMatches(label string, wanted []string) bool {
	label = strings.ToLower(strings.TrimSpace(strings.TrimRight(strings.TrimSpace(label), ":")))
	for _, w := range wanted {
		if label == w || strings.HasPrefix(label, w+" (") || strings.HasPrefix(label, w+":") {
			return true
		}
	}
	return false
}

// scanRows pulls fields out of label/value table rows. The label is the first
// cell and the value the last.
func scanRows(rows [][]string, amountL, nameL, accountL []string) fields {
	var f fields
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		label, value := row[0], row[len(row)-1]
		switch {
		case f.amount == nil && labelMatches(label, amountL):
			if d, err := models.ParseAmount(value); err == nil {
				f.amount = &d
			} else {
				f.amount = firstAmount(value, amountPatterns)
			}
		case f.name == "" && labelMatches(label, nameL):
			f.name = nameFromCapture(value)
		case f.account == "" && labelMatches(label, accountL):
			if acc := models.NormalizeAccountNumber(value); len(acc) >= 6 && !strings.ContainsAny(value, "*xX") {
				f.account = acc
			}
		}
	}
	return f
}
