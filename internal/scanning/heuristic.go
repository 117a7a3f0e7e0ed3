package scanning

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UnknownVendor is the description used when no vendor line is recognized
const UnknownVendor = "Unknown Vendor"

var (
	datePattern  = regexp.MustCompile(`\b(\d{2}/\d{2}/\d{4}|\d{4}-\d{2}-\d{2})\b`)
	pricePattern = regexp.MustCompile(`\$?(\d+\.\d{2})`)
)

// ParseText derives a draft from raw OCR text, one line at a time.
//
// The first date-looking line sets the date (kept as printed), every priced line becomes a
// candidate item, and the first plain line becomes the vendor description. The largest price
// seen is taken as the receipt total and dropped from the items afterwards. This is a naive
// baseline: ties at the maximum are all dropped and a large item can masquerade as the total.
// The review form is where those mistakes get corrected.
//
// ParseText never fails; missing fields fall back to today's date, UnknownVendor and a zero total.
func ParseText(text string, today time.Time) *ReceiptDraft {
	var (
		date, description string
		maxAmount         = decimal.Zero
		candidates        []LineItem
	)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		dateMatch := datePattern.FindString(line)
		if date == "" && dateMatch != "" {
			date = dateMatch
		}

		if loc := pricePattern.FindStringSubmatchIndex(line); loc != nil {
			amount, err := decimal.NewFromString(line[loc[2]:loc[3]])
			if err == nil {
				if amount.GreaterThan(maxAmount) {
					maxAmount = amount
				}
				candidates = append(candidates, LineItem{
					Description: collapseSpaces(line[:loc[0]] + " " + line[loc[1]:]),
					Amount:      amount,
				})
			}
			continue
		}

		if description == "" && dateMatch == "" && !strings.Contains(line, "$") {
			description = line
		}
	}

	if date == "" {
		date = today.Format(isoDate)
	}
	if description == "" {
		description = UnknownVendor
	}

	return &ReceiptDraft{
		Description: description,
		TotalAmount: maxAmount,
		Date:        date,
		Items:       FilterBelow(candidates, maxAmount),
	}
}

// FilterBelow keeps the items priced strictly below max, preserving order
func FilterBelow(items []LineItem, max decimal.Decimal) []LineItem {
	kept := make([]LineItem, 0, len(items))
	for _, item := range items {
		if item.Amount.LessThan(max) {
			kept = append(kept, item)
		}
	}
	return kept
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
