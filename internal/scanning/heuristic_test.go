package scanning

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("ParseText", func() {
	var (
		text  string
		today time.Time
		draft *ReceiptDraft
	)

	BeforeEach(func() {
		today = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	})

	JustBeforeEach(func() {
		draft = ParseText(text, today)
	})

	When("parsing a simple cafe receipt", func() {
		BeforeEach(func() {
			text = strings.Join([]string{
				"Corner Cafe",
				"03/14/2024",
				"Coffee $3.50",
				"Tax $0.50",
				"Total $4.00",
			}, "\n")
		})

		It("keeps the printed date", func() {
			Expect(draft.Date).To(Equal("03/14/2024"))
		})

		It("takes the largest price as the total", func() {
			Expect(draft.TotalAmount.Equal(decimal.RequireFromString("4.00"))).To(BeTrue())
		})

		It("drops the total line from the items", func() {
			Expect(draft.Items).To(HaveLen(2))
			Expect(draft.Items[0].Description).To(Equal("Coffee"))
			Expect(draft.Items[0].Amount.StringFixed(2)).To(Equal("3.50"))
			Expect(draft.Items[1].Description).To(Equal("Tax"))
			Expect(draft.Items[1].Amount.StringFixed(2)).To(Equal("0.50"))
		})

		It("uses the first plain line as the description", func() {
			Expect(draft.Description).To(Equal("Corner Cafe"))
		})
	})

	When("the text is empty", func() {
		BeforeEach(func() {
			text = ""
		})

		It("falls back to defaults", func() {
			Expect(draft.Date).To(Equal("2024-06-01"))
			Expect(draft.Description).To(Equal(UnknownVendor))
			Expect(draft.TotalAmount.IsZero()).To(BeTrue())
			Expect(draft.Items).To(BeEmpty())
		})
	})

	When("the date uses ISO format", func() {
		BeforeEach(func() {
			text = "Grocer\nDate: 2024-02-29\nMilk 2.49\nTOTAL 2.49"
		})

		It("finds the date inside the line", func() {
			Expect(draft.Date).To(Equal("2024-02-29"))
		})

		It("drops every line tied at the maximum", func() {
			Expect(draft.Items).To(BeEmpty())
			Expect(draft.TotalAmount.StringFixed(2)).To(Equal("2.49"))
		})
	})

	When("the only unpriced lines carry a currency marker", func() {
		BeforeEach(func() {
			text = "$ SALE $\nWidget $5.00"
		})

		It("uses the placeholder description", func() {
			Expect(draft.Description).To(Equal(UnknownVendor))
		})
	})

	When("a line is surrounded by whitespace", func() {
		BeforeEach(func() {
			text = "   \n\t Hardware   Store \t\nNails   $1.25 each\nTotal $9.99"
		})

		It("trims the description", func() {
			Expect(draft.Description).To(Equal("Hardware   Store"))
		})

		It("collapses the item description around the removed price", func() {
			Expect(draft.Items).To(HaveLen(1))
			Expect(draft.Items[0].Description).To(Equal("Nails each"))
		})
	})

	It("never panics and always fills date and description", func() {
		inputs := []string{
			"", "\n\n\n", "$", "$$$.$$", "12/34/5678", "0.00", "Total $0.00",
			"9999999999999999999999.99", "line\r\nother\r\n$1.00\r\n",
		}
		for _, in := range inputs {
			d := ParseText(in, today)
			Expect(d).NotTo(BeNil())
			Expect(d.Date).NotTo(BeEmpty())
			Expect(d.Description).NotTo(BeEmpty())
		}
	})
})

var _ = Describe("FilterBelow", func() {
	items := []LineItem{
		{Description: "a", Amount: decimal.RequireFromString("1.00")},
		{Description: "b", Amount: decimal.RequireFromString("4.00")},
		{Description: "c", Amount: decimal.RequireFromString("2.50")},
		{Description: "d", Amount: decimal.RequireFromString("4.00")},
	}
	max := decimal.RequireFromString("4.00")

	It("keeps only items strictly below the maximum, in order", func() {
		kept := FilterBelow(items, max)
		Expect(kept).To(HaveLen(2))
		Expect(kept[0].Description).To(Equal("a"))
		Expect(kept[1].Description).To(Equal("c"))
	})

	It("is idempotent", func() {
		once := FilterBelow(items, max)
		twice := FilterBelow(once, max)
		Expect(twice).To(Equal(once))
	})

	It("does not modify its input", func() {
		_ = FilterBelow(items, max)
		Expect(items).To(HaveLen(4))
	})
})
