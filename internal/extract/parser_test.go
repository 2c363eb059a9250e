package extract

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const instacartReceipt = `<html><body>
<h1>Your Instacart receipt</h1>
<div class="item-name">Red Bull Watermelon Energy Drink<span>(4 x 250 ml)</span><span>1 x $8.99</span></div>
<table>
<tr><td>Items Subtotal</td><td>$8.99</td></tr>
<tr><td>Total charged (CAD)</td><td>$8.99</td></tr>
</table>
<p>Privacy Policy</p>
</body></html>`

const doordashReceipt = `Your order from Mario's Pizza
1x Large Pepperoni Pizza
$15.00
Subtotal
$15.00
Taxes
$1.95
Total
$16.95
Privacy Policy
Total
$99.00`

var _ = Describe("Parser", func() {
	var (
		parser *Parser
		email  RawEmail
		order  *ParsedOrder
		err    error
	)

	BeforeEach(func() {
		parser = NewParser(LoadCatalog("testdata/brands.json"))
	})

	JustBeforeEach(func() {
		order, err = parser.Parse(email)
	})

	When("parsing a structured-markup receipt", func() {
		BeforeEach(func() {
			email = RawEmail{
				From:     "Instacart <orders@instacart.ca>",
				Subject:  "Your Instacart receipt",
				HTMLBody: instacartReceipt,
			}
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should extract the item with its catalog brand", func() {
			Expect(order.Items).To(HaveLen(1))
			item := order.Items[0]
			Expect(item.Brand).To(Equal("Red Bull"))
			Expect(item.Name).To(Equal("watermelon energy drink"))
			Expect(item.Quantity).To(Equal(1))
			Expect(item.UnitPrice.String()).To(Equal("8.99"))
		})

		It("should read the totals from the markup", func() {
			total, found := order.Totals.Get(FieldTotal)
			Expect(found).To(BeTrue())
			Expect(total.String()).To(Equal("8.99"))
		})

		It("should categorize the order as groceries from the sender", func() {
			Expect(order.Category).To(Equal(CategoryGrocery))
			Expect(order.StoreName).To(Equal("Instacart"))
		})

		It("should be actionable", func() {
			Expect(order.Actionable()).To(BeTrue())
		})
	})

	When("a structured-markup sender sends something other than a receipt", func() {
		BeforeEach(func() {
			email = RawEmail{
				From:     "Instacart <orders@instacart.ca>",
				Subject:  "Your delivery is on its way",
				HTMLBody: instacartReceipt,
			}
		})

		It("should extract no items", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(order.Items).To(BeEmpty())
			Expect(order.Actionable()).To(BeFalse())
		})
	})

	When("parsing a restaurant delivery", func() {
		BeforeEach(func() {
			email = RawEmail{
				From:    "DoorDash <no-reply@doordash.com>",
				Subject: "Your order from Mario's Pizza is ready",
				Body:    doordashReceipt,
			}
		})

		It("should be a dining order named after the restaurant", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(order.Category).To(Equal(CategoryDining))
			Expect(order.StoreName).To(Equal("Mario's Pizza"))
		})

		It("should brand items with the restaurant", func() {
			Expect(order.Items).To(HaveLen(1))
			Expect(order.Items[0].Brand).To(Equal("Mario's Pizza"))
			Expect(order.Items[0].Name).To(Equal("Large Pepperoni Pizza"))
			Expect(order.Items[0].UnitPrice.String()).To(Equal("15"))
		})

		It("should ignore amounts after the footer", func() {
			total, found := order.Totals.Get(FieldTotal)
			Expect(found).To(BeTrue())
			Expect(total.String()).To(Equal("16.95"))
		})

		It("should read subtotal and tax", func() {
			subtotal, _ := order.Totals.Get(FieldSubtotal)
			tax, _ := order.Totals.Get(FieldTax)
			Expect(subtotal.String()).To(Equal("15"))
			Expect(tax.String()).To(Equal("1.95"))
		})
	})

	When("parsing an html-only generic receipt", func() {
		BeforeEach(func() {
			email = RawEmail{
				From:     "Walmart <orders@walmart.com>",
				Subject:  "Your Walmart order",
				HTMLBody: "<table><tr><td>2x Coca-Cola Classic</td></tr><tr><td>$2.49</td></tr></table><p>Order total $4.98</p>",
			}
		})

		It("should fall back to the html body", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(order.Items).To(HaveLen(1))
			Expect(order.Items[0].Brand).To(Equal("Coca-Cola"))
			Expect(order.Items[0].Quantity).To(Equal(2))
			Expect(order.StoreName).To(Equal("Walmart"))
		})

		It("should read the generic total", func() {
			total, found := order.Totals.Get(FieldTotal)
			Expect(found).To(BeTrue())
			Expect(total.String()).To(Equal("4.98"))
		})
	})

	When("parsing an empty email", func() {
		BeforeEach(func() {
			email = RawEmail{}
		})

		It("should return an unknown order without an error", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(order.Category).To(Equal(CategoryUnknown))
			Expect(order.Items).To(BeEmpty())
			Expect(order.Totals).To(BeEmpty())
			Expect(order.StoreName).To(BeEmpty())
		})
	})

	When("nothing identifies the email", func() {
		BeforeEach(func() {
			email = RawEmail{From: "friend@example.com", Subject: "lunch?", Body: "see you at noon"}
		})

		It("should lean towards groceries", func() {
			Expect(order.Category).To(Equal(CategoryGrocery))
			Expect(order.StoreName).To(Equal(UnknownGroceryStore))
		})
	})

	It("should return the same order for the same email", func() {
		email := RawEmail{
			From:    "no-reply@doordash.com",
			Subject: "Your order from Mario's Pizza is ready",
			Body:    doordashReceipt,
		}
		first, err := parser.Parse(email)
		Expect(err).NotTo(HaveOccurred())
		second, err := parser.Parse(email)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
	})

	It("should treat a nil catalog as empty", func() {
		Expect(NewParser(nil).Catalog().Len()).To(BeZero())
	})

	It("should use custom rules", func() {
		rules, err := LoadRules("testdata/rules.yaml")
		Expect(err).NotTo(HaveOccurred())
		p := NewParser(EmptyCatalog(), WithRules(rules))

		order, err := p.Parse(RawEmail{From: "receipts@farmboy.ca", Subject: "Farm Boy receipt", Body: "1x apples\n$3.00"})
		Expect(err).NotTo(HaveOccurred())
		Expect(order.Category).To(Equal(CategoryGrocery))
		Expect(order.StoreName).To(Equal("Farm Boy"))
	})
})
