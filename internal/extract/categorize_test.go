package extract

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Categorize", func() {
	var parser *Parser

	BeforeEach(func() {
		parser = NewParser(EmptyCatalog())
	})

	Context("for multi-category delivery senders", func() {
		It("should be grocery when the subject names a grocery store", func() {
			Expect(parser.Categorize(nil, "no-reply@doordash.com", "Your Walmart order")).To(Equal(CategoryGrocery))
		})

		It("should be dining otherwise, whatever the items say", func() {
			items := []LineItem{{Brand: "Natrel", Name: "milk"}}
			Expect(parser.Categorize(items, "no-reply@doordash.com", "Your order from Thai Express")).To(Equal(CategoryDining))
		})
	})

	It("should use a grocery sender", func() {
		Expect(parser.Categorize(nil, "orders@walmart.com", "")).To(Equal(CategoryGrocery))
	})

	It("should use a dining sender", func() {
		Expect(parser.Categorize(nil, "receipts@mcdonalds.ca", "")).To(Equal(CategoryDining))
	})

	It("should check the sender before the subject", func() {
		Expect(parser.Categorize(nil, "orders@walmart.com", "Subway gift card")).To(Equal(CategoryGrocery))
	})

	It("should use a grocery subject", func() {
		Expect(parser.Categorize(nil, "", "Your Costco order")).To(Equal(CategoryGrocery))
	})

	It("should use a dining subject", func() {
		Expect(parser.Categorize(nil, "orders@example.com", "Your KFC order")).To(Equal(CategoryDining))
	})

	Context("when only item keywords are available", func() {
		const from, subject = "orders@example.com", "Your receipt"

		It("should be grocery when grocery keywords win", func() {
			items := []LineItem{{Brand: "Natrel", Name: "milk 2%"}, {Brand: "Dempsters", Name: "bread"}}
			Expect(parser.Categorize(items, from, subject)).To(Equal(CategoryGrocery))
		})

		It("should be dining when dining keywords win", func() {
			items := []LineItem{{Brand: UnknownBrand, Name: "beef ramen bowl"}}
			Expect(parser.Categorize(items, from, subject)).To(Equal(CategoryDining))
		})

		It("should count a field once even when it holds several keywords", func() {
			items := []LineItem{
				{Brand: "Ichiban", Name: "ramen udon gyoza"},
				{Brand: "Natrel", Name: "milk"},
				{Brand: "Dempsters", Name: "bread"},
			}
			Expect(parser.Categorize(items, from, subject)).To(Equal(CategoryGrocery))
		})

		It("should lean towards grocery on a tie", func() {
			items := []LineItem{{Brand: "Barilla", Name: "pasta"}}
			Expect(parser.Categorize(items, from, subject)).To(Equal(CategoryGrocery))
		})
	})

	It("should be grocery when nothing matches but the email has a sender", func() {
		Expect(parser.Categorize(nil, "someone@example.com", "hello")).To(Equal(CategoryGrocery))
	})

	It("should be unknown for an empty email", func() {
		Expect(parser.Categorize(nil, "", "")).To(Equal(CategoryUnknown))
	})
})

var _ = Describe("ResolveStoreName", func() {
	var parser *Parser

	BeforeEach(func() {
		parser = NewParser(EmptyCatalog())
	})

	It("should name the grocery store from the sender", func() {
		Expect(parser.ResolveStoreName(CategoryGrocery, "orders@walmart.com", "")).To(Equal("Walmart"))
	})

	It("should name the grocery store from the subject", func() {
		Expect(parser.ResolveStoreName(CategoryGrocery, "no-reply@doordash.com", "Your Loblaws order")).To(Equal("Loblaws"))
	})

	It("should fall back to the delivery vendor", func() {
		Expect(parser.ResolveStoreName(CategoryGrocery, "no-reply@doordash.com", "Your order")).To(Equal("DoorDash Grocery"))
	})

	It("should fall back to an unknown grocery store", func() {
		Expect(parser.ResolveStoreName(CategoryGrocery, "orders@example.com", "Your order")).To(Equal(UnknownGroceryStore))
	})

	It("should name the restaurant for dining orders", func() {
		Expect(parser.ResolveStoreName(CategoryDining, "no-reply@doordash.com", "Your order from Mario's Pizza is ready")).To(Equal("Mario's Pizza"))
	})

	It("should be empty for unknown orders", func() {
		Expect(parser.ResolveStoreName(CategoryUnknown, "orders@walmart.com", "")).To(BeEmpty())
	})
})

var _ = Describe("RestaurantFromSubject", func() {
	DescribeTable("subjects",
		func(subject, expected string) {
			Expect(RestaurantFromSubject(subject)).To(Equal(expected))
		},
		Entry("status suffix", "Your order from Mario's Pizza is ready", "Mario's Pizza"),
		Entry("trailing punctuation", "Order confirmed from Tim Hortons!", "Tim Hortons"),
		Entry("stacked suffixes", "Your DoorDash order from Sushi Place Order Confirmed.", "Sushi Place"),
		Entry("original casing", "Order from BURGER PRIEST", "BURGER PRIEST"),
		Entry("no marker", "Your receipt", ""),
	)
})
