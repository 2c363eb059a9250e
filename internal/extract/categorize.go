package extract

import (
	"strings"
)

// UnknownGroceryStore is the store name for grocery orders with no recognizable store
const UnknownGroceryStore = "Unknown Grocery Store"

var restaurantMarkers = []string{" from ", "order from "}

// restaurantStatusSuffixes trail the restaurant name in delivery subjects
var restaurantStatusSuffixes = []string{" is ready", " confirmed", " order"}

// Categorize decides whether an order is groceries or dining. Sender and
// subject signals are checked first, in order; only when none applies do the
// item keywords vote.
func (p *Parser) Categorize(items []LineItem, from, subject string) Category {
	fromLower := strings.ToLower(from)
	subjectLower := strings.ToLower(subject)

	if p.rules.ResolveVendor(from).Signal == VendorMultiCategoryDelivery {
		if containsAny(subjectLower, p.rules.GroceryStores) {
			return CategoryGrocery
		}
		return CategoryDining
	}

	switch {
	case containsAny(fromLower, p.rules.GroceryStores):
		return CategoryGrocery
	case containsAny(fromLower, p.rules.DiningStores):
		return CategoryDining
	case containsAny(subjectLower, p.rules.GroceryStores):
		return CategoryGrocery
	case containsAny(subjectLower, p.rules.DiningStores):
		return CategoryDining
	}

	var grocery, dining int
	for _, item := range items {
		for _, field := range []string{strings.ToLower(item.Name), strings.ToLower(item.Brand)} {
			if containsAny(field, p.rules.GroceryKeywords) {
				grocery++
			}
			if containsAny(field, p.rules.DiningKeywords) {
				dining++
			}
		}
	}

	switch {
	case grocery > dining:
		return CategoryGrocery
	case dining > grocery:
		return CategoryDining
	}

	if len(items) == 0 && from == "" && subject == "" {
		return CategoryUnknown
	}
	// Ties lean towards groceries, the main kind of receipt tracked.
	return CategoryGrocery
}

// ResolveStoreName names the store or restaurant an order came from
func (p *Parser) ResolveStoreName(category Category, from, subject string) string {
	switch category {
	case CategoryGrocery:
		if store, found := firstContained(strings.ToLower(from), p.rules.GroceryStores); found {
			return titleCase(store)
		}
		if store, found := firstContained(strings.ToLower(subject), p.rules.GroceryStores); found {
			return titleCase(store)
		}
		if vendor := p.rules.ResolveVendor(from); vendor.Signal == VendorMultiCategoryDelivery {
			return vendor.Name + " Grocery"
		}
		return UnknownGroceryStore
	case CategoryDining:
		return RestaurantFromSubject(subject)
	default:
		return ""
	}
}

// RestaurantFromSubject pulls the restaurant out of subjects like
// "Your order from Mario's Pizza is ready". It returns "" when the subject
// names no restaurant.
func RestaurantFromSubject(subject string) string {
	lower := strings.ToLower(subject)
	for _, marker := range restaurantMarkers {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		// Lower-casing can change byte offsets outside ASCII
		if len(lower) != len(subject) {
			idx = strings.Index(subject, marker)
			if idx < 0 {
				continue
			}
		}
		return trimRestaurantStatus(subject[idx+len(marker):])
	}
	return ""
}

func trimRestaurantStatus(name string) string {
	name = strings.TrimRight(strings.TrimSpace(name), "!.")
	for trimmed := true; trimmed; {
		trimmed = false
		for _, suffix := range restaurantStatusSuffixes {
			if len(name) >= len(suffix) && strings.EqualFold(name[len(name)-len(suffix):], suffix) {
				name = strings.TrimRight(strings.TrimSpace(name[:len(name)-len(suffix)]), "!.")
				trimmed = true
			}
		}
	}
	return strings.TrimSpace(name)
}
