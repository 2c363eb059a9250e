package extract

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// VendorSignal classifies a sender by which extraction strategy applies
type VendorSignal int

const (
	// VendorGeneric senders get plain-text pattern extraction
	VendorGeneric VendorSignal = iota
	// VendorMultiCategoryDelivery senders deliver both groceries and restaurant food
	VendorMultiCategoryDelivery
	// VendorStructuredMarkup senders expose item blocks in machine-parseable markup
	VendorStructuredMarkup
)

func (s VendorSignal) String() string {
	switch s {
	case VendorGeneric:
		return "generic"
	case VendorMultiCategoryDelivery:
		return "multi-category-delivery"
	case VendorStructuredMarkup:
		return "structured-markup"
	default:
		return "unknown"
	}
}

// UnmarshalYAML accepts the String form of a signal
func (s *VendorSignal) UnmarshalYAML(node *yaml.Node) error {
	var name string
	if err := node.Decode(&name); err != nil {
		return err
	}
	for _, candidate := range []VendorSignal{VendorGeneric, VendorMultiCategoryDelivery, VendorStructuredMarkup} {
		if candidate.String() == name {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown vendor signal: %q", name)
}

// VendorRule maps a sender fragment to a vendor signal
type VendorRule struct {
	// Match is a lower-case fragment of the sender address
	Match string `yaml:"match"`
	// Name is the display name used in vendor-qualified labels
	Name   string       `yaml:"name"`
	Signal VendorSignal `yaml:"signal"`
	// ReceiptMarker must appear in the subject before structured extraction runs
	ReceiptMarker string `yaml:"receipt_marker,omitempty"`
}

// Vendor is the resolved vendor for one email
type Vendor struct {
	Signal        VendorSignal
	Name          string
	ReceiptMarker string
}

// Rules holds the keyword tables that drive vendor dispatch, truncation and
// categorization. All entries are lower-case.
type Rules struct {
	GroceryStores   []string     `yaml:"grocery_stores"`
	DiningStores    []string     `yaml:"dining_stores"`
	GroceryKeywords []string     `yaml:"grocery_keywords"`
	DiningKeywords  []string     `yaml:"dining_keywords"`
	CutoffPhrases   []string     `yaml:"cutoff_phrases"`
	Vendors         []VendorRule `yaml:"vendors"`
}

// DefaultRules returns the built-in keyword tables
func DefaultRules() Rules {
	return Rules{
		GroceryStores: []string{
			"walmart", "loblaws", "costco", "tnt", "superstore", "no frills",
			"metro", "sobeys", "pc express", "save-on-foods", "freshco", "instacart",
		},
		DiningStores: []string{
			"mcdonalds", "kfc", "burger king", "subway", "pizza hut", "dominos",
			"a&w", "wendys", "taco bell", "popeyes", "doordash", "uber eats",
			"skip the dishes", "grubhub", "restaurant", "cafe", "bakery",
		},
		GroceryKeywords: []string{
			"produce", "dairy", "meat", "pantry", "frozen", "bakery",
			"household", "personal care", "beauty", "medicine", "snacks",
			"beverages", "drinks", "pasta", "rice", "cereal", "milk",
			"cheese", "yogurt", "bread", "eggs", "vegetables", "fruits",
			"baking", "cooking", "kitchen", "paper", "cups", "parchment",
			"foil", "wrap", "bags", "containers", "utensils", "tools",
		},
		DiningKeywords: []string{
			"combo", "meal", "burger", "sandwich", "pizza", "pasta",
			"soup", "salad", "appetizer", "entree", "dessert", "drink",
			"fries", "nuggets", "wings", "wrap", "bowl", "platter",
			"thali", "biryani", "curry", "naan", "roti", "dosa",
			"chicken strips", "buddy burger", "mcnuggets", "mcmuffin",
			"whopper", "big mac", "quarter pounder", "filet o fish",
			"mcflurry", "happy meal", "extra value meal", "value meal",
			"ramen", "gyoza", "dumpling", "shawarma", "banh mi",
			"tandoori", "mangalorean", "paneer", "pakora", "vada pav",
			"laksa", "udon", "noodles", "pho", "pad thai", "sushi",
			"roll", "maki", "sashimi", "teriyaki", "tempura",
		},
		CutoffPhrases: []string{
			"privacy policy",
			"download the app",
			"help center",
			"shop gift cards",
			"deliver with doordash",
			"©2025 doordash",
		},
		Vendors: []VendorRule{
			{Match: "instacart", Name: "Instacart", Signal: VendorStructuredMarkup, ReceiptMarker: "receipt"},
			{Match: "doordash", Name: "DoorDash", Signal: VendorMultiCategoryDelivery},
		},
	}
}

// LoadRules reads rules from a YAML file. Tables missing from the file keep
// their default values.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("reading rules: %w", err)
	}

	var override Rules
	if err := yaml.Unmarshal(data, &override); err != nil {
		return rules, fmt.Errorf("unmarshaling rules: %w", err)
	}

	merge := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = lowerAll(src)
		}
	}
	merge(&rules.GroceryStores, override.GroceryStores)
	merge(&rules.DiningStores, override.DiningStores)
	merge(&rules.GroceryKeywords, override.GroceryKeywords)
	merge(&rules.DiningKeywords, override.DiningKeywords)
	merge(&rules.CutoffPhrases, override.CutoffPhrases)
	if len(override.Vendors) > 0 {
		rules.Vendors = override.Vendors
		for i := range rules.Vendors {
			rules.Vendors[i].Match = strings.ToLower(rules.Vendors[i].Match)
			rules.Vendors[i].ReceiptMarker = strings.ToLower(rules.Vendors[i].ReceiptMarker)
		}
	}

	return rules, nil
}

// ResolveVendor classifies a sender address. The first matching vendor rule
// wins; senders matching no rule are generic.
func (r Rules) ResolveVendor(from string) Vendor {
	from = strings.ToLower(from)
	for _, v := range r.Vendors {
		if v.Match != "" && strings.Contains(from, v.Match) {
			return Vendor{Signal: v.Signal, Name: v.Name, ReceiptMarker: v.ReceiptMarker}
		}
	}
	return Vendor{Signal: VendorGeneric}
}

// firstContained returns the first keyword contained in s, which must already
// be lower-case
func firstContained(s string, keywords []string) (string, bool) {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return k, true
		}
	}
	return "", false
}

func containsAny(s string, keywords []string) bool {
	_, found := firstContained(s, keywords)
	return found
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
