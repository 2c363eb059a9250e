package extract

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Catalog", func() {
	var catalog *Catalog

	BeforeEach(func() {
		catalog = NewCatalog(map[string][]string{
			"beverages": {"Red Bull", "Pres", "Coca-Cola"},
			"pantry":    {"President's Choice", "Kraft", "Kraft Heinz"},
			"dairy":     {"Kraft", " "},
		})
	})

	Describe("Brands", func() {
		It("should deduplicate brands", func() {
			Expect(catalog.Len()).To(Equal(6))
		})

		It("should order brands longest first", func() {
			Expect(catalog.Brands()).To(Equal([]string{
				"President's Choice", "Kraft Heinz", "Coca-Cola", "Red Bull", "Kraft", "Pres",
			}))
		})

		It("should list categories in order", func() {
			Expect(catalog.Categories()).To(Equal([]string{"beverages", "dairy", "pantry"}))
		})
	})

	Describe("Segment", func() {
		var (
			phrase string
			brand  string
			name   string
		)

		JustBeforeEach(func() {
			brand, name = catalog.Segment(phrase)
		})

		When("a longer brand shares a prefix with a shorter one", func() {
			BeforeEach(func() {
				phrase = "President's Choice Smooth Peanut Butter"
			})

			It("should pick the longer brand", func() {
				Expect(brand).To(Equal("President's Choice"))
			})

			It("should return the lower-case remainder as the name", func() {
				Expect(name).To(Equal("smooth peanut butter"))
			})
		})

		When("the phrase uses a typographic apostrophe", func() {
			BeforeEach(func() {
				phrase = "PRESIDENT’S CHOICE Ketchup"
			})

			It("should still match the catalog brand", func() {
				Expect(brand).To(Equal("President's Choice"))
				Expect(name).To(Equal("ketchup"))
			})
		})

		When("two brands share a word", func() {
			BeforeEach(func() {
				phrase = "kraft heinz mac and cheese"
			})

			It("should prefer the more specific brand", func() {
				Expect(brand).To(Equal("Kraft Heinz"))
				Expect(name).To(Equal("mac and cheese"))
			})
		})

		When("no brand matches", func() {
			BeforeEach(func() {
				phrase = "organic bananas bunch"
			})

			It("should use the first word as a title-cased brand", func() {
				Expect(brand).To(Equal("Organic"))
			})

			It("should title-case the rest as the name", func() {
				Expect(name).To(Equal("Bananas Bunch"))
			})
		})

		When("the phrase is a single unmatched word", func() {
			BeforeEach(func() {
				phrase = "bananas"
			})

			It("should use the Unknown brand", func() {
				Expect(brand).To(Equal(UnknownBrand))
				Expect(name).To(Equal("Bananas"))
			})
		})
	})

	Describe("longest match invariant", func() {
		It("never returns a brand that is a prefix of a longer matching brand", func() {
			brands := catalog.Brands()
			for _, long := range brands {
				for _, short := range brands {
					if long == short || len(short) >= len(long) {
						continue
					}
					got, _ := catalog.Segment(long + " item")
					Expect(got).NotTo(Equal(short), "segmenting %q", long)
				}
			}
		})
	})
})

var _ = Describe("LoadCatalog", func() {
	It("should load a json taxonomy", func() {
		catalog := LoadCatalog("testdata/brands.json")
		Expect(catalog.Len()).To(Equal(7))
		brand, name := catalog.Segment("red bull sugar free")
		Expect(brand).To(Equal("Red Bull"))
		Expect(name).To(Equal("sugar free"))
	})

	It("should load a yaml taxonomy", func() {
		catalog := LoadCatalog("testdata/brands.yaml")
		Expect(catalog.Brands()).To(ConsistOf("Lay's", "Doritos"))
	})

	It("should degrade to an empty catalog when the file is missing", func() {
		catalog := LoadCatalog("testdata/missing.json")
		Expect(catalog.Len()).To(BeZero())
	})

	It("should degrade to an empty catalog when the file is malformed", func() {
		catalog := LoadCatalog("testdata/broken.json")
		Expect(catalog.Len()).To(BeZero())
	})

	It("should degrade to an empty catalog when no path is given", func() {
		Expect(LoadCatalog("").Len()).To(BeZero())
	})
})
