// Package extractor parses listing and detail pages into normalized
// item records. All functions are pure: they read an already-parsed
// document and perform no I/O.
package extractor

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/crawlkit/catalog-crawler/internal/catalog"
)

// RatingUnknown is recorded when a listing item carries no recognized
// rating label.
const RatingUnknown = "Unknown"

// ratingLabels is the fixed ordinal vocabulary; position+1 is the star
// count.
var ratingLabels = []string{"One", "Two", "Three", "Four", "Five"}

// detailKeys maps attribute-table keys to ProcessedItem fields by
// case-insensitive substring. The first matching row wins; a row with an
// exclude term is skipped when the key also contains that term, which
// keeps plain "Tax" from swallowing the tax-inclusive/exclusive price
// rows.
var detailKeys = []struct {
	substr  string
	exclude string
	assign  func(*catalog.ItemDetail, string)
}{
	{"price (excl. tax)", "", func(d *catalog.ItemDetail, v string) { d.PriceExclTax = v }},
	{"price (incl. tax)", "", func(d *catalog.ItemDetail, v string) { d.PriceInclTax = v }},
	{"availability", "", func(d *catalog.ItemDetail, v string) { d.Availability = v }},
	{"product type", "", func(d *catalog.ItemDetail, v string) { d.ProductType = v }},
	{"upc", "", func(d *catalog.ItemDetail, v string) { d.UPC = v }},
	{"number of reviews", "", func(d *catalog.ItemDetail, v string) { d.ReviewCount = v }},
	{"tax", "price", func(d *catalog.ItemDetail, v string) { d.Tax = v }},
}

// Listing scans the page for item containers and returns one summary per
// complete item. Items missing a title, detail URL, or image URL are
// dropped silently.
func Listing(doc *goquery.Document, pageURL, baseURL string) []catalog.ItemSummary {
	var items []catalog.ItemSummary
	doc.Find("article.product_pod").Each(func(_ int, s *goquery.Selection) {
		item := catalog.ItemSummary{PageURL: pageURL}

		if src, ok := s.Find("img").First().Attr("src"); ok && src != "" {
			item.ImageURL = resolveURL(baseURL, src)
		}
		link := s.Find("h3 a").First()
		item.Title = strings.TrimSpace(link.AttrOr("title", ""))
		if href, ok := link.Attr("href"); ok && href != "" {
			item.ItemURL = resolveURL(pageURL, href)
		}
		item.Price = strings.TrimSpace(s.Find("p.price_color").First().Text())
		item.StockStatus = normalizeSpace(s.Find("p.instock").First().Text())
		item.Rating = ratingLabel(s.Find("p.star-rating").First())

		if item.Title == "" || item.ItemURL == "" || item.ImageURL == "" {
			return
		}
		items = append(items, item)
	})
	return items
}

// NextPageURL returns the absolute URL of the pagination control's next
// link, or "" when the page has none.
func NextPageURL(doc *goquery.Document, currentURL string) string {
	href, ok := doc.Find("li.next a").First().Attr("href")
	if !ok || href == "" {
		return ""
	}
	return resolveURL(currentURL, href)
}

// Detail reads the item detail page. Absent fields stay empty; the star
// count defaults to 0 when no rating indicator is present.
func Detail(doc *goquery.Document, itemURL string) catalog.ItemDetail {
	var d catalog.ItemDetail

	d.Title = strings.TrimSpace(doc.Find("h1").First().Text())

	doc.Find("table.table-striped tr").Each(func(_ int, row *goquery.Selection) {
		key := strings.ToLower(strings.TrimSpace(row.Find("th").First().Text()))
		value := strings.TrimSpace(row.Find("td").First().Text())
		if key == "" || value == "" {
			return
		}
		for _, entry := range detailKeys {
			if !strings.Contains(key, entry.substr) {
				continue
			}
			if entry.exclude != "" && strings.Contains(key, entry.exclude) {
				continue
			}
			entry.assign(&d, value)
			return
		}
	})

	d.StarCount = StarCount(ratingLabel(doc.Find("p.star-rating").First()))

	if anchor := doc.Find("#product_description").First(); anchor.Length() > 0 {
		d.Description = strings.TrimSpace(anchor.NextAllFiltered("p").First().Text())
	}

	if src, ok := doc.Find("div.item.active img").First().Attr("src"); ok && src != "" {
		d.ImageURL = resolveURL(itemURL, src)
	}

	d.StockStatus = normalizeSpace(doc.Find("p.instock.availability").First().Text())

	if d.PriceExclTax == "" {
		d.PriceColorFallback = strings.TrimSpace(doc.Find("p.price_color").First().Text())
	}

	return d
}

// StarCount maps a rating label to its ordinal position; unrecognized
// labels map to 0.
func StarCount(label string) int {
	for i, l := range ratingLabels {
		if l == label {
			return i + 1
		}
	}
	return 0
}

// ratingLabel picks the vocabulary word out of the element's class list.
func ratingLabel(sel *goquery.Selection) string {
	classes := strings.Fields(sel.AttrOr("class", ""))
	for _, c := range classes {
		for _, l := range ratingLabels {
			if c == l {
				return l
			}
		}
	}
	return RatingUnknown
}

// resolveURL resolves ref against base, mirroring browser relative-URL
// semantics. A ref that fails to parse is returned untouched.
func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
