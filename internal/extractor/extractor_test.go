package extractor

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func parseHTML(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

const listingPage = `
<html><body>
<article class="product_pod">
  <div class="image_container"><a href="../item/42.html"><img src="media/cache/42.jpg"/></a></div>
  <p class="star-rating Three"></p>
  <h3><a href="../item/42.html" title="A Light in the Attic">A Light in the ...</a></h3>
  <div class="product_price">
    <p class="price_color">£51.77</p>
    <p class="instock availability">
        In stock
    </p>
  </div>
</article>
<article class="product_pod">
  <div class="image_container"><a href="item/43.html"><img src="media/cache/43.jpg"/></a></div>
  <p class="star-rating Moody"></p>
  <h3><a href="item/43.html" title="Tipping the Velvet">Tipping the Velvet</a></h3>
  <p class="price_color">£53.74</p>
  <p class="instock availability">In stock</p>
</article>
<article class="product_pod">
  <p class="star-rating One"></p>
  <h3><a href="item/44.html" title="Broken Listing">Broken Listing</a></h3>
</article>
<ul class="pager"><li class="next"><a href="page-2.html">next</a></li></ul>
</body></html>`

func TestListing(t *testing.T) {
	doc := parseHTML(t, listingPage)
	items := Listing(doc, "https://example.com/catalog/page-1.html", "https://example.com/")

	if len(items) != 2 {
		t.Fatalf("Listing() returned %d items, want 2 (partial item must be dropped)", len(items))
	}

	first := items[0]
	if first.Title != "A Light in the Attic" {
		t.Errorf("title = %q", first.Title)
	}
	if first.ItemURL != "https://example.com/item/42.html" {
		t.Errorf("item url = %q, want relative ../item/42.html resolved against the page", first.ItemURL)
	}
	if first.ImageURL != "https://example.com/media/cache/42.jpg" {
		t.Errorf("image url = %q", first.ImageURL)
	}
	if first.Price != "£51.77" {
		t.Errorf("price = %q", first.Price)
	}
	if first.StockStatus != "In stock" {
		t.Errorf("stock = %q, want whitespace-normalized text", first.StockStatus)
	}
	if first.Rating != "Three" {
		t.Errorf("rating = %q, want Three", first.Rating)
	}
	if second := items[1]; second.Rating != RatingUnknown {
		t.Errorf("rating = %q, want %q for an unrecognized label", second.Rating, RatingUnknown)
	}
}

func TestNextPageURL(t *testing.T) {
	doc := parseHTML(t, listingPage)
	next := NextPageURL(doc, "https://example.com/catalog/page-1.html")
	if next != "https://example.com/catalog/page-2.html" {
		t.Fatalf("NextPageURL() = %q", next)
	}

	last := parseHTML(t, `<html><body><ul class="pager"></ul></body></html>`)
	if got := NextPageURL(last, "https://example.com/catalog/page-2.html"); got != "" {
		t.Fatalf("NextPageURL() on last page = %q, want empty", got)
	}
}

const detailPage = `
<html><body>
<div class="carousel"><div class="item active"><img src="../../media/cache/full.jpg"/></div></div>
<h1>A Light in the Attic</h1>
<p class="price_color">£51.77</p>
<p class="star-rating Four"></p>
<p class="instock availability">
    In stock (22 available)
</p>
<div id="product_description"><h2>Product Description</h2></div>
<p>A classic collection of poems.</p>
<table class="table-striped">
<tr><th>UPC</th><td>a897fe39b1053632</td></tr>
<tr><th>Product Type</th><td>Books</td></tr>
<tr><th>Price (excl. tax)</th><td>£51.77</td></tr>
<tr><th>Price (incl. tax)</th><td>£51.99</td></tr>
<tr><th>Tax</th><td>£0.22</td></tr>
<tr><th>Availability</th><td>In stock (22 available)</td></tr>
<tr><th>Number of reviews</th><td>0</td></tr>
</table>
</body></html>`

func TestDetail(t *testing.T) {
	doc := parseHTML(t, detailPage)
	d := Detail(doc, "https://example.com/catalogue/a-light-in-the-attic_1000/index.html")

	if d.Title != "A Light in the Attic" {
		t.Errorf("title = %q", d.Title)
	}
	if d.UPC != "a897fe39b1053632" {
		t.Errorf("upc = %q", d.UPC)
	}
	if d.ProductType != "Books" {
		t.Errorf("product type = %q", d.ProductType)
	}
	if d.PriceExclTax != "£51.77" || d.PriceInclTax != "£51.99" {
		t.Errorf("prices = %q / %q", d.PriceExclTax, d.PriceInclTax)
	}
	if d.Tax != "£0.22" {
		t.Errorf("tax = %q; the Tax row must not be shadowed by the price rows", d.Tax)
	}
	if d.Availability != "In stock (22 available)" {
		t.Errorf("availability = %q", d.Availability)
	}
	if d.ReviewCount != "0" {
		t.Errorf("review count = %q", d.ReviewCount)
	}
	if d.StarCount != 4 {
		t.Errorf("star count = %d, want 4", d.StarCount)
	}
	if d.Description != "A classic collection of poems." {
		t.Errorf("description = %q", d.Description)
	}
	if d.ImageURL != "https://example.com/media/cache/full.jpg" {
		t.Errorf("image url = %q", d.ImageURL)
	}
	if d.StockStatus != "In stock (22 available)" {
		t.Errorf("stock = %q", d.StockStatus)
	}
	if d.PriceColorFallback != "" {
		t.Errorf("fallback price = %q, want empty when excl-tax price present", d.PriceColorFallback)
	}
}

func TestDetailFallbacks(t *testing.T) {
	doc := parseHTML(t, `<html><body><h1>Bare Item</h1><p class="price_color">£9.99</p></body></html>`)
	d := Detail(doc, "https://example.com/item.html")

	if d.StarCount != 0 {
		t.Errorf("star count = %d, want 0 when no rating indicator", d.StarCount)
	}
	if d.PriceColorFallback != "£9.99" {
		t.Errorf("fallback price = %q", d.PriceColorFallback)
	}
	if d.UPC != "" || d.Description != "" {
		t.Errorf("expected absent fields to stay empty, got upc=%q description=%q", d.UPC, d.Description)
	}
}

func TestStarCount(t *testing.T) {
	tests := []struct {
		label string
		want  int
	}{
		{"One", 1},
		{"Two", 2},
		{"Three", 3},
		{"Four", 4},
		{"Five", 5},
		{"Unknown", 0},
		{"", 0},
		{"Six", 0},
	}
	for _, tt := range tests {
		if got := StarCount(tt.label); got != tt.want {
			t.Errorf("StarCount(%q) = %d, want %d", tt.label, got, tt.want)
		}
	}
}

func TestResolveURL(t *testing.T) {
	got := resolveURL("https://example.com/catalog/", "../item/42.html")
	if got != "https://example.com/item/42.html" {
		t.Fatalf("resolveURL() = %q", got)
	}
}
