package extract

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vinmonopol-crawler/internal/crawler"
)

const productPage = `<!DOCTYPE html>
<html><head>
<script type="application/ld+json">{"@type":"BreadcrumbList","itemListElement":[]}</script>
<script type="application/ld+json">{
  "@type": "Product",
  "name": "Château Test 2019",
  "description": "Fyldig og rund",
  "url": "/p/1234501",
  "image": ["https://bilder.example/1234501.png"],
  "keywords": "rødvin, Frankrike",
  "countryOfOrigin": "Frankrike",
  "color": "Mørk rød",
  "brand": {"@type": "Brand", "name": "Château Test"},
  "offers": {"@type": "Offer", "price": 299.0, "priceCurrency": "NOK"}
}</script>
</head><body>
<h1 class="product__name">Château Test 2019</h1>
<span class="amount" aria-label="75 centiliter">75 cl</span>
<strong>Alkohol</strong> <span aria-label="13,5 prosent">13,5 %</span>
<strong>Sukker</strong> <span aria-label="2,1 gram per liter">2,1 g/l</span>
<span aria-label="398 kroner og 67 øre per liter">398,67 kr/l</span>
<span>Smak</span><span>Moden mørk frukt</span>
</body></html>`

func utf8Page(body string) crawler.RawPage {
	return crawler.RawPage{
		ID:         "1234501",
		URL:        "https://www.vinmonopolet.no/p/1234501",
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

func TestExtractProduct(t *testing.T) {
	t.Parallel()

	got := New().Extract(utf8Page(productPage))
	require.True(t, got.Found(), got.Reason)

	d := got.Draft
	assert.Equal(t, "1234501", d.Code)
	assert.Equal(t, "https://www.vinmonopolet.no/p/1234501", d.PageURL)
	assert.False(t, d.LegacyDecoded)
	assert.Equal(t, "Château Test 2019", d.Data.Name)
	assert.Equal(t, "Château Test", d.Data.Brand.Name)
	assert.InDelta(t, 299.0, float64(d.Data.Offers.Price), 1e-9)
	assert.Equal(t, []string{"rødvin", "Frankrike"}, []string(d.Data.Keywords))
	assert.Equal(t, 13.5, d.AlcoholPercent)
	assert.Equal(t, 2.1, d.SugarGramsPerLiter)
	assert.InDelta(t, 398.67, d.DisplayedPricePerLiter, 1e-9)
	assert.Equal(t, "Moden mørk frukt", d.Taste)
	assert.Equal(t, "75 cl", d.SizeText)
	assert.Equal(t, "Château Test 2019", d.HeadingName)
	assert.False(t, d.Expired)
}

func TestExtractFragmentsAreIndependent(t *testing.T) {
	t.Parallel()

	page := `<html><head><script type="application/ld+json">
{"@type":"Product","brand":"Test","offers":{"price":"99,90"}}
</script></head><body>
<strong>Sukker</strong> <span aria-label="4 gram per liter">4</span>
</body></html>`
	got := New().Extract(utf8Page(page))
	require.True(t, got.Found())

	d := got.Draft
	assert.Zero(t, d.AlcoholPercent)
	assert.Zero(t, d.DisplayedPricePerLiter)
	assert.Equal(t, 4.0, d.SugarGramsPerLiter)
	assert.Empty(t, d.Taste)
	assert.Empty(t, d.SizeText)
	assert.Equal(t, UnknownName, d.HeadingName)
}

func TestExtractClassifiesNonProducts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want crawler.ExtractionKind
	}{
		{
			name: "no block",
			body: `<html><body><h1 class="product__name">Gone</h1></body></html>`,
			want: crawler.KindNoData,
		},
		{
			name: "invalid json",
			body: `<html><script type="application/ld+json">{"@type": "Product",</script></html>`,
			want: crawler.KindNoData,
		},
		{
			name: "missing brand",
			body: `<html><script type="application/ld+json">{"@type":"Product","name":"Gave","offers":{"price":10}}</script></html>`,
			want: crawler.KindNotAProduct,
		},
		{
			name: "missing offer",
			body: `<html><script type="application/ld+json">{"@type":"Product","name":"Pose","brand":{"name":"Vinmonopolet"}}</script></html>`,
			want: crawler.KindNotAProduct,
		},
		{
			name: "first block used when none is a product",
			body: `<html><script type="application/ld+json">{"@type":"WebPage","name":"Hjem"}</script></html>`,
			want: crawler.KindNotAProduct,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := New().Extract(utf8Page(tc.body))
			assert.Equal(t, tc.want, got.Kind)
			assert.Nil(t, got.Draft)
			assert.NotEmpty(t, got.Reason)
		})
	}
}

func TestExtractToleratesMalformedOptionalFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		old   string
		new   string
		check func(t *testing.T, got crawler.Extraction)
	}{
		{
			name: "color as list",
			old:  `"color": "Mørk rød"`,
			new:  `"color": ["Mørk rød"]`,
			check: func(t *testing.T, got crawler.Extraction) {
				assert.Equal(t, "Mørk rød", got.Draft.Data.Color)
			},
		},
		{
			name: "size as number",
			old:  `"color": "Mørk rød"`,
			new:  `"color": "Mørk rød", "size": 75`,
			check: func(t *testing.T, got crawler.Extraction) {
				assert.Empty(t, got.Draft.Data.Size)
				assert.Equal(t, "75 cl", got.Draft.SizeText)
			},
		},
		{
			name: "image as number",
			old:  `"image": ["https://bilder.example/1234501.png"]`,
			new:  `"image": 1`,
			check: func(t *testing.T, got crawler.Extraction) {
				assert.Empty(t, got.Draft.Data.Image)
				assert.Equal(t, "Château Test 2019", got.Draft.Data.Name)
			},
		},
		{
			name: "grouped price string",
			old:  `"price": 299.0`,
			new:  `"price": "1 299,90"`,
			check: func(t *testing.T, got crawler.Extraction) {
				assert.InDelta(t, 1299.9, float64(got.Draft.Data.Offers.Price), 1e-9)
			},
		},
		{
			name: "unreadable price",
			old:  `"price": 299.0`,
			new:  `"price": "se butikk"`,
			check: func(t *testing.T, got crawler.Extraction) {
				require.NotNil(t, got.Draft.Data.Offers)
				assert.Zero(t, got.Draft.Data.Offers.Price)
				assert.Equal(t, "NOK", got.Draft.Data.Offers.PriceCurrency)
			},
		},
		{
			name: "offers as list",
			old:  `"offers": {"@type": "Offer", "price": 299.0, "priceCurrency": "NOK"}`,
			new:  `"offers": [{"@type": "Offer", "price": 299.0, "priceCurrency": "NOK"}]`,
			check: func(t *testing.T, got crawler.Extraction) {
				assert.InDelta(t, 299.0, float64(got.Draft.Data.Offers.Price), 1e-9)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Contains(t, productPage, tc.old)
			page := strings.Replace(productPage, tc.old, tc.new, 1)

			got := New().Extract(utf8Page(page))
			require.True(t, got.Found(), "kind=%s reason=%q", got.Kind, got.Reason)
			assert.Equal(t, "Château Test", got.Draft.Data.Brand.Name)
			assert.Equal(t, 13.5, got.Draft.AlcoholPercent)
			tc.check(t, got)
		})
	}
}

func TestExtractUndecodableOfferIsNotAProduct(t *testing.T) {
	t.Parallel()

	page := strings.Replace(productPage,
		`"offers": {"@type": "Offer", "price": 299.0, "priceCurrency": "NOK"}`,
		`"offers": "299"`, 1)
	got := New().Extract(utf8Page(page))
	assert.Equal(t, crawler.KindNotAProduct, got.Kind)
	assert.Equal(t, "structured data has no offer", got.Reason)
}

func TestExtractProductInsideArray(t *testing.T) {
	t.Parallel()

	page := `<script type="application/ld+json">[{"@type":"WebSite"},{"@type":"Product","name":"Akevitt","brand":"Arcus","offers":{"price":489.9}}]</script>`
	got := New().Extract(utf8Page(page))
	require.True(t, got.Found())
	assert.Equal(t, "Akevitt", got.Draft.Data.Name)
}

func TestExtractUndeclaredCharsetIsLegacyDecoded(t *testing.T) {
	t.Parallel()

	page := utf8Page(productPage)
	page.Headers = http.Header{"Content-Type": []string{"text/html"}}

	got := New().Extract(page)
	require.True(t, got.Found())

	d := got.Draft
	assert.True(t, d.LegacyDecoded)
	// UTF-8 bytes read as ISO-8859-1 produce mojibake until repaired.
	assert.Equal(t, "ChÃ¢teau Test 2019", d.Data.Name)
	assert.InDelta(t, 398.67, d.DisplayedPricePerLiter, 1e-9)
}

func TestExtractExpiredMarker(t *testing.T) {
	t.Parallel()

	withClass := productPage[:len(productPage)-len("</body></html>")] + `<div class="product__expired">Produktet er utgått</div></body></html>`
	assert.True(t, New().Extract(utf8Page(withClass)).Draft.Expired)

	withText := productPage[:len(productPage)-len("</body></html>")] + `<p>Utgått</p></body></html>`
	assert.True(t, New().Extract(utf8Page(withText)).Draft.Expired)
}
