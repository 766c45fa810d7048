// Package contentparser implements spec §4.6: a pure function over HTML
// that derives SEOMetrics. Grounded on original_source's
// ContentParser.parse_seo_metrics, using goquery in the teacher's idiom
// in place of BeautifulSoup. Parser never throws: parse errors are
// appended to metrics.Issues.
package contentparser

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/quaero-crawl/internal/models"
)

// Parse extracts SEOMetrics from html. pageURL is used to resolve
// relative links for the internal/external split and as SEOMetrics.URL.
func Parse(pageURL string, html string) *models.SEOMetrics {
	metrics := &models.SEOMetrics{URL: pageURL}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		metrics.Issues = append(metrics.Issues, "parse error: "+err.Error())
		return metrics
	}

	base, err := url.Parse(pageURL)
	var baseHost string
	if err == nil {
		baseHost = base.Host
	}

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		metrics.TitleLength = len(title)
	}

	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		metrics.MetaDescriptionLength = len(strings.TrimSpace(desc))
	}

	metrics.H1Count = doc.Find("h1").Length()
	metrics.H2Count = doc.Find("h2").Length()

	var internal, external int
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || base == nil {
			return
		}
		parsed, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(parsed)
		switch {
		case resolved.Host == baseHost:
			internal++
		case resolved.Host != "":
			external++
		}
	})
	metrics.InternalLinks = internal
	metrics.ExternalLinks = external

	var imagesCount, imagesWithoutAlt int
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		imagesCount++
		if alt, ok := s.Attr("alt"); !ok || strings.TrimSpace(alt) == "" {
			imagesWithoutAlt++
		}
	})
	metrics.ImagesCount = imagesCount
	metrics.ImagesWithoutAlt = imagesWithoutAlt

	metrics.HasCanonical = doc.Find(`link[rel="canonical"][href]`).Length() > 0
	metrics.HasRobotsMeta = doc.Find(`meta[name="robots"]`).Length() > 0

	jsonLDScripts := doc.Find(`script[type="application/ld+json"]`)
	metrics.HasSchemaMarkup = jsonLDScripts.Length() > 0
	metrics.StructuredDataTypes = extractStructuredDataTypes(jsonLDScripts)

	metrics.OGTitle = metaContent(doc, "property", "og:title")
	metrics.OGDescription = metaContent(doc, "property", "og:description")
	metrics.TwitterTitle = metaContent(doc, "name", "twitter:title")
	metrics.TwitterDescription = metaContent(doc, "name", "twitter:description")

	if viewport, ok := doc.Find(`meta[name="viewport"]`).First().Attr("content"); ok {
		metrics.MobileFriendly = strings.Contains(viewport, "width=device-width")
	}

	return metrics
}

// extractStructuredDataTypes recurses into JSON-LD that is either a
// single object or an array of objects, collecting every @type value,
// matching original_source's handling of both shapes.
func extractStructuredDataTypes(scripts *goquery.Selection) []string {
	types := make(map[string]bool)
	scripts.Each(func(_ int, s *goquery.Selection) {
		var payload interface{}
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return
		}
		collectTypes(payload, types)
	})
	out := make([]string, 0, len(types))
	for t := range types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func collectTypes(payload interface{}, out map[string]bool) {
	switch v := payload.(type) {
	case map[string]interface{}:
		if t, ok := v["@type"]; ok {
			addType(t, out)
		}
	case []interface{}:
		for _, item := range v {
			if obj, ok := item.(map[string]interface{}); ok {
				if t, ok := obj["@type"]; ok {
					addType(t, out)
				}
			}
		}
	}
}

func addType(t interface{}, out map[string]bool) {
	switch v := t.(type) {
	case string:
		out[v] = true
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out[s] = true
			}
		}
	}
}

func metaContent(doc *goquery.Document, attr, value string) string {
	sel := doc.Find("meta[" + attr + `="` + value + `"]`).First()
	content, ok := sel.Attr("content")
	if !ok {
		return ""
	}
	return strings.TrimSpace(content)
}
