// Package linkextractor implements spec §4.5: a pure function over
// (base_url, HTML) yielding an ordered sequence of Links. Grounded on
// original_source's LinkExtractor.extract_links for the rel-precedence
// and context_text rules, using the teacher's goquery-based HTML parsing
// idiom in place of BeautifulSoup.
package linkextractor

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/ternarybob/quaero-crawl/internal/common"
	"github.com/ternarybob/quaero-crawl/internal/models"
)

const maxContextLength = 100

// Extract parses html and returns every qualifying Link, resolved against
// baseURL. Non-http/https schemes are rejected. A separate Link is
// emitted for <link rel="canonical">, anchor text "canonical".
func Extract(baseURL string, html string) ([]models.Link, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var links []models.Link

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		target := resolve(base, href)
		if target == "" {
			return
		}

		relAttrs := splitRel(s.AttrOr("rel", ""))
		links = append(links, models.Link{
			ID:            common.NewLinkID(),
			SourceURL:     baseURL,
			TargetURL:     target,
			AnchorText:    strings.TrimSpace(s.Text()),
			RelAttributes: relAttrs,
			LinkType:      determineLinkType(relAttrs),
			ContextText:   contextText(s, maxContextLength),
			DiscoveredAt:  now,
		})
	})

	if canonical := doc.Find(`link[rel="canonical"][href]`).First(); canonical.Length() > 0 {
		href, _ := canonical.Attr("href")
		if target := resolve(base, strings.TrimSpace(href)); target != "" {
			links = append(links, models.Link{
				ID:            common.NewLinkID(),
				SourceURL:     baseURL,
				TargetURL:     target,
				AnchorText:    "canonical",
				RelAttributes: []string{"canonical"},
				LinkType:      models.LinkTypeCanonical,
				DiscoveredAt:  now,
			})
		}
	}

	return links, nil
}

// resolve joins href against base, rejecting non-http/https schemes.
func resolve(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if parsed.Scheme != "" && parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

func splitRel(rel string) []string {
	fields := strings.Fields(rel)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// determineLinkType implements the precedence
// sponsored > ugc > nofollow > canonical > redirect > follow.
func determineLinkType(rel []string) models.LinkType {
	set := make(map[string]bool, len(rel))
	for _, r := range rel {
		set[r] = true
	}
	switch {
	case set["sponsored"]:
		return models.LinkTypeSponsored
	case set["ugc"]:
		return models.LinkTypeUGC
	case set["nofollow"]:
		return models.LinkTypeNoFollow
	case set["canonical"]:
		return models.LinkTypeCanonical
	case set["redirect"]:
		return models.LinkTypeRedirect
	default:
		return models.LinkTypeFollow
	}
}

// contextText collects up to maxLength chars of sibling text around the
// anchor, mirroring original_source's _get_context_text.
func contextText(s *goquery.Selection, maxLength int) string {
	var b strings.Builder

	if prev := s.Prev(); prev.Length() > 0 {
		b.WriteString(strings.TrimSpace(prev.Text()))
		b.WriteString(" ")
	} else if prevText := prevSiblingText(s); prevText != "" {
		b.WriteString(prevText)
		b.WriteString(" ")
	}

	b.WriteString(strings.TrimSpace(s.Text()))

	if next := s.Next(); next.Length() > 0 {
		b.WriteString(" ")
		b.WriteString(strings.TrimSpace(next.Text()))
	}

	out := strings.TrimSpace(b.String())
	if len(out) > maxLength {
		out = out[:maxLength]
	}
	return out
}

// prevSiblingText covers the case where the immediately preceding sibling
// is a text node rather than an element (goquery's Prev() only returns
// element siblings).
func prevSiblingText(s *goquery.Selection) string {
	if s.Length() == 0 || s.Get(0).PrevSibling == nil {
		return ""
	}
	node := s.Get(0).PrevSibling
	if node.Type == html.TextNode {
		return strings.TrimSpace(node.Data)
	}
	return ""
}
