package contentparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_TitleAndMetaDescription(t *testing.T) {
	html := `<html><head><title>Hello World</title><meta name="description" content="a page about hello"></head></html>`
	metrics := Parse("https://example.com/", html)
	assert.Equal(t, len("Hello World"), metrics.TitleLength)
	assert.Equal(t, len("a page about hello"), metrics.MetaDescriptionLength)
}

func TestParse_HeadingCounts(t *testing.T) {
	html := `<h1>A</h1><h1>B</h1><h2>C</h2>`
	metrics := Parse("https://example.com/", html)
	assert.Equal(t, 2, metrics.H1Count)
	assert.Equal(t, 1, metrics.H2Count)
}

func TestParse_InternalExternalLinks(t *testing.T) {
	html := `<a href="/about">about</a><a href="https://other.com/x">other</a>`
	metrics := Parse("https://example.com/", html)
	assert.Equal(t, 1, metrics.InternalLinks)
	assert.Equal(t, 1, metrics.ExternalLinks)
}

func TestParse_ImagesWithoutAlt(t *testing.T) {
	html := `<img src="a.png" alt="a"><img src="b.png">`
	metrics := Parse("https://example.com/", html)
	assert.Equal(t, 2, metrics.ImagesCount)
	assert.Equal(t, 1, metrics.ImagesWithoutAlt)
}

func TestParse_JSONLD_SingleObject(t *testing.T) {
	html := `<script type="application/ld+json">{"@type":"Article"}</script>`
	metrics := Parse("https://example.com/", html)
	assert.True(t, metrics.HasSchemaMarkup)
	assert.Equal(t, []string{"Article"}, metrics.StructuredDataTypes)
}

func TestParse_JSONLD_ArrayOfObjects(t *testing.T) {
	html := `<script type="application/ld+json">[{"@type":"Article"},{"@type":"Person"}]</script>`
	metrics := Parse("https://example.com/", html)
	assert.ElementsMatch(t, []string{"Article", "Person"}, metrics.StructuredDataTypes)
}

func TestParse_OpenGraphAndTwitter(t *testing.T) {
	html := `<meta property="og:title" content="OG Title"><meta name="twitter:title" content="TW Title">`
	metrics := Parse("https://example.com/", html)
	assert.Equal(t, "OG Title", metrics.OGTitle)
	assert.Equal(t, "TW Title", metrics.TwitterTitle)
}

func TestParse_MobileFriendly(t *testing.T) {
	html := `<meta name="viewport" content="width=device-width, initial-scale=1">`
	metrics := Parse("https://example.com/", html)
	assert.True(t, metrics.MobileFriendly)
}

func TestParse_MalformedHTML_NeverPanics(t *testing.T) {
	assert.NotPanics(t, func() {
		Parse("https://example.com/", "<<<not html>>>")
	})
}
