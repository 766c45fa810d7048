package models

import "time"

// LinkType is derived deterministically from rel_attributes by precedence
// sponsored > ugc > nofollow > canonical > redirect > follow.
type LinkType string

const (
	LinkTypeFollow    LinkType = "follow"
	LinkTypeNoFollow  LinkType = "nofollow"
	LinkTypeSponsored LinkType = "sponsored"
	LinkTypeUGC       LinkType = "ugc"
	LinkTypeCanonical LinkType = "canonical"
	LinkTypeRedirect  LinkType = "redirect"
)

// Link is one outbound reference discovered on a crawled page.
type Link struct {
	ID            string    `json:"id"`
	SourceURL     string    `json:"source_url"`
	TargetURL     string    `json:"target_url"`
	AnchorText    string    `json:"anchor_text"`
	RelAttributes []string  `json:"rel_attributes"`
	LinkType      LinkType  `json:"link_type"`
	ContextText   string    `json:"context_text"`
	HTTPStatus    int       `json:"http_status,omitempty"`
	DiscoveredAt  time.Time `json:"discovered_at"`
}
