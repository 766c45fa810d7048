package models

import "time"

// SEOMetrics mirrors the fields original_source/crawlers/content_parser.py
// derives from a single HTML document.
type SEOMetrics struct {
	URL                  string   `json:"url"`
	TitleLength          int      `json:"title_length"`
	MetaDescriptionLength int     `json:"meta_description_length"`
	H1Count              int      `json:"h1_count"`
	H2Count              int      `json:"h2_count"`
	InternalLinks        int      `json:"internal_links"`
	ExternalLinks        int      `json:"external_links"`
	ImagesCount          int      `json:"images_count"`
	ImagesWithoutAlt     int      `json:"images_without_alt"`
	HasCanonical         bool     `json:"has_canonical"`
	HasRobotsMeta        bool     `json:"has_robots_meta"`
	HasSchemaMarkup      bool     `json:"has_schema_markup"`
	StructuredDataTypes  []string `json:"structured_data_types"`
	OGTitle              string   `json:"og_title,omitempty"`
	OGDescription        string   `json:"og_description,omitempty"`
	TwitterTitle         string   `json:"twitter_title,omitempty"`
	TwitterDescription   string   `json:"twitter_description,omitempty"`
	MobileFriendly       bool     `json:"mobile_friendly"`
	HTTPStatus           int      `json:"http_status,omitempty"`
	ResponseTimeMs       int      `json:"response_time_ms,omitempty"`
	PageSizeBytes        int      `json:"page_size_bytes,omitempty"`
	Issues               []string `json:"issues,omitempty"`
}

// CrawlResult is produced by a satellite for each fetched URL that yields
// at least one link to the job's target domain, and consumed once by the
// Coordinator's ResultIngestLoop. The final summary result for a job
// carries is_final_summary=true and the aggregated fields.
type CrawlResult struct {
	JobID        string      `json:"job_id"`
	URL          string      `json:"url"`
	StatusCode   int         `json:"status_code"`
	ContentType  string      `json:"content_type,omitempty"`
	CrawlTimeMs  int         `json:"crawl_time_ms"`
	LinksFound   []Link      `json:"links_found"`
	SEOMetrics   *SEOMetrics `json:"seo_metrics,omitempty"`
	Markdown     string      `json:"markdown,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	AnomalyFlags []string    `json:"anomaly_flags,omitempty"`
	CrawlTimestamp time.Time `json:"crawl_timestamp"`
	IsFinalSummary bool      `json:"is_final_summary"`

	// Aggregate fields, only populated on the final summary result.
	PagesCrawled          int             `json:"pages_crawled,omitempty"`
	TotalLinksFound       int             `json:"total_links_found,omitempty"`
	BacklinksFound        int             `json:"backlinks_found,omitempty"`
	FailedURLsCount       int             `json:"failed_urls_count,omitempty"`
	DomainsVisitedCount   int             `json:"domains_visited_count,omitempty"`
	AvgResponseTimeMs     float64         `json:"avg_response_time_ms,omitempty"`
	StatusCodeDistribution map[int]int   `json:"status_code_distribution,omitempty"`
	CrawlDurationSeconds  float64         `json:"crawl_duration_seconds,omitempty"`
	Errors                []CrawlError    `json:"errors,omitempty"`
}

// CrawlError is appended, never removed, to Job.ErrorLog.
type CrawlError struct {
	Timestamp time.Time         `json:"timestamp"`
	URL       string            `json:"url"`
	ErrorType ErrorKind         `json:"error_type"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
}

// HostProfile is in-memory, per-satellite rate-limiter state for one host.
// It never crosses process boundaries.
type HostProfile struct {
	Host          string
	CurrentDelay  float64
	History       []HistoryEntry // bounded ring, capacity ~10
	LastRequestAt time.Time
}

// HistoryEntry is one (status_code, latency_ms) observation in a
// HostProfile's ring buffer.
type HistoryEntry struct {
	StatusCode int
	LatencyMs  int
}

// SatelliteLiveness is written on every heartbeat and read by the
// Coordinator's SatelliteMonitorLoop.
type SatelliteLiveness struct {
	SatelliteID   string
	LastHeartbeat time.Time
}
