package satellite

import (
	"encoding/json"

	"github.com/ternarybob/quaero-crawl/internal/models"
)

func marshalResult(result models.CrawlResult) ([]byte, error) {
	return json.Marshal(result)
}
