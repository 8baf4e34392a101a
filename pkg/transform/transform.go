package transform

import (
	"github.com/hankgalt/catalog-crawl/pkg/domain"
)

// imageURLKeys in priority order.
var imageURLKeys = []string{"base_url", "thumbnail_url", "medium_url"}

// Product maps a raw catalog response into the normalized product shape.
// A nil or empty raw record yields nil.
func Product(raw domain.RawRecord) *domain.Product {
	if len(raw) == 0 {
		return nil
	}

	desc, _ := raw["description"].(string)

	return &domain.Product{
		ID:          raw["id"],
		Name:        raw["name"],
		URLKey:      raw["url_key"],
		Price:       raw["price"],
		Description: HTMLText(desc),
		Images:      ImageURLs(raw["images"]),
	}
}

// ImageURLs picks one URL per image entry, preserving input order.
// Non-object entries and entries without a usable URL are dropped.
func ImageURLs(v any) []string {
	urls := []string{}

	images, ok := v.([]any)
	if !ok {
		return urls
	}

	for _, img := range images {
		m, ok := img.(map[string]any)
		if !ok {
			continue
		}
		for _, k := range imageURLKeys {
			if u, ok := m[k].(string); ok && u != "" {
				urls = append(urls, u)
				break
			}
		}
	}
	return urls
}
