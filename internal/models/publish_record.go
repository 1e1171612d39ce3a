package models

import "time"

// PublishRecord is the persisted fact that an identifier was published
type PublishRecord struct {
	Identifier  string    `json:"identifier"`
	Title       string    `json:"title"`
	Source      SourceTag `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// CountSummary holds publication counts within a time window
type CountSummary struct {
	Window   time.Duration     `json:"window"`
	Total    int               `json:"total"`
	BySource map[SourceTag]int `json:"by_source"`
}
