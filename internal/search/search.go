// Package search serves discovery of public trips.
package search

import "time"

// Result is a single search hit returned to the caller.
type Result struct {
	TemplateID  string `json:"templateUuid"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet,omitempty"`
	OwnerUserID string `json:"ownerUserId"`
	SharedCount int    `json:"sharedCount"`
}

// Query describes a search request.
type Query struct {
	Text  string
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// TemplateRecord is what the index stores for a public template.
type TemplateRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	OwnerUserID string `json:"ownerUserId"`
	SharedCount int    `json:"sharedCount"`
	UpdatedAt   int64  `json:"updatedAt"`
}

func NewTemplateRecord(id, title, ownerUserID string, sharedCount int, updatedAt time.Time) TemplateRecord {
	return TemplateRecord{
		ID:          id,
		Title:       title,
		OwnerUserID: ownerUserID,
		SharedCount: sharedCount,
		UpdatedAt:   updatedAt.Unix(),
	}
}

// Backend is a full-text index of public templates.
type Backend interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
	IndexTemplates(records []TemplateRecord) error
	DeleteTemplate(id string) error
}

const defaultLimit = 20

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return defaultLimit
	}
	return q.Limit
}
