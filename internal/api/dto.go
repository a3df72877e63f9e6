package api

import (
	"github.com/starford/tiwaz/internal/index"
	"github.com/starford/tiwaz/internal/links"
	"github.com/starford/tiwaz/internal/needservice"
)

// NeedListResponse wraps a filtered need listing.
type NeedListResponse struct {
	Needs []map[string]any `json:"needs" validate:"required"`
	Total int              `json:"total" example:"42" validate:"required"`
}

// TreeResponse wraps a tree query.
type TreeResponse struct {
	Root  string                  `json:"root" example:"REQ_001" validate:"required"`
	Needs []needservice.TreeEntry `json:"needs" validate:"required"`
}

// BacklinksResponse lists the needs linking to one need.
type BacklinksResponse struct {
	ID        string   `json:"id" example:"REQ_001" validate:"required"`
	Category  string   `json:"category,omitempty" example:"links"`
	Backlinks []string `json:"backlinks" validate:"required"`
}

// SearchResult is a single search hit (aliased from the index layer).
type SearchResult = index.SearchResult

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// GraphResponse wraps the needs graph.
type GraphResponse struct {
	Nodes []links.Node `json:"nodes" validate:"required"`
	Links []links.Edge `json:"links" validate:"required"`
}

// SelectResponse wraps the values selected by a JSONPath expression.
type SelectResponse struct {
	Values []any `json:"values" validate:"required"`
}

// BuildInfo describes the published build (aliased from the domain layer).
type BuildInfo = needservice.BuildInfo
