package search

import (
	"fmt"
	"strings"

	"github.com/meilisearch/meilisearch-go"

	"property-intel/internal/models"
)

type FilterParams struct {
	Query         string
	Area          string
	PropertyTypes []string
	MinPrice      *float64
	MaxPrice      *float64
	Bedrooms      *int
	SortBy        string
	Limit         int64
}

// FilterSearch performs faceted search with filters
func (s *SearchClient) FilterSearch(params FilterParams) ([]models.PropertyRecord, error) {
	var filters []string

	// Area filter
	if params.Area != "" {
		filters = append(filters, fmt.Sprintf("area = '%s'", escapeFilterValue(params.Area)))
	}

	// Price range filter
	if params.MinPrice != nil {
		filters = append(filters, fmt.Sprintf("price >= %v", *params.MinPrice))
	}
	if params.MaxPrice != nil {
		filters = append(filters, fmt.Sprintf("price <= %v", *params.MaxPrice))
	}

	// Property type filter
	if len(params.PropertyTypes) > 0 {
		typeFilters := make([]string, len(params.PropertyTypes))
		for i, t := range params.PropertyTypes {
			typeFilters[i] = fmt.Sprintf("property_type = '%s'", escapeFilterValue(t))
		}
		filters = append(filters, fmt.Sprintf("(%s)", strings.Join(typeFilters, " OR ")))
	}

	// Bedroom filter
	if params.Bedrooms != nil {
		filters = append(filters, fmt.Sprintf("bedrooms = %d", *params.Bedrooms))
	}

	// Combine filters
	var filterStr string
	if len(filters) > 0 {
		filterStr = strings.Join(filters, " AND ")
	}

	// Determine sort order
	var sort []string
	if params.SortBy != "" {
		sort = append(sort, params.SortBy)
	}

	// Default limit
	if params.Limit == 0 {
		params.Limit = 20
	}

	// Perform search
	searchReq := &meilisearch.SearchRequest{
		Limit: params.Limit,
	}

	if filterStr != "" {
		searchReq.Filter = filterStr
	}

	if len(sort) > 0 {
		searchReq.Sort = sort
	}

	searchRes, err := s.client.Index(s.index).Search(params.Query, searchReq)
	if err != nil {
		return nil, err
	}

	return parseHits(searchRes.Hits), nil
}

func escapeFilterValue(v string) string {
	return strings.ReplaceAll(v, "'", "\\'")
}
