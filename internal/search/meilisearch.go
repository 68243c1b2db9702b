// Package search maintains the Meilisearch index, a derived and idempotently
// rebuildable view of the structured store used for free-text and faceted
// queries. The structured store stays authoritative.
package search

import (
	"encoding/json"

	"github.com/meilisearch/meilisearch-go"

	"property-intel/internal/models"
)

type SearchClient struct {
	client *meilisearch.Client
	index  string
}

func NewSearchClient(host, apiKey string) *SearchClient {
	client := meilisearch.NewClient(meilisearch.ClientConfig{
		Host:   host,
		APIKey: apiKey,
	})

	return &SearchClient{
		client: client,
		index:  "properties",
	}
}

// InitIndex initializes the Meilisearch index
func (s *SearchClient) InitIndex() error {
	// Create index if it doesn't exist
	_, err := s.client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        s.index,
		PrimaryKey: "id",
	})
	// Ignore error if index already exists
	if err != nil && err.Error() != "index already exists" {
		return err
	}

	// Configure searchable attributes
	_, err = s.client.Index(s.index).UpdateSearchableAttributes(&[]string{
		"address",
		"area",
		"developer",
		"property_type",
		"amenities",
	})
	if err != nil {
		return err
	}

	// Configure filterable attributes
	_, err = s.client.Index(s.index).UpdateFilterableAttributes(&[]string{
		"id",
		"area",
		"property_type",
		"price",
		"bedrooms",
		"bathrooms",
		"investment_grade",
		"developer",
	})
	if err != nil {
		return err
	}

	// Configure sortable attributes
	_, err = s.client.Index(s.index).UpdateSortableAttributes(&[]string{
		"price",
		"square_feet",
		"quality_score",
		"estimated_yield",
		"created_at",
	})
	if err != nil {
		return err
	}

	return nil
}

// IndexProperty indexes a single property. AddDocuments upserts by primary
// key, so repeated writes for the same identity key converge.
func (s *SearchClient) IndexProperty(record *models.PropertyRecord) error {
	_, err := s.client.Index(s.index).AddDocuments([]models.PropertyRecord{*record})
	return err
}

// IndexProperties indexes multiple properties
func (s *SearchClient) IndexProperties(records []models.PropertyRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := s.client.Index(s.index).AddDocuments(records)
	return err
}

// DeleteProperty removes a property from the index
func (s *SearchClient) DeleteProperty(id string) error {
	_, err := s.client.Index(s.index).DeleteDocument(id)
	return err
}

// Search searches for properties with basic options
func (s *SearchClient) Search(query string, limit int64) ([]models.PropertyRecord, error) {
	return s.FilterSearch(FilterParams{Query: query, Limit: limit})
}

// GetFacets retrieves facet distribution for specified fields
func (s *SearchClient) GetFacets(facets []string) (map[string]interface{}, error) {
	searchRes, err := s.client.Index(s.index).Search("", &meilisearch.SearchRequest{
		Limit:  0,
		Facets: facets,
	})
	if err != nil {
		return nil, err
	}

	if searchRes.FacetDistribution != nil {
		if facetMap, ok := searchRes.FacetDistribution.(map[string]interface{}); ok {
			return facetMap, nil
		}
	}
	return map[string]interface{}{}, nil
}

// parseHits converts search hits back into PropertyRecords
func parseHits(hits []interface{}) []models.PropertyRecord {
	var records []models.PropertyRecord
	for _, hit := range hits {
		hitJSON, err := json.Marshal(hit)
		if err != nil {
			continue
		}

		var record models.PropertyRecord
		if err := json.Unmarshal(hitJSON, &record); err != nil {
			continue
		}

		records = append(records, record)
	}
	return records
}
