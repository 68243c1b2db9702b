// Package vector owns the semantic index. It is a derived, re-creatable
// secondary index keyed by identity key: it reflects the structured store's
// most recently committed version or lags it, never leads it.
package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"property-intel/internal/models"
)

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	embedder    Embedder
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr, collection string, embedder Embedder) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vector: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		embedder:    embedder,
	}, nil
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	return v.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("vector: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	d := uint64(dims)
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     d,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vector: create collection %s: %w", v.collection, err)
	}
	return nil
}

// PointID derives the deterministic point UUID for an identity key, so the
// upsert stays idempotent across retries and re-ingestion runs.
func PointID(identityKey string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(identityKey)).String()
}

// IndexProperty embeds the record's descriptive text and upserts one point
// keyed by the identity key.
func (v *VectorStore) IndexProperty(ctx context.Context, record *models.PropertyRecord) error {
	embedding, err := v.embedder.EmbedText(ctx, record.DescriptiveText())
	if err != nil {
		return fmt.Errorf("vector: embed %s: %w", record.ID, err)
	}

	payload := map[string]*pb.Value{
		"property_id":   strValue(record.ID),
		"area":          strValue(record.Area),
		"property_type": strValue(record.PropertyType),
		"content":       strValue(record.DescriptiveText()),
	}
	if record.Price != nil {
		payload["price"] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: *record.Price}}
	}
	if record.Bedrooms != nil {
		payload["bedrooms"] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(*record.Bedrooms)}}
	}
	if record.InvestmentGrade != "" {
		payload["investment_grade"] = strValue(record.InvestmentGrade)
	}

	wait := true
	_, err = v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(record.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: embedding},
				},
			},
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("vector: upsert %s: %w", record.ID, err)
	}
	return nil
}

// DeleteProperty removes the point for an identity key.
func (v *VectorStore) DeleteProperty(ctx context.Context, identityKey string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(identityKey)}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vector: delete %s: %w", identityKey, err)
	}
	return nil
}

// SearchResult is one semantic search hit.
type SearchResult struct {
	PropertyID string
	Score      float32
	Content    string
}

// Search performs k-NN similarity search over the listing embeddings.
func (v *VectorStore) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	embedding, err := v.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vector: embed query: %w", err)
	}

	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("vector: search: %w", err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		sr := SearchResult{
			Score: r.GetScore(),
		}
		for k, val := range r.GetPayload() {
			switch k {
			case "property_id":
				sr.PropertyID = val.GetStringValue()
			case "content":
				sr.Content = val.GetStringValue()
			}
		}
		results[i] = sr
	}
	return results, nil
}

func strValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}
