// Package index wraps the Qdrant collection that backs image search. It is
// the sole owner of all Qdrant operations: upsert, k-NN search, fetch,
// delete-all, and statistics.
package index

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// PointsAPI is the subset of the Qdrant points service the store uses.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// CollectionsAPI is the subset of the Qdrant collections service the store uses.
type CollectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore talks to one Qdrant collection.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      PointsAPI
	collections CollectionsAPI
	collection  string
}

// New dials Qdrant at the given gRPC address.
func New(addr string, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("index: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients builds a store over pre-built clients. Used in tests.
func NewWithClients(points PointsAPI, collections CollectionsAPI, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection, if any.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("index: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("index: create collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert stores records, overwriting any with the same ID.
func (v *VectorStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Vector},
				},
			},
			Payload: toPayload(r.Payload),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("index: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Search performs k-NN similarity search over the collection.
func (v *VectorStore) Search(ctx context.Context, vector []float32, params SearchParams) ([]Hit, error) {
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vector,
		Limit:          uint64(params.TopK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if params.MinScore > 0 {
		threshold := params.MinScore
		req.ScoreThreshold = &threshold
	}
	if params.WithVectors {
		req.WithVectors = &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}}
	}
	if params.Category != "" {
		req.Filter = &pb.Filter{Must: []*pb.Condition{fieldMatch("category", params.Category)}}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}

	hits := make([]Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		h := Hit{
			ID:     r.GetId().GetUuid(),
			Score:  r.GetScore(),
			Vector: r.GetVectors().GetVector().GetData(),
		}
		fillMeta(&h, r.GetPayload())
		hits[i] = h
	}
	return hits, nil
}

// Fetch returns the record with the given ID, or nil if absent.
func (v *VectorStore) Fetch(ctx context.Context, id string) (*Hit, error) {
	resp, err := v.points.Get(ctx, &pb.GetPoints{
		CollectionName: v.collection,
		Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("index: fetch %s: %w", id, err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, nil
	}

	r := resp.GetResult()[0]
	h := Hit{
		ID:     r.GetId().GetUuid(),
		Vector: r.GetVectors().GetVector().GetData(),
	}
	fillMeta(&h, r.GetPayload())
	return &h, nil
}

// DeleteAll removes every point in the collection.
func (v *VectorStore) DeleteAll(ctx context.Context) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{}, // empty filter matches everything
			},
		},
	})
	if err != nil {
		return fmt.Errorf("index: delete all: %w", err)
	}
	return nil
}

// Count returns the exact number of points in the collection.
func (v *VectorStore) Count(ctx context.Context) (uint64, error) {
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{
		CollectionName: v.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("index: count: %w", err)
	}
	return resp.GetResult().GetCount(), nil
}

// Statistics returns collection-level stats.
func (v *VectorStore) Statistics(ctx context.Context) (Stats, error) {
	n, err := v.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalVectors: n}, nil
}

func toPayload(m map[string]any) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(m))
	for k, val := range m {
		switch tv := val.(type) {
		case string:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
		case int:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		case int64:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
		case float64:
			payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
		case bool:
			payload[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
		default:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
		}
	}
	return payload
}

func fillMeta(h *Hit, payload map[string]*pb.Value) {
	for k, val := range payload {
		s := val.GetStringValue()
		switch k {
		case "filename":
			h.Filename = s
		case "category":
			h.Category = s
		case "blob_url":
			h.BlobURL = s
		default:
			if h.Meta == nil {
				h.Meta = make(map[string]string)
			}
			h.Meta[k] = s
		}
	}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
