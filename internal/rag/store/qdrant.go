package store

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	qdrantc "github.com/kart-io/sentinel-rag/pkg/component/qdrant"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// QdrantBackend 基于 Qdrant gRPC 的向量存储后端。
type QdrantBackend struct {
	client *qdrantc.Client
}

var _ Backend = (*QdrantBackend)(nil)

// NewQdrantBackend 创建 Qdrant 存储后端。
func NewQdrantBackend(client *qdrantc.Client) *QdrantBackend {
	return &QdrantBackend{client: client}
}

// Name implements Backend.
func (b *QdrantBackend) Name() string { return "qdrant" }

// CollectionExists implements Backend.
func (b *QdrantBackend) CollectionExists(ctx context.Context, name string) (bool, error) {
	return b.client.CollectionExists(ctx, name)
}

// CreateCollection implements Backend. A concurrent creator winning the race
// is not an error.
func (b *QdrantBackend) CreateCollection(ctx context.Context, name string, dim int) error {
	err := b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}

// Upsert implements Backend.
func (b *QdrantBackend) Upsert(ctx context.Context, name string, points []Point) error {
	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload, err := qdrant.TryValueMap(p.Payload)
		if err != nil {
			return fmt.Errorf("encode payload of point %s: %w", p.ID, err)
		}
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		}
	}

	wait := true
	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           &wait,
		Points:         structs,
	})
	return mapQdrantError(name, err)
}

// Search implements Backend.
func (b *QdrantBackend) Search(ctx context.Context, name string, vector []float32, topK int, threshold float32) ([]Hit, error) {
	limit := uint64(topK)
	req := &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if threshold > 0 {
		req.ScoreThreshold = &threshold
	}

	points, err := b.client.Query(ctx, req)
	if err != nil {
		return nil, mapQdrantError(name, err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, Hit{
			ID:      pointID(p.GetId()),
			Score:   p.GetScore(),
			Payload: fromValueMap(p.GetPayload()),
		})
	}
	return hits, nil
}

// DeleteCollection implements Backend.
func (b *QdrantBackend) DeleteCollection(ctx context.Context, name string) error {
	exists, err := b.client.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return errors.ErrCollectionNotFound.WithMessagef("collection %s not found", name)
	}
	return mapQdrantError(name, b.client.DeleteCollection(ctx, name))
}

// CollectionInfo implements Backend.
func (b *QdrantBackend) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	info, err := b.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return nil, mapQdrantError(name, err)
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	return &CollectionInfo{
		Name:        name,
		PointsCount: info.GetPointsCount(),
		VectorSize:  int(params.GetSize()),
		Distance:    params.GetDistance().String(),
		Status:      info.GetStatus().String(),
	}, nil
}

// Close implements Backend.
func (b *QdrantBackend) Close() error {
	return b.client.Close()
}

func mapQdrantError(name string, err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return errors.ErrCollectionNotFound.WithCause(fmt.Errorf("collection %s: %w", name, err))
	}
	return err
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func fromValueMap(m map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		values := kind.ListValue.GetValues()
		list := make([]any, len(values))
		for i, item := range values {
			list[i] = fromValue(item)
		}
		return list
	case *qdrant.Value_StructValue:
		return fromValueMap(kind.StructValue.GetFields())
	default:
		return nil
	}
}
