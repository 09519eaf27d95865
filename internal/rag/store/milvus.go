package store

import (
	"context"
	"fmt"

	"github.com/kart-io/sentinel-rag/pkg/component/milvus"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// MilvusBackend 基于 Milvus 的向量存储后端。
// payload 以 JSON 字段整体存储。
type MilvusBackend struct {
	client *milvus.Client
}

var _ Backend = (*MilvusBackend)(nil)

// NewMilvusBackend 创建 Milvus 存储后端。
func NewMilvusBackend(client *milvus.Client) *MilvusBackend {
	return &MilvusBackend{client: client}
}

// Name implements Backend.
func (b *MilvusBackend) Name() string { return "milvus" }

// CollectionExists implements Backend.
func (b *MilvusBackend) CollectionExists(ctx context.Context, name string) (bool, error) {
	return b.client.HasCollection(ctx, name)
}

// CreateCollection implements Backend.
func (b *MilvusBackend) CreateCollection(ctx context.Context, name string, dim int) error {
	return b.client.CreateCollection(ctx, name, dim)
}

// Upsert implements Backend.
func (b *MilvusBackend) Upsert(ctx context.Context, name string, points []Point) error {
	ids := make([]string, len(points))
	vectors := make([][]float32, len(points))
	payloads := make([][]byte, len(points))
	for i, p := range points {
		data, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("encode payload of point %s: %w", p.ID, err)
		}
		ids[i], vectors[i], payloads[i] = p.ID, p.Vector, data
	}
	return b.client.Insert(ctx, name, ids, vectors, payloads)
}

// Search implements Backend.
func (b *MilvusBackend) Search(ctx context.Context, name string, vector []float32, topK int, threshold float32) ([]Hit, error) {
	exists, err := b.client.HasCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.ErrCollectionNotFound.WithMessagef("collection %s not found", name)
	}

	results, err := b.client.Search(ctx, name, vector, topK)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		if threshold > 0 && r.Score < threshold {
			continue
		}
		payload := map[string]any{}
		if len(r.Payload) > 0 {
			if err := json.Unmarshal(r.Payload, &payload); err != nil {
				return nil, fmt.Errorf("decode payload of point %s: %w", r.ID, err)
			}
		}
		hits = append(hits, Hit{ID: r.ID, Score: r.Score, Payload: payload})
	}
	return hits, nil
}

// DeleteCollection implements Backend.
func (b *MilvusBackend) DeleteCollection(ctx context.Context, name string) error {
	exists, err := b.client.HasCollection(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return errors.ErrCollectionNotFound.WithMessagef("collection %s not found", name)
	}
	return b.client.DropCollection(ctx, name)
}

// CollectionInfo implements Backend.
func (b *MilvusBackend) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	exists, err := b.client.HasCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.ErrCollectionNotFound.WithMessagef("collection %s not found", name)
	}

	dim, err := b.client.Dimension(ctx, name)
	if err != nil {
		return nil, err
	}
	count, err := b.client.RowCount(ctx, name)
	if err != nil {
		return nil, err
	}
	return &CollectionInfo{
		Name:        name,
		PointsCount: count,
		VectorSize:  dim,
		Distance:    "cosine",
		Status:      "loaded",
	}, nil
}

// Close implements Backend.
func (b *MilvusBackend) Close() error {
	return b.client.Close(context.Background())
}
