package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/kotoba/internal/model"
)

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL        string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey     string
	Collection string
	Dims       uint64
}

// Point is the data needed to index a single knowledge chunk.
type Point struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	CollectionID uuid.UUID
	DocumentID   uuid.UUID
	Title        string
	Position     int
	Text         string
	URL          string
	Embedding    []float32
}

// QdrantIndex implements Index backed by Qdrant. Chunk payloads live in
// Qdrant alongside the vectors, so a query round-trip returns hydrated
// chunks without a second store lookup.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	logger     *slog.Logger

	healthGroup singleflight.Group
	healthErr   atomic.Value // stores *error (pointer-to-error, never nil pointer; inner error may be nil)
	healthAt    atomic.Int64 // unix nanos of last check
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("search: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("search: invalid port in qdrant URL: %q", portStr)
		}
		// If the user specified the REST port (6333), use the gRPC port (6334).
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewQdrantIndex creates a new QdrantIndex and connects to the Qdrant server via gRPC.
func NewQdrantIndex(cfg QdrantConfig, logger *slog.Logger) (*QdrantIndex, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("search: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dims:       cfg.Dims,
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection if it doesn't already exist and
// ensures all payload indexes are present. Index creation is always attempted
// regardless of whether the collection pre-existed since CreateFieldIndex is
// idempotent on Qdrant, so this safely backfills indexes added after the
// collection was first created.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("search: check collection exists: %w", err)
	}

	if !exists {
		m := uint64(16)
		efConstruct := uint64(128)

		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.dims,
				Distance: qdrant.Distance_Cosine,
				HnswConfig: &qdrant.HnswConfigDiff{
					M:           &m,
					EfConstruct: &efConstruct,
				},
			}),
		}); err != nil {
			return fmt.Errorf("search: create collection %q: %w", q.collection, err)
		}
		q.logger.Info("qdrant: created collection", "collection", q.collection, "dims", q.dims)
	} else {
		q.logger.Info("qdrant: collection already exists", "collection", q.collection)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{"tenant_id", "collection_id", "document_id"} {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("search: ensure index on %q: %w", field, err)
		}
	}

	intType := qdrant.FieldType_FieldTypeInteger
	if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      "position",
		FieldType:      &intType,
	}); err != nil {
		return fmt.Errorf("search: ensure index on %q: %w", "position", err)
	}

	q.logger.Info("qdrant: payload indexes ensured", "collection", q.collection)
	return nil
}

// Query returns the chunks most similar to the embedding within the given
// tenant and collections. tenant_id is always applied as the first filter.
func (q *QdrantIndex) Query(ctx context.Context, embedding []float32, scope Scope, limit int) ([]model.Chunk, error) {
	must := []*qdrant.Condition{
		qdrant.NewMatch("tenant_id", scope.TenantID.String()),
	}

	switch len(scope.CollectionIDs) {
	case 0:
		// Tenant-wide search.
	case 1:
		must = append(must, qdrant.NewMatch("collection_id", scope.CollectionIDs[0].String()))
	default:
		ids := make([]string, len(scope.CollectionIDs))
		for i, id := range scope.CollectionIDs {
			ids[i] = id.String()
		}
		must = append(must, qdrant.NewMatchKeywords("collection_id", ids...))
	}

	fetchLimit := uint64(limit) //nolint:gosec // limit is bounded by caller
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(embedding),
		Filter:         &qdrant.Filter{Must: must},
		Limit:          &fetchLimit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search: qdrant query: %w", err)
	}

	chunks := make([]model.Chunk, 0, len(scored))
	for _, sp := range scored {
		idStr := sp.Id.GetUuid()
		if idStr == "" {
			continue
		}
		chunkID, err := uuid.Parse(idStr)
		if err != nil {
			q.logger.Warn("qdrant: invalid UUID in point ID", "id", idStr)
			continue
		}
		chunk, err := chunkFromPayload(chunkID, sp.Score, sp.Payload)
		if err != nil {
			q.logger.Warn("qdrant: skipping malformed point payload", "id", idStr, "error", err)
			continue
		}
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

// chunkFromPayload rebuilds a chunk from a point's stored payload.
func chunkFromPayload(id uuid.UUID, score float32, payload map[string]*qdrant.Value) (model.Chunk, error) {
	docStr := payload["document_id"].GetStringValue()
	documentID, err := uuid.Parse(docStr)
	if err != nil {
		return model.Chunk{}, fmt.Errorf("parse document_id %q: %w", docStr, err)
	}

	chunk := model.Chunk{
		ID:         id,
		DocumentID: documentID,
		Title:      payload["title"].GetStringValue(),
		Position:   int(payload["position"].GetIntegerValue()),
		Text:       payload["text"].GetStringValue(),
		Score:      score,
	}
	if u := payload["url"].GetStringValue(); u != "" {
		chunk.URL = &u
	}
	return chunk, nil
}

// Upsert inserts or updates chunk points.
func (q *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := map[string]any{
			"tenant_id":     p.TenantID.String(),
			"collection_id": p.CollectionID.String(),
			"document_id":   p.DocumentID.String(),
			"title":         p.Title,
			"position":      int64(p.Position),
			"text":          p.Text,
		}
		if p.URL != "" {
			payload["url"] = p.URL
		}
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID.String()),
			Vectors: qdrant.NewVectorsDense(p.Embedding),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("search: qdrant upsert %d points: %w", len(points), err)
	}
	return nil
}

// DeleteByDocument removes every chunk of one document.
func (q *QdrantIndex) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	return q.deleteByFilter(ctx, "document_id", documentID)
}

// DeleteByCollection removes every chunk of one knowledge collection.
func (q *QdrantIndex) DeleteByCollection(ctx context.Context, collectionID uuid.UUID) error {
	return q.deleteByFilter(ctx, "collection_id", collectionID)
}

// DeleteByTenant removes all points for a tenant (full tenant deletion).
// The caller is responsible for also deleting the Postgres data.
func (q *QdrantIndex) DeleteByTenant(ctx context.Context, tenantID uuid.UUID) error {
	return q.deleteByFilter(ctx, "tenant_id", tenantID)
}

func (q *QdrantIndex) deleteByFilter(ctx context.Context, field string, id uuid.UUID) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch(field, id.String()),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("search: qdrant delete by %s %s: %w", field, id, err)
	}
	return nil
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5 seconds
// to avoid hammering the health endpoint on every search request. Concurrent
// calls after cache expiry are deduplicated via singleflight so only one gRPC
// call is made; all waiters share its result.
func (q *QdrantIndex) Healthy(ctx context.Context) error {
	// Fast path: return the cached result if fresh.
	if time.Since(time.Unix(0, q.healthAt.Load())) < 5*time.Second {
		return q.loadHealthErr()
	}

	// Deduplicate concurrent checks. Use context.Background() instead of the
	// caller's ctx because singleflight reuses the first caller's context;
	// if that caller cancels, all waiters would get a stale error.
	result, _, _ := q.healthGroup.Do("health", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		_, err := q.client.HealthCheck(checkCtx)
		if err != nil {
			wrapped := fmt.Errorf("search: qdrant unhealthy: %w", err)
			q.storeHealthErr(wrapped)
		} else {
			q.storeHealthErr(nil)
		}
		q.healthAt.Store(time.Now().UnixNano())
		return q.loadHealthErr(), nil
	})
	if result == nil {
		return nil
	}
	return result.(error)
}

// storeHealthErr stores an error (or nil) in the atomic.Value.
// atomic.Value cannot store nil directly, so we wrap it in a pointer.
func (q *QdrantIndex) storeHealthErr(err error) {
	q.healthErr.Store(&err)
}

// loadHealthErr loads the cached health error.
func (q *QdrantIndex) loadHealthErr() error {
	v := q.healthErr.Load()
	if v == nil {
		return nil
	}
	return *v.(*error)
}

// Close shuts down the Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
