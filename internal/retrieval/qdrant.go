package retrieval

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/kalambet/docchat/internal/domain"
)

// Compile-time check that QdrantStore implements ChunkStore.
var _ ChunkStore = (*QdrantStore)(nil)

const (
	payloadDocumentID = "document_id"
	payloadPosition   = "position"
	payloadContent    = "content"
	payloadSeq        = "seq"
)

// QdrantConfig holds Qdrant connection configuration.
type QdrantConfig struct {
	// URL is the Qdrant gRPC address, e.g. "http://localhost:6334".
	URL        string
	Collection string
	APIKey     string
}

// QdrantStore keeps chunks as points in one collection. The seq payload
// field stands in for an autoincrement id.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	seq        atomic.Int64

	mu    sync.Mutex
	ready bool
}

// NewQdrantStore connects to Qdrant. The collection is created on first
// insert, once the vector dimension is known.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
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
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}
	s := &QdrantStore{client: client, collection: cfg.Collection}
	s.seq.Store(time.Now().UnixNano())
	return s, nil
}

// parseQdrantURL splits a URL into gRPC host, port and TLS flag. A missing
// scheme means http and a missing port means 6334.
func parseQdrantURL(raw string) (string, int, bool, error) {
	if raw == "" {
		return "", 0, false, fmt.Errorf("qdrant url is required")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, fmt.Errorf("parsing qdrant url: %w", err)
	}
	port := 6334
	if u.Port() != "" {
		if port, err = strconv.Atoi(u.Port()); err != nil {
			return "", 0, false, fmt.Errorf("invalid qdrant port: %w", err)
		}
	}
	return u.Hostname(), port, u.Scheme == "https", nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func (s *QdrantStore) ensureCollection(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.collection, err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("creating collection %s: %w", s.collection, err)
		}
		_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      payloadDocumentID,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("indexing %s: %w", payloadDocumentID, err)
		}
	}
	s.ready = true
	return nil
}

// BulkInsert upserts all chunks in one waited request.
func (s *QdrantStore) BulkInsert(ctx context.Context, documentID string, chunks []NewChunk) (int, error) {
	if err := validateBatch(documentID, chunks); err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	if err := s.ensureCollection(ctx, len(chunks[0].Embedding)); err != nil {
		return 0, domain.StorageErr("preparing qdrant collection", err)
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.New().String()),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadDocumentID: documentID,
				payloadPosition:   int64(c.Position),
				payloadContent:    c.Content,
				payloadSeq:        s.seq.Add(1),
			}),
		}
	}

	wait := true
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return 0, domain.StorageErr("upserting chunks of "+documentID, err)
	}
	return len(chunks), nil
}

func (s *QdrantStore) ScopeChunks(ctx context.Context, documentIDs []string) ([]StoredChunk, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	filter := documentFilter(documentIDs...)

	n, err := s.count(ctx, filter)
	if err != nil {
		return nil, domain.StorageErr("counting scoped chunks", err)
	}
	if n == 0 {
		return nil, nil
	}

	limit := uint32(n)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, domain.StorageErr("scrolling chunks", err)
	}

	out := make([]StoredChunk, 0, len(points))
	for _, p := range points {
		out = append(out, pointToChunk(p.GetPayload(), p.GetVectors().GetVector().GetData()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *QdrantStore) DeleteDocumentChunks(ctx context.Context, documentID string) (int, error) {
	if !s.isReady(ctx) {
		return 0, nil
	}
	filter := documentFilter(documentID)
	n, err := s.count(ctx, filter)
	if err != nil {
		return 0, domain.StorageErr("counting chunks of "+documentID, err)
	}
	if n == 0 {
		return 0, nil
	}

	wait := true
	if _, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelectorFilter(filter),
	}); err != nil {
		return 0, domain.StorageErr("deleting chunks of "+documentID, err)
	}
	return int(n), nil
}

func (s *QdrantStore) CountDocumentChunks(ctx context.Context, documentID string) (int, error) {
	if !s.isReady(ctx) {
		return 0, nil
	}
	n, err := s.count(ctx, documentFilter(documentID))
	if err != nil {
		return 0, domain.StorageErr("counting chunks of "+documentID, err)
	}
	return int(n), nil
}

// isReady reports whether the collection exists. Before the first insert
// there is nothing to count or delete.
func (s *QdrantStore) isReady(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return true
	}
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil || !exists {
		return false
	}
	s.ready = true
	return true
}

func (s *QdrantStore) count(ctx context.Context, filter *qdrant.Filter) (uint64, error) {
	if !s.isReady(ctx) {
		return 0, nil
	}
	exact := true
	return s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          &exact,
	})
}

// documentFilter matches points whose document_id is one of ids.
func documentFilter(ids ...string) *qdrant.Filter {
	match := &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: ids[0]}}
	if len(ids) > 1 {
		keywords := make([]string, len(ids))
		copy(keywords, ids)
		match = &qdrant.Match{MatchValue: &qdrant.Match_Keywords{
			Keywords: &qdrant.RepeatedStrings{Strings: keywords},
		}}
	}
	return &qdrant.Filter{Must: []*qdrant.Condition{{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{Key: payloadDocumentID, Match: match},
		},
	}}}
}

func pointToChunk(payload map[string]*qdrant.Value, vector []float32) StoredChunk {
	return StoredChunk{
		ID:         payload[payloadSeq].GetIntegerValue(),
		DocumentID: payload[payloadDocumentID].GetStringValue(),
		Position:   int(payload[payloadPosition].GetIntegerValue()),
		Content:    payload[payloadContent].GetStringValue(),
		Embedding:  vector,
	}
}

