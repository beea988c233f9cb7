package dedup

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// Neighbor is one ANN query hit: the hit's item number and its L2 distance
// from the query vector.
type Neighbor struct {
	Number   int
	Distance float32
}

// VectorStore is the ANN surface the dedup engine uses for large item sets.
type VectorStore interface {
	Upsert(ctx context.Context, numbers []int, vectors [][]float32) error
	Query(ctx context.Context, vector []float32, limit int) ([]Neighbor, error)
	Close() error
}

// QdrantStore implements VectorStore on a Qdrant collection. The gRPC
// connection is opened lazily on first use.
type QdrantStore struct {
	url        string
	apiKey     string
	collection string

	mu     sync.Mutex
	client *qdrant.Client
	dims   uint64
}

// NewQdrantStore creates a store for the given collection. No connection is
// made until the first Upsert or Query.
func NewQdrantStore(rawURL, apiKey, collection string) *QdrantStore {
	return &QdrantStore{url: rawURL, apiKey: apiKey, collection: collection}
}

// parseURL extracts host, gRPC port and TLS flag from a Qdrant URL. The REST
// port 6333 is mapped to the gRPC port 6334.
func parseURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("invalid qdrant URL %q", rawURL)
	}
	useTLS = u.Scheme == "https"
	host = u.Hostname()
	port = 6334
	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid port in qdrant URL %q", portStr)
		}
		if p != 6333 {
			port = p
		}
	}
	return host, port, useTLS, nil
}

// open connects and ensures the collection exists with the given vector size.
func (s *QdrantStore) open(ctx context.Context, dims uint64) (*qdrant.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	host, port, useTLS, err := parseURL(s.url)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: s.apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant at %s:%d: %w", host, port, err)
	}

	exists, err := client.CollectionExists(ctx, s.collection)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("checking collection %q: %w", s.collection, err)
	}
	if !exists {
		if err := client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     dims,
				Distance: qdrant.Distance_Euclid,
			}),
		}); err != nil {
			client.Close()
			return nil, fmt.Errorf("creating collection %q: %w", s.collection, err)
		}
	}

	s.client = client
	s.dims = dims
	return client, nil
}

// Upsert writes vectors keyed by item number.
func (s *QdrantStore) Upsert(ctx context.Context, numbers []int, vectors [][]float32) error {
	if len(numbers) == 0 {
		return nil
	}
	if len(numbers) != len(vectors) {
		return fmt.Errorf("upsert mismatch: %d numbers, %d vectors", len(numbers), len(vectors))
	}
	client, err := s.open(ctx, uint64(len(vectors[0])))
	if err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(numbers))
	for i, n := range numbers {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(n)),
			Vectors: qdrant.NewVectorsDense(vectors[i]),
		}
	}
	_, err = client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting %d points: %w", len(points), err)
	}
	return nil
}

// Query returns the nearest neighbours of vector with their L2 distances.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, limit int) ([]Neighbor, error) {
	client, err := s.open(ctx, uint64(len(vector)))
	if err != nil {
		return nil, err
	}

	fetchLimit := uint64(limit)
	scored, err := client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          &fetchLimit,
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, fmt.Errorf("querying neighbours: %w", err)
	}

	out := make([]Neighbor, 0, len(scored))
	for _, sp := range scored {
		out = append(out, Neighbor{
			Number:   int(sp.Id.GetNum()),
			Distance: sp.Score,
		})
	}
	return out, nil
}

// Close shuts down the gRPC connection when one was opened.
func (s *QdrantStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

var _ VectorStore = (*QdrantStore)(nil)
