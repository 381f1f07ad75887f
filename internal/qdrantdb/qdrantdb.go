package qdrantdb

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"quikbot/internal/helper"
	"quikbot/internal/models"
)

const (
	payloadContent   = "content"
	defaultBatchSize = 256
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Store keeps chunk embeddings in a Qdrant collection over gRPC.
type Store struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	batchSize   int
}

func New(addr, collection string, batchSize int) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		batchSize:   normalizeBatch(batchSize),
	}, nil
}

// NewWithClients is used with in-process fakes
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string, batchSize int) *Store {
	return &Store{points: points, collections: collections, collection: collection, batchSize: normalizeBatch(batchSize)}
}

func normalizeBatch(n int) int {
	if n <= 0 {
		return defaultBatchSize
	}
	return n
}

func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Store) exists(ctx context.Context) (bool, error) {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("qdrant: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return true, nil
		}
	}
	return false, nil
}

// ensureCollection creates the collection with cosine distance if it is missing
func (s *Store) ensureCollection(ctx context.Context, dims int) error {
	ok, err := s.exists(ctx)
	if err != nil || ok {
		return err
	}

	log.Info().Str("collection", s.collection).Int("dims", dims).Msg("Creating qdrant collection")
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
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
		return fmt.Errorf("qdrant: create collection %s: %w", s.collection, err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	ok, err := s.exists(ctx)
	if err != nil || !ok {
		return 0, err
	}
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{CollectionName: s.collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count %s: %w", s.collection, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Reset deletes the collection; it is recreated by the next Add.
func (s *Store) Reset(ctx context.Context) error {
	ok, err := s.exists(ctx)
	if err != nil || !ok {
		return err
	}
	if _, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: s.collection}); err != nil {
		return fmt.Errorf("qdrant: delete collection %s: %w", s.collection, err)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, docs []models.ChunkEmbedding) error {
	if len(docs) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, len(docs[0].Embedding)); err != nil {
		return err
	}

	points := make([]*pb.PointStruct, len(docs))
	for i, d := range docs {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: helper.ChunkUUID(d.SourceFilename, d.ChunkID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: d.Embedding},
				},
			},
			Payload: map[string]*pb.Value{
				payloadContent:     {Kind: &pb.Value_StringValue{StringValue: d.Content}},
				models.MetaSource:  {Kind: &pb.Value_StringValue{StringValue: d.SourceFilename}},
				models.MetaChunkID: {Kind: &pb.Value_IntegerValue{IntegerValue: int64(d.ChunkID)}},
			},
		}
	}

	// one request per batch keeps messages under the gRPC size limit
	wait := true
	for start := 0; start < len(points); start += s.batchSize {
		end := min(start+s.batchSize, len(points))
		if _, err := s.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: s.collection,
			Wait:           &wait,
			Points:         points[start:end],
		}); err != nil {
			return fmt.Errorf("qdrant: upsert points %d-%d: %w", start, end-1, err)
		}
	}
	log.Debug().Int("points", len(points)).Int("batch_size", s.batchSize).Msg("Upserted points")
	return nil
}

func (s *Store) Search(ctx context.Context, embedding []float32, k int) ([]models.SearchResult, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	if k <= 0 {
		return nil, nil
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         embedding,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}

	results := make([]models.SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		payload := r.GetPayload()
		results[i] = models.SearchResult{
			Content:        payload[payloadContent].GetStringValue(),
			SourceFilename: payload[models.MetaSource].GetStringValue(),
			ChunkID:        int(payload[models.MetaChunkID].GetIntegerValue()),
			Score:          r.GetScore(),
		}
	}
	return results, nil
}
