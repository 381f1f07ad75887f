package qdrantdb

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"quikbot/internal/helper"
	"quikbot/internal/models"
)

type mockPoints struct {
	upserts    []*pb.UpsertPoints
	upserted   *pb.UpsertPoints
	upsertErr  error
	searched   *pb.SearchPoints
	searchResp *pb.SearchResponse
	count      uint64
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserted = in
	m.upserts = append(m.upserts, in)
	return &pb.PointsOperationResponse{}, m.upsertErr
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searched = in
	return m.searchResp, nil
}

func (m *mockPoints) Count(_ context.Context, _ *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	return &pb.CountResponse{Result: &pb.CountResult{Count: m.count}}, nil
}

type mockCollections struct {
	names   []string
	created *pb.CreateCollection
	deleted int
	listErr error
}

func (m *mockCollections) List(context.Context, *pb.ListCollectionsRequest, ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	resp := &pb.ListCollectionsResponse{}
	for _, n := range m.names {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: n})
	}
	return resp, nil
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = in
	m.names = append(m.names, in.GetCollectionName())
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func (m *mockCollections) Delete(_ context.Context, in *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.deleted++
	kept := m.names[:0]
	for _, n := range m.names {
		if n != in.GetCollectionName() {
			kept = append(kept, n)
		}
	}
	m.names = kept
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func fixtureDocs() []models.ChunkEmbedding {
	return []models.ChunkEmbedding{
		{Content: "cats", SourceFilename: "data/pets.pdf", ChunkID: 1, Embedding: []float32{1, 0, 0}},
		{Content: "dogs", SourceFilename: "data/pets.pdf", ChunkID: 2, Embedding: []float32{0, 1, 0}},
	}
}

func TestAdd_CreatesCollectionAndUpserts(t *testing.T) {
	points, cols := &mockPoints{}, &mockCollections{}
	s := NewWithClients(points, cols, "pdf_collection", 0)

	if err := s.Add(context.Background(), fixtureDocs()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if cols.created == nil {
		t.Fatal("collection was not created")
	}
	params := cols.created.GetVectorsConfig().GetParams()
	if params.GetSize() != 3 || params.GetDistance() != pb.Distance_Cosine {
		t.Errorf("unexpected vector params %v", params)
	}

	got := points.upserted.GetPoints()
	if len(got) != 2 || !points.upserted.GetWait() {
		t.Fatalf("unexpected upsert %v", points.upserted)
	}
	if got[0].GetId().GetUuid() != helper.ChunkUUID("data/pets.pdf", 1) {
		t.Errorf("point id %s is not deterministic", got[0].GetId().GetUuid())
	}
	if got[1].GetPayload()[models.MetaChunkID].GetIntegerValue() != 2 {
		t.Errorf("payload lost chunk id: %v", got[1].GetPayload())
	}
}

func TestAdd_ExistingCollectionNotRecreated(t *testing.T) {
	cols := &mockCollections{names: []string{"pdf_collection"}}
	s := NewWithClients(&mockPoints{}, cols, "pdf_collection", 0)
	if err := s.Add(context.Background(), fixtureDocs()); err != nil {
		t.Fatal(err)
	}
	if cols.created != nil {
		t.Error("existing collection was recreated")
	}
}

func TestAdd_UpsertError(t *testing.T) {
	boom := errors.New("unavailable")
	s := NewWithClients(&mockPoints{upsertErr: boom}, &mockCollections{}, "c", 0)
	if err := s.Add(context.Background(), fixtureDocs()); !errors.Is(err, boom) {
		t.Fatalf("expected upsert error, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	points := &mockPoints{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{
		{
			Score: 0.9,
			Payload: map[string]*pb.Value{
				payloadContent:     {Kind: &pb.Value_StringValue{StringValue: "cats"}},
				models.MetaSource:  {Kind: &pb.Value_StringValue{StringValue: "data/pets.pdf"}},
				models.MetaChunkID: {Kind: &pb.Value_IntegerValue{IntegerValue: 1}},
			},
		},
	}}}
	s := NewWithClients(points, &mockCollections{}, "pdf_collection", 0)

	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if points.searched.GetLimit() != 2 || points.searched.GetCollectionName() != "pdf_collection" {
		t.Errorf("unexpected request %v", points.searched)
	}
	if len(results) != 1 || results[0].Content != "cats" || results[0].ChunkID != 1 || results[0].Score != 0.9 {
		t.Errorf("unexpected results %+v", results)
	}

	if _, err := s.Search(context.Background(), nil, 2); err == nil {
		t.Error("expected error for empty embedding")
	}
}

func TestCountAndReset(t *testing.T) {
	ctx := context.Background()
	points, cols := &mockPoints{count: 5}, &mockCollections{}
	s := NewWithClients(points, cols, "pdf_collection", 0)

	if n, err := s.Count(ctx); err != nil || n != 0 {
		t.Fatalf("missing collection count = %d, %v", n, err)
	}
	if err := s.Reset(ctx); err != nil || cols.deleted != 0 {
		t.Fatalf("reset of missing collection: deleted=%d err=%v", cols.deleted, err)
	}

	cols.names = []string{"pdf_collection"}
	if n, err := s.Count(ctx); err != nil || n != 5 {
		t.Fatalf("count = %d, %v", n, err)
	}
	if err := s.Reset(ctx); err != nil || cols.deleted != 1 {
		t.Fatalf("reset: deleted=%d err=%v", cols.deleted, err)
	}
}

func TestListError(t *testing.T) {
	s := NewWithClients(&mockPoints{}, &mockCollections{listErr: errors.New("down")}, "c", 0)
	if _, err := s.Count(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestAdd_UpsertsInBatches(t *testing.T) {
	points := &mockPoints{}
	s := NewWithClients(points, &mockCollections{}, "pdf_collection", 2)

	docs := make([]models.ChunkEmbedding, 5)
	for i := range docs {
		docs[i] = models.ChunkEmbedding{Content: "chunk", SourceFilename: "data/big.pdf", ChunkID: i + 1, Embedding: []float32{1, 0}}
	}
	if err := s.Add(context.Background(), docs); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if len(points.upserts) != 3 {
		t.Fatalf("upsert requests = %d, want 3", len(points.upserts))
	}
	seen := map[string]bool{}
	for i, req := range points.upserts {
		if len(req.GetPoints()) > 2 {
			t.Errorf("request %d has %d points", i, len(req.GetPoints()))
		}
		for _, p := range req.GetPoints() {
			seen[p.GetId().GetUuid()] = true
		}
	}
	if len(seen) != 5 {
		t.Errorf("upserted %d distinct points, want 5", len(seen))
	}
}
