package store

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/andresmejia3/lookout/internal/evidence"
)

func TestVectorText(t *testing.T) {
	vec := []float64{0.5, -1.25, 3}
	s := vecToString(vec)
	if s != "[0.5,-1.25,3]" {
		t.Fatalf("vecToString = %q", s)
	}
	back, err := parseVector(s)
	if err != nil {
		t.Fatal(err)
	}
	for i := range vec {
		if math.Abs(back[i]-vec[i]) > 1e-12 {
			t.Errorf("element %d: got %f want %f", i, back[i], vec[i])
		}
	}
	if _, err := parseVector("[1,x]"); err == nil {
		t.Error("Expected parse error")
	}
	if v, err := parseVector("[]"); err != nil || v != nil {
		t.Errorf("empty vector: %v %v", v, err)
	}
}

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Explicitly check for Docker availability and fail hard if missing
	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	// Start Postgres Container with pgvector
	// We use the official pgvector image to ensure the extension is available.
	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("pgvector/pgvector:pg16"),
		postgres.WithDatabase("lookout_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	// Get Connection String
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	// Cache miss
	if _, ok, err := s.LookupGalleryEmbedding(ctx, "fp-alice"); err != nil || ok {
		t.Fatalf("Expected cache miss, got ok=%v err=%v", ok, err)
	}

	vecA := []float64{1, 0, 0}
	vecB := []float64{0, 1, 0}
	if err := s.SaveGalleryEmbedding(ctx, "fp-alice", "alice", "/g/alice.jpg", vecA); err != nil {
		t.Fatalf("SaveGalleryEmbedding failed: %v", err)
	}
	if err := s.SaveGalleryEmbedding(ctx, "fp-bob", "bob", "/g/bob.jpg", vecB); err != nil {
		t.Fatalf("SaveGalleryEmbedding failed: %v", err)
	}

	got, ok, err := s.LookupGalleryEmbedding(ctx, "fp-alice")
	if err != nil || !ok {
		t.Fatalf("Expected cache hit, got ok=%v err=%v", ok, err)
	}
	if len(got) != 3 || got[0] != 1 {
		t.Errorf("Unexpected cached vector %v", got)
	}

	// Re-enrolling a modified file replaces the stale fingerprint
	if err := s.SaveGalleryEmbedding(ctx, "fp-alice-2", "alice", "/g/alice.jpg", vecA); err != nil {
		t.Fatal(err)
	}
	records, err := s.ListGallery(ctx)
	if err != nil {
		t.Fatalf("ListGallery failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 gallery records, got %d", len(records))
	}
	if records[0].Label != "alice" || records[0].Fingerprint != "fp-alice-2" {
		t.Errorf("Unexpected first record %+v", records[0])
	}

	// Nearest neighbour
	label, dist, err := s.FindClosestLabel(ctx, []float64{0.9, 0.1, 0}, 0.5)
	if err != nil {
		t.Fatalf("FindClosestLabel failed: %v", err)
	}
	if label != "alice" || dist <= 0 {
		t.Errorf("Expected alice, got %q at %f", label, dist)
	}
	if label, _, _ := s.FindClosestLabel(ctx, []float64{0, 0, 5}, 0.5); label != "" {
		t.Errorf("Expected no match, got %q", label)
	}

	// Sightings
	rec := evidence.Record{Session: "s1", Kind: evidence.KindFace, Label: "alice", Path: "/f/alice_1.jpg", Seq: 7, CapturedAt: time.Now()}
	if err := s.Record(ctx, rec); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Record(ctx, evidence.Record{Session: "s2", Kind: evidence.KindHuman, Path: "/h/1.jpg", CapturedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	sightings, err := s.ListSightings(ctx, "s1")
	if err != nil {
		t.Fatalf("ListSightings failed: %v", err)
	}
	if len(sightings) != 1 || sightings[0].Label != "alice" {
		t.Errorf("Unexpected sightings %+v", sightings)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
