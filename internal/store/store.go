package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/lookout/internal/evidence"
)

// Store manages the PostgreSQL connection and pgvector operations.
// A single connection is shared, so calls are serialized.
type Store struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

// GalleryRecord is one cached reference embedding.
type GalleryRecord struct {
	Fingerprint string
	Label       string
	Path        string
	Embedding   []float64
	UpdatedAt   time.Time
}

// Sighting is one journaled evidence capture.
type Sighting struct {
	ID         int64
	Session    string
	Kind       string
	Label      string
	Path       string
	CapturedAt time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables and vector extension if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS gallery_embeddings (
			fingerprint TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			path TEXT NOT NULL,
			embedding VECTOR NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS sightings (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			label TEXT,
			path TEXT NOT NULL,
			seq BIGINT NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS sightings_session_idx ON sightings (session_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close(ctx)
}

// vecToString formats a float slice into a PostgreSQL vector string format "[1.0,2.0,...]"
func vecToString(vec []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector reads pgvector's text form back into floats.
func parseVector(s string) ([]float64, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("parse vector element %d: %w", i, err)
		}
		vec[i] = v
	}
	return vec, nil
}

// LookupGalleryEmbedding returns the cached embedding for a reference image fingerprint.
func (s *Store) LookupGalleryEmbedding(ctx context.Context, fingerprint string) ([]float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var vecStr string
	err := s.conn.QueryRow(ctx, "SELECT embedding::text FROM gallery_embeddings WHERE fingerprint = $1", fingerprint).Scan(&vecStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	vec, err := parseVector(vecStr)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

// SaveGalleryEmbedding caches an embedding. A changed file gets a new fingerprint,
// so rows for the same path with older fingerprints are replaced.
func (s *Store) SaveGalleryEmbedding(ctx context.Context, fingerprint, label, path string, vec []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM gallery_embeddings WHERE path = $1 AND fingerprint <> $2", path, fingerprint); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO gallery_embeddings (fingerprint, label, path, embedding, updated_at)
		VALUES ($1, $2, $3, $4::vector, NOW())
		ON CONFLICT (fingerprint) DO UPDATE SET label = EXCLUDED.label, path = EXCLUDED.path,
			embedding = EXCLUDED.embedding, updated_at = NOW()
	`, fingerprint, label, path, vecToString(vec))
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListGallery returns every cached reference embedding ordered by label.
func (s *Store) ListGallery(ctx context.Context) ([]GalleryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query(ctx, "SELECT fingerprint, label, path, embedding::text, updated_at FROM gallery_embeddings ORDER BY label, path")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GalleryRecord
	for rows.Next() {
		var r GalleryRecord
		var vecStr string
		if err := rows.Scan(&r.Fingerprint, &r.Label, &r.Path, &vecStr, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if r.Embedding, err = parseVector(vecStr); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindClosestLabel searches the cache for the nearest reference using L2 distance.
// It returns an empty label when nothing lies within threshold.
func (s *Store) FindClosestLabel(ctx context.Context, vec []float64, threshold float64) (string, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vecStr := vecToString(vec)
	// <-> is the euclidean distance operator in pgvector
	query := `SELECT label, embedding <-> $1::vector AS d FROM gallery_embeddings
		WHERE embedding <-> $1::vector < $2 ORDER BY d ASC, updated_at ASC LIMIT 1`

	var label string
	var dist float64
	err := s.conn.QueryRow(ctx, query, vecStr, threshold).Scan(&label, &dist)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", 0, nil // No match found
	}
	if err != nil {
		return "", 0, err
	}
	return label, dist, nil
}

// Record mirrors an evidence capture into the sightings table.
func (s *Store) Record(ctx context.Context, rec evidence.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var label any
	if rec.Label != "" {
		label = rec.Label
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO sightings (session_id, kind, label, path, seq, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.Session, string(rec.Kind), label, rec.Path, int64(rec.Seq), rec.CapturedAt)
	return err
}

// ListSightings returns the sightings of one session, or all of them for an empty session.
func (s *Store) ListSightings(ctx context.Context, session string) ([]Sighting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := "SELECT id, session_id, kind, COALESCE(label, ''), path, captured_at FROM sightings"
	var args []any
	if session != "" {
		query += " WHERE session_id = $1"
		args = append(args, session)
	}
	query += " ORDER BY id"

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sighting
	for rows.Next() {
		var sg Sighting
		if err := rows.Scan(&sg.ID, &sg.Session, &sg.Kind, &sg.Label, &sg.Path, &sg.CapturedAt); err != nil {
			return nil, err
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS sightings CASCADE;
		DROP TABLE IF EXISTS gallery_embeddings CASCADE;
	`)
	return err
}
