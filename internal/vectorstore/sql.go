package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/studyrag/internal/config"
	"github.com/xxxsen/studyrag/internal/db"
	"github.com/xxxsen/studyrag/internal/model"
	"github.com/xxxsen/studyrag/internal/pkg/dbutil"
)

const (
	tableCollections = "vector_collections"
	tableEntries     = "vector_entries"

	insertAttempts = 3
)

func init() {
	Register(dbutil.DialectSQLite, createSQLiteStore)
	Register(dbutil.DialectPostgres, createPostgresStore)
}

func createSQLiteStore(cfg config.VectorStoreConfig) (Store, error) {
	if cfg.SQLitePath == "" {
		return nil, fmt.Errorf("vector_store.sqlite_path is required")
	}
	conn, err := db.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return NewSQL(conn, dbutil.DialectSQLite)
}

func createPostgresStore(cfg config.VectorStoreConfig) (Store, error) {
	conn, err := db.OpenPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewSQL(conn, dbutil.DialectPostgres)
}

// sqlStore persists collections in two tables. On postgres the embedding
// column is a pgvector value and ranking runs in the database; on sqlite
// vectors are JSON blobs ranked in process.
type sqlStore struct {
	db      *sql.DB
	dialect string
}

// NewSQL applies the dialect's migrations on conn and wraps it. The store
// owns conn from then on.
func NewSQL(conn *sql.DB, dialect string) (Store, error) {
	if err := db.ApplyMigrations(conn, dialect); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &sqlStore{db: conn, dialect: dialect}, nil
}

func (s *sqlStore) Name() string {
	return s.dialect
}

func (s *sqlStore) CreateCollection(ctx context.Context, name string, dim int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.deleteIn(ctx, tx, name); err != nil {
		return err
	}
	sqlStr, args, err := builder.BuildInsert(tableCollections, []map[string]interface{}{{
		"name":      name,
		"dimension": dim,
		"ctime":     time.Now().UnixMilli(),
	}})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(s.dialect, sqlStr, args)
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) DeleteCollection(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.deleteIn(ctx, tx, name); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) deleteIn(ctx context.Context, tx *sql.Tx, name string) error {
	for _, del := range []struct {
		table string
		where map[string]interface{}
	}{
		{tableEntries, map[string]interface{}{"collection": name}},
		{tableCollections, map[string]interface{}{"name": name}},
	} {
		sqlStr, args, err := builder.BuildDelete(del.table, del.where)
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(s.dialect, sqlStr, args)
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) dimension(ctx context.Context, q queryer, name string) (int, error) {
	sqlStr, args, err := builder.BuildSelect(tableCollections, map[string]interface{}{"name": name}, []string{"dimension"})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(s.dialect, sqlStr, args)
	var dim int
	if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&dim); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, collectionMissing(name)
		}
		return 0, err
	}
	return dim, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *sqlStore) countIn(ctx context.Context, q queryer, name string) (int, error) {
	sqlStr, args := dbutil.Finalize(s.dialect, "SELECT COUNT(*) FROM vector_entries WHERE collection=?", []interface{}{name})
	var n int
	if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Insert appends entries after the collection's current tail. Positions are
// assigned from a count inside the transaction, so a concurrent writer can
// claim the same slots; the insert is retried when the key collides.
func (s *sqlStore) Insert(ctx context.Context, name string, ids, documents []string, embeddings [][]float32, metadatas []model.Metadata) error {
	var err error
	for attempt := 0; attempt < insertAttempts; attempt++ {
		err = s.insertOnce(ctx, name, ids, documents, embeddings, metadatas)
		if !dbutil.IsConflict(err) {
			return err
		}
	}
	return fmt.Errorf("insert into %s: positions still taken after %d attempts: %w", name, insertAttempts, err)
}

func (s *sqlStore) insertOnce(ctx context.Context, name string, ids, documents []string, embeddings [][]float32, metadatas []model.Metadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	dim, err := s.dimension(ctx, tx, name)
	if err != nil {
		return err
	}
	if err := checkInsert(ids, documents, embeddings, metadatas, dim); err != nil {
		return err
	}
	if len(ids) == 0 {
		return tx.Commit()
	}
	base, err := s.countIn(ctx, tx, name)
	if err != nil {
		return err
	}
	rows := make([]map[string]interface{}, 0, len(ids))
	for i := range ids {
		meta, err := json.Marshal(metadatas[i])
		if err != nil {
			return err
		}
		emb, err := s.encodeVector(embeddings[i])
		if err != nil {
			return err
		}
		rows = append(rows, map[string]interface{}{
			"collection": name,
			"position":   base + i,
			"entry_id":   ids[i],
			"document":   documents[i],
			"embedding":  emb,
			"metadata":   string(meta),
		})
	}
	sqlStr, args, err := builder.BuildInsert(tableEntries, rows)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(s.dialect, sqlStr, args)
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) encodeVector(v []float32) (interface{}, error) {
	if s.dialect == dbutil.DialectPostgres {
		return pgvector.NewVector(v), nil
	}
	return json.Marshal(v)
}

func (s *sqlStore) Query(ctx context.Context, name string, embedding []float32, k int) ([]model.Hit, error) {
	if _, err := s.dimension(ctx, s.db, name); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []model.Hit{}, nil
	}
	if s.dialect == dbutil.DialectPostgres {
		return s.queryPostgres(ctx, name, embedding, k)
	}
	return s.querySQLite(ctx, name, embedding, k)
}

// queryPostgres ranks with pgvector's cosine distance operator. Zero vectors
// yield NaN there, which is mapped to 1 to match the in-process ranking.
func (s *sqlStore) queryPostgres(ctx context.Context, name string, embedding []float32, k int) ([]model.Hit, error) {
	const query = `
		SELECT entry_id, document, metadata, COALESCE(NULLIF(embedding <=> ?, 'NaN'::float8), 1) AS distance
		FROM vector_entries
		WHERE collection = ?
		ORDER BY distance ASC, position ASC
		LIMIT ?
	`
	sqlStr, args := dbutil.Finalize(s.dialect, query, []interface{}{pgvector.NewVector(embedding), name, k})
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	hits := make([]model.Hit, 0, k)
	for rows.Next() {
		var hit model.Hit
		var meta []byte
		if err := rows.Scan(&hit.ID, &hit.Document, &meta, &hit.Distance); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &hit.Metadata); err != nil {
			return nil, err
		}
		if math.IsNaN(hit.Distance) {
			hit.Distance = 1
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (s *sqlStore) querySQLite(ctx context.Context, name string, embedding []float32, k int) ([]model.Hit, error) {
	where := map[string]interface{}{
		"collection": name,
		"_orderby":   "position asc",
	}
	sqlStr, args, err := builder.BuildSelect(tableEntries, where, []string{"entry_id", "document", "embedding", "metadata"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(s.dialect, sqlStr, args)
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []entry
	for rows.Next() {
		var e entry
		var blob []byte
		var meta string
		if err := rows.Scan(&e.id, &e.document, &blob, &meta); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(blob, &e.embedding); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &e.metadata); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rank(entries, embedding, k), nil
}

func (s *sqlStore) Count(ctx context.Context, name string) (int, error) {
	if _, err := s.dimension(ctx, s.db, name); err != nil {
		return 0, err
	}
	return s.countIn(ctx, s.db, name)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
