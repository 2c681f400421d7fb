package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainerrors "github.com/jbctechsolutions/leadline/internal/domain/errors"
	"github.com/jbctechsolutions/leadline/internal/domain/record"
)

// CacheStore implements ports.CacheStore on the cached_records table.
type CacheStore struct {
	conn *Connection
}

// NewCacheStore creates a cache store on an open connection.
func NewCacheStore(conn *Connection) *CacheStore {
	return &CacheStore{conn: conn}
}

// Put upserts records by id. Records without an id are rejected.
func (s *CacheStore) Put(ctx context.Context, collection string, records []record.Record) error {
	db, err := s.conn.DB()
	if err != nil {
		return storageErr("put", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("put", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cached_records (collection, id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return storageErr("put", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		id := r.ID()
		if id == "" {
			return domainerrors.Validation(fmt.Sprintf("cannot cache %s record without id", collection), nil)
		}
		data, err := json.Marshal(r)
		if err != nil {
			return storageErr("put", err)
		}
		if _, err := stmt.ExecContext(ctx, collection, id, string(data), now); err != nil {
			return storageErr("put", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("put", err)
	}
	return nil
}

// GetAll returns every record in the collection.
func (s *CacheStore) GetAll(ctx context.Context, collection string) ([]record.Record, error) {
	db, err := s.conn.DB()
	if err != nil {
		return nil, storageErr("get all", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT data FROM cached_records WHERE collection = ? ORDER BY rowid`, collection)
	if err != nil {
		return nil, storageErr("get all", err)
	}
	defer rows.Close()

	var out []record.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, storageErr("get all", err)
		}
		var r record.Record
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, storageErr("get all", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get all", err)
	}
	return out, nil
}

// GetByID returns the cached record or nil.
func (s *CacheStore) GetByID(ctx context.Context, collection, id string) (record.Record, error) {
	db, err := s.conn.DB()
	if err != nil {
		return nil, storageErr("get", err)
	}

	var data string
	err = db.QueryRowContext(ctx,
		`SELECT data FROM cached_records WHERE collection = ? AND id = ?`, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get", err)
	}

	var r record.Record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, storageErr("get", err)
	}
	return r, nil
}

// Remove deletes a cached record. Removing a missing record is not an error.
func (s *CacheStore) Remove(ctx context.Context, collection, id string) error {
	db, err := s.conn.DB()
	if err != nil {
		return storageErr("remove", err)
	}
	if _, err := db.ExecContext(ctx,
		`DELETE FROM cached_records WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return storageErr("remove", err)
	}
	return nil
}

// ClearAll drops every cached record and sync marker. Pending actions are kept.
func (s *CacheStore) ClearAll(ctx context.Context) error {
	db, err := s.conn.DB()
	if err != nil {
		return storageErr("clear", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM cached_records; DELETE FROM sync_meta;`); err != nil {
		return storageErr("clear", err)
	}
	return nil
}

// SetLastSync records when collection was last refreshed from the remote.
func (s *CacheStore) SetLastSync(ctx context.Context, collection string, at time.Time) error {
	db, err := s.conn.DB()
	if err != nil {
		return storageErr("set last sync", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO sync_meta (collection, last_sync) VALUES (?, ?)
		ON CONFLICT(collection) DO UPDATE SET last_sync = excluded.last_sync
	`, collection, at.UTC())
	if err != nil {
		return storageErr("set last sync", err)
	}
	return nil
}

// LastSync returns the last refresh time of collection.
func (s *CacheStore) LastSync(ctx context.Context, collection string) (time.Time, bool, error) {
	db, err := s.conn.DB()
	if err != nil {
		return time.Time{}, false, storageErr("last sync", err)
	}
	var at time.Time
	err = db.QueryRowContext(ctx, `SELECT last_sync FROM sync_meta WHERE collection = ?`, collection).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, storageErr("last sync", err)
	}
	return at, true, nil
}

// Close closes the underlying connection.
func (s *CacheStore) Close() error {
	return s.conn.Close()
}

func storageErr(op string, err error) error {
	return domainerrors.NewError(domainerrors.CodeStorage, "sqlite "+op, err)
}
