// Package badger provides a BadgerDB-backed local cache store.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v3"

	domainerrors "github.com/jbctechsolutions/leadline/internal/domain/errors"
	"github.com/jbctechsolutions/leadline/internal/domain/record"
)

const (
	recordPrefix = "rec/"
	metaPrefix   = "meta/"
)

// CacheStore implements ports.CacheStore on a Badger key/value database.
// Records live under rec/<collection>/<id>; sync markers under meta/<collection>.
type CacheStore struct {
	db *badger.DB
}

// Open opens (or creates) a Badger database in dir.
func Open(dir string) (*CacheStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create badger directory: %w", err)
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("could not open badger: %w", err)
	}
	return &CacheStore{db: db}, nil
}

func recordKey(collection, id string) []byte {
	return []byte(recordPrefix + collection + "/" + id)
}

func collectionPrefix(collection string) []byte {
	return []byte(recordPrefix + collection + "/")
}

// Put upserts records by id in a single transaction.
func (s *CacheStore) Put(_ context.Context, collection string, records []record.Record) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, r := range records {
			id := r.ID()
			if id == "" {
				return domainerrors.Validation(fmt.Sprintf("cannot cache %s record without id", collection), nil)
			}
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := txn.Set(recordKey(collection, id), data); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("put", err)
}

// GetAll returns every record in the collection, ordered by id.
func (s *CacheStore) GetAll(_ context.Context, collection string) ([]record.Record, error) {
	var out []record.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = collectionPrefix(collection)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var r record.Record
			if err := json.Unmarshal(data, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("get all", err)
	}
	return out, nil
}

// GetByID returns the cached record or nil.
func (s *CacheStore) GetByID(_ context.Context, collection, id string) (record.Record, error) {
	var r record.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(collection, id))
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &r)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get", err)
	}
	return r, nil
}

// Remove deletes a cached record.
func (s *CacheStore) Remove(_ context.Context, collection, id string) error {
	return wrap("remove", s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(collection, id))
	}))
}

// ClearAll drops every record and sync marker.
func (s *CacheStore) ClearAll(_ context.Context) error {
	return wrap("clear", s.db.DropPrefix([]byte(recordPrefix), []byte(metaPrefix)))
}

// SetLastSync records when collection was last refreshed from the remote.
func (s *CacheStore) SetLastSync(_ context.Context, collection string, at time.Time) error {
	data, err := at.UTC().MarshalText()
	if err != nil {
		return wrap("set last sync", err)
	}
	return wrap("set last sync", s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaPrefix+collection), data)
	}))
}

// LastSync returns the last refresh time of collection.
func (s *CacheStore) LastSync(_ context.Context, collection string) (time.Time, bool, error) {
	var at time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaPrefix + collection))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return at.UnmarshalText(val)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrap("last sync", err)
	}
	return at, true, nil
}

// Close closes the database.
func (s *CacheStore) Close() error {
	return s.db.Close()
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *domainerrors.LeadlineError
	if errors.As(err, &le) {
		return err
	}
	return domainerrors.NewError(domainerrors.CodeStorage, "badger "+op, err)
}
