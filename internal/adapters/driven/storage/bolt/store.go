// Package bolt provides a bbolt-backed state store.
// Every cursor write is a read-compare-write inside one Update transaction,
// which bbolt serialises.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-federation/internal/logger"
)

const (
	// DefaultFileName is the database file created inside the data directory.
	DefaultFileName = "state.bolt"

	// DefaultTimeout bounds how long Open waits for the file lock.
	DefaultTimeout = 1 * time.Second
)

var (
	cursorBucket = []byte("cursors")
	resultBucket = []byte("results")
)

// Ensure Store implements the interfaces.
var (
	_ driven.CursorStore = (*Store)(nil)
	_ driven.ResultStore = (*Store)(nil)
)

// Store implements driven.CursorStore and driven.ResultStore using bbolt.
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens or creates the database in dataDir.
func Open(dataDir string, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	path := filepath.Join(dataDir, DefaultFileName)
	logger.With(zap.String("path", path)).Debug("opening bolt state store")

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{cursorBucket, resultBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialising database: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Get retrieves the cursor for a source, or the zero cursor.
func (s *Store) Get(_ context.Context, source string) (domain.SyncCursor, error) {
	c := domain.SyncCursor{Source: source}
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(cursorBucket).Get([]byte(source))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return domain.SyncCursor{}, fmt.Errorf("reading cursor: %w", err)
	}
	return c, nil
}

// CompareAndAdvance stores next only if the stored version equals expected.Version.
func (s *Store) CompareAndAdvance(_ context.Context, source string, expected, next domain.SyncCursor) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cursorBucket)
		var cur domain.SyncCursor
		if data := b.Get([]byte(source)); data != nil {
			if err := json.Unmarshal(data, &cur); err != nil {
				return fmt.Errorf("decoding cursor: %w", err)
			}
		}
		if cur.Version != expected.Version {
			return domain.ErrConflict
		}
		next.Source = source
		next.Version = expected.Version + 1
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encoding cursor: %w", err)
		}
		return b.Put([]byte(source), data)
	})
}

// Delete removes the cursor and history of a source.
func (s *Store) Delete(_ context.Context, source string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(cursorBucket).Delete([]byte(source)); err != nil {
			return err
		}
		results := tx.Bucket(resultBucket)
		if results.Bucket([]byte(source)) != nil {
			return results.DeleteBucket([]byte(source))
		}
		return nil
	})
}

// List returns every stored cursor ordered by source name.
func (s *Store) List(_ context.Context) ([]domain.SyncCursor, error) {
	var out []domain.SyncCursor
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(cursorBucket).ForEach(func(_, v []byte) error {
			var c domain.SyncCursor
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing cursors: %w", err)
	}
	return out, nil
}

// Record appends a result under the source's sub-bucket.
func (s *Store) Record(_ context.Context, result domain.SyncResult) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(resultBucket).CreateBucketIfNotExists([]byte(result.Source))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		return b.Put(itob(seq), data)
	})
}

// History returns recent results for a source, most recent first.
func (s *Store) History(_ context.Context, source string, limit int) ([]domain.SyncResult, error) {
	var out []domain.SyncResult
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(resultBucket).Bucket([]byte(source))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var r domain.SyncResult
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return out, nil
}

// Prune keeps the most recent keep results per source.
func (s *Store) Prune(_ context.Context, keep int) error {
	if keep < 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(resultBucket).ForEachBucket(func(name []byte) error {
			b := tx.Bucket(resultBucket).Bucket(name)
			var stale [][]byte
			c := b.Cursor()
			n := 0
			for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
				n++
				if n > keep {
					stale = append(stale, append([]byte(nil), k...))
				}
			}
			for _, k := range stale {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// itob returns an 8-byte big endian representation of v.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
