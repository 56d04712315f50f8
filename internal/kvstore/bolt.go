package kvstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	valuesBucket = []byte("kv")
	setsBucket   = []byte("sets")
)

// setSeparator splits a set name from a member in the sets bucket.
const setSeparator = 0x00

// BoltStore is a Store backed by a single bbolt file.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBolt opens or creates the database at path. Opening blocks for at most
// timeout when another process holds the file lock.
func OpenBolt(path string, timeout time.Duration) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{valuesBucket, setsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return &BoltStore{db: db, now: time.Now}, nil
}

func encodeEntry(value []byte, expiresAt int64) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf, uint64(expiresAt))
	copy(buf[8:], value)
	return buf
}

func decodeEntry(raw []byte) (value []byte, expiresAt int64) {
	if len(raw) < 8 {
		return nil, 0
	}
	return raw[8:], int64(binary.BigEndian.Uint64(raw))
}

func (s *BoltStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(valuesBucket).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		value, exp := decodeEntry(raw)
		if expired(exp, s.now()) {
			return ErrNotFound
		}
		out = bytes.Clone(value)
		return nil
	})
	return out, err
}

func (s *BoltStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := encodeEntry(value, expiryFor(ttl, s.now()))
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(valuesBucket).Put([]byte(key), entry)
	})
}

func (s *BoltStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, k := range keys {
			if err := tx.Bucket(valuesBucket).Delete([]byte(k)); err != nil {
				return err
			}
			if err := deleteSet(tx, k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *BoltStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g, err := compilePattern(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	removed := 0
	err = s.db.Update(func(tx *bolt.Tx) error {
		// Keys are collected first; mutating a bucket while iterating it is unsafe.
		var keys [][]byte
		c := tx.Bucket(valuesBucket).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if g.Match(string(k)) {
				keys = append(keys, bytes.Clone(k))
			}
		}
		for _, k := range keys {
			if err := tx.Bucket(valuesBucket).Delete(k); err != nil {
				return err
			}
		}

		sets := map[string]struct{}{}
		sc := tx.Bucket(setsBucket).Cursor()
		for k, _ := sc.First(); k != nil; k, _ = sc.Next() {
			if name, _, ok := bytes.Cut(k, []byte{setSeparator}); ok && g.Match(string(name)) {
				sets[string(name)] = struct{}{}
			}
		}
		for name := range sets {
			if err := deleteSet(tx, name); err != nil {
				return err
			}
		}

		removed = len(keys) + len(sets)
		return nil
	})
	return removed, err
}

func setMemberKey(set, member string) []byte {
	k := make([]byte, 0, len(set)+1+len(member))
	k = append(k, set...)
	k = append(k, setSeparator)
	return append(k, member...)
}

func setPrefix(set string) []byte {
	return append([]byte(set), setSeparator)
}

func deleteSet(tx *bolt.Tx, set string) error {
	b := tx.Bucket(setsBucket)
	prefix := setPrefix(set)
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, bytes.Clone(k))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) SetAdd(ctx context.Context, key string, members ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(setsBucket)
		for _, m := range members {
			if err := b.Put(setMemberKey(key, m), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) SetRemove(ctx context.Context, key string, members ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(setsBucket)
		for _, m := range members {
			if err := b.Delete(setMemberKey(key, m)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var members []string
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := setPrefix(key)
		c := tx.Bucket(setsBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			members = append(members, string(k[len(prefix):]))
		}
		return nil
	})
	sort.Strings(members)
	return members, err
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
