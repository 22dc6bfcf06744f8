// Package respcache stores complete HTTP responses keyed by request, in named
// caches backed by a single BoltDB file. Entries never expire; deleting a
// cache or clearing the storage are the only ways to drop them.
package respcache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Entry is one captured response.
type Entry struct {
	Method   string
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Key returns the cache key for a request.
func Key(method, url string) string {
	if method == "" {
		method = http.MethodGet
	}
	return strings.ToUpper(method) + " " + url
}

// OK reports whether the captured status is a success.
func (e *Entry) OK() bool {
	return e.Status >= 200 && e.Status < 300
}

// Write replays the entry onto w.
func (e *Entry) Write(w http.ResponseWriter) {
	h := w.Header()
	for k, vs := range e.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	h.Set("Content-Length", strconv.Itoa(len(e.Body)))
	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(e.Body)
}

// Storage is the set of named caches.
type Storage struct {
	db     *bolt.DB
	logger *slog.Logger
	clock  func() time.Time
}

// Open opens (or creates) the response cache file at path.
func Open(path string, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	return &Storage{db: db, logger: logger, clock: time.Now}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// Names lists every cache.
func (s *Storage) Names() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

// Has reports whether the named cache exists.
func (s *Storage) Has(name string) bool {
	var ok bool
	s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket([]byte(name)) != nil
		return nil
	})
	return ok
}

// Cache returns the named cache, creating it if needed.
func (s *Storage) Cache(name string) (*Cache, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", name, err)
	}
	return &Cache{s: s, name: name}, nil
}

// Delete removes the named cache. It reports whether the cache existed.
func (s *Storage) Delete(name string) (bool, error) {
	var existed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(name)) == nil {
			return nil
		}
		existed = true
		return tx.DeleteBucket([]byte(name))
	})
	return existed, err
}

// Clear deletes every cache and returns the names removed.
func (s *Storage) Clear() ([]string, error) {
	names, err := s.Names()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if _, err := s.Delete(name); err != nil {
			return nil, fmt.Errorf("failed to delete cache %s: %w", name, err)
		}
	}
	return names, nil
}

// Match looks the request up in every cache, in name order.
func (s *Storage) Match(method, url string) (*Entry, bool) {
	key := []byte(Key(method, url))
	var raw []byte
	s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(_ []byte, b *bolt.Bucket) error {
			if v := b.Get(key); v != nil && raw == nil {
				raw = append([]byte(nil), v...)
			}
			return nil
		})
	})
	return s.decode(raw)
}

func (s *Storage) decode(raw []byte) (*Entry, bool) {
	if raw == nil {
		return nil, false
	}
	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&e); err != nil {
		s.logger.Warn("dropping undecodable cache entry", "error", err)
		return nil, false
	}
	return &e, true
}

// Cache is one named response cache.
type Cache struct {
	s    *Storage
	name string
}

func (c *Cache) Name() string {
	return c.name
}

// Put stores e, overwriting any previous entry for the same request.
func (c *Cache) Put(e Entry) error {
	if e.StoredAt.IsZero() {
		e.StoredAt = c.s.clock()
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&e); err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	return c.s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(c.name))
		if err != nil {
			return err
		}
		return b.Put([]byte(Key(e.Method, e.URL)), buf.Bytes())
	})
}

// Match looks the request up in this cache only.
func (c *Cache) Match(method, url string) (*Entry, bool) {
	key := []byte(Key(method, url))
	var raw []byte
	c.s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(c.name)); b != nil {
			if v := b.Get(key); v != nil {
				raw = append([]byte(nil), v...)
			}
		}
		return nil
	})
	return c.s.decode(raw)
}

// Delete removes the entry for a request.
func (c *Cache) Delete(method, url string) error {
	return c.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(c.name))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(Key(method, url)))
	})
}

// Keys lists the request keys held by this cache.
func (c *Cache) Keys() ([]string, error) {
	var keys []string
	err := c.s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(c.name))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}
