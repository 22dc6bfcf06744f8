package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mmcdole/reelcache/internal/domain"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketMedia    = []byte("media")        // id -> gob(record)
	bucketFeatured = []byte("idx_featured") // id -> ""
	bucketAccessed = []byte("idx_accessed") // be64(lastAccessed) + id -> id
	bucketInfo     = []byte("idx_info")     // id -> be64(size) + be64(lastAccessed)
	bucketMeta     = []byte("meta")
)

var dataBuckets = [][]byte{bucketMedia, bucketFeatured, bucketAccessed, bucketInfo}

var keySchemaVersion = []byte("schema_version")

const schemaVersion uint64 = 1

// Default limits
const (
	DefaultMaxBytes int64 = 500 * 1024 * 1024
	DefaultMaxItems       = 10
)

// Options configures capacity enforcement.
type Options struct {
	MaxBytes int64
	MaxItems int

	// EnforceBytes additionally gates inserts on aggregate size. Off by
	// default: the byte ceiling is reported, only the item count is enforced.
	EnforceBytes bool

	Clock func() time.Time
}

// record is the persisted form of domain.CachedMedia. Playback handles are
// process-local and never stored.
type record struct {
	ID           string
	Title        string
	Description  string
	Category     domain.Category
	Views        int
	IsFeatured   bool
	UploadedAt   time.Time
	Kind         string
	MimeType     string
	Video        []byte
	Thumbnail    []byte
	CachedAt     time.Time
	LastAccessed time.Time
}

func (r record) size() int64 {
	return int64(len(r.Video) + len(r.Thumbnail))
}

func (r record) media() domain.CachedMedia {
	return domain.CachedMedia{
		ID:           r.ID,
		Title:        r.Title,
		Description:  r.Description,
		Category:     r.Category,
		Views:        r.Views,
		IsFeatured:   r.IsFeatured,
		UploadedAt:   r.UploadedAt,
		Kind:         r.Kind,
		MimeType:     r.MimeType,
		Video:        r.Video,
		Thumbnail:    r.Thumbnail,
		CachedAt:     r.CachedAt,
		LastAccessed: r.LastAccessed,
	}
}

// MediaStore implements domain.MediaStore using BoltDB.
type MediaStore struct {
	path    string
	opts    Options
	fetcher domain.PayloadFetcher
	handles *Handles
	logger  *slog.Logger

	openMu sync.Mutex
	db     *bolt.DB
	closed bool

	// Serializes every mutating transaction so eviction decisions are
	// made against a stable view of the store.
	writeMu sync.Mutex
}

// NewMediaStore creates a store backed by the bolt file at path. The file is
// opened lazily by Init or by the first operation.
func NewMediaStore(path string, fetcher domain.PayloadFetcher, handles *Handles, opts Options, logger *slog.Logger) *MediaStore {
	if logger == nil {
		logger = slog.Default()
	}
	if handles == nil {
		handles = NewHandles(DefaultHandlePrefix)
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxItems
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &MediaStore{
		path:    path,
		opts:    opts,
		fetcher: fetcher,
		handles: handles,
		logger:  logger,
	}
}

// Handles returns the playback handle registry backing this store.
func (s *MediaStore) Handles() *Handles {
	return s.handles
}

// Init opens the database and creates its schema. It is safe to call any
// number of times from any number of goroutines.
func (s *MediaStore) Init(ctx context.Context) error {
	_, err := s.open(ctx)
	return err
}

func (s *MediaStore) open(ctx context.Context) (*bolt.DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.openMu.Lock()
	defer s.openMu.Unlock()

	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	if s.db != nil {
		return s.db, nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	s.db = db
	return db, nil
}

// migrate only ever adds buckets, so unrelated collections in the same file survive upgrades.
func migrate(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		for _, name := range append([][]byte{bucketMeta}, dataBuckets...) {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keySchemaVersion); len(v) == 8 && binary.BigEndian.Uint64(v) >= schemaVersion {
			return nil
		}
		return meta.Put(keySchemaVersion, be64(schemaVersion))
	})
}

// Close closes the database and releases every playback handle. Later
// operations fail with domain.ErrStoreClosed instead of reopening the file.
func (s *MediaStore) Close() error {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.closed = true
	s.handles.RevokeAll()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// === Writes ===

// CacheVideo downloads the video (and thumbnail, when present), makes room
// for it and stores it under desc.ID. It reports false on any failure and
// never leaves a partial record behind.
func (s *MediaStore) CacheVideo(ctx context.Context, desc domain.VideoDescriptor) bool {
	db, err := s.open(ctx)
	if err != nil {
		s.logger.Error("failed to open store", "error", err)
		return false
	}
	if desc.ID == "" || desc.URL == "" {
		s.logger.Warn("refusing to cache video without id or url", "id", desc.ID, "url", desc.URL)
		return false
	}

	video, mimeType, err := s.fetcher.FetchPayload(ctx, desc.URL)
	if err != nil {
		s.logger.Error("failed to download video", "error", err, "id", desc.ID, "url", desc.URL)
		return false
	}
	if len(video) == 0 {
		s.logger.Error("failed to download video", "error", domain.ErrEmptyPayload, "id", desc.ID, "url", desc.URL)
		return false
	}

	var thumb []byte
	if desc.ThumbnailURL != "" {
		thumb, _, err = s.fetcher.FetchPayload(ctx, desc.ThumbnailURL)
		if err != nil {
			s.logger.Warn("failed to download thumbnail", "error", err, "id", desc.ID)
			thumb = nil
		}
	}

	if mimeType == "" {
		mimeType = "video/mp4"
	}

	now := s.opts.Clock()
	rec := record{
		ID:           desc.ID,
		Title:        desc.Title,
		Description:  desc.Description,
		Category:     desc.Category,
		Views:        desc.Views,
		IsFeatured:   desc.IsFeatured,
		UploadedAt:   desc.UploadedAt,
		Kind:         domain.MediaKindVideo,
		MimeType:     mimeType,
		Video:        video,
		Thumbnail:    thumb,
		CachedAt:     now,
		LastAccessed: now,
	}

	evicted, err := s.insert(db, rec)
	if err != nil {
		s.logger.Error("failed to store video", "error", err, "id", desc.ID)
		return false
	}

	// Old handles point at the replaced payload.
	s.handles.Revoke(rec.ID)
	for _, id := range evicted {
		s.handles.Revoke(id)
	}

	s.logger.Info("cached video", "id", rec.ID, "bytes", rec.size(), "evicted", evicted)
	return true
}

func (s *MediaStore) insert(db *bolt.DB, rec record) ([]string, error) {
	data, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var evicted []string
	err = db.Update(func(tx *bolt.Tx) error {
		evicted = nil

		// An overwrite frees its own slot first.
		if err := deleteTx(tx, rec.ID); err != nil {
			return err
		}

		victims, err := s.evictionPlan(tx, rec.size())
		if err != nil {
			return err
		}
		for _, id := range victims {
			if err := deleteTx(tx, id); err != nil {
				return err
			}
		}
		evicted = victims

		return writeTx(tx, rec, data)
	})
	return evicted, err
}

// evictionPlan picks the least recently accessed ids that must go so one
// more item of the given size fits.
func (s *MediaStore) evictionPlan(tx *bolt.Tx, size int64) ([]string, error) {
	if s.opts.EnforceBytes && size > s.opts.MaxBytes {
		return nil, domain.ErrTooLarge
	}

	infoB := tx.Bucket(bucketInfo)
	count := 0
	var total int64
	err := infoB.ForEach(func(_, v []byte) error {
		count++
		total += decodeInfo(v).size
		return nil
	})
	if err != nil {
		return nil, err
	}

	needSlots := count - s.opts.MaxItems + 1

	var victims []string
	c := tx.Bucket(bucketAccessed).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		overCount := len(victims) < needSlots
		overBytes := s.opts.EnforceBytes && total+size > s.opts.MaxBytes
		if !overCount && !overBytes {
			break
		}
		if raw := infoB.Get(v); raw != nil {
			total -= decodeInfo(raw).size
		}
		victims = append(victims, string(v))
	}
	return victims, nil
}

// RemoveCachedVideo deletes the record and releases its playback handles.
func (s *MediaStore) RemoveCachedVideo(ctx context.Context, id string) bool {
	db, err := s.open(ctx)
	if err != nil {
		s.logger.Error("failed to open store", "error", err)
		return false
	}

	s.writeMu.Lock()
	err = db.Update(func(tx *bolt.Tx) error {
		return deleteTx(tx, id)
	})
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Error("failed to remove video", "error", err, "id", id)
		return false
	}

	s.handles.Revoke(id)
	s.logger.Debug("removed cached video", "id", id)
	return true
}

// ClearCache deletes every record and releases every playback handle.
func (s *MediaStore) ClearCache(ctx context.Context) bool {
	db, err := s.open(ctx)
	if err != nil {
		s.logger.Error("failed to open store", "error", err)
		return false
	}

	s.writeMu.Lock()
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range dataBuckets {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Error("failed to clear cache", "error", err)
		return false
	}

	released := s.handles.RevokeAll()
	s.logger.Info("cleared media cache", "handles", released)
	return true
}

// === Reads ===

// CachedVideos returns every featured record, stamping each as accessed.
func (s *MediaStore) CachedVideos(ctx context.Context) []domain.CachedMedia {
	db, err := s.open(ctx)
	if err != nil {
		s.logger.Error("failed to open store", "error", err)
		return nil
	}

	var recs []record
	s.writeMu.Lock()
	err = db.Update(func(tx *bolt.Tx) error {
		recs = nil
		now := s.opts.Clock()

		var ids [][]byte
		c := tx.Bucket(bucketFeatured).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			ids = append(ids, append([]byte(nil), k...))
		}

		for _, id := range ids {
			rec, ok, err := loadTx(tx, id)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := touchTx(tx, &rec, now); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Error("failed to read cached videos", "error", err)
		return nil
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CachedAt.Equal(recs[j].CachedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CachedAt.Before(recs[j].CachedAt)
	})

	out := make([]domain.CachedMedia, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.withHandles(rec))
	}
	return out
}

// CachedVideo looks up a single record and stamps it as accessed.
func (s *MediaStore) CachedVideo(ctx context.Context, id string) (domain.CachedMedia, bool) {
	db, err := s.open(ctx)
	if err != nil {
		s.logger.Error("failed to open store", "error", err)
		return domain.CachedMedia{}, false
	}

	var rec record
	var found bool
	s.writeMu.Lock()
	err = db.Update(func(tx *bolt.Tx) error {
		var err error
		rec, found, err = loadTx(tx, []byte(id))
		if err != nil || !found {
			return err
		}
		return touchTx(tx, &rec, s.opts.Clock())
	})
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Error("failed to read cached video", "error", err, "id", id)
		return domain.CachedMedia{}, false
	}
	if !found {
		return domain.CachedMedia{}, false
	}
	return s.withHandles(rec), true
}

// IsVideoCached reports whether a record exists for id.
func (s *MediaStore) IsVideoCached(ctx context.Context, id string) bool {
	db, err := s.open(ctx)
	if err != nil {
		s.logger.Error("failed to open store", "error", err)
		return false
	}

	var found bool
	db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketInfo).Get([]byte(id)) != nil
		return nil
	})
	return found
}

// FeaturedCount reports how many featured records are stored. It neither
// loads payloads nor stamps records as accessed.
func (s *MediaStore) FeaturedCount(ctx context.Context) int {
	db, err := s.open(ctx)
	if err != nil {
		s.logger.Error("failed to open store", "error", err)
		return 0
	}

	var n int
	db.View(func(tx *bolt.Tx) error {
		info := tx.Bucket(bucketInfo)
		return tx.Bucket(bucketFeatured).ForEach(func(k, _ []byte) error {
			if info.Get(k) != nil {
				n++
			}
			return nil
		})
	})
	return n
}

// CachedIDs returns the ids of every cached record, featured or not.
func (s *MediaStore) CachedIDs(ctx context.Context) []string {
	db, err := s.open(ctx)
	if err != nil {
		s.logger.Error("failed to open store", "error", err)
		return nil
	}

	var ids []string
	db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInfo).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids
}

// CacheStats reports item count and aggregate payload size.
func (s *MediaStore) CacheStats(ctx context.Context) domain.CacheStats {
	stats := domain.CacheStats{MaxBytes: s.opts.MaxBytes, MaxItems: s.opts.MaxItems}

	db, err := s.open(ctx)
	if err != nil {
		s.logger.Error("failed to open store", "error", err)
		return stats
	}

	db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInfo).ForEach(func(_, v []byte) error {
			inf := decodeInfo(v)
			stats.Count++
			stats.TotalBytes += inf.size
			if stats.Oldest.IsZero() || inf.lastAccessed.Before(stats.Oldest) {
				stats.Oldest = inf.lastAccessed
			}
			if inf.lastAccessed.After(stats.Newest) {
				stats.Newest = inf.lastAccessed
			}
			return nil
		})
	})
	return stats
}

func (s *MediaStore) withHandles(rec record) domain.CachedMedia {
	m := rec.media()
	m.VideoURL = s.handles.Acquire(rec.ID, KindVideo, rec.MimeType, rec.Video)
	if len(rec.Thumbnail) > 0 {
		m.ThumbnailURL = s.handles.Acquire(rec.ID, KindThumbnail, "image/jpeg", rec.Thumbnail)
	}
	return m
}

// === Transaction helpers ===

func loadTx(tx *bolt.Tx, id []byte) (record, bool, error) {
	v := tx.Bucket(bucketMedia).Get(id)
	if v == nil {
		return record{}, false, nil
	}
	rec, err := decodeRecord(v)
	if err != nil {
		return record{}, false, fmt.Errorf("failed to decode record %s: %w", id, err)
	}
	return rec, true, nil
}

func writeTx(tx *bolt.Tx, rec record, data []byte) error {
	id := []byte(rec.ID)
	if err := tx.Bucket(bucketMedia).Put(id, data); err != nil {
		return err
	}
	if err := tx.Bucket(bucketInfo).Put(id, encodeInfo(rec.size(), rec.LastAccessed)); err != nil {
		return err
	}
	if err := tx.Bucket(bucketAccessed).Put(accessKey(rec.LastAccessed, rec.ID), id); err != nil {
		return err
	}
	if rec.IsFeatured {
		return tx.Bucket(bucketFeatured).Put(id, []byte{})
	}
	return tx.Bucket(bucketFeatured).Delete(id)
}

func deleteTx(tx *bolt.Tx, id string) error {
	key := []byte(id)
	infoB := tx.Bucket(bucketInfo)
	if raw := infoB.Get(key); raw != nil {
		if err := tx.Bucket(bucketAccessed).Delete(accessKey(decodeInfo(raw).lastAccessed, id)); err != nil {
			return err
		}
	}
	for _, name := range [][]byte{bucketMedia, bucketFeatured, bucketInfo} {
		if err := tx.Bucket(name).Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// touchTx moves rec to the most recently accessed position. The stamp never
// goes backwards, even if the clock does.
func touchTx(tx *bolt.Tx, rec *record, now time.Time) error {
	if err := tx.Bucket(bucketAccessed).Delete(accessKey(rec.LastAccessed, rec.ID)); err != nil {
		return err
	}
	if now.After(rec.LastAccessed) {
		rec.LastAccessed = now
	}
	data, err := encodeRecord(*rec)
	if err != nil {
		return err
	}
	return writeTx(tx, *rec, data)
}

// === Encoding ===

func encodeRecord(rec record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (record, error) {
	var rec record
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec)
	return rec, err
}

type info struct {
	size         int64
	lastAccessed time.Time
}

func encodeInfo(size int64, lastAccessed time.Time) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], uint64(size))
	binary.BigEndian.PutUint64(buf[8:], uint64(lastAccessed.UnixNano()))
	return buf
}

func decodeInfo(v []byte) info {
	if len(v) != 16 {
		return info{}
	}
	return info{
		size:         int64(binary.BigEndian.Uint64(v[:8])),
		lastAccessed: time.Unix(0, int64(binary.BigEndian.Uint64(v[8:]))),
	}
}

// accessKey sorts by access time, then id.
func accessKey(t time.Time, id string) []byte {
	key := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	return append(key, id...)
}

func be64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
