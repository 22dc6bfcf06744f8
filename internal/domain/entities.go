package domain

import (
	"fmt"
	"strings"
	"time"
)

// Category is the closed set of video categories used by the gallery.
type Category string

const (
	CategoryHouseCleaning Category = "house-cleaning"
	CategoryPetCare       Category = "pet-care"
	CategoryShoeCare      Category = "shoe-care"
	CategoryLaundry       Category = "laundry"
	CategoryOrganization  Category = "organization"
	CategoryOther         Category = "other"
)

var categories = []Category{
	CategoryHouseCleaning,
	CategoryPetCare,
	CategoryShoeCare,
	CategoryLaundry,
	CategoryOrganization,
	CategoryOther,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory normalizes s into a Category. Unknown values map to CategoryOther.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c.Valid() {
		return c
	}
	return CategoryOther
}

// Tier identifies which stage of the fallback chain produced a result.
type Tier int

const (
	TierNone Tier = iota
	TierManifest
	TierCache
	TierAPI
	TierDefault
)

func (t Tier) String() string {
	switch t {
	case TierManifest:
		return "manifest"
	case TierCache:
		return "cache"
	case TierAPI:
		return "api"
	case TierDefault:
		return "default"
	default:
		return "none"
	}
}

// VideoDescriptor is the common video shape shared by every tier.
type VideoDescriptor struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Filename     string    `json:"filename"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	Category     Category  `json:"category"`
	Views        int       `json:"views"`
	UploadedAt   time.Time `json:"uploadedAt"`
	Duration     int       `json:"duration,omitempty"` // seconds
	StaticPath   string    `json:"staticPath,omitempty"`
	IsFeatured   bool      `json:"isFeatured"`

	// Source is set by the resolver; it is not part of any wire format.
	Source Tier `json:"-"`
}

// PlaybackURL returns the URL a player should load: the pre-resolved
// static path when present, otherwise the API URL.
func (v VideoDescriptor) PlaybackURL() string {
	if v.StaticPath != "" {
		return v.StaticPath
	}
	return v.URL
}

// FormattedDuration returns the duration in a human-readable format
func (v VideoDescriptor) FormattedDuration() string {
	if v.Duration <= 0 {
		return ""
	}
	d := time.Duration(v.Duration) * time.Second
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d", m, s)
}

// MediaKindVideo is the only media kind the store persists today.
const MediaKindVideo = "video"

// CachedMedia is one video persisted in the local store.
type CachedMedia struct {
	ID           string
	Title        string
	Description  string
	Category     Category
	Views        int
	IsFeatured   bool
	UploadedAt   time.Time
	Kind         string
	MimeType     string
	Video        []byte
	Thumbnail    []byte // optional
	CachedAt     time.Time
	LastAccessed time.Time

	// Playback handles, valid only for the lifetime of the process.
	VideoURL     string
	ThumbnailURL string
}

// Size returns the payload bytes held by the record.
func (m CachedMedia) Size() int64 {
	return int64(len(m.Video) + len(m.Thumbnail))
}

// Descriptor maps the record to the common video shape using its playback handles.
func (m CachedMedia) Descriptor() VideoDescriptor {
	return VideoDescriptor{
		ID:           m.ID,
		Title:        m.Title,
		Description:  m.Description,
		URL:          m.VideoURL,
		ThumbnailURL: m.ThumbnailURL,
		Category:     m.Category,
		Views:        m.Views,
		UploadedAt:   m.UploadedAt,
		IsFeatured:   m.IsFeatured,
		Source:       TierCache,
	}
}

// CacheStats summarizes the local store.
type CacheStats struct {
	Count      int       `json:"count"`
	TotalBytes int64     `json:"totalBytes"`
	MaxBytes   int64     `json:"maxBytes"`
	MaxItems   int       `json:"maxItems"`
	Oldest     time.Time `json:"oldest"` // least recently accessed
	Newest     time.Time `json:"newest"` // most recently accessed
}

// Usage returns TotalBytes as a fraction of MaxBytes.
func (s CacheStats) Usage() float64 {
	if s.MaxBytes <= 0 {
		return 0
	}
	return float64(s.TotalBytes) / float64(s.MaxBytes)
}

// FormattedSize returns the aggregate size in a human-readable format
func (s CacheStats) FormattedSize() string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
		kb = 1024
	)
	switch {
	case s.TotalBytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(s.TotalBytes)/gb)
	case s.TotalBytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(s.TotalBytes)/mb)
	case s.TotalBytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(s.TotalBytes)/kb)
	default:
		return fmt.Sprintf("%d B", s.TotalBytes)
	}
}

// Availability reports which tiers currently answer.
type Availability struct {
	Static bool `json:"static"`
	Cache  bool `json:"cache"`
	API    bool `json:"api"`
	Total  int  `json:"total"`
}

// ValidationReport partitions manifest entries by whether their static path answers.
type ValidationReport struct {
	Valid   []string `json:"valid"`
	Missing []string `json:"missing"`
}

// Status is the snapshot a running proxy reports about itself.
type Status struct {
	Lifecycle    string            `json:"lifecycle"`
	Online       bool              `json:"online"`
	Featured     []VideoDescriptor `json:"featured"`
	Availability Availability      `json:"availability"`
	Stats        CacheStats        `json:"stats"`
	Caches       []string          `json:"caches"`
}
