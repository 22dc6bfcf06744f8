package backend

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/mmcdole/reelcache/internal/domain"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// MapMedia converts API records to descriptors, resolving relative URLs
// with resolve. Records without an id or url are dropped.
func MapMedia(items []MediaDTO, resolve func(string) string) []domain.VideoDescriptor {
	out := make([]domain.VideoDescriptor, 0, len(items))
	for _, item := range items {
		if item.ID == "" || item.URL == "" {
			continue
		}
		out = append(out, mapMedia(item, resolve))
	}
	return out
}

func mapMedia(item MediaDTO, resolve func(string) string) domain.VideoDescriptor {
	thumb := item.ThumbnailURL
	if thumb == "" {
		thumb = item.Thumbnail
	}
	uploaded := item.UploadedAt
	if uploaded == "" {
		uploaded = item.UploadDate
	}

	desc := domain.VideoDescriptor{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Filename:    item.Filename,
		URL:         resolve(item.URL),
		Category:    domain.ParseCategory(item.Category),
		Views:       item.Views,
		UploadedAt:  parseTime(uploaded),
		Duration:    int(math.Round(item.Duration)),
		IsFeatured:  true,
		Source:      domain.TierAPI,
	}
	if thumb != "" {
		desc.ThumbnailURL = resolve(thumb)
	}
	return desc
}

// MapManifest converts the published manifest, resolving static paths and
// thumbnails with resolve.
func MapManifest(dto ManifestDTO, resolve func(string) string) *domain.Manifest {
	m := &domain.Manifest{
		Featured:       make([]domain.ManifestEntry, 0, len(dto.Featured)),
		Gallery:        dto.Gallery,
		LastUpdated:    parseTime(dto.LastUpdated),
		Version:        versionString(dto.Version),
		OfflineSupport: dto.OfflineSupport,
	}
	for _, e := range dto.Featured {
		uploaded := e.UploadDate
		if uploaded == "" {
			uploaded = e.UploadedAt
		}
		entry := domain.ManifestEntry{
			ID:          e.ID,
			Title:       e.Title,
			Description: e.Description,
			Filename:    e.Filename,
			Category:    e.Category,
			Views:       e.Views,
			UploadDate:  parseTime(uploaded),
			Duration:    int(math.Round(e.Duration)),
		}
		if e.StaticPath != "" {
			entry.StaticPath = resolve(e.StaticPath)
		}
		if e.Thumbnail != "" {
			entry.Thumbnail = resolve(e.Thumbnail)
		}
		m.Featured = append(m.Featured, entry)
	}
	return m
}

func versionString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
