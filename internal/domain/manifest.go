package domain

import "time"

// Manifest is the static snapshot of featured videos published by the backend.
// It is read-only here and treated as a closed unit.
type Manifest struct {
	Featured       []ManifestEntry `json:"featured"`
	Gallery        []string        `json:"gallery"`
	LastUpdated    time.Time       `json:"lastUpdated"`
	Version        string          `json:"version"`
	OfflineSupport bool            `json:"offlineSupport"`
}

// ManifestEntry describes one featured video with its pre-resolved static path.
type ManifestEntry struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Filename    string    `json:"filename"`
	Thumbnail   string    `json:"thumbnail"`
	Category    string    `json:"category"`
	Views       int       `json:"views"`
	UploadDate  time.Time `json:"uploadDate"`
	Duration    int       `json:"duration"`
	StaticPath  string    `json:"staticPath"`
}

// Descriptor maps the entry to the common video shape.
func (e ManifestEntry) Descriptor() VideoDescriptor {
	return VideoDescriptor{
		ID:           e.ID,
		Title:        e.Title,
		Description:  e.Description,
		Filename:     e.Filename,
		URL:          e.StaticPath,
		ThumbnailURL: e.Thumbnail,
		Category:     ParseCategory(e.Category),
		Views:        e.Views,
		UploadedAt:   e.UploadDate,
		Duration:     e.Duration,
		StaticPath:   e.StaticPath,
		IsFeatured:   true,
		Source:       TierManifest,
	}
}

// Descriptors maps every featured entry, preserving manifest order.
func (m *Manifest) Descriptors() []VideoDescriptor {
	if m == nil {
		return nil
	}
	out := make([]VideoDescriptor, 0, len(m.Featured))
	for _, e := range m.Featured {
		out = append(out, e.Descriptor())
	}
	return out
}
