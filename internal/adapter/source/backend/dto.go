package backend

// FeaturedResponse is the envelope returned by GET /media.
type FeaturedResponse struct {
	Success bool       `json:"success"`
	Data    []MediaDTO `json:"data"`
	Error   string     `json:"error,omitempty"`
}

// MediaDTO is one media record as the API serializes it.
type MediaDTO struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Filename     string  `json:"filename"`
	URL          string  `json:"url"`
	ThumbnailURL string  `json:"thumbnailUrl"`
	Thumbnail    string  `json:"thumbnail"`
	Category     string  `json:"category"`
	Views        int     `json:"views"`
	UploadedAt   string  `json:"uploadedAt"`
	UploadDate   string  `json:"uploadDate"`
	Duration     float64 `json:"duration"`
	Type         string  `json:"type"`
	IsFeatured   bool    `json:"isFeatured"`
}

// ManifestDTO is the static manifest as published. Dates, durations and the
// version are loosely typed because hand-edited manifests vary.
type ManifestDTO struct {
	Featured       []ManifestEntryDTO `json:"featured"`
	Gallery        []string           `json:"gallery"`
	LastUpdated    string             `json:"lastUpdated"`
	Version        any                `json:"version"`
	OfflineSupport bool               `json:"offlineSupport"`
}

// ManifestEntryDTO is one featured entry of the manifest.
type ManifestEntryDTO struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Filename    string  `json:"filename"`
	Thumbnail   string  `json:"thumbnail"`
	Category    string  `json:"category"`
	Views       int     `json:"views"`
	UploadDate  string  `json:"uploadDate"`
	UploadedAt  string  `json:"uploadedAt"`
	Duration    float64 `json:"duration"`
	StaticPath  string  `json:"staticPath"`
}
