package resolver

import (
	"time"

	"github.com/mmcdole/reelcache/internal/domain"
)

var defaultUploadedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Defaults returns the built-in featured set used when every tier is empty.
// Each call returns a fresh slice.
func Defaults() []domain.VideoDescriptor {
	return []domain.VideoDescriptor{
		defaultVideo("default-house-cleaning", "House Cleaning Basics",
			"A room-by-room routine for a spotless home.",
			"house-cleaning.mp4", domain.CategoryHouseCleaning, 95),
		defaultVideo("default-pet-care", "Everyday Pet Care",
			"Grooming and hygiene habits for happy pets.",
			"pet-care.mp4", domain.CategoryPetCare, 120),
		defaultVideo("default-shoe-care", "Shoe Care Essentials",
			"Clean, condition and protect every pair.",
			"shoe-care.mp4", domain.CategoryShoeCare, 80),
	}
}

func defaultVideo(id, title, description, filename string, category domain.Category, duration int) domain.VideoDescriptor {
	path := "/videos/defaults/" + filename
	return domain.VideoDescriptor{
		ID:           id,
		Title:        title,
		Description:  description,
		Filename:     filename,
		URL:          path,
		ThumbnailURL: "/thumbnails/defaults/" + filename[:len(filename)-len(".mp4")] + ".jpg",
		Category:     category,
		UploadedAt:   defaultUploadedAt,
		Duration:     duration,
		StaticPath:   path,
		IsFeatured:   true,
		Source:       domain.TierDefault,
	}
}
