package search

import (
	"testing"

	"github.com/mmcdole/reelcache/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var library = []domain.VideoDescriptor{
	{ID: "1", Title: "Deep Carpet Cleaning", Description: "Lift stains out of wool rugs", Category: domain.CategoryHouseCleaning},
	{ID: "2", Title: "Grooming a Shedding Dog", Description: "Brush technique for double coats", Category: domain.CategoryPetCare},
	{ID: "3", Title: "Sneaker Revival", Description: "Whiten soles and clean mesh uppers", Category: domain.CategoryShoeCare},
	{ID: "3", Title: "Sneaker Revival (duplicate)"},
}

func TestTitleMatchesRankFirst(t *testing.T) {
	results := NewIndex(library).Search("carpet")
	require.NotEmpty(t, results)
	assert.Equal(t, "1", results[0].Video.ID)
	assert.Equal(t, FieldTitle, results[0].Field)
	assert.NotEmpty(t, results[0].MatchedIndexes)
}

func TestDescriptionFallback(t *testing.T) {
	results := NewIndex(library).Search("mesh")
	require.Len(t, results, 1)
	assert.Equal(t, "3", results[0].Video.ID)
	assert.Equal(t, FieldDescription, results[0].Field)
}

func TestCategoryFallback(t *testing.T) {
	videos := Videos(library, "pet-care")
	require.Len(t, videos, 1)
	assert.Equal(t, "2", videos[0].ID)
}

func TestDuplicatesAndEmptyQuery(t *testing.T) {
	idx := NewIndex(library)
	assert.Equal(t, 3, idx.Len())
	assert.Nil(t, idx.Search("   "))
	assert.Empty(t, Videos(nil, "anything"))
}
