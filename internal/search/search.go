// Package search ranks videos against a free-text query.
package search

import (
	"sort"
	"strings"

	fsearch "github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/mmcdole/reelcache/internal/domain"
	"github.com/sahilm/fuzzy"
)

// Field names which part of the video matched.
type Field string

const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldCategory    Field = "category"
)

// Result is one ranked match.
type Result struct {
	Video          domain.VideoDescriptor
	Field          Field
	MatchedIndexes []int // rune positions in the title, for highlighting
	Score          int   // higher is better
}

// Index implements sahilm/fuzzy.Source over video titles.
type Index struct {
	videos      []domain.VideoDescriptor
	lowerTitles []string
}

// NewIndex builds an index, skipping duplicate ids.
func NewIndex(videos []domain.VideoDescriptor) *Index {
	idx := &Index{}
	seen := make(map[string]bool, len(videos))
	for _, v := range videos {
		if seen[v.ID] {
			continue
		}
		seen[v.ID] = true
		idx.videos = append(idx.videos, v)
		idx.lowerTitles = append(idx.lowerTitles, strings.ToLower(v.Title))
	}
	return idx
}

// String returns the lowercase title at index i (implements fuzzy.Source)
func (idx *Index) String(i int) string { return idx.lowerTitles[i] }

// Len returns the number of videos (implements fuzzy.Source)
func (idx *Index) Len() int { return len(idx.videos) }

// Search ranks title matches first, then videos whose description matches,
// then videos whose category matches. A video appears at most once.
func (idx *Index) Search(query string) []Result {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || idx.Len() == 0 {
		return nil
	}

	var results []Result
	matched := make(map[int]bool)

	for _, m := range fuzzy.FindFrom(query, idx) {
		matched[m.Index] = true
		results = append(results, Result{
			Video:          idx.videos[m.Index],
			Field:          FieldTitle,
			MatchedIndexes: m.MatchedIndexes,
			Score:          m.Score,
		})
	}

	descriptions := make([]string, idx.Len())
	for i, v := range idx.videos {
		descriptions[i] = v.Description
	}
	ranks := fsearch.RankFindFold(query, descriptions)
	sort.Stable(ranks)
	for _, r := range ranks {
		if matched[r.OriginalIndex] {
			continue
		}
		matched[r.OriginalIndex] = true
		results = append(results, Result{
			Video: idx.videos[r.OriginalIndex],
			Field: FieldDescription,
			Score: -r.Distance,
		})
	}

	for i, v := range idx.videos {
		if matched[i] {
			continue
		}
		if strings.Contains(string(v.Category), query) {
			results = append(results, Result{Video: v, Field: FieldCategory})
		}
	}
	return results
}

// Videos is a convenience wrapper returning only the matched videos.
func Videos(videos []domain.VideoDescriptor, query string) []domain.VideoDescriptor {
	results := NewIndex(videos).Search(query)
	out := make([]domain.VideoDescriptor, len(results))
	for i, r := range results {
		out[i] = r.Video
	}
	return out
}
