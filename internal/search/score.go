package search

import "github.com/alex-user-go/listings/internal/search/types"

// ScoreListing computes the rank weight for a local listing. Providers ship
// their own scores; local rows are re-scored on every search so rating or
// metadata edits take effect immediately.
//
// Rating dominates (0-5 stars scaled to 0-90), priced listings get a small
// boost because they are directly bookable, and richer metadata nudges a
// listing up. Capped at 100 so local scores stay comparable with provider
// scores.
func ScoreListing(l types.NormalizedListing) float64 {
	score := l.Rating * 18

	if l.Price > 0 {
		score += 5
	}

	meta := float64(len(l.Metadata))
	if meta > 5 {
		meta = 5
	}
	score += meta

	if score > 100 {
		score = 100
	}
	return score
}
