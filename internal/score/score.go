// Package score provides the built-in URL scorers.
package score

import (
	"time"

	"github.com/JakeFAU/politefetch/internal/crawler"
)

// Fixed gives every URL the same score.
type Fixed struct {
	Value float64
}

// NewFixed returns a Fixed scorer; a zero value means crawler.DefaultScore.
func NewFixed(value float64) Fixed {
	if value == 0 {
		value = crawler.DefaultScore
	}
	return Fixed{Value: value}
}

// Score implements crawler.Scorer.
func (f Fixed) Score(crawler.URLRecord) float64 { return f.Value }

// Staleness favors URLs that have gone longest without a fetch. Never-fetched
// URLs score crawler.DefaultScore; a URL fetched RefreshAfter ago or longer
// also scores crawler.DefaultScore, and fresher ones proportionally less.
type Staleness struct {
	RefreshAfter time.Duration
	Now          func() time.Time
}

// Score implements crawler.Scorer.
func (s Staleness) Score(rec crawler.URLRecord) float64 {
	if rec.LastFetched.IsZero() || s.RefreshAfter <= 0 {
		return crawler.DefaultScore
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	age := now().Sub(rec.LastFetched)
	if age <= 0 {
		return 0
	}
	if age >= s.RefreshAfter {
		return crawler.DefaultScore
	}
	return crawler.DefaultScore * float64(age) / float64(s.RefreshAfter)
}
