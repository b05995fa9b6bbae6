// Package schedule orders a server's allowed URLs by score and cuts them
// into time-stamped fetch batches that honor the server's crawl delay.
package schedule

import (
	"sort"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/JakeFAU/politefetch/internal/crawler"
)

// DefaultMaxURLsPerBatch caps a batch when the policy leaves it unset.
const DefaultMaxURLsPerBatch = 100

// Policy controls batch sizing and spacing.
type Policy struct {
	MaxURLsPerBatch int
	// MinRequestInterval is the floor on spacing between batches for one
	// server, applied even when robots.txt asks for less.
	MinRequestInterval time.Duration
	// BucketCount is the number of executor lanes batches are hashed into.
	BucketCount int
}

func (p Policy) maxPerBatch() int {
	if p.MaxURLsPerBatch > 0 {
		return p.MaxURLsPerBatch
	}
	return DefaultMaxURLsPerBatch
}

func (p Policy) buckets() int {
	if p.BucketCount > 0 {
		return p.BucketCount
	}
	return 1
}

// Builder turns domain groups into fetch batches.
type Builder struct {
	policy Policy
}

// NewBuilder returns a Builder for policy.
func NewBuilder(policy Policy) *Builder {
	return &Builder{policy: policy}
}

// Interval is the effective spacing for a server with the given crawl delay.
// It is never negative.
func (b *Builder) Interval(crawlDelay time.Duration) time.Duration {
	return max(b.policy.MinRequestInterval, crawlDelay, 0)
}

// Build sorts group.URLs by descending score (ties keep input order) and
// splits them into batches. The first batch targets start, or one interval
// after the robots.txt request when that is later; each following batch
// targets the previous one plus the effective interval.
func (b *Builder) Build(group crawler.DomainGroup, start time.Time) []crawler.FetchBatch {
	if len(group.URLs) == 0 {
		return nil
	}
	urls := append([]crawler.ScoredURL(nil), group.URLs...)
	sort.SliceStable(urls, func(i, j int) bool {
		return urls[i].Score > urls[j].Score
	})

	size := b.policy.maxPerBatch()
	interval := b.Interval(group.CrawlDelay)
	bucket := Bucket(group.Key, b.policy.buckets())

	batches := make([]crawler.FetchBatch, 0, (len(urls)+size-1)/size)
	target := start
	if !group.RobotsFetchedAt.IsZero() {
		if after := group.RobotsFetchedAt.Add(interval); after.After(target) {
			target = after
		}
	}
	for lo := 0; lo < len(urls); lo += size {
		hi := min(lo+size, len(urls))
		batches = append(batches, crawler.FetchBatch{
			Key:             group.Key,
			Bucket:          bucket,
			URLs:            urls[lo:hi:hi],
			TargetFetchTime: target,
			Interval:        interval,
		})
		target = target.Add(interval)
	}
	return batches
}

// BuildAll schedules every group against the same start time.
func (b *Builder) BuildAll(groups []crawler.DomainGroup, start time.Time) []crawler.FetchBatch {
	var out []crawler.FetchBatch
	for _, g := range groups {
		out = append(out, b.Build(g, start)...)
	}
	return out
}

// Bucket hashes a grouping key onto one of n lanes. All batches for a server
// land in the same lane.
func Bucket(key crawler.GroupingKey, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxh3.HashString(key.String()) % uint64(n))
}
