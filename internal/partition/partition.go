// Package partition models a contiguous slice of the GitHub search space.
// A partition covers an inclusive star-count range and, optionally, an
// inclusive repository-creation date range. Partitions are immutable values:
// splitting one produces two children whose union is exactly the parent with
// no gap and no overlap, which is what keeps the crawl free of double counting.
package partition

import (
	"fmt"
	"strings"
	"time"
)

// EarliestCreationDate is the lower bound used when a date window is attached
// to a partition. GitHub hosts no repositories created before its launch.
var EarliestCreationDate = time.Date(2008, time.January, 1, 0, 0, 0, 0, time.UTC)

// Partition describes one sub-range of the search space. The zero value is
// not meaningful; use New.
type Partition struct {
	StarsMin int
	StarsMax int

	// CreatedFrom and CreatedTo are either both set or both zero.
	CreatedFrom time.Time
	CreatedTo   time.Time
}

// New returns a partition covering the inclusive star range [starsMin, starsMax]
// with no date window.
func New(starsMin, starsMax int) Partition {
	return Partition{StarsMin: starsMin, StarsMax: starsMax}
}

// HasDates reports whether the partition carries a creation-date window.
func (p Partition) HasDates() bool {
	return !p.CreatedFrom.IsZero() && !p.CreatedTo.IsZero()
}

// WithDateWindow returns the partition unchanged if it already has a date
// window, otherwise a copy bounded by [EarliestCreationDate, today].
func (p Partition) WithDateWindow(today time.Time) Partition {
	if p.HasDates() {
		return p
	}
	return Partition{
		StarsMin:    p.StarsMin,
		StarsMax:    p.StarsMax,
		CreatedFrom: EarliestCreationDate,
		CreatedTo:   truncateToDay(today),
	}
}

// SplitStars bisects the star range. It returns ok=false when the range is a
// single value and cannot shrink further. The high half comes first so callers
// that push in order keep the high-star work at the front of the queue.
func (p Partition) SplitStars() (high, low Partition, ok bool) {
	if p.StarsMin >= p.StarsMax {
		return Partition{}, Partition{}, false
	}
	mid := (p.StarsMin + p.StarsMax) / 2
	high = Partition{
		StarsMin:    mid + 1,
		StarsMax:    p.StarsMax,
		CreatedFrom: p.CreatedFrom,
		CreatedTo:   p.CreatedTo,
	}
	low = Partition{
		StarsMin:    p.StarsMin,
		StarsMax:    mid,
		CreatedFrom: p.CreatedFrom,
		CreatedTo:   p.CreatedTo,
	}
	return high, low, true
}

// SplitDates bisects the creation-date window by whole days. It returns
// ok=false when no window is attached or the window is a single day.
func (p Partition) SplitDates() (first, second Partition, ok bool) {
	if !p.HasDates() {
		return Partition{}, Partition{}, false
	}
	if !p.CreatedFrom.Before(p.CreatedTo) {
		return Partition{}, Partition{}, false
	}
	mid := p.CreatedFrom.AddDate(0, 0, p.DateWidthDays()/2)
	first = Partition{
		StarsMin:    p.StarsMin,
		StarsMax:    p.StarsMax,
		CreatedFrom: p.CreatedFrom,
		CreatedTo:   mid,
	}
	second = Partition{
		StarsMin:    p.StarsMin,
		StarsMax:    p.StarsMax,
		CreatedFrom: mid.AddDate(0, 0, 1),
		CreatedTo:   p.CreatedTo,
	}
	return first, second, true
}

// StarWidth returns the size of the star range minus one; a single-value
// range has width zero.
func (p Partition) StarWidth() int {
	return p.StarsMax - p.StarsMin
}

// DateWidthDays returns the number of whole days spanned by the date window,
// zero when no window is attached or the window is a single day.
func (p Partition) DateWidthDays() int {
	if !p.HasDates() {
		return 0
	}
	return int(p.CreatedTo.Sub(p.CreatedFrom).Hours() / 24)
}

// Query renders the partition as a GitHub search expression. The rendering is
// deterministic: the same partition and base qualifiers always produce the
// same text, so retried requests hit the same result set.
func (p Partition) Query(baseQualifiers string) string {
	parts := make([]string, 0, 4)
	if base := strings.TrimSpace(baseQualifiers); base != "" {
		parts = append(parts, base)
	}
	parts = append(parts, fmt.Sprintf("stars:%d..%d", p.StarsMin, p.StarsMax))
	if p.HasDates() {
		parts = append(parts, fmt.Sprintf(
			"created:%s..%s",
			p.CreatedFrom.Format(time.DateOnly),
			p.CreatedTo.Format(time.DateOnly),
		))
	}
	parts = append(parts, "sort:stars-desc")
	return strings.Join(parts, " ")
}

// Label returns a short human-readable description for logs.
func (p Partition) Label() string {
	if !p.HasDates() {
		return fmt.Sprintf("stars=%d..%d", p.StarsMin, p.StarsMax)
	}
	return fmt.Sprintf(
		"stars=%d..%d, created=%s..%s",
		p.StarsMin, p.StarsMax,
		p.CreatedFrom.Format(time.DateOnly),
		p.CreatedTo.Format(time.DateOnly),
	)
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
