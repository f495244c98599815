// Package filter selects stored runs for listing.
package filter

import (
	"path/filepath"

	"github.com/dyluth/exofit/pkg/chainstore"
)

// Criteria are ANDed together; zero values match everything.
type Criteria struct {
	SinceTimestampMs int64
	UntilTimestampMs int64
	ModeGlob         string
	Status           chainstore.RunStatus
}

// Matches reports whether the run satisfies every criterion.
func (c *Criteria) Matches(r *chainstore.Run) bool {
	if c.SinceTimestampMs > 0 && r.CreatedAtMs < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && r.CreatedAtMs > c.UntilTimestampMs {
		return false
	}
	if c.ModeGlob != "" {
		matched, err := filepath.Match(c.ModeGlob, r.Mode)
		if err != nil || !matched {
			return false
		}
	}
	if c.Status != "" && r.Status != c.Status {
		return false
	}
	return true
}

// HasFilters reports whether any criterion is set.
func (c *Criteria) HasFilters() bool {
	return c.SinceTimestampMs > 0 || c.UntilTimestampMs > 0 || c.ModeGlob != "" || c.Status != ""
}

// Apply returns the matching runs in their original order.
func (c *Criteria) Apply(runs []*chainstore.Run) []*chainstore.Run {
	if !c.HasFilters() {
		return runs
	}
	out := make([]*chainstore.Run, 0, len(runs))
	for _, r := range runs {
		if c.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}
