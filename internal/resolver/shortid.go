// Package resolver expands short run ID prefixes to full run IDs.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyluth/exofit/pkg/chainstore"
)

// MinShortIDLength is the shortest prefix accepted.
const MinShortIDLength = 6

// RunStore is the part of the chain store the resolver needs.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (*chainstore.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*chainstore.Run, error)
}

// ResolveRunID returns the full ID of the single run whose ID starts with
// shortID. A full UUID is checked for existence and returned unchanged.
func ResolveRunID(ctx context.Context, store RunStore, shortID string) (string, error) {
	if len(shortID) == 36 && strings.Count(shortID, "-") == 4 {
		if _, err := store.GetRun(ctx, shortID); err != nil {
			if chainstore.IsNotFound(err) {
				return "", &NotFoundError{ShortID: shortID}
			}
			return "", fmt.Errorf("failed to verify run existence: %w", err)
		}
		return shortID, nil
	}

	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("failed to search for run: %w", err)
	}
	var matches []string
	for _, r := range runs {
		if strings.HasPrefix(r.ID, shortID) {
			matches = append(matches, r.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError means no run matched.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no runs found matching '%s'", e.ShortID)
}

// AmbiguousError means several runs matched.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d runs", e.ShortID, len(e.Matches))
}

// Explain lists up to ten of the matching IDs for display.
func (e *AmbiguousError) Explain() string {
	var b strings.Builder
	fmt.Fprintf(&b, "The prefix '%s' matches %d runs:\n", e.ShortID, len(e.Matches))
	shown := min(len(e.Matches), 10)
	for _, id := range e.Matches[:shown] {
		fmt.Fprintf(&b, "  %s\n", id)
	}
	if len(e.Matches) > shown {
		fmt.Fprintf(&b, "  ...and %d more\n", len(e.Matches)-shown)
	}
	return b.String()
}
