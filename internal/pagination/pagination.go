// Package pagination walks paged remote collections under a wall-clock budget.
//
// Remote catalogs can run to hundreds of pages while the caller itself is
// bounded by an outer execution ceiling, so a paginated fetch must self-limit
// and return whatever it collected rather than block indefinitely.
package pagination

import (
	"context"
	"fmt"
	"time"
)

// Default limits for a paginated walk.
const (
	DefaultBudget   = 8500 * time.Millisecond
	DefaultMaxPages = 500
)

// FetchFunc retrieves one page. An empty token requests the first page; the
// returned token is empty when no further page exists.
type FetchFunc[T any] func(ctx context.Context, pageToken string) (items []T, nextToken string, err error)

// Result holds the collected items and whether more remained uncollected
// when the walk stopped early (budget, page ceiling, or token loop).
type Result[T any] struct {
	Items   []T
	HasMore bool
}

// Opts configures a paginated walk.
type Opts struct {
	Budget   time.Duration // wall-clock ceiling; defaults to DefaultBudget
	MaxPages int           // hard page-count ceiling; defaults to DefaultMaxPages
	Clock    func() time.Time
}

// Collect walks pages via fetch until no token remains, the budget elapses,
// the page ceiling is hit, or a page token repeats (a defensive abort that
// reports HasMore=true, since a looping remote would otherwise spin forever).
//
// If the budget expired before any item was collected, one final single-page
// fetch is attempted so a transient slow start does not return an empty
// result for an otherwise healthy collection. A fetch error after at least
// one successful page yields the partial items with HasMore=true and no
// error; an error on the very first page is returned to the caller.
func Collect[T any](ctx context.Context, opts Opts, fetch FetchFunc[T]) (Result[T], error) {
	budget := opts.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	deadline := clock().Add(budget)
	seen := make(map[string]bool)
	token := ""

	var result Result[T]
	for page := 0; page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			result.HasMore = true
			return result, err
		}
		if !clock().Before(deadline) {
			result.HasMore = true
			break
		}
		if token != "" && seen[token] {
			// Token loop: the remote handed back a token we already used.
			result.HasMore = true
			return result, nil
		}
		seen[token] = true

		items, next, err := fetch(ctx, token)
		if err != nil {
			if len(result.Items) == 0 {
				return result, fmt.Errorf("pagination: first page: %w", err)
			}
			result.HasMore = true
			return result, nil
		}
		result.Items = append(result.Items, items...)
		if next == "" {
			return result, nil
		}
		token = next
	}
	result.HasMore = true

	// Budget (or ceiling) expired with nothing collected: try one more
	// single-page fetch before giving up empty-handed.
	if len(result.Items) == 0 {
		items, next, err := fetch(ctx, "")
		if err != nil {
			return result, fmt.Errorf("pagination: fallback page: %w", err)
		}
		result.Items = items
		result.HasMore = next != ""
	}
	return result, nil
}
