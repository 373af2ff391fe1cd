package sonar

import (
	"context"
	"fmt"

	"buildreport-agent/src/faults"
)

// Page is one page of a search result.
type Page[T any] struct {
	Items []T
	Total int // server-reported total across all pages
}

// PageFunc fetches a single 1-indexed page.
type PageFunc[T any] func(ctx context.Context, page int) (Page[T], error)

// FetchAll requests pages starting at 1 until the accumulated item count reaches
// the total reported by the first page. A failed request, or a page that comes
// back empty before the total is reached, discards everything fetched so far.
func FetchAll[T any](ctx context.Context, fetch PageFunc[T]) ([]T, error) {
	first, err := fetch(ctx, 1)
	if err != nil {
		return nil, pageError(1, err)
	}

	total := first.Total
	items := make([]T, 0, max(total, len(first.Items)))
	items = append(items, first.Items...)

	for page := 2; len(items) < total; page++ {
		next, err := fetch(ctx, page)
		if err != nil {
			return nil, pageError(page, err)
		}
		if len(next.Items) == 0 {
			return nil, fmt.Errorf("page %d empty with %d of %d items fetched: %w", page, len(items), total, faults.ErrUpstreamUnavailable)
		}
		items = append(items, next.Items...)
	}

	return items, nil
}

func pageError(page int, err error) error {
	return fmt.Errorf("fetch page %d: %v: %w", page, err, faults.ErrUpstreamUnavailable)
}
