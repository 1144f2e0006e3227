package notion

import (
	"context"
	"fmt"
)

const DefaultMaxPages = 50

// SearchAll drains a paginated search, stopping after maxPages pages
func SearchAll(ctx context.Context, src Source, token string, req SearchRequest, maxPages int) ([]Object, error) {
	return drain(ctx, maxPages, func(cursor string) (ListResponse, error) {
		req.StartCursor = cursor
		return src.Search(ctx, token, req)
	})
}

// QueryAll drains a paginated database query, stopping after maxPages pages
func QueryAll(ctx context.Context, src Source, token, databaseID string, req QueryRequest, maxPages int) ([]Object, error) {
	results, _, err := QueryComplete(ctx, src, token, databaseID, req, maxPages)
	return results, err
}

// QueryComplete is QueryAll that also reports whether the last page was
// reached. It is false when maxPages cut the query short.
func QueryComplete(ctx context.Context, src Source, token, databaseID string, req QueryRequest, maxPages int) ([]Object, bool, error) {
	return drainPages(ctx, maxPages, func(cursor string) (ListResponse, error) {
		req.StartCursor = cursor
		return src.QueryDatabase(ctx, token, databaseID, req)
	})
}

func drain(ctx context.Context, maxPages int, fetch func(cursor string) (ListResponse, error)) ([]Object, error) {
	results, _, err := drainPages(ctx, maxPages, fetch)
	return results, err
}

func drainPages(ctx context.Context, maxPages int, fetch func(cursor string) (ListResponse, error)) ([]Object, bool, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var results []Object
	cursor := ""
	for page := 0; page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return results, false, err
		}

		resp, err := fetch(cursor)
		if err != nil {
			return results, false, fmt.Errorf("failed to fetch page %d: %w", page+1, err)
		}
		results = append(results, resp.Results...)

		if !resp.HasMore || resp.NextCursor == "" {
			return results, true, nil
		}
		cursor = resp.NextCursor
	}
	return results, false, nil
}
