// Package pagination turns an offset- or page-number-paged list endpoint into
// one lazy sequence of typed items.
//
// A list response is a JSON object holding an item total at a dotted
// TotalKey and an item array at a dotted DataKey. The first response
// determines the page size (request parameter, then response field, then
// DefaultPageSize) and the page count.
//
// Example usage:
//
//	req := pagination.Request{
//		Endpoint: "/creation-tools/v1/works/list",
//		Params:   url.Values{"limit": {"20"}},
//		Limit:    50,
//	}
//	for work, err := range pagination.Stream[Work](ctx, c, req) {
//		if err != nil {
//			log.Warn().Err(err).Msg("skipping")
//			continue
//		}
//		fmt.Println(work.ID)
//	}
//
// The stream:
//   - Reuses the first response as page 0
//   - Fetches up to MaxInFlightPages further pages concurrently
//   - Yields items in page-completion order (order within a page is kept)
//   - Stops scheduling once the item limit can no longer use more pages
//   - Reports page and item failures as error elements
package pagination
