package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll fetches every page of a database query, following cursors until
// the result set is exhausted. The filter and sorts of req apply to every
// page; req may be nil.
func QueryAll(ctx context.Context, c Client, dbID string, req *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor

	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "notion: query all")
		}

		page := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
		if req != nil {
			page.Filter = req.Filter
			page.Sorts = req.Sorts
			page.PageSize = req.PageSize
		}

		resp, err := c.QueryDatabase(ctx, dbID, page)
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all page")
		}
		all = append(all, resp.Results...)

		if !resp.HasMore || resp.NextCursor == "" {
			return all, nil
		}
		cursor = resp.NextCursor
	}
}

// PlainText concatenates the plain_text values from a slice of RichText.
func PlainText(rts []notionapi.RichText) string {
	var s string
	for _, rt := range rts {
		s += rt.PlainText
	}
	return s
}
