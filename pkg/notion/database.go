package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll fetches every page matching req, following cursors until the
// database reports no more results. A nil req matches all pages.
func QueryAll(ctx context.Context, c Client, dbID string, req *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor
	for {
		page := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
		if req != nil {
			page.Filter = req.Filter
			page.Sorts = req.Sorts
			page.PageSize = req.PageSize
		}

		resp, err := c.QueryDatabase(ctx, dbID, page)
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all")
		}
		all = append(all, resp.Results...)
		if !resp.HasMore || resp.NextCursor == "" {
			return all, nil
		}
		cursor = resp.NextCursor
	}
}

// FindByText returns the first page whose rich-text property equals value,
// or nil when none matches.
func FindByText(ctx context.Context, c Client, dbID, property, value string) (*notionapi.Page, error) {
	resp, err := c.QueryDatabase(ctx, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: property,
			RichText: &notionapi.TextFilterCondition{Equals: value},
		},
		PageSize: 1,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: find %s=%s", property, value)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}
