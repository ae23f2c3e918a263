package notion

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll fetches every page of a database, following cursors. The next
// page is requested while the current one is appended.
func QueryAll(ctx context.Context, c Client, dbID string) ([]notionapi.Page, error) {
	type result struct {
		resp *notionapi.DatabaseQueryResponse
		err  error
	}

	var all []notionapi.Page
	resp, err := c.QueryDatabase(ctx, dbID, &notionapi.DatabaseQueryRequest{PageSize: 100})
	for {
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all")
		}
		var next chan result
		if resp.HasMore {
			next = make(chan result, 1)
			req := &notionapi.DatabaseQueryRequest{PageSize: 100, StartCursor: resp.NextCursor}
			go func() {
				r, e := c.QueryDatabase(ctx, dbID, req)
				next <- result{resp: r, err: e}
			}()
		}
		all = append(all, resp.Results...)
		if next == nil {
			return all, nil
		}
		r := <-next
		resp, err = r.resp, r.err
	}
}

// Text returns the plain text of a title, rich text, select, URL or email
// property, or "" when the property is missing or of another type.
func Text(props notionapi.Properties, name string) string {
	p, ok := props[name]
	if !ok {
		return ""
	}
	switch v := p.(type) {
	case *notionapi.TitleProperty:
		return joinRich(v.Title)
	case *notionapi.RichTextProperty:
		return joinRich(v.RichText)
	case *notionapi.SelectProperty:
		return v.Select.Name
	case *notionapi.URLProperty:
		return v.URL
	case *notionapi.EmailProperty:
		return v.Email
	}
	return ""
}

func joinRich(rt []notionapi.RichText) string {
	var b strings.Builder
	for _, r := range rt {
		b.WriteString(r.PlainText)
	}
	return strings.TrimSpace(b.String())
}
