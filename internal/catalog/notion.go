package catalog

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/pkg/notion"
)

// Notion property names read from the catalog database.
const (
	propName            = "Name"
	propOrgType         = "OrgType"
	propRegion          = "Region"
	propWebsite         = "Website"
	propDemocracyPortal = "DemocracyPortal"
	propPlatform        = "Platform"
	propBoardPapers     = "BoardPapers"
)

// NotionSource reads the catalog from a Notion database.
type NotionSource struct {
	client notion.Client
	dbID   string
}

// NewNotionSource creates a source over database dbID.
func NewNotionSource(client notion.Client, dbID string) *NotionSource {
	return &NotionSource{client: client, dbID: dbID}
}

// Load implements Source.
func (s *NotionSource) Load(ctx context.Context) ([]model.DataSource, error) {
	if s.dbID == "" {
		return nil, eris.New("catalog: notion database id is required")
	}
	pages, err := notion.QueryAll(ctx, s.client, s.dbID)
	if err != nil {
		return nil, err
	}
	out := make([]model.DataSource, 0, len(pages))
	for _, p := range pages {
		if p.Archived {
			continue
		}
		out = append(out, fromProperties(p.Properties))
	}
	return out, nil
}

func fromProperties(props notionapi.Properties) model.DataSource {
	return model.DataSource{
		Name:               notion.Text(props, propName),
		OrgType:            notion.Text(props, propOrgType),
		Region:             notion.Text(props, propRegion),
		Website:            notion.Text(props, propWebsite),
		DemocracyPortalURL: notion.Text(props, propDemocracyPortal),
		DemocracyPlatform:  notion.Text(props, propPlatform),
		BoardPapersURL:     notion.Text(props, propBoardPapers),
	}
}
