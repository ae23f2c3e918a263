package enrich

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/internal/stage"
	"github.com/k1p1l0/tendhunt-sub005/pkg/moderngov"
)

// ModernGov records the last year of committee meetings from a council's
// ModernGov web service as pending minutes documents.
type ModernGov struct {
	svc *Services
}

// NewModernGov creates the ModernGov stage.
func NewModernGov(svc *Services) *ModernGov {
	svc.applyDefaults()
	return &ModernGov{svc: svc}
}

// Name implements stage.Stage.
func (m *ModernGov) Name() model.Stage { return model.StageModernGov }

// Filter implements stage.Stage.
func (m *ModernGov) Filter() model.BuyerFilter {
	return model.BuyerFilter{
		Platform:    model.PlatformModernGov,
		HasPortal:   true,
		LacksSource: model.SourceModernGov,
	}
}

// CheckConfig implements stage.Stage.
func (m *ModernGov) CheckConfig() error {
	if m.svc.ModernGov == nil {
		return resilience.NewConfigError("moderngov: client is not configured")
	}
	return nil
}

// Process implements stage.Stage.
func (m *ModernGov) Process(ctx context.Context, b *model.Buyer) error {
	if b.DemocracyPortalURL == "" {
		return nil
	}
	base := b.DemocracyPortalURL

	_, err := call(ctx, m.svc, "moderngov", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.svc.ModernGov.TestConnection(ctx, base)
	})
	if err != nil {
		return eris.Wrapf(err, "moderngov: %s unreachable", base)
	}

	to := m.svc.Now()
	from := to.AddDate(0, -m.svc.LookbackMonths, 0)
	meetings, err := call(ctx, m.svc, "moderngov", func(ctx context.Context) ([]moderngov.Meeting, error) {
		return m.svc.ModernGov.GetMeetings(ctx, base, from, to)
	})
	if err != nil {
		return eris.Wrapf(err, "moderngov: meetings for %s", base)
	}

	if docs := MeetingDocuments(b.ID, base, meetings); len(docs) > 0 {
		res, err := m.svc.Store.UpsertBoardDocuments(ctx, docs)
		if err != nil {
			return stage.Fatal(eris.Wrapf(err, "moderngov: save meetings for %s", b.ID))
		}
		zap.L().Debug("moderngov: meetings saved",
			zap.String("buyer_id", b.ID),
			zap.Int("meetings", len(docs)),
			zap.Int64("inserted", res.Inserted),
		)
	}
	return m.svc.commit(ctx, b, model.BuyerPatch{}, model.SourceModernGov)
}

// MeetingDocuments maps meetings to pending minutes documents keyed by their
// PDF conversion URL.
func MeetingDocuments(buyerID, baseURL string, meetings []moderngov.Meeting) []model.BoardDocument {
	docs := make([]model.BoardDocument, 0, len(meetings))
	seen := make(map[string]bool, len(meetings))
	for _, mt := range meetings {
		if mt.ID == 0 {
			continue
		}
		src := moderngov.DocumentURL(baseURL, mt.ID)
		if seen[src] {
			continue
		}
		seen[src] = true

		doc := model.BoardDocument{
			BuyerID:          buyerID,
			SourceURL:        src,
			Title:            firstNonEmpty(mt.Title, mt.CommitteeName, "Meeting"),
			DocumentType:     model.DocMinutes,
			CommitteeName:    mt.CommitteeName,
			ExtractionStatus: model.ExtractionPending,
		}
		if t, ok := moderngov.ParseMeetingDate(mt.Date); ok {
			doc.MeetingDate = &t
		}
		docs = append(docs, doc)
	}
	return docs
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
