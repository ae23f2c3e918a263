package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/internal/stage"
	"github.com/k1p1l0/tendhunt-sub005/pkg/anthropic"
)

const (
	maxContextDocs  = 3
	maxContextChars = 8000
)

const personnelSystemPrompt = `You are extracting key personnel from UK public sector organization governance pages.
Extract ONLY people with procurement-relevant roles: chief executives, directors, board members, procurement leads, finance directors, treasurers, chairs.
Return a JSON array. If no relevant personnel found, return [].`

const personnelUserPrompt = `Organization: %s
Organization type: %s

Governance page content:
%s

Extract key personnel as a JSON array with fields:
- name (string, required)
- title (string, job title as written)
- role (one of: chief_executive, director, board_member, procurement_lead, finance_director, cfo, chair, councillor, committee_chair)
- department (string, if mentioned)
- email (string, if found on page)
- confidence (number 0-100, how certain this extraction is correct)`

// Personnel extracts key decision-makers from stored documents with Claude
// Haiku.
type Personnel struct {
	svc *Services
}

// NewPersonnel creates the personnel stage.
func NewPersonnel(svc *Services) *Personnel {
	svc.applyDefaults()
	return &Personnel{svc: svc}
}

// Name implements stage.Stage.
func (p *Personnel) Name() model.Stage { return model.StagePersonnel }

// Filter implements stage.Stage.
func (p *Personnel) Filter() model.BuyerFilter {
	return model.BuyerFilter{
		LacksSource:  model.SourcePersonnel,
		HasAnySource: []string{model.SourceScrape, model.SourceModernGov},
	}
}

// CheckConfig implements stage.Stage.
func (p *Personnel) CheckConfig() error {
	if p.svc.AI == nil {
		return resilience.NewConfigError("personnel: anthropic api key is not configured")
	}
	return nil
}

// Process implements stage.Stage. A buyer without document text is tagged
// without an AI call.
func (p *Personnel) Process(ctx context.Context, b *model.Buyer) error {
	docs, err := p.svc.Store.ListBoardDocuments(ctx, b.ID, 0)
	if err != nil {
		return stage.Fatal(eris.Wrapf(err, "personnel: load documents for %s", b.ID))
	}
	text, sourceURL := personnelContext(docs)
	if text == "" {
		return p.svc.commit(ctx, b, model.BuyerPatch{}, model.SourcePersonnel)
	}

	orgType := b.OrgType
	if orgType == "" {
		orgType = "unknown"
	}
	req := anthropic.MessageRequest{
		Model:     p.svc.HaikuModel,
		MaxTokens: p.svc.MaxTokens,
		System:    personnelSystemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(personnelUserPrompt, b.Name, orgType, text)},
		},
	}
	resp, err := call(ctx, p.svc, "anthropic", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return p.svc.AI.CreateMessage(ctx, req)
	})
	if err != nil {
		return eris.Wrapf(err, "personnel: extract for %q", b.Name)
	}
	resp.Usage.LogCost(p.svc.HaikuModel, "personnel")

	people, err := ParsePersonnel(resp.Text())
	if err != nil {
		return eris.Wrapf(err, "personnel: parse response for %q", b.Name)
	}
	for i := range people {
		people[i].BuyerID = b.ID
		people[i].SourceURL = sourceURL
	}
	if len(people) > 0 {
		if _, err := p.svc.Store.UpsertPersonnel(ctx, people); err != nil {
			return stage.Fatal(eris.Wrapf(err, "personnel: save for %s", b.ID))
		}
	}
	zap.L().Debug("personnel: extracted", zap.String("buyer_id", b.ID), zap.Int("people", len(people)))
	return p.svc.commit(ctx, b, model.BuyerPatch{}, model.SourcePersonnel)
}

// personnelContext joins the content of up to three documents, capped at
// maxContextChars, and returns the source URL of the first one used.
func personnelContext(docs []model.BoardDocument) (string, string) {
	var (
		sb     strings.Builder
		source string
		used   int
	)
	for _, d := range docs {
		if used == maxContextDocs {
			break
		}
		content := strings.TrimSpace(d.Content)
		if content == "" {
			continue
		}
		remaining := maxContextChars - sb.Len()
		if remaining <= 0 {
			break
		}
		if source == "" {
			source = d.SourceURL
		}
		if len(content) > remaining {
			content = truncateRunes(content, remaining)
		}
		sb.WriteString(content)
		sb.WriteString("\n\n")
		used++
	}
	return strings.TrimSpace(sb.String()), source
}

type extractedPerson struct {
	Name       string  `json:"name"`
	Title      string  `json:"title"`
	Role       string  `json:"role"`
	Department string  `json:"department"`
	Email      string  `json:"email"`
	Confidence float64 `json:"confidence"`
}

// ParsePersonnel decodes the model's JSON array. Entries without a name are
// dropped, roles are normalized against the title and confidence is scaled
// to 0-1. Duplicate names keep the most confident entry.
func ParsePersonnel(text string) ([]model.KeyPersonnel, error) {
	raw, err := anthropic.ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	var entries []extractedPerson
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, resilience.NewExternalError("anthropic", model.ErrParse, eris.Wrap(err, "personnel: decode json"))
	}

	index := make(map[string]int, len(entries))
	out := make([]model.KeyPersonnel, 0, len(entries))
	for _, e := range entries {
		name := strings.Join(strings.Fields(e.Name), " ")
		if name == "" {
			continue
		}
		person := model.KeyPersonnel{
			Name:             name,
			Title:            strings.TrimSpace(e.Title),
			Role:             model.NormalizeRole(e.Role, e.Title),
			Department:       strings.TrimSpace(e.Department),
			Email:            strings.TrimSpace(e.Email),
			Confidence:       model.NormalizeConfidence(e.Confidence),
			ExtractionMethod: model.ExtractionClaudeHaiku,
		}
		if i, ok := index[name]; ok {
			if person.Confidence > out[i].Confidence {
				out[i] = person
			}
			continue
		}
		index[name] = len(out)
		out = append(out, person)
	}
	return out, nil
}
