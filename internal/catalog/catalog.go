// Package catalog loads the reference list of public-sector organizations
// (DataSources) that classification and governance discovery match buyers
// against.
package catalog

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
)

// Source yields catalog entries.
type Source interface {
	Load(ctx context.Context) ([]model.DataSource, error)
}

// Result counts what an import did.
type Result struct {
	Loaded    int `json:"loaded"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
}

type entry struct {
	Name               string `validate:"required"`
	OrgType            string `validate:"required"`
	Website            string `validate:"omitempty,url"`
	DemocracyPortalURL string `validate:"omitempty,url"`
	BoardPapersURL     string `validate:"omitempty,url"`
}

// Import loads src and upserts every valid entry by name. Entries without
// a name or org type, or with malformed URLs, are skipped. When a name
// appears twice the last entry wins.
func Import(ctx context.Context, st store.Store, src Source) (Result, error) {
	log := zap.L().With(zap.String("component", "catalog"))

	items, err := src.Load(ctx)
	if err != nil {
		return Result{}, eris.Wrap(err, "catalog: load")
	}

	res := Result{Loaded: len(items)}
	validate := validator.New()
	byName := make(map[string]int)
	var keep []model.DataSource
	for _, ds := range items {
		ds = Normalize(ds)
		if err := validate.Struct(entry{
			Name:               ds.Name,
			OrgType:            ds.OrgType,
			Website:            ds.Website,
			DemocracyPortalURL: ds.DemocracyPortalURL,
			BoardPapersURL:     ds.BoardPapersURL,
		}); err != nil {
			log.Warn("skipping catalog entry", zap.String("name", ds.Name), zap.Error(err))
			res.Skipped++
			continue
		}
		key := strings.ToLower(ds.Name)
		if i, ok := byName[key]; ok {
			keep[i] = ds
			res.Skipped++
			continue
		}
		byName[key] = len(keep)
		keep = append(keep, ds)
	}

	for _, ds := range keep {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r, err := st.UpsertDataSource(ctx, ds)
		if err != nil {
			return res, eris.Wrapf(err, "catalog: upsert %s", ds.Name)
		}
		switch {
		case r.Inserted:
			res.Inserted++
		case r.Modified:
			res.Updated++
		default:
			res.Unchanged++
		}
	}

	log.Info("catalog imported",
		zap.Int("loaded", res.Loaded),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// Normalize trims every field, folds the org type to snake_case and the
// democracy platform to lower case, and adds a scheme to bare domains.
func Normalize(ds model.DataSource) model.DataSource {
	ds.Name = strings.Join(strings.Fields(ds.Name), " ")
	ds.OrgType = orgType(ds.OrgType)
	ds.Region = strings.TrimSpace(ds.Region)
	ds.Website = withScheme(ds.Website)
	ds.DemocracyPortalURL = withScheme(ds.DemocracyPortalURL)
	ds.DemocracyPlatform = strings.ToLower(strings.TrimSpace(ds.DemocracyPlatform))
	ds.BoardPapersURL = withScheme(ds.BoardPapersURL)
	return ds
}

func orgType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", " ", "/", " ", "&", " ").Replace(s)
	return strings.Join(strings.Fields(s), "_")
}

func withScheme(u string) string {
	u = strings.TrimSpace(u)
	if u == "" || strings.Contains(u, "://") {
		return u
	}
	return "https://" + u
}
