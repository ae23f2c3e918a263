package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/k1p1l0/tendhunt-sub005/internal/fetcher"
	"github.com/k1p1l0/tendhunt-sub005/internal/model"
)

// FileSource reads the catalog from a CSV, XLSX or YAML file, chosen by
// extension.
type FileSource struct {
	Path string
}

// Load implements Source.
func (s FileSource) Load(_ context.Context) ([]model.DataSource, error) {
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".csv":
		b, err := os.ReadFile(s.Path)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: read %s", s.Path)
		}
		text, err := fetcher.DecodeText(b)
		if err != nil {
			return nil, err
		}
		t, err := fetcher.ParseCSV(text)
		if err != nil {
			return nil, err
		}
		return fromTable(t), nil
	case ".xlsx":
		t, err := fetcher.ReadXLSXFile(s.Path)
		if err != nil {
			return nil, err
		}
		return fromTable(t), nil
	case ".yaml", ".yml":
		return loadYAML(s.Path)
	default:
		return nil, eris.Errorf("catalog: unsupported file type %s", s.Path)
	}
}

// headerAliases maps squashed header names to DataSource fields.
var headerAliases = map[string]string{
	"name":               propName,
	"organisation":       propName,
	"organization":       propName,
	"orgtype":            propOrgType,
	"type":               propOrgType,
	"region":             propRegion,
	"website":            propWebsite,
	"url":                propWebsite,
	"democracyportal":    propDemocracyPortal,
	"democracyportalurl": propDemocracyPortal,
	"platform":           propPlatform,
	"democracyplatform":  propPlatform,
	"boardpapers":        propBoardPapers,
	"boardpapersurl":     propBoardPapers,
}

func squash(h string) string {
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(h)))
}

func fromTable(t fetcher.Table) []model.DataSource {
	cols := make(map[string]int)
	for i, h := range t.Header {
		if field, ok := headerAliases[squash(h)]; ok {
			if _, seen := cols[field]; !seen {
				cols[field] = i
			}
		}
	}
	get := func(row []string, field string) string {
		i, ok := cols[field]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	out := make([]model.DataSource, 0, len(t.Rows))
	for _, row := range t.Rows {
		out = append(out, model.DataSource{
			Name:               get(row, propName),
			OrgType:            get(row, propOrgType),
			Region:             get(row, propRegion),
			Website:            get(row, propWebsite),
			DemocracyPortalURL: get(row, propDemocracyPortal),
			DemocracyPlatform:  get(row, propPlatform),
			BoardPapersURL:     get(row, propBoardPapers),
		})
	}
	return out
}

type yamlEntry struct {
	Name            string `yaml:"name"`
	OrgType         string `yaml:"org_type"`
	Region          string `yaml:"region"`
	Website         string `yaml:"website"`
	DemocracyPortal string `yaml:"democracy_portal"`
	Platform        string `yaml:"platform"`
	BoardPapers     string `yaml:"board_papers"`
}

// loadYAML reads a file with a top-level data_sources list.
func loadYAML(path string) ([]model.DataSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	var doc struct {
		DataSources []yamlEntry `yaml:"data_sources"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "catalog: parse %s", path)
	}
	out := make([]model.DataSource, 0, len(doc.DataSources))
	for _, e := range doc.DataSources {
		out = append(out, model.DataSource{
			Name:               e.Name,
			OrgType:            e.OrgType,
			Region:             e.Region,
			Website:            e.Website,
			DemocracyPortalURL: e.DemocracyPortal,
			DemocracyPlatform:  e.Platform,
			BoardPapersURL:     e.BoardPapers,
		})
	}
	return out, nil
}
