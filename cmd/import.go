package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/catalog"
	"github.com/k1p1l0/tendhunt-sub005/pkg/notion"
)

var (
	importFile     string
	importNotionDB string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import reference data into the store",
}

var importDataSourcesCmd = &cobra.Command{
	Use:   "datasources",
	Short: "Import the data-source catalog from a file or Notion",
	Long:  "Upserts the catalog of public bodies, their websites and democracy portals. Reads a CSV, XLSX or YAML file with --file, otherwise the Notion catalog database.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var src catalog.Source
		if importFile != "" {
			src = catalog.FileSource{Path: importFile}
		} else {
			dbID := importNotionDB
			if dbID == "" {
				dbID = cfg.Notion.CatalogDB
			}
			if cfg.Notion.Token == "" {
				return eris.New("notion token is required (TENDHUNT_NOTION_TOKEN) unless --file is given")
			}
			if dbID == "" {
				return eris.New("notion catalog DB ID is required (TENDHUNT_NOTION_CATALOG_DB or --notion-db)")
			}
			src = catalog.NewNotionSource(notion.NewClient(cfg.Notion.Token), dbID)
		}

		st, err := openAdminStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := catalog.Import(ctx, st, src)
		if err != nil {
			return eris.Wrap(err, "import datasources")
		}
		zap.L().Info("import complete",
			zap.Int("loaded", res.Loaded),
			zap.Int("inserted", res.Inserted),
			zap.Int("updated", res.Updated),
			zap.Int("skipped", res.Skipped),
		)
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	importDataSourcesCmd.Flags().StringVar(&importFile, "file", "", "path to a CSV, XLSX or YAML catalog")
	importDataSourcesCmd.Flags().StringVar(&importNotionDB, "notion-db", "", "Notion catalog database ID (default from config)")
	importCmd.AddCommand(importDataSourcesCmd)
	rootCmd.AddCommand(importCmd)
}
