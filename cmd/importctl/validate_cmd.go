package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	app "github.com/mohammadpnp/roster-import/internal/application/user"
	"github.com/mohammadpnp/roster-import/internal/bootstrap"
	"github.com/mohammadpnp/roster-import/internal/config"
	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
	"github.com/mohammadpnp/roster-import/internal/infrastructure/export"
	"github.com/mohammadpnp/roster-import/internal/infrastructure/file"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type validateOptions struct {
	File          string
	Group         string
	Report        string
	CheckExisting bool
}

type validateOutput struct {
	Source  string               `json:"source"`
	Group   string               `json:"group"`
	Summary domain.BatchSummary  `json:"summary"`
	Issues  []app.ErrorReportRow `json:"issues"`
	Report  string               `json:"report,omitempty"`
}

// noExisting treats every identifier as new when no database is consulted.
type noExisting struct{}

func (noExisting) Exists(ctx context.Context, identifier string) (bool, error) {
	return false, nil
}

func newValidateCmd(load func() (*config.Configuration, error)) *cobra.Command {
	var opts validateOptions

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a roster file without committing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			var index domain.ExistingRecordIndex = noExisting{}
			if opts.CheckExisting {
				if cfg.DatabaseURL == "" {
					return errors.New("--check-existing needs DATABASE_URL")
				}
				db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
				if err != nil {
					return fmt.Errorf("connect database: %w", err)
				}
				sqlDB, err := db.DB()
				if err != nil {
					return fmt.Errorf("database handle: %w", err)
				}
				defer sqlDB.Close()
				index = bootstrap.NewExistingIndex(cfg, db, nil)
			}
			return runValidate(cmd.Context(), cfg, index, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.File, "file", "", "roster file (.csv, .tsv, .txt or .xlsx)")
	cmd.Flags().StringVar(&opts.Group, "group", "", "group assigned to every record")
	cmd.Flags().StringVar(&opts.Report, "report", "", "write the error report to this .csv or .xlsx file")
	cmd.Flags().BoolVar(&opts.CheckExisting, "check-existing", false, "look up emails already stored in DATABASE_URL")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

func runValidate(ctx context.Context, cfg *config.Configuration, index domain.ExistingRecordIndex, opts validateOptions, out io.Writer) error {
	path, err := filepath.Abs(opts.File)
	if err != nil {
		return err
	}
	src, size, err := file.NewLocalSource("").Open(ctx, path)
	if err != nil {
		return err
	}
	defer src.Close()

	name := filepath.Base(opts.File)
	content, err := file.Sniff(name, src)
	if err != nil {
		return err
	}

	validator := bootstrap.NewValidator(cfg, index)
	svc := app.NewBatchService(app.BatchServiceDeps{
		Normalizer: bootstrap.NewNormalizer(cfg),
		Validator:  validator,
		Selection:  app.NewSelectionManager(validator),
		Sheets:     file.NewSpreadsheetReader(),
	})
	view, err := svc.Upload(ctx, app.UploadInput{SourceName: name, Group: opts.Group, Size: size, Content: content})
	if err != nil {
		return err
	}

	result := validateOutput{
		Source:  name,
		Group:   view.Group,
		Summary: view.Summary,
		Issues:  app.BuildErrorReport(&domain.ImportBatch{Records: view.Records}),
	}

	if opts.Report != "" {
		if err := writeReport(svc, view.ID, opts.Report); err != nil {
			return err
		}
		result.Report = opts.Report
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func writeReport(svc *app.BatchService, batchID, path string) error {
	format, err := export.ParseFormat(strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
	if err != nil {
		return err
	}
	table, err := svc.ErrorReport(batchID)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report %s: %w", path, err)
	}
	if err := export.Write(f, format, table); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
