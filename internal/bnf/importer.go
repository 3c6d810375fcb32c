package bnf

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/medicost/medtrack/internal/config"
	"github.com/medicost/medtrack/internal/medication/domain"
	"github.com/medicost/medtrack/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Source field names as returned by the NHSBSA datastore resource.
const (
	colPresentationCode = "BNF_PRESENTATION_CODE"
	colChapterCode      = "BNF_CHAPTER_CODE"
	colChapterName      = "BNF_CHAPTER"
	colSectionCode      = "BNF_SECTION_CODE"
	colSectionName      = "BNF_SECTION"
	colParagraphCode    = "BNF_PARAGRAPH_CODE"
	colParagraphName    = "BNF_PARAGRAPH"
	colChemical         = "BNF_CHEMICAL_SUBSTANCE"
	colPresentation     = "BNF_PRESENTATION"
	colYearMonth        = "YEAR_MONTH"
)

type Params struct {
	fx.In

	Config config.Config
	DB     *gorm.DB
	Log    *zap.Logger
	Repo   domain.Repository
	Client *Client
}

// Importer pulls the full BNF classification from the NHSBSA API and upserts
// it into the hierarchy and chemical tables.
type Importer struct {
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger
	repo   domain.Repository
	client *Client
}

func New(p Params) *Importer {
	return &Importer{
		cfg:    p.Config,
		db:     p.DB,
		log:    p.Log.Named("bnf.importer"),
		repo:   p.Repo,
		client: p.Client,
	}
}

type ImportStats struct {
	ChemicalsCreated int
	EntriesCreated   int
}

type hierarchyRow struct {
	Code          string
	ChapterCode   string
	ChapterName   string
	SectionCode   string
	SectionName   string
	ParagraphCode string
	ParagraphName string
	Chemical      string
	Presentation  string
	Version       string
	ValidFrom     time.Time
}

// Run fetches every row of the configured BNF resource and upserts the
// hierarchy inside a single transaction. A failure anywhere rolls the whole
// run back; reconciliation assumes a complete hierarchy snapshot.
func (i *Importer) Run(ctx context.Context) (ImportStats, error) {
	records, err := i.client.FetchAll(ctx, i.cfg.BNFResourceID)
	if err != nil {
		return ImportStats{}, err
	}
	if len(records) == 0 {
		return ImportStats{}, &domain.DataFormatError{
			Source: i.cfg.BNFAPIURL,
			Detail: fmt.Sprintf("no records returned for resource %s", i.cfg.BNFResourceID),
		}
	}

	rows := normalizeRecords(records)
	if len(rows) == 0 {
		return ImportStats{}, &domain.ValidationError{
			Field:  colPresentationCode,
			Detail: fmt.Sprintf("none of the %d fetched rows carry all mandatory fields", len(records)),
		}
	}
	i.log.Info("normalized hierarchy rows",
		zap.Int("fetched", len(records)),
		zap.Int("usable", len(rows)),
	)

	stats := ImportStats{}
	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			_, createdChem, err := i.repo.GetOrCreateChemical(ctx, tx, row.Chemical, "From BNF API: "+row.Chemical)
			if err != nil {
				return fmt.Errorf("chemical %q: %w", row.Chemical, err)
			}
			if createdChem {
				stats.ChemicalsCreated++
			}

			entry := row.toEntry()
			createdEntry, err := i.repo.UpsertEntry(ctx, tx, &entry)
			if err != nil {
				return fmt.Errorf("bnf entry %s: %w", row.Code, err)
			}
			if createdEntry {
				stats.EntriesCreated++
				metrics.HierarchyEntriesCreated.Inc()
			}
		}
		return nil
	})
	if err != nil {
		return ImportStats{}, err
	}

	i.log.Info("hierarchy import complete",
		zap.Int("chemicals_created", stats.ChemicalsCreated),
		zap.Int("entries_created", stats.EntriesCreated),
	)
	return stats, nil
}

// normalizeRecords maps source field names onto the canonical row shape and
// drops rows missing any of the mandatory fields.
func normalizeRecords(records []map[string]interface{}) []hierarchyRow {
	rows := make([]hierarchyRow, 0, len(records))
	for _, record := range records {
		row := hierarchyRow{
			Code:          stringValue(record, colPresentationCode),
			ChapterCode:   stringValue(record, colChapterCode),
			ChapterName:   stringValue(record, colChapterName),
			SectionCode:   stringValue(record, colSectionCode),
			SectionName:   stringValue(record, colSectionName),
			ParagraphCode: stringValue(record, colParagraphCode),
			ParagraphName: stringValue(record, colParagraphName),
			Chemical:      stringValue(record, colChemical),
			Presentation:  stringValue(record, colPresentation),
			Version:       stringValue(record, colYearMonth),
		}

		// Validity starts on the first day of the month the version tag
		// encodes; the resource never supplies an end date.
		validFrom, err := time.Parse("2006-01", row.Version)
		if err != nil {
			continue
		}
		row.ValidFrom = time.Date(validFrom.Year(), validFrom.Month(), 1, 0, 0, 0, 0, time.UTC)

		if row.Code == "" || row.Chemical == "" || row.Presentation == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func (r hierarchyRow) toEntry() domain.BNFEntry {
	validFrom := r.ValidFrom
	return domain.BNFEntry{
		BNFCode:                 r.Code,
		ChapterCode:             optional(r.ChapterCode),
		ChapterName:             optional(r.ChapterName),
		SectionCode:             optional(r.SectionCode),
		SectionName:             optional(r.SectionName),
		ParagraphCode:           optional(r.ParagraphCode),
		ParagraphName:           optional(r.ParagraphName),
		ChemicalSubstance:       optional(r.Chemical),
		PresentationDescription: optional(r.Presentation),
		BNFVersion:              optional(r.Version),
		ValidFrom:               &validFrom,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stringValue(record map[string]interface{}, key string) string {
	switch v := record[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
