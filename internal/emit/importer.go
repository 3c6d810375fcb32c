package emit

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/medicost/medtrack/internal/config"
	"github.com/medicost/medtrack/internal/medication/domain"
	"github.com/medicost/medtrack/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Config config.Config
	DB     *gorm.DB
	Log    *zap.Logger
	Repo   domain.Repository
	GenID  *snowflake.Node
}

// Importer loads eMIT procurement prices into the product and price history
// tables. Products that are not yet classified get placeholder hierarchy and
// chemical rows keyed off their NPC code; reconciliation replaces those later.
type Importer struct {
	cfg   config.Config
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
}

func New(p Params) *Importer {
	return &Importer{
		cfg:   p.Config,
		db:    p.DB,
		log:   p.Log.Named("emit.importer"),
		repo:  p.Repo,
		genID: p.GenID,
	}
}

type ImportStats struct {
	ProductsCreated int
	PricesRecorded  int
	RowsSkipped     int
}

// Run imports the pricing file at path (the configured path when empty).
// The whole row set commits in one transaction; invalid rows are skipped
// with a warning rather than failing the run.
func (i *Importer) Run(ctx context.Context, path string) (ImportStats, error) {
	if path == "" {
		path = i.cfg.EMITFilePath
	}
	if _, err := os.Stat(path); err != nil {
		return ImportStats{}, fmt.Errorf("emit file not found at %s: %w", path, err)
	}

	rows, err := parseFile(path)
	if err != nil {
		return ImportStats{}, err
	}
	i.log.Info("loaded pricing file", zap.String("path", path), zap.Int("rows", len(rows)))

	stats := ImportStats{}
	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			if skip := i.validate(row); skip != nil {
				i.log.Warn("skipping pricing row", zap.Error(skip))
				metrics.PricingRowsSkipped.Inc()
				stats.RowsSkipped++
				continue
			}

			if err := i.importRow(ctx, tx, row, &stats); err != nil {
				return fmt.Errorf("npc code %s: %w", row.NPCCode, err)
			}
		}
		return nil
	})
	if err != nil {
		return ImportStats{}, err
	}

	i.log.Info("pricing import complete",
		zap.Int("products_created", stats.ProductsCreated),
		zap.Int("prices_recorded", stats.PricesRecorded),
		zap.Int("rows_skipped", stats.RowsSkipped),
	)
	return stats, nil
}

func (i *Importer) validate(row pricingRow) *domain.ValidationError {
	if row.NPCCode == "" {
		return &domain.ValidationError{Row: row.Line, Field: colNPCCode, Detail: "is missing"}
	}
	if row.Price == nil {
		return &domain.ValidationError{Row: row.Line, Field: colPrice, Detail: "is missing or not numeric"}
	}
	return nil
}

func (i *Importer) importRow(ctx context.Context, tx *gorm.DB, row pricingRow, stats *ImportStats) error {
	chem, _, err := i.repo.GetOrCreateChemical(ctx, tx,
		domain.PlaceholderChemicalPrefix+row.NPCCode,
		"Placeholder for NPC Code "+row.NPCCode,
	)
	if err != nil {
		return err
	}

	placeholder := placeholderEntry(row, chem.ChemicalName, i.cfg.EMITPeriodStart)
	entry, created, err := i.repo.GetOrCreateEntry(ctx, tx, &placeholder)
	if err != nil {
		return err
	}
	if created {
		i.log.Debug("created placeholder bnf entry", zap.String("bnf_code", entry.BNFCode))
	}

	name := row.ProductName
	status := "Unknown"
	product := &domain.Product{
		ID:              i.genID.Generate(),
		ProductName:     &name,
		NPCCode:         &row.NPCCode,
		BNFCode:         &entry.BNFCode,
		ChemicalName:    &chem.ChemicalName,
		LatestPrice:     row.Price,
		AppraisalStatus: &status,
	}
	product, createdProduct, err := i.repo.GetOrCreateProduct(ctx, tx, product)
	if err != nil {
		return err
	}
	if createdProduct {
		stats.ProductsCreated++
	} else {
		// Repeat imports refresh the cached name and price but never touch
		// the classification or chemical links; reconciliation owns those.
		if err := i.repo.UpdateProductPricing(ctx, tx, product.ID, name, *row.Price); err != nil {
			return err
		}
	}

	record := &domain.PriceRecord{
		ID:                 i.genID.Generate(),
		ProductID:          product.ID,
		Source:             domain.PriceSourceEMIT,
		Price:              *row.Price,
		PeriodStart:        i.cfg.EMITPeriodStart,
		PeriodEnd:          i.cfg.EMITPeriodEnd,
		UsageEstimate:      row.Usage,
		PriceChangeMeasure: row.Variance,
	}
	if err := i.repo.CreatePriceRecord(ctx, tx, record); err != nil {
		return err
	}
	stats.PricesRecorded++
	metrics.PricingRowsImported.Inc()
	return nil
}

// placeholderEntry builds the synthetic hierarchy row that satisfies the
// product's classification link until reconciliation finds the real one.
// Sentinel chapter/section/paragraph values make placeholders obvious in the
// data; the raw product name doubles as the presentation description so the
// reconciliation match key is preserved.
func placeholderEntry(row pricingRow, chemicalName string, validFrom time.Time) domain.BNFEntry {
	chapterCode := "XX"
	chapterName := "Placeholder Chapter"
	sectionCode := "XXXXX"
	sectionName := "Placeholder Section"
	paragraphCode := "XXXXXXX"
	paragraphName := "Placeholder Paragraph"
	presentation := row.ProductName
	version := domain.PlaceholderBNFVersion

	return domain.BNFEntry{
		BNFCode:                 domain.PlaceholderBNFPrefix + row.NPCCode,
		ChapterCode:             &chapterCode,
		ChapterName:             &chapterName,
		SectionCode:             &sectionCode,
		SectionName:             &sectionName,
		ParagraphCode:           &paragraphCode,
		ParagraphName:           &paragraphName,
		ChemicalSubstance:       &chemicalName,
		PresentationDescription: &presentation,
		BNFVersion:              &version,
		ValidFrom:               &validFrom,
	}
}
