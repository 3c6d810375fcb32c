package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/medicost/medtrack/internal/medication/domain"
	pkgdb "github.com/medicost/medtrack/pkg/db"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) GetChemical(ctx context.Context, db *gorm.DB, name string) (*domain.ChemicalComposition, error) {
	var chem domain.ChemicalComposition
	err := db.WithContext(ctx).Where("chemical_name = ?", name).First(&chem).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &chem, nil
}

func (r *repo) GetOrCreateChemical(ctx context.Context, db *gorm.DB, name, description string) (*domain.ChemicalComposition, bool, error) {
	existing, err := r.GetChemical(ctx, db, name)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	chem := domain.ChemicalComposition{
		ChemicalName:        name,
		ChemicalDescription: &description,
	}
	if err := db.WithContext(ctx).Create(&chem).Error; err != nil {
		// Lost a create race with a concurrent import.
		if pkgdb.IsDuplicateKeyErr(err) {
			existing, getErr := r.GetChemical(ctx, db, name)
			if getErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	return &chem, true, nil
}

func (r *repo) DeleteChemical(ctx context.Context, db *gorm.DB, name string) error {
	var refs int64
	if err := db.WithContext(ctx).Model(&domain.Product{}).
		Where("chemical_name = ?", name).
		Count(&refs).Error; err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("chemical %q referenced by %d products: %w", name, refs, domain.ErrProtected)
	}

	res := db.WithContext(ctx).Where("chemical_name = ?", name).Delete(&domain.ChemicalComposition{})
	if res.Error != nil {
		if pkgdb.IsForeignKeyErr(res.Error) {
			return fmt.Errorf("chemical %q still referenced: %w", name, domain.ErrProtected)
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("chemical %q: %w", name, domain.ErrNotFound)
	}
	return nil
}

func (r *repo) GetEntry(ctx context.Context, db *gorm.DB, code string) (*domain.BNFEntry, error) {
	var entry domain.BNFEntry
	err := db.WithContext(ctx).Where("bnf_code = ?", code).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) UpsertEntry(ctx context.Context, db *gorm.DB, entry *domain.BNFEntry) (bool, error) {
	existing, err := r.GetEntry(ctx, db, entry.BNFCode)
	if err != nil {
		return false, err
	}
	if existing == nil {
		if err := db.WithContext(ctx).Create(entry).Error; err != nil {
			return false, err
		}
		return true, nil
	}

	// Last write wins: overwrite every mapped field, including ones the new
	// row leaves empty.
	err = db.WithContext(ctx).
		Model(&domain.BNFEntry{BNFCode: entry.BNFCode}).
		Select("*").
		Updates(entry).Error
	if err != nil {
		return false, err
	}
	return false, nil
}

func (r *repo) GetOrCreateEntry(ctx context.Context, db *gorm.DB, entry *domain.BNFEntry) (*domain.BNFEntry, bool, error) {
	existing, err := r.GetEntry(ctx, db, entry.BNFCode)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	if err := db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (r *repo) FindEntryByPresentation(ctx context.Context, db *gorm.DB, name string) (*domain.BNFEntry, error) {
	var entry domain.BNFEntry
	err := db.WithContext(ctx).
		Where("LOWER(presentation_description) = LOWER(?)", name).
		Where("bnf_code NOT LIKE ?", domain.PlaceholderBNFPrefix+"%").
		Order("bnf_code ASC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) DeleteEntry(ctx context.Context, db *gorm.DB, code string) error {
	var refs int64
	if err := db.WithContext(ctx).Model(&domain.Product{}).
		Where("bnf_code = ?", code).
		Count(&refs).Error; err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("bnf entry %s referenced by %d products: %w", code, refs, domain.ErrProtected)
	}

	res := db.WithContext(ctx).Where("bnf_code = ?", code).Delete(&domain.BNFEntry{})
	if res.Error != nil {
		if pkgdb.IsForeignKeyErr(res.Error) {
			return fmt.Errorf("bnf entry %s still referenced: %w", code, domain.ErrProtected)
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("bnf entry %s: %w", code, domain.ErrNotFound)
	}
	return nil
}

func (r *repo) GetOrCreateProduct(ctx context.Context, db *gorm.DB, product *domain.Product) (*domain.Product, bool, error) {
	if product.NPCCode == nil || *product.NPCCode == "" {
		if err := db.WithContext(ctx).Create(product).Error; err != nil {
			return nil, false, err
		}
		return product, true, nil
	}

	var existing domain.Product
	err := db.WithContext(ctx).Where("npc_code = ?", *product.NPCCode).First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	if err := db.WithContext(ctx).Create(product).Error; err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			var raced domain.Product
			if getErr := db.WithContext(ctx).Where("npc_code = ?", *product.NPCCode).First(&raced).Error; getErr == nil {
				return &raced, false, nil
			}
		}
		return nil, false, err
	}
	return product, true, nil
}

func (r *repo) UpdateProductPricing(ctx context.Context, db *gorm.DB, id snowflake.ID, name string, price decimal.Decimal) error {
	return db.WithContext(ctx).
		Model(&domain.Product{ID: id}).
		Updates(map[string]interface{}{
			"product_name": name,
			"latest_price": price,
		}).Error
}

func (r *repo) LinkProduct(ctx context.Context, db *gorm.DB, id snowflake.ID, bnfCode, chemicalName string) error {
	return db.WithContext(ctx).
		Model(&domain.Product{ID: id}).
		Updates(map[string]interface{}{
			"bnf_code":      bnfCode,
			"chemical_name": chemicalName,
		}).Error
}

func (r *repo) ListPlaceholderProducts(ctx context.Context, db *gorm.DB) ([]domain.Product, error) {
	var items []domain.Product
	err := db.WithContext(ctx).
		Where("npc_code IS NOT NULL").
		Where("bnf_code LIKE ?", domain.PlaceholderBNFPrefix+"%").
		Order("npc_code ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListProducts(ctx context.Context, db *gorm.DB) ([]domain.Product, error) {
	var items []domain.Product
	err := db.WithContext(ctx).
		Preload("BNFEntry").
		Preload("Chemical").
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CreatePriceRecord(ctx context.Context, db *gorm.DB, record *domain.PriceRecord) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) ListPriceRecords(ctx context.Context, db *gorm.DB, productID snowflake.ID) ([]domain.PriceRecord, error) {
	var items []domain.PriceRecord
	err := db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("period_start DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UsageTotals(ctx context.Context, db *gorm.DB, source string) (map[snowflake.ID]domain.UsageTotal, error) {
	var rows []struct {
		ProductID snowflake.ID
		Total     decimal.Decimal
		Records   int64
	}
	err := db.WithContext(ctx).
		Model(&domain.PriceRecord{}).
		Select("product_id, COALESCE(SUM(usage_estimate), 0) AS total, COUNT(*) AS records").
		Where("source = ?", source).
		Group("product_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	totals := make(map[snowflake.ID]domain.UsageTotal, len(rows))
	for _, row := range rows {
		totals[row.ProductID] = domain.UsageTotal{Total: row.Total, Records: row.Records}
	}
	return totals, nil
}

func (r *repo) CreateAppraisal(ctx context.Context, db *gorm.DB, appraisal *domain.Appraisal) error {
	if appraisal.Metadata == nil {
		appraisal.Metadata = datatypes.JSONMap{}
	}
	return db.WithContext(ctx).Create(appraisal).Error
}

func (r *repo) ListAppraisals(ctx context.Context, db *gorm.DB, productID snowflake.ID) ([]domain.Appraisal, error) {
	var items []domain.Appraisal
	err := db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("appraisal_date DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
