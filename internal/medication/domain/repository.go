package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// UsageTotal aggregates price observations for one product and source.
type UsageTotal struct {
	Total   decimal.Decimal
	Records int64
}

type Repository interface {
	// Chemicals. Lookup is a case-sensitive exact match on the name.
	GetChemical(ctx context.Context, db *gorm.DB, name string) (*ChemicalComposition, error)
	GetOrCreateChemical(ctx context.Context, db *gorm.DB, name, description string) (*ChemicalComposition, bool, error)
	DeleteChemical(ctx context.Context, db *gorm.DB, name string) error

	// BNF hierarchy entries, keyed by BNF code.
	GetEntry(ctx context.Context, db *gorm.DB, code string) (*BNFEntry, error)
	UpsertEntry(ctx context.Context, db *gorm.DB, entry *BNFEntry) (bool, error)
	GetOrCreateEntry(ctx context.Context, db *gorm.DB, entry *BNFEntry) (*BNFEntry, bool, error)
	// FindEntryByPresentation matches an authoritative (non-placeholder)
	// entry whose presentation description equals name, case-insensitively.
	// Ties resolve to the lowest BNF code. Returns nil when nothing matches.
	FindEntryByPresentation(ctx context.Context, db *gorm.DB, name string) (*BNFEntry, error)
	DeleteEntry(ctx context.Context, db *gorm.DB, code string) error

	// Products, unique by NPC code when present.
	GetOrCreateProduct(ctx context.Context, db *gorm.DB, product *Product) (*Product, bool, error)
	UpdateProductPricing(ctx context.Context, db *gorm.DB, id snowflake.ID, name string, price decimal.Decimal) error
	// LinkProduct re-points the product's classification and chemical
	// references. Used only by reconciliation.
	LinkProduct(ctx context.Context, db *gorm.DB, id snowflake.ID, bnfCode, chemicalName string) error
	ListPlaceholderProducts(ctx context.Context, db *gorm.DB) ([]Product, error)
	ListProducts(ctx context.Context, db *gorm.DB) ([]Product, error)

	// Price history, append-only, most recent period first.
	CreatePriceRecord(ctx context.Context, db *gorm.DB, record *PriceRecord) error
	ListPriceRecords(ctx context.Context, db *gorm.DB, productID snowflake.ID) ([]PriceRecord, error)
	UsageTotals(ctx context.Context, db *gorm.DB, source string) (map[snowflake.ID]UsageTotal, error)

	// Cost-effectiveness appraisals, most recent first.
	CreateAppraisal(ctx context.Context, db *gorm.DB, appraisal *Appraisal) error
	ListAppraisals(ctx context.Context, db *gorm.DB, productID snowflake.ID) ([]Appraisal, error)
}
