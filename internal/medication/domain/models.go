package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	// PlaceholderBNFPrefix marks hierarchy entries synthesised by the
	// pricing importer, as opposed to entries fetched from the NHSBSA API.
	PlaceholderBNFPrefix = "BNF_NPC_"

	// PlaceholderChemicalPrefix marks chemical compositions synthesised by
	// the pricing importer.
	PlaceholderChemicalPrefix = "CHEM_NPC_"

	// PlaceholderBNFVersion tags placeholder entries so their provenance is
	// visible in queries.
	PlaceholderBNFVersion = "eMIT Placeholder"

	// PriceSourceEMIT labels price observations taken from the eMIT
	// national database.
	PriceSourceEMIT = "eMIT Hospital Data"
)

// ChemicalComposition is a named active ingredient. The chemical name is the
// natural key; entries are shared between the BNF hierarchy and products.
type ChemicalComposition struct {
	ChemicalName        string  `gorm:"column:chemical_name;primaryKey;size:255" json:"chemical_name"`
	ChemicalDescription *string `gorm:"column:chemical_description;type:text" json:"chemical_description,omitempty"`
}

func (ChemicalComposition) TableName() string { return "chemical_compositions" }

// BNFEntry is one leaf of the chapter > section > paragraph > presentation
// classification tree, keyed by the 15-character BNF presentation code.
type BNFEntry struct {
	BNFCode                 string     `gorm:"column:bnf_code;primaryKey;size:20" json:"bnf_code"`
	ChapterCode             *string    `gorm:"column:chapter_code;size:2" json:"chapter_code,omitempty"`
	ChapterName             *string    `gorm:"column:chapter_name;size:255" json:"chapter_name,omitempty"`
	SectionCode             *string    `gorm:"column:section_code;size:5" json:"section_code,omitempty"`
	SectionName             *string    `gorm:"column:section_name;size:255" json:"section_name,omitempty"`
	ParagraphCode           *string    `gorm:"column:paragraph_code;size:7" json:"paragraph_code,omitempty"`
	ParagraphName           *string    `gorm:"column:paragraph_name;size:255" json:"paragraph_name,omitempty"`
	ChemicalSubstance       *string    `gorm:"column:chemical_substance;size:255;index" json:"chemical_substance,omitempty"`
	PresentationDescription *string    `gorm:"column:presentation_description;size:500;index" json:"presentation_description,omitempty"`
	BNFVersion              *string    `gorm:"column:bnf_version;size:50" json:"bnf_version,omitempty"`
	ValidFrom               *time.Time `gorm:"column:valid_from" json:"valid_from,omitempty"`
	ValidTo                 *time.Time `gorm:"column:valid_to" json:"valid_to,omitempty"`
}

func (BNFEntry) TableName() string { return "bnf_entries" }

// IsPlaceholder reports whether the entry was synthesised from pricing data.
func (e BNFEntry) IsPlaceholder() bool {
	return strings.HasPrefix(e.BNFCode, PlaceholderBNFPrefix)
}

// FullClassification joins the non-empty chapter, section and paragraph
// names into a display string.
func (e BNFEntry) FullClassification() string {
	parts := make([]string, 0, 3)
	for _, p := range []*string{e.ChapterName, e.SectionName, e.ParagraphName} {
		if p != nil && strings.TrimSpace(*p) != "" {
			parts = append(parts, strings.TrimSpace(*p))
		}
	}
	return strings.Join(parts, " > ")
}

// Product is the core joinable entity. A product enters the system from the
// eMIT file with only a name, an NPC code and placeholder links; the
// reconciliation engine later re-points its BNF and chemical references to
// authoritative rows.
type Product struct {
	ID              snowflake.ID     `gorm:"primaryKey" json:"id"`
	ProductName     *string          `gorm:"column:product_name;size:255" json:"product_name,omitempty"`
	NPCCode         *string          `gorm:"column:npc_code;size:50;uniqueIndex" json:"npc_code,omitempty"`
	BNFCode         *string          `gorm:"column:bnf_code;size:20;index" json:"bnf_code,omitempty"`
	ChemicalName    *string          `gorm:"column:chemical_name;size:255;index" json:"chemical_name,omitempty"`
	LatestPrice     *decimal.Decimal `gorm:"column:latest_price;type:decimal(10,2)" json:"latest_price,omitempty"`
	AppraisalStatus *string          `gorm:"column:appraisal_status;size:100" json:"appraisal_status,omitempty"`
	CreatedAt       time.Time        `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;not null" json:"updated_at"`

	BNFEntry *BNFEntry            `gorm:"foreignKey:BNFCode;references:BNFCode;constraint:OnDelete:RESTRICT" json:"bnf_entry,omitempty"`
	Chemical *ChemicalComposition `gorm:"foreignKey:ChemicalName;references:ChemicalName;constraint:OnDelete:RESTRICT" json:"chemical,omitempty"`
}

func (Product) TableName() string { return "products" }

// HasPlaceholderBNF reports whether the product still points at a synthetic
// hierarchy entry.
func (p Product) HasPlaceholderBNF() bool {
	return p.BNFCode != nil && strings.HasPrefix(*p.BNFCode, PlaceholderBNFPrefix)
}

// PriceRecord is an immutable price observation for a product from a named
// source over a period. Records are append-only; re-importing the same period
// appends again.
type PriceRecord struct {
	ID                 snowflake.ID     `gorm:"primaryKey" json:"id"`
	ProductID          snowflake.ID     `gorm:"column:product_id;not null;index" json:"product_id"`
	Source             string           `gorm:"column:source;size:255;not null" json:"source"`
	Price              decimal.Decimal  `gorm:"column:price;type:decimal(10,2);not null" json:"price"`
	PeriodStart        time.Time        `gorm:"column:period_start;not null;index" json:"period_start"`
	PeriodEnd          time.Time        `gorm:"column:period_end;not null" json:"period_end"`
	UsageEstimate      *decimal.Decimal `gorm:"column:usage_estimate;type:decimal(15,2)" json:"usage_estimate,omitempty"`
	PriceChangeMeasure *decimal.Decimal `gorm:"column:price_change_measure;type:decimal(15,2)" json:"price_change_measure,omitempty"`
	CreatedAt          time.Time        `gorm:"column:created_at;not null" json:"created_at"`

	Product *Product `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"-"`
}

func (PriceRecord) TableName() string { return "price_records" }

// Appraisal is a cost-effectiveness appraisal attached to a product.
type Appraisal struct {
	ID                   snowflake.ID      `gorm:"primaryKey" json:"id"`
	ProductID            snowflake.ID      `gorm:"column:product_id;not null;index" json:"product_id"`
	GuidanceID           *string           `gorm:"column:guidance_id;size:100" json:"guidance_id,omitempty"`
	RecommendationStatus string            `gorm:"column:recommendation_status;size:100;not null" json:"recommendation_status"`
	ICER                 *decimal.Decimal  `gorm:"column:icer;type:decimal(15,2)" json:"icer,omitempty"`
	AppraisalDate        time.Time         `gorm:"column:appraisal_date;not null;index" json:"appraisal_date"`
	SummaryOfFindings    *string           `gorm:"column:summary_of_findings;type:text" json:"summary_of_findings,omitempty"`
	RationaleForDecision *string           `gorm:"column:rationale_for_decision;type:text" json:"rationale_for_decision,omitempty"`
	Metadata             datatypes.JSONMap `gorm:"column:metadata;type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`

	Product *Product `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Appraisal) TableName() string { return "appraisals" }
