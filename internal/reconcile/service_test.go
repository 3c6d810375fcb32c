package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/medicost/medtrack/internal/bnf"
	"github.com/medicost/medtrack/internal/config"
	"github.com/medicost/medtrack/internal/emit"
	"github.com/medicost/medtrack/internal/medication/domain"
	"github.com/medicost/medtrack/internal/medication/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.ChemicalComposition{},
		&domain.BNFEntry{},
		&domain.Product{},
		&domain.PriceRecord{},
		&domain.Appraisal{},
	))
	return db
}

func newService(db *gorm.DB) *Service {
	return New(Params{DB: db, Log: zap.NewNop(), Repo: repository.Provide()})
}

func strptr(s string) *string { return &s }

// seedAuthoritative inserts a real hierarchy entry plus its chemical.
func seedAuthoritative(t *testing.T, db *gorm.DB, code, chemical, presentation string) {
	t.Helper()
	repo := repository.Provide()
	ctx := context.Background()

	_, _, err := repo.GetOrCreateChemical(ctx, db, chemical, "From BNF API: "+chemical)
	require.NoError(t, err)
	entry := domain.BNFEntry{
		BNFCode:                 code,
		ChapterName:             strptr("Gastro-Intestinal System"),
		ChemicalSubstance:       &chemical,
		PresentationDescription: &presentation,
	}
	_, err = repo.UpsertEntry(ctx, db, &entry)
	require.NoError(t, err)
}

// seedPlaceholderProduct inserts a product the way the pricing import leaves
// it: linked to synthetic chemical and hierarchy rows keyed off its NPC code.
func seedPlaceholderProduct(t *testing.T, db *gorm.DB, npcCode string, name *string) *domain.Product {
	t.Helper()
	repo := repository.Provide()
	ctx := context.Background()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	chem, _, err := repo.GetOrCreateChemical(ctx, db,
		domain.PlaceholderChemicalPrefix+npcCode, "Placeholder for NPC Code "+npcCode)
	require.NoError(t, err)

	presentation := npcCode
	if name != nil {
		presentation = *name
	}
	version := domain.PlaceholderBNFVersion
	entry := domain.BNFEntry{
		BNFCode:                 domain.PlaceholderBNFPrefix + npcCode,
		ChemicalSubstance:       &chem.ChemicalName,
		PresentationDescription: &presentation,
		BNFVersion:              &version,
	}
	_, _, err = repo.GetOrCreateEntry(ctx, db, &entry)
	require.NoError(t, err)

	price := decimal.NewFromFloat(1.23)
	product := &domain.Product{
		ID:           node.Generate(),
		NPCCode:      &npcCode,
		ProductName:  name,
		BNFCode:      &entry.BNFCode,
		ChemicalName: &chem.ChemicalName,
		LatestPrice:  &price,
	}
	product, _, err = repo.GetOrCreateProduct(ctx, db, product)
	require.NoError(t, err)
	return product
}

func TestRunLinksPlaceholderProducts(t *testing.T) {
	db := newTestDB(t)
	seedAuthoritative(t, db, "0101010A0AAAAAA", "Aspirin", "Aspirin 300mg tablets")
	// Matching ignores case.
	product := seedPlaceholderProduct(t, db, "NPC001", strptr("ASPIRIN 300MG TABLETS"))

	matched, err := newService(db).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, matched)

	var reloaded domain.Product
	require.NoError(t, db.First(&reloaded, "id = ?", product.ID).Error)
	assert.Equal(t, "0101010A0AAAAAA", *reloaded.BNFCode)
	assert.Equal(t, "Aspirin", *reloaded.ChemicalName)
	assert.False(t, reloaded.HasPlaceholderBNF())

	// Already-reconciled products are never candidates again.
	matched, err = newService(db).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, matched)
}

func TestRunLeavesUnmatchedProducts(t *testing.T) {
	db := newTestDB(t)
	seedAuthoritative(t, db, "0101010A0AAAAAA", "Aspirin", "Aspirin 300mg tablets")
	product := seedPlaceholderProduct(t, db, "NPC009", strptr("Obscure product 10ml vial"))

	matched, err := newService(db).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, matched)

	var reloaded domain.Product
	require.NoError(t, db.First(&reloaded, "id = ?", product.ID).Error)
	assert.True(t, reloaded.HasPlaceholderBNF())
}

func TestRunSkipsProductsWithoutName(t *testing.T) {
	db := newTestDB(t)
	seedPlaceholderProduct(t, db, "NPC010", nil)

	matched, err := newService(db).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, matched)
}

func TestRunPrefersLowestCodeOnTie(t *testing.T) {
	db := newTestDB(t)
	seedAuthoritative(t, db, "0202020B0BBBBBB", "Aspirin", "Aspirin 300mg tablets")
	seedAuthoritative(t, db, "0101010A0AAAAAA", "Aspirin", "Aspirin 300mg tablets")
	product := seedPlaceholderProduct(t, db, "NPC001", strptr("Aspirin 300mg tablets"))

	matched, err := newService(db).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, matched)

	var reloaded domain.Product
	require.NoError(t, db.First(&reloaded, "id = ?", product.ID).Error)
	assert.Equal(t, "0101010A0AAAAAA", *reloaded.BNFCode)
}

func TestRunFailsWhenChemicalMissing(t *testing.T) {
	db := newTestDB(t)
	repo := repository.Provide()
	ctx := context.Background()

	// Hierarchy entry naming a chemical that was never imported.
	entry := domain.BNFEntry{
		BNFCode:                 "0101010A0AAAAAA",
		ChemicalSubstance:       strptr("Ghost Substance"),
		PresentationDescription: strptr("Ghost 10mg tablets"),
	}
	_, err := repo.UpsertEntry(ctx, db, &entry)
	require.NoError(t, err)
	seedPlaceholderProduct(t, db, "NPC001", strptr("Ghost 10mg tablets"))

	matched, err := newService(db).Run(ctx)
	assert.Equal(t, 0, matched)
	var cerr *domain.ConsistencyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "0101010A0AAAAAA", cerr.BNFCode)
	assert.Equal(t, "Ghost Substance", cerr.ChemicalName)
}

// TestPipelineEndToEnd drives the three stages the way the binary does:
// hierarchy import from the datastore API, pricing import from a spreadsheet,
// then reconciliation.
func TestPipelineEndToEnd(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	log := zap.NewNop()
	repo := repository.Provide()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		records := []map[string]interface{}{}
		if r.URL.Query().Get("offset") == "0" {
			records = append(records, map[string]interface{}{
				"BNF_PRESENTATION_CODE":  "0101010A0AAAAAA",
				"BNF_CHAPTER_CODE":       "01",
				"BNF_CHAPTER":            "Gastro-Intestinal System",
				"BNF_SECTION_CODE":       "0101",
				"BNF_SECTION":            "Dyspepsia and gastro-oesophageal reflux disease",
				"BNF_PARAGRAPH_CODE":     "0101010",
				"BNF_PARAGRAPH":          "Antacids and simeticone",
				"BNF_CHEMICAL_SUBSTANCE": "Aspirin",
				"BNF_PRESENTATION":       "Aspirin 300mg tablets",
				"YEAR_MONTH":             "2025-05",
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"result":  map[string]interface{}{"records": records},
		})
	}))
	t.Cleanup(srv.Close)

	cfg := config.Config{
		BNFAPIURL:       srv.URL,
		BNFResourceID:   "TEST_RESOURCE",
		BNFPageLimit:    1000,
		EMITPeriodStart: time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC),
		EMITPeriodEnd:   time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
	}

	hierarchyStats, err := bnf.New(bnf.Params{
		Config: cfg,
		DB:     db,
		Log:    log,
		Repo:   repo,
		Client: bnf.NewClient(cfg, log),
	}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, hierarchyStats.EntriesCreated)

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"eMIT national database"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{
		"NPC Code", "Name & PackSize", "Weighted Average Price", "Quantity", "Standard Deviation Of Price",
	}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]interface{}{"NPC001", "Aspirin 300mg tablets", 1.23, 1000, 0.05}))
	path := filepath.Join(t.TempDir(), "emit.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	pricingStats, err := emit.New(emit.Params{
		Config: cfg,
		DB:     db,
		Log:    log,
		Repo:   repo,
		GenID:  node,
	}).Run(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, pricingStats.ProductsCreated)
	assert.Equal(t, 1, pricingStats.PricesRecorded)

	matched, err := newService(db).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, matched)

	var product domain.Product
	require.NoError(t, db.Preload("BNFEntry").Preload("Chemical").First(&product, "npc_code = ?", "NPC001").Error)
	assert.Equal(t, "0101010A0AAAAAA", *product.BNFCode)
	assert.Equal(t, "Aspirin", *product.ChemicalName)
	require.NotNil(t, product.BNFEntry)
	assert.Equal(t, "Gastro-Intestinal System", *product.BNFEntry.ChapterName)
	assert.True(t, product.LatestPrice.Equal(decimal.NewFromFloat(1.23)))

	var priceRecords int64
	require.NoError(t, db.Model(&domain.PriceRecord{}).Where("product_id = ?", product.ID).Count(&priceRecords).Error)
	assert.Equal(t, int64(1), priceRecords)

	// The placeholder hierarchy row stays behind after re-linking.
	var placeholder domain.BNFEntry
	require.NoError(t, db.First(&placeholder, "bnf_code = ?", "BNF_NPC_NPC001").Error)
	assert.True(t, placeholder.IsPlaceholder())
}
