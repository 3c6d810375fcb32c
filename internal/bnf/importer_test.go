package bnf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/medicost/medtrack/internal/config"
	"github.com/medicost/medtrack/internal/medication/domain"
	"github.com/medicost/medtrack/internal/medication/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func newImporter(t *testing.T, db *gorm.DB, apiURL string, pageLimit int) *Importer {
	t.Helper()
	cfg := config.Config{
		BNFAPIURL:     apiURL,
		BNFResourceID: "TEST_RESOURCE",
		BNFPageLimit:  pageLimit,
	}
	log := zap.NewNop()
	return New(Params{
		Config: cfg,
		DB:     db,
		Log:    log,
		Repo:   repository.Provide(),
		Client: NewClient(cfg, log),
	})
}

// newDatastore serves records in datastore_search shape, honouring the limit
// and offset query parameters, and records each requested offset.
func newDatastore(t *testing.T, records []map[string]interface{}) (*httptest.Server, *[]int) {
	t.Helper()
	offsets := &[]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		*offsets = append(*offsets, offset)

		page := []map[string]interface{}{}
		if offset < len(records) {
			end := offset + limit
			if end > len(records) {
				end = len(records)
			}
			page = records[offset:end]
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"result":  map[string]interface{}{"records": page},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, offsets
}

func record(code, chemical, presentation string) map[string]interface{} {
	return map[string]interface{}{
		colPresentationCode: code,
		colChapterCode:      "01",
		colChapterName:      "Gastro-Intestinal System",
		colSectionCode:      "0101",
		colSectionName:      "Dyspepsia and gastro-oesophageal reflux disease",
		colParagraphCode:    "0101010",
		colParagraphName:    "Antacids and simeticone",
		colChemical:         chemical,
		colPresentation:     presentation,
		colYearMonth:        "2025-05",
	}
}

func TestRunPaginatesUntilShortPage(t *testing.T) {
	records := []map[string]interface{}{
		record("0101010A0AAAAAA", "Aspirin", "Aspirin 300mg tablets"),
		record("0101010A0AAABAB", "Aspirin", "Aspirin 300mg dispersible tablets"),
		record("0101010B0AAAAAA", "Paracetamol", "Paracetamol 500mg tablets"),
		record("0101010B0AAABAB", "Paracetamol", "Paracetamol 500mg capsules"),
		record("0101010C0AAAAAA", "Ibuprofen", "Ibuprofen 200mg tablets"),
	}
	srv, offsets := newDatastore(t, records)
	db := newTestDB(t)
	imp := newImporter(t, db, srv.URL, 2)

	stats, err := imp.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.EntriesCreated)
	assert.Equal(t, 3, stats.ChemicalsCreated)
	assert.Equal(t, []int{0, 2, 4}, *offsets)

	var entry domain.BNFEntry
	require.NoError(t, db.First(&entry, "bnf_code = ?", "0101010B0AAAAAA").Error)
	require.NotNil(t, entry.PresentationDescription)
	assert.Equal(t, "Paracetamol 500mg tablets", *entry.PresentationDescription)
	require.NotNil(t, entry.BNFVersion)
	assert.Equal(t, "2025-05", *entry.BNFVersion)
	require.NotNil(t, entry.ValidFrom)
	assert.Equal(t, "2025-05-01", entry.ValidFrom.UTC().Format("2006-01-02"))

	var chem domain.ChemicalComposition
	require.NoError(t, db.First(&chem, "chemical_name = ?", "Aspirin").Error)
	require.NotNil(t, chem.ChemicalDescription)
	assert.Equal(t, "From BNF API: Aspirin", *chem.ChemicalDescription)
}

func TestRunIsIdempotent(t *testing.T) {
	records := []map[string]interface{}{
		record("0101010A0AAAAAA", "Aspirin", "Aspirin 300mg tablets"),
		record("0101010B0AAAAAA", "Paracetamol", "Paracetamol 500mg tablets"),
	}
	srv, _ := newDatastore(t, records)
	db := newTestDB(t)
	imp := newImporter(t, db, srv.URL, 1000)

	first, err := imp.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.EntriesCreated)

	second, err := imp.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.EntriesCreated)
	assert.Equal(t, 0, second.ChemicalsCreated)

	var count int64
	require.NoError(t, db.Model(&domain.BNFEntry{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestRunReplacesChangedEntries(t *testing.T) {
	db := newTestDB(t)

	srv, _ := newDatastore(t, []map[string]interface{}{
		record("0101010A0AAAAAA", "Aspirin", "Aspirin 300mg tablets"),
	})
	_, err := newImporter(t, db, srv.URL, 1000).Run(context.Background())
	require.NoError(t, err)

	changed := record("0101010A0AAAAAA", "Aspirin", "Aspirin 300mg tablets")
	changed[colChapterName] = "Cardiovascular System"
	srv2, _ := newDatastore(t, []map[string]interface{}{changed})
	stats, err := newImporter(t, db, srv2.URL, 1000).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.EntriesCreated)

	var entry domain.BNFEntry
	require.NoError(t, db.First(&entry, "bnf_code = ?", "0101010A0AAAAAA").Error)
	require.NotNil(t, entry.ChapterName)
	assert.Equal(t, "Cardiovascular System", *entry.ChapterName)
}

func TestRunDropsIncompleteRows(t *testing.T) {
	noPresentation := record("0101010A0AAABAB", "Aspirin", "")
	badVersion := record("0101010B0AAAAAA", "Paracetamol", "Paracetamol 500mg tablets")
	badVersion[colYearMonth] = "May 2025"

	srv, _ := newDatastore(t, []map[string]interface{}{
		record("0101010A0AAAAAA", "Aspirin", "Aspirin 300mg tablets"),
		noPresentation,
		badVersion,
	})
	db := newTestDB(t)

	stats, err := newImporter(t, db, srv.URL, 1000).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EntriesCreated)

	var count int64
	require.NoError(t, db.Model(&domain.BNFEntry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRunFailsWhenNoRowIsUsable(t *testing.T) {
	srv, _ := newDatastore(t, []map[string]interface{}{
		record("", "Aspirin", "Aspirin 300mg tablets"),
	})
	db := newTestDB(t)

	_, err := newImporter(t, db, srv.URL, 1000).Run(context.Background())
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestRunFailsOnEmptyResource(t *testing.T) {
	srv, _ := newDatastore(t, nil)
	db := newTestDB(t)

	_, err := newImporter(t, db, srv.URL, 1000).Run(context.Background())
	var ferr *domain.DataFormatError
	require.ErrorAs(t, err, &ferr)
}

func TestRunFailsOnTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	db := newTestDB(t)

	_, err := newImporter(t, db, srv.URL, 1000).Run(context.Background())
	var serr *domain.ExternalServiceError
	require.ErrorAs(t, err, &serr)
}

func TestRunFailsOnUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	db := newTestDB(t)

	_, err := newImporter(t, db, srv.URL, 1000).Run(context.Background())
	var serr *domain.ExternalServiceError
	require.ErrorAs(t, err, &serr)
}

func TestRunFailsOnMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": true}`))
	}))
	t.Cleanup(srv.Close)
	db := newTestDB(t)

	_, err := newImporter(t, db, srv.URL, 1000).Run(context.Background())
	var ferr *domain.DataFormatError
	require.ErrorAs(t, err, &ferr)
}

func TestRunFailsWhenAPIReportsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": false, "error": {"message": "resource not found"}}`))
	}))
	t.Cleanup(srv.Close)
	db := newTestDB(t)

	_, err := newImporter(t, db, srv.URL, 1000).Run(context.Background())
	var serr *domain.ExternalServiceError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Error(), "resource not found")
}

func TestClientSendsAuthToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("authorization")
		_, _ = w.Write([]byte(`{"success": true, "result": {"records": []}}`))
	}))
	t.Cleanup(srv.Close)

	cfg := config.Config{BNFAPIURL: srv.URL, BNFPageLimit: 1000, BNFAPIToken: "secret-token"}
	client := NewClient(cfg, zap.NewNop())
	_, err := client.FetchAll(context.Background(), "TEST_RESOURCE")
	require.NoError(t, err)
	assert.Equal(t, "secret-token", gotAuth)
}
