package emit

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/medicost/medtrack/internal/medication/domain"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Spreadsheet column headers as published in the eMIT national database.
const (
	colNPCCode  = "NPC Code"
	colName     = "Name & PackSize"
	colPrice    = "Weighted Average Price"
	colQuantity = "Quantity"
	colStdDev   = "Standard Deviation Of Price"
)

// The eMIT file carries a title row above the column headers, so the header
// sits on the second physical row.
const headerRowIndex = 1

type pricingRow struct {
	Line        int
	NPCCode     string
	ProductName string
	Price       *decimal.Decimal
	Usage       *decimal.Decimal
	Variance    *decimal.Decimal
}

// parseFile loads the pricing spreadsheet and normalizes it into pricing
// rows. Numeric coercion failures become missing values, not errors; rows
// are not filtered here so the importer can report skips per line.
func parseFile(path string) ([]pricingRow, error) {
	raw, err := readRows(path)
	if err != nil {
		return nil, err
	}
	if len(raw) <= headerRowIndex {
		return nil, &domain.DataFormatError{
			Source: path,
			Detail: fmt.Sprintf("expected header on row %d, file has %d rows", headerRowIndex+1, len(raw)),
		}
	}

	index := make(map[string]int)
	for i, header := range raw[headerRowIndex] {
		index[strings.TrimSpace(header)] = i
	}
	for _, required := range []string{colNPCCode, colName, colPrice, colQuantity, colStdDev} {
		if _, ok := index[required]; !ok {
			return nil, &domain.DataFormatError{
				Source: path,
				Detail: fmt.Sprintf("missing expected column %q", required),
			}
		}
	}

	rows := make([]pricingRow, 0, len(raw)-headerRowIndex-1)
	for n, cells := range raw[headerRowIndex+1:] {
		rows = append(rows, pricingRow{
			// 1-based physical line in the file, for diagnostics.
			Line:        headerRowIndex + 2 + n,
			NPCCode:     cell(cells, index[colNPCCode]),
			ProductName: cell(cells, index[colName]),
			Price:       parseDecimal(cell(cells, index[colPrice])),
			Usage:       parseDecimal(cell(cells, index[colQuantity])),
			Variance:    parseDecimal(cell(cells, index[colStdDev])),
		})
	}
	return rows, nil
}

func readRows(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return readSpreadsheet(path)
	case ".csv":
		return readCSV(path)
	default:
		return nil, &domain.DataFormatError{
			Source: path,
			Detail: "unsupported file type, expected .xlsx, .xlsm or .csv",
		}
	}
}

func readSpreadsheet(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet %s: %w", path, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, &domain.DataFormatError{Source: path, Detail: "workbook has no sheets"}
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q of %s: %w", sheet, path, err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, &domain.DataFormatError{
			Source: path,
			Detail: fmt.Sprintf("invalid csv: %v", err),
		}
	}
	return rows, nil
}

func cell(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[i])
}

func parseDecimal(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return nil
	}
	return &d
}
