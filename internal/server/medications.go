package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/medicost/medtrack/internal/medication/domain"
)

const notAvailable = "N/A"

type medicationView struct {
	ProductID          string `json:"product_id"`
	ProductName        string `json:"product_name"`
	NPCCode            string `json:"npc_code"`
	BNFCode            string `json:"bnf_code"`
	ChapterName        string `json:"bnf_chapter_name"`
	ChemicalName       string `json:"chemical_name"`
	FullClassification string `json:"full_classification"`
	LatestPrice        string `json:"latest_price_gbp"`
	UsageEstimate      string `json:"annual_usage_estimate"`
	PriceSource        string `json:"price_source"`
	AppraisalStatus    string `json:"appraisal_status"`
}

// ListMedications returns every product with its classification, chemical,
// cached latest price and summed eMIT usage estimate.
func (s *Server) ListMedications(c *gin.Context) {
	ctx := c.Request.Context()

	products, err := s.repo.ListProducts(ctx, s.db)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	totals, err := s.repo.UsageTotals(ctx, s.db, domain.PriceSourceEMIT)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]medicationView, 0, len(products))
	for _, product := range products {
		view := medicationView{
			ProductID:          product.ID.String(),
			ProductName:        orNA(product.ProductName),
			NPCCode:            orNA(product.NPCCode),
			BNFCode:            notAvailable,
			ChapterName:        notAvailable,
			ChemicalName:       notAvailable,
			FullClassification: notAvailable,
			LatestPrice:        notAvailable,
			UsageEstimate:      notAvailable,
			PriceSource:        notAvailable,
			AppraisalStatus:    orNA(product.AppraisalStatus),
		}

		if product.BNFEntry != nil {
			view.BNFCode = product.BNFEntry.BNFCode
			view.ChapterName = orNA(product.BNFEntry.ChapterName)
			if fc := product.BNFEntry.FullClassification(); fc != "" {
				view.FullClassification = fc
			}
		}
		if product.Chemical != nil {
			view.ChemicalName = product.Chemical.ChemicalName
		}
		if product.LatestPrice != nil {
			view.LatestPrice = product.LatestPrice.StringFixed(2)
		}
		if total, ok := totals[product.ID]; ok && total.Records > 0 {
			view.UsageEstimate = total.Total.StringFixed(2)
			view.PriceSource = domain.PriceSourceEMIT
		}

		views = append(views, view)
	}

	c.JSON(http.StatusOK, gin.H{"medications": views})
}

func orNA(s *string) string {
	if s == nil || *s == "" {
		return notAvailable
	}
	return *s
}
