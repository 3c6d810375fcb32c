package reconcile

import (
	"context"

	"github.com/medicost/medtrack/internal/medication/domain"
	"github.com/medicost/medtrack/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

// Service matches products still linked to placeholder hierarchy entries
// against authoritative BNF entries by presentation description and re-points
// their classification and chemical references.
type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) *Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("reconcile"),
		repo: p.Repo,
	}
}

// Run reconciles every placeholder-linked product it can and returns the
// match count. Each product update commits independently, so an interrupted
// pass leaves correct, resumable state: a re-run only sees the products that
// are still unreconciled. Products already on authoritative entries are never
// selected, so their links are never rewritten.
func (s *Service) Run(ctx context.Context) (int, error) {
	products, err := s.repo.ListPlaceholderProducts(ctx, s.db)
	if err != nil {
		return 0, err
	}
	s.log.Info("reconciling placeholder products", zap.Int("candidates", len(products)))

	matched := 0
	for _, product := range products {
		if product.ProductName == nil || *product.ProductName == "" {
			continue
		}

		entry, err := s.repo.FindEntryByPresentation(ctx, s.db, *product.ProductName)
		if err != nil {
			return matched, err
		}
		if entry == nil {
			s.log.Warn("no authoritative match by exact name",
				zap.Stringp("npc_code", product.NPCCode),
				zap.String("product_name", *product.ProductName),
			)
			continue
		}

		chemicalName := ""
		if entry.ChemicalSubstance != nil {
			chemicalName = *entry.ChemicalSubstance
		}
		// The chemical-substance column on the hierarchy is a free string,
		// not a relation; resolve it explicitly instead of trusting it.
		chem, err := s.repo.GetChemical(ctx, s.db, chemicalName)
		if err != nil {
			return matched, err
		}
		if chem == nil {
			return matched, &domain.ConsistencyError{
				BNFCode:      entry.BNFCode,
				ChemicalName: chemicalName,
			}
		}

		if err := s.repo.LinkProduct(ctx, s.db, product.ID, entry.BNFCode, chem.ChemicalName); err != nil {
			return matched, err
		}
		matched++
		metrics.ProductsReconciled.Inc()
		s.log.Info("reconciled product",
			zap.Stringp("npc_code", product.NPCCode),
			zap.String("bnf_code", entry.BNFCode),
		)
	}

	s.log.Info("reconciliation complete", zap.Int("matched", matched))
	return matched, nil
}
