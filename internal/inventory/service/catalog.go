package service

import (
	"context"

	"github.com/cornerstone/cornerstone-backend/internal/inventory/repository"
	"github.com/cornerstone/cornerstone-backend/pkg/actor"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
)

// CatalogService handles sites, materials and the read side of the ledger
type CatalogService struct {
	sites     *repository.SiteRepository
	materials *repository.MaterialRepository
	ledger    *repository.LedgerRepository
	txns      *repository.TransactionRepository
	logger    *logger.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(
	sites *repository.SiteRepository,
	materials *repository.MaterialRepository,
	ledger *repository.LedgerRepository,
	txns *repository.TransactionRepository,
	log *logger.Logger,
) *CatalogService {
	return &CatalogService{
		sites:     sites,
		materials: materials,
		ledger:    ledger,
		txns:      txns,
		logger:    log.WithComponent("catalog"),
	}
}

// Site operations

// CreateSite creates a new site
func (s *CatalogService) CreateSite(ctx context.Context, site *repository.Site) error {
	if err := s.sites.Create(ctx, site); err != nil {
		return err
	}
	s.logger.Info().Str("site_id", site.ID).Str("by", actor.OrSystem(ctx).String()).Msg("site created")
	return nil
}

// GetSite gets a site by ID
func (s *CatalogService) GetSite(ctx context.Context, id string) (*repository.Site, error) {
	return s.sites.GetByID(ctx, id)
}

// ListSites lists sites, optionally with one status
func (s *CatalogService) ListSites(ctx context.Context, status string) ([]*repository.Site, error) {
	return s.sites.List(ctx, status)
}

// UpdateSite updates a site
func (s *CatalogService) UpdateSite(ctx context.Context, site *repository.Site) error {
	if err := s.sites.Update(ctx, site); err != nil {
		return err
	}
	s.logger.Info().Str("site_id", site.ID).Str("status", site.Status).Msg("site updated")
	return nil
}

// SiteStock lists every material with its quantity at the site
func (s *CatalogService) SiteStock(ctx context.Context, siteID string) ([]*repository.StockLevel, error) {
	if _, err := s.sites.GetByID(ctx, siteID); err != nil {
		return nil, err
	}
	return s.ledger.ListBySite(ctx, siteID)
}

// Material operations

// CreateMaterial creates a new material
func (s *CatalogService) CreateMaterial(ctx context.Context, m *repository.Material) error {
	if err := s.materials.Create(ctx, m); err != nil {
		return err
	}
	s.logger.Info().Str("material_id", m.ID).Str("by", actor.OrSystem(ctx).String()).Msg("material created")
	return nil
}

// GetMaterial gets a material by ID
func (s *CatalogService) GetMaterial(ctx context.Context, id string) (*repository.Material, error) {
	return s.materials.GetByID(ctx, id)
}

// ListMaterials lists materials
func (s *CatalogService) ListMaterials(ctx context.Context, filter repository.MaterialFilter) ([]*repository.Material, error) {
	return s.materials.List(ctx, filter)
}

// UpdateMaterial updates a material
func (s *CatalogService) UpdateMaterial(ctx context.Context, m *repository.Material) error {
	return s.materials.Update(ctx, m)
}

// Categories lists material categories
func (s *CatalogService) Categories(ctx context.Context) ([]string, error) {
	return s.materials.Categories(ctx)
}

// ListTransactions returns a page of movement history
func (s *CatalogService) ListTransactions(ctx context.Context, filter repository.TransactionFilter) ([]*repository.TransactionView, int64, error) {
	return s.txns.List(ctx, filter)
}
