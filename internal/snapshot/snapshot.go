// Package snapshot resolves a counting's scope to the frozen list of
// theoretical quantities handed to the lifecycle engine at creation time.
// Balance maintenance is owned by the inventory service; this package only
// reads whatever the balance table says at the moment of creation.
package snapshot

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"example.com/backstage/services/stocktake/internal/models"
	"example.com/backstage/services/stocktake/internal/repository"
)

// Line is one (product, location, quantity) tuple in a frozen snapshot
type Line struct {
	ProductID  string
	LocationID string
	Quantity   float64
}

// ScopeFilter is the parsed form of a counting's scope filter parameters
type ScopeFilter struct {
	LocationIDs []string `json:"location_ids,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	ProductIDs  []string `json:"product_ids,omitempty"`
}

// Provider resolves a scope to a frozen stock snapshot
type Provider interface {
	Snapshot(ctx context.Context, companyID uint, scopeType models.ScopeType, filter []byte) ([]Line, error)
}

// StockLevelProvider reads snapshots from the stock balance table
type StockLevelProvider struct {
	repo repository.Repository
}

// NewStockLevelProvider creates a snapshot provider backed by the balance table
func NewStockLevelProvider(repo repository.Repository) *StockLevelProvider {
	return &StockLevelProvider{repo: repo}
}

// Snapshot resolves the scope filter against current stock balances
func (p *StockLevelProvider) Snapshot(ctx context.Context, companyID uint, scopeType models.ScopeType, filter []byte) ([]Line, error) {
	var parsed ScopeFilter
	if len(filter) > 0 {
		if err := json.Unmarshal(filter, &parsed); err != nil {
			return nil, errors.Wrap(err, "invalid scope filter")
		}
	}

	query := repository.StockLevelQuery{}
	switch scopeType {
	case models.ScopeFullWarehouse:
		// No filtering, every stocked pair is in scope
	case models.ScopeLocation:
		if len(parsed.LocationIDs) == 0 {
			return nil, errors.New("location scope requires location_ids")
		}
		query.LocationIDs = parsed.LocationIDs
	case models.ScopeCategory:
		if len(parsed.Categories) == 0 {
			return nil, errors.New("category scope requires categories")
		}
		query.Categories = parsed.Categories
	case models.ScopeCustom:
		if len(parsed.ProductIDs) == 0 {
			return nil, errors.New("custom scope requires product_ids")
		}
		query.ProductIDs = parsed.ProductIDs
		query.LocationIDs = parsed.LocationIDs
	default:
		return nil, errors.Errorf("unknown scope type: %s", scopeType)
	}

	levels, err := p.repo.ListStockLevels(ctx, companyID, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read stock levels")
	}

	lines := make([]Line, 0, len(levels))
	for _, lvl := range levels {
		lines = append(lines, Line{
			ProductID:  lvl.ProductID,
			LocationID: lvl.LocationID,
			Quantity:   lvl.Quantity,
		})
	}
	return lines, nil
}
