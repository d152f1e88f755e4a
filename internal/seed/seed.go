package seed

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/marketbay/marketbay-backend/internal/repos"
	"github.com/marketbay/marketbay-backend/internal/types"
)

// SeedAll populates demo catalog rows so the low-stock sweep has something
// to chew on in a fresh environment. No-op when products already exist.
func SeedAll(db *gorm.DB, productRepo repos.ProductRepo) error {
	ctx := context.Background()

	n, err := productRepo.Count(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to count products: %w", err)
	}
	if n > 0 {
		return nil
	}

	products := []*types.Product{
		{SKU: "MB-TEE-001", Name: "MarketBay Tee", Quantity: 120, LowStockThreshold: 10},
		{SKU: "MB-MUG-001", Name: "MarketBay Mug", Quantity: 48, LowStockThreshold: 8},
		{SKU: "MB-CAP-001", Name: "MarketBay Cap", Quantity: 3, LowStockThreshold: 5},
		{SKU: "MB-TOTE-001", Name: "MarketBay Tote", Quantity: 0, LowStockThreshold: 5},
	}
	if _, err := productRepo.Create(ctx, nil, products); err != nil {
		return fmt.Errorf("failed to seed products: %w", err)
	}
	return nil
}
