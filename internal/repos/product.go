package repos

import (
    "context"
    "time"

    "github.com/google/uuid"
    "gorm.io/gorm"

    "github.com/marketbay/marketbay-backend/internal/logger"
    "github.com/marketbay/marketbay-backend/internal/types"
)

type ProductRepo interface {
    Create(ctx context.Context, tx *gorm.DB, products []*types.Product) ([]*types.Product, error)
    // GetLowStock returns products at or under their threshold that have not
    // been notified since last crossing it.
    GetLowStock(ctx context.Context, tx *gorm.DB) ([]*types.Product, error)
    MarkNotified(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
    Count(ctx context.Context, tx *gorm.DB) (int64, error)
}

type productRepo struct {
    db  *gorm.DB
    log *logger.Logger
}

func NewProductRepo(db *gorm.DB, baseLog *logger.Logger) ProductRepo {
    return &productRepo{
        db:  db,
        log: baseLog.With("repo", "ProductRepo"),
    }
}

func (pr *productRepo) Create(ctx context.Context, tx *gorm.DB, products []*types.Product) ([]*types.Product, error) {
    if tx == nil {
        tx = pr.db
    }
    if len(products) == 0 {
        return products, nil
    }
    for _, p := range products {
        if p.ID == uuid.Nil {
            p.ID = uuid.New()
        }
    }
    if err := tx.WithContext(ctx).Create(&products).Error; err != nil {
        pr.log.Error("failed to create products", "error", err)
        return nil, err
    }
    return products, nil
}

func (pr *productRepo) GetLowStock(ctx context.Context, tx *gorm.DB) ([]*types.Product, error) {
    if tx == nil {
        tx = pr.db
    }
    var products []*types.Product
    if err := tx.WithContext(ctx).
        Where("quantity <= low_stock_threshold AND low_stock_notified_at IS NULL").
        Find(&products).Error; err != nil {
        pr.log.Error("failed to query low stock products", "error", err)
        return nil, err
    }
    return products, nil
}

func (pr *productRepo) MarkNotified(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
    if tx == nil {
        tx = pr.db
    }
    if err := tx.WithContext(ctx).
        Model(&types.Product{}).
        Where("id = ?", id).
        Update("low_stock_notified_at", &at).Error; err != nil {
        pr.log.Error("failed to mark product notified", "error", err, "product_id", id)
        return err
    }
    return nil
}

func (pr *productRepo) Count(ctx context.Context, tx *gorm.DB) (int64, error) {
    if tx == nil {
        tx = pr.db
    }
    var n int64
    if err := tx.WithContext(ctx).Model(&types.Product{}).Count(&n).Error; err != nil {
        return 0, err
    }
    return n, nil
}
