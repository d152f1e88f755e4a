package types

import (
  "time"

  "github.com/google/uuid"
)

// Product carries just the fields the low-stock sweep reads; catalog
// browsing and pricing live outside this service.
type Product struct {
  ID                    uuid.UUID       `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  SKU                   string          `gorm:"uniqueIndex;not null;column:sku" json:"sku"`
  Name                  string          `gorm:"not null;column:name" json:"name"`
  Quantity              int             `gorm:"not null;default:0;column:quantity" json:"quantity"`
  LowStockThreshold     int             `gorm:"not null;default:5;column:low_stock_threshold" json:"lowStockThreshold"`
  LowStockNotifiedAt    *time.Time      `gorm:"column:low_stock_notified_at" json:"lowStockNotifiedAt,omitempty"`

  CreatedAt             time.Time       `gorm:"not null;default:now()" json:"createdAt"`
  UpdatedAt             time.Time       `gorm:"not null;default:now()" json:"updatedAt"`
}

func (Product) TableName() string {
  return "product"
}
