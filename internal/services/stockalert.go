package services

import (
  "context"
  "fmt"
  "time"

  "gorm.io/gorm"

  "github.com/marketbay/marketbay-backend/internal/logger"
  "github.com/marketbay/marketbay-backend/internal/repos"
)

// StockAlertService is the batch consumer of the notification dispatcher.
// It has nothing to do with the chat path; it sweeps products that fell to
// or under their low-stock threshold and notifies the ops inbox once per
// crossing (the low_stock_notified_at latch prevents repeats).
type StockAlertService interface {
  SweepOnce(ctx context.Context) (int, error)
  Run(ctx context.Context, interval time.Duration)
}

type stockAlertService struct {
  db          *gorm.DB
  log         *logger.Logger
  productRepo repos.ProductRepo
  notify      NotificationService
  alertEmail  string
}

func NewStockAlertService(
  db *gorm.DB,
  log *logger.Logger,
  productRepo repos.ProductRepo,
  notify NotificationService,
  alertEmail string,
) StockAlertService {
  serviceLog := log.With("service", "StockAlertService")
  return &stockAlertService{
    db:          db,
    log:         serviceLog,
    productRepo: productRepo,
    notify:      notify,
    alertEmail:  alertEmail,
  }
}

func (ss *stockAlertService) SweepOnce(ctx context.Context) (int, error) {
  products, err := ss.productRepo.GetLowStock(ctx, nil)
  if err != nil {
    return 0, fmt.Errorf("querying low stock products: %w", err)
  }
  // Without a dispatcher nothing is latched; the crossings stay pending
  // until notifications come back.
  if ss.notify == nil {
    if len(products) > 0 {
      ss.log.Warn("No notification dispatcher wired; leaving low stock crossings unlatched", "pending", len(products))
    }
    return 0, nil
  }

  sent := 0
  for _, p := range products {
    _, err := ss.notify.Dispatch(ctx, Notification{
      Type: "email",
      Payload: map[string]string{
        "to":      ss.alertEmail,
        "subject": fmt.Sprintf("Low stock: %s (%s)", p.Name, p.SKU),
        "text":    fmt.Sprintf("%s (%s) is down to %d units (threshold %d).", p.Name, p.SKU, p.Quantity, p.LowStockThreshold),
        "html":    fmt.Sprintf("<p><strong>%s</strong> (%s) is down to %d units (threshold %d).</p>", p.Name, p.SKU, p.Quantity, p.LowStockThreshold),
      },
    })
    if err != nil {
      ss.log.Warn("Failed to dispatch low stock notification; will retry next sweep", "error", err, "sku", p.SKU)
      continue
    }
    if err := ss.productRepo.MarkNotified(ctx, nil, p.ID, time.Now()); err != nil {
      ss.log.Warn("Failed to latch low stock notification", "error", err, "sku", p.SKU)
      continue
    }
    sent++
  }
  return sent, nil
}

func (ss *stockAlertService) Run(ctx context.Context, interval time.Duration) {
  ticker := time.NewTicker(interval)
  defer ticker.Stop()

  ss.log.Info("Stock alert sweep running", "interval", interval)
  for {
    select {
    case <-ctx.Done():
      ss.log.Info("Stock alert sweep stopping")
      return
    case <-ticker.C:
      if n, err := ss.SweepOnce(ctx); err != nil {
        ss.log.Warn("Stock sweep failed", "error", err)
      } else if n > 0 {
        ss.log.Info("Stock sweep dispatched notifications", "count", n)
      }
    }
  }
}
