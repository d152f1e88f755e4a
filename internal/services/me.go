package services

import (
  "context"
  "fmt"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/marketbay/marketbay-backend/internal/errs"
  "github.com/marketbay/marketbay-backend/internal/logger"
  "github.com/marketbay/marketbay-backend/internal/repos"
  "github.com/marketbay/marketbay-backend/internal/requestdata"
  "github.com/marketbay/marketbay-backend/internal/types"
)

type MeService interface {
  GetMe(ctx context.Context, tx *gorm.DB) (*types.User, error)
}

type meService struct {
  db       *gorm.DB
  log      *logger.Logger
  userRepo repos.UserRepo
}

func NewMeService(db *gorm.DB, log *logger.Logger, userRepo repos.UserRepo) MeService {
  serviceLog := log.With("service", "MeService")
  return &meService{
    db:       db,
    log:      serviceLog,
    userRepo: userRepo,
  }
}

func (ms *meService) GetMe(ctx context.Context, tx *gorm.DB) (*types.User, error) {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil || rd.UserID == uuid.Nil {
    return nil, errs.ErrUnauthenticated
  }
  user, err := ms.userRepo.GetByID(ctx, tx, rd.UserID)
  if err != nil {
    return nil, fmt.Errorf("fetching current user: %w", errs.ErrStore)
  }
  return user, nil
}
