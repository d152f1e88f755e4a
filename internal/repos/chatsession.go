package repos

import (
    "context"
    "time"

    "github.com/google/uuid"
    "gorm.io/gorm"

    "github.com/marketbay/marketbay-backend/internal/logger"
    "github.com/marketbay/marketbay-backend/internal/types"
)

type ChatSessionRepo interface {
    CreateSession(ctx context.Context, tx *gorm.DB, session *types.ChatSession) (*types.ChatSession, error)
    GetSessionByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ChatSession, error)
    // GetOpenSessionByUserID returns the single open session for the user,
    // newest created_at first. Absence is gorm.ErrRecordNotFound; any other
    // error is a genuine store failure and must not be conflated with it.
    GetOpenSessionByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.ChatSession, error)
    CloseSession(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type chatSessionRepo struct {
    db  *gorm.DB
    log *logger.Logger
}

func NewChatSessionRepo(db *gorm.DB, baseLog *logger.Logger) ChatSessionRepo {
    return &chatSessionRepo{
        db:  db,
        log: baseLog.With("repo", "ChatSessionRepo"),
    }
}

func (csr *chatSessionRepo) CreateSession(ctx context.Context, tx *gorm.DB, session *types.ChatSession) (*types.ChatSession, error) {
    if tx == nil {
        tx = csr.db
    }
    if session.ID == uuid.Nil {
        session.ID = uuid.New()
    }
    if session.Status == "" {
        session.Status = types.ChatSessionOpen
    }
    if err := tx.WithContext(ctx).Create(session).Error; err != nil {
        // Duplicate-key here means another resolver won the open-session
        // race; the caller re-reads rather than failing.
        csr.log.Debug("failed to create chat session", "error", err)
        return nil, err
    }
    return session, nil
}

func (csr *chatSessionRepo) GetSessionByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ChatSession, error) {
    if tx == nil {
        tx = csr.db
    }
    var s types.ChatSession
    if err := tx.WithContext(ctx).
        Where("id = ?", id).
        First(&s).Error; err != nil {
        return nil, err
    }
    return &s, nil
}

func (csr *chatSessionRepo) GetOpenSessionByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.ChatSession, error) {
    if tx == nil {
        tx = csr.db
    }
    var s types.ChatSession
    if err := tx.WithContext(ctx).
        Where("user_id = ? AND status = ?", userID, types.ChatSessionOpen).
        Order("created_at DESC").
        First(&s).Error; err != nil {
        return nil, err
    }
    return &s, nil
}

func (csr *chatSessionRepo) CloseSession(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
    if tx == nil {
        tx = csr.db
    }
    if err := tx.WithContext(ctx).
        Model(&types.ChatSession{}).
        Where("id = ?", id).
        Updates(map[string]interface{}{
            "status":     types.ChatSessionClosed,
            "updated_at": time.Now(),
        }).Error; err != nil {
        csr.log.Error("failed to close chat session", "error", err, "session_id", id)
        return err
    }
    return nil
}
