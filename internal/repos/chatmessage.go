package repos

import (
    "context"

    "github.com/google/uuid"
    "gorm.io/gorm"

    "github.com/marketbay/marketbay-backend/internal/logger"
    "github.com/marketbay/marketbay-backend/internal/types"
)

type ChatMessageRepo interface {
    CreateMessage(ctx context.Context, tx *gorm.DB, msg *types.ChatMessage) (*types.ChatMessage, error)
    // GetByChatID returns the full log for a session in canonical order:
    // created_at ascending, id as the tie-break.
    GetByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) ([]*types.ChatMessage, error)
}

type chatMessageRepo struct {
    db  *gorm.DB
    log *logger.Logger
}

func NewChatMessageRepo(db *gorm.DB, baseLog *logger.Logger) ChatMessageRepo {
    return &chatMessageRepo{
        db:  db,
        log: baseLog.With("repo", "ChatMessageRepo"),
    }
}

func (cmr *chatMessageRepo) CreateMessage(ctx context.Context, tx *gorm.DB, msg *types.ChatMessage) (*types.ChatMessage, error) {
    if tx == nil {
        tx = cmr.db
    }
    if msg.ID == uuid.Nil {
        msg.ID = uuid.New()
    }
    if err := tx.WithContext(ctx).Create(msg).Error; err != nil {
        cmr.log.Error("failed to create chat message", "error", err, "chat_id", msg.ChatID)
        return nil, err
    }
    return msg, nil
}

func (cmr *chatMessageRepo) GetByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) ([]*types.ChatMessage, error) {
    if tx == nil {
        tx = cmr.db
    }
    var msgs []*types.ChatMessage
    if err := tx.WithContext(ctx).
        Where("chat_id = ?", chatID).
        Order("created_at ASC").
        Order("id ASC").
        Find(&msgs).Error; err != nil {
        cmr.log.Error("failed to get chat messages by chatID", "error", err, "chat_id", chatID)
        return nil, err
    }
    return msgs, nil
}
