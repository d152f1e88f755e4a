package types

import (
  "time"

  "github.com/google/uuid"
)

const (
  ChatSessionOpen   = "open"
  ChatSessionClosed = "closed"
)

// ChatSession is one support conversation for one customer. At most one row
// per user may carry status 'open'; the partial unique index added in
// db.AutoMigrateAll enforces that, and the resolver treats the resulting
// duplicate-key conflict as "someone else just created it".
type ChatSession struct {
  ID          uuid.UUID     `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  UserID      uuid.UUID     `gorm:"type:uuid;not null;index" json:"userID"`
  Status      string        `gorm:"column:status;not null;default:'open';index" json:"status"`
  CreatedAt   time.Time     `gorm:"not null;default:now();index" json:"createdAt"`
  UpdatedAt   time.Time     `gorm:"not null;default:now()" json:"updatedAt"`
}

func (ChatSession) TableName() string {
  return "chat_session"
}
