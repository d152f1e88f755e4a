package types

import (
  "time"

  "github.com/google/uuid"
  "gorm.io/datatypes"
)

const (
  SenderCustomer = "customer"
  SenderAgent    = "agent"
  SenderSystem   = "system"
)

// SystemSenderID is the fixed sender for store-generated messages such as
// the session welcome.
var SystemSenderID = uuid.Nil

// ChatMessage is immutable once written. ID is the dedup key across
// redeliveries; display order within a session is (created_at, id).
type ChatMessage struct {
  ID          uuid.UUID         `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  ChatID      uuid.UUID         `gorm:"type:uuid;not null;index" json:"chatID"`
  SenderID    uuid.UUID         `gorm:"type:uuid;not null;index" json:"senderID"`
  SenderType  string            `gorm:"column:sender_type;not null" json:"senderType"`
  Message     string            `gorm:"column:message;type:text;not null" json:"message"`
  Metadata    datatypes.JSON    `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`
  CreatedAt   time.Time         `gorm:"not null;default:now();index" json:"createdAt"`
}

func (ChatMessage) TableName() string {
  return "chat_message"
}

// Less reports whether m sorts before other in the canonical session order.
func (m ChatMessage) Less(other ChatMessage) bool {
  if !m.CreatedAt.Equal(other.CreatedAt) {
    return m.CreatedAt.Before(other.CreatedAt)
  }
  return m.ID.String() < other.ID.String()
}
