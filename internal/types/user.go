package types

import (
  "time"

  "github.com/google/uuid"
)

type User struct {
  ID            uuid.UUID     `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  UserType      string        `gorm:"column:user_type;default:'customer'" json:"userType"`
  Email         string        `gorm:"uniqueIndex;not null;column:email" json:"email"`
  PhoneNumber   *string       `gorm:"column:phone_number" json:"phoneNumber,omitempty"`
  Password      string        `gorm:"not null;column:password" json:"-"`
  FirstName     string        `gorm:"not null;column:first_name" json:"firstName"`
  LastName      string        `gorm:"not null;column:last_name" json:"lastName"`

  CreatedAt     time.Time     `gorm:"not null;default:now()" json:"createdAt"`
  UpdatedAt     time.Time     `gorm:"not null;default:now()" json:"updatedAt"`
}

func (User) TableName() string {
  return "user"
}
