package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// User holds the prepaid balance for one platform identity. The external ID
// is assigned by the chat platform and is the only identity callers know;
// rows are created lazily on first interaction.
type User struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ExternalID string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"external_id" validate:"required,max=64"`
	Name       string    `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	Balance    int64     `gorm:"not null;default:0" json:"balance"`
	TrialUsed  bool      `gorm:"not null;default:false" json:"trial_used"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}
