package models

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return errors.Wrap(err, "automigrate failed")
	}

	return nil
}

// Entry registry row; rows are never updated nor deleted
type Entry struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Root      string `gorm:"index:idx_root_name;size:256" validate:"required"`
	Parent    string `gorm:"size:256" validate:"required"`
	Name      string `gorm:"index:idx_root_name;size:256" validate:"required"`
	Secret    string `gorm:"size:1024"`
	OCSPPort  int    `validate:"min=0,max=65535"`
	CreatedAt time.Time
}
