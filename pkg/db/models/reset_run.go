package models

import (
	"time"

	"github.com/angelmondragon/catalogsync/pkg/enums"
)

// ResetRun journals how far one product reset got.
type ResetRun struct {
	ID                  string           `gorm:"column:id;primaryKey"`
	BatchID             string           `gorm:"column:batch_id;not null"`
	ProductID           int64            `gorm:"column:product_id;not null"`
	State               enums.ResetState `gorm:"column:state;not null"`
	Status              enums.RunStatus  `gorm:"column:status;not null"`
	VariantsBackedUp    int              `gorm:"column:variants_backed_up;not null;default:0"`
	VariantsRecreated   int              `gorm:"column:variants_recreated;not null;default:0"`
	VariantsFailed      int              `gorm:"column:variants_failed;not null;default:0"`
	InventoryRestored   int              `gorm:"column:inventory_restored;not null;default:0"`
	InventoryUnrestored int              `gorm:"column:inventory_unrestored;not null;default:0"`
	Error               *string          `gorm:"column:error"`
	StartedAt           time.Time        `gorm:"column:started_at;not null"`
	UpdatedAt           time.Time        `gorm:"column:updated_at;not null"`
	FinishedAt          *time.Time       `gorm:"column:finished_at"`
}

func (ResetRun) TableName() string {
	return "reset_runs"
}
