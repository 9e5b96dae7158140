package models

import "time"

// VariantBackup is the pre-reset snapshot of one variant. VariantJSON holds
// the full attribute set as returned by the platform.
type VariantBackup struct {
	ProductID       int64     `gorm:"column:product_id;primaryKey;autoIncrement:false"`
	VariantID       int64     `gorm:"column:variant_id;primaryKey;autoIncrement:false"`
	InventoryItemID *int64    `gorm:"column:inventory_item_id"`
	VariantJSON     string    `gorm:"column:variant_json;type:text;not null"`
	Position        int       `gorm:"column:position;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (VariantBackup) TableName() string {
	return "variant_backup"
}
