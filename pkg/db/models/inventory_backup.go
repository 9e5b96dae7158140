package models

import "time"

// InventoryBackup is the stock one original variant held at one location.
type InventoryBackup struct {
	VariantID       int64     `gorm:"column:variant_id;primaryKey;autoIncrement:false"`
	LocationID      int64     `gorm:"column:location_id;primaryKey;autoIncrement:false"`
	InventoryItemID int64     `gorm:"column:inventory_item_id;not null"`
	Available       *int      `gorm:"column:available"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (InventoryBackup) TableName() string {
	return "inventory_backup"
}
