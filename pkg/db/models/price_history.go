package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceHistory records a change of price or compare-at price of a mirrored variant.
type PriceHistory struct {
	ID                int64               `gorm:"column:id;primaryKey;autoIncrement"`
	VariantID         int64               `gorm:"column:variant_id;not null"`
	OldPrice          decimal.NullDecimal `gorm:"column:old_price;type:decimal(10,2)"`
	NewPrice          decimal.NullDecimal `gorm:"column:new_price;type:decimal(10,2)"`
	OldCompareAtPrice decimal.NullDecimal `gorm:"column:old_compare_at_price;type:decimal(10,2)"`
	NewCompareAtPrice decimal.NullDecimal `gorm:"column:new_compare_at_price;type:decimal(10,2)"`
	ChangedAt         time.Time           `gorm:"column:changed_at;autoCreateTime"`
}

func (PriceHistory) TableName() string {
	return "price_history"
}
