package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OnlineProduct mirrors one remote variant together with its product fields.
type OnlineProduct struct {
	VariantID       int64               `gorm:"column:variant_id;primaryKey;autoIncrement:false"`
	VariantTitle    string              `gorm:"column:variant_title"`
	SKU             *string             `gorm:"column:sku"`
	Barcode         *string             `gorm:"column:barcode"`
	ProductID       int64               `gorm:"column:product_id;not null"`
	ProductTitle    string              `gorm:"column:product_title"`
	ProductHandle   string              `gorm:"column:product_handle"`
	Vendor          string              `gorm:"column:vendor"`
	Price           decimal.Decimal     `gorm:"column:price;type:decimal(10,2);not null"`
	CompareAtPrice  decimal.NullDecimal `gorm:"column:compare_at_price;type:decimal(10,2)"`
	InventoryItemID *int64              `gorm:"column:inventory_item_id"`
	StockQuantity   *int                `gorm:"column:stock_quantity"`
	Tags            string              `gorm:"column:tags"`
	SyncedAt        time.Time           `gorm:"column:synced_at;not null"`
}

func (OnlineProduct) TableName() string {
	return "online_products"
}
