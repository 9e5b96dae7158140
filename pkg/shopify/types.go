package shopify

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Variant is a purchasable configuration of a product as returned by the
// Admin API. Optional attributes are pointers so that an absent value and a
// zero value stay distinguishable through backup and recreation.
type Variant struct {
	ID                  int64               `json:"id,omitempty"`
	ProductID           int64               `json:"product_id,omitempty"`
	Title               string              `json:"title,omitempty"`
	Option1             *string             `json:"option1"`
	Option2             *string             `json:"option2"`
	Option3             *string             `json:"option3"`
	Price               decimal.Decimal     `json:"price"`
	CompareAtPrice      decimal.NullDecimal `json:"compare_at_price"`
	SKU                 *string             `json:"sku"`
	Barcode             *string             `json:"barcode"`
	Position            int                 `json:"position,omitempty"`
	InventoryPolicy     string              `json:"inventory_policy,omitempty"`
	InventoryManagement *string             `json:"inventory_management"`
	FulfillmentService  string              `json:"fulfillment_service,omitempty"`
	Taxable             *bool               `json:"taxable,omitempty"`
	RequiresShipping    *bool               `json:"requires_shipping,omitempty"`
	Grams               *int                `json:"grams,omitempty"`
	Weight              decimal.NullDecimal `json:"weight"`
	WeightUnit          string              `json:"weight_unit,omitempty"`
	ImageID             *int64              `json:"image_id"`
	InventoryItemID     int64               `json:"inventory_item_id,omitempty"`
	InventoryQuantity   *int                `json:"inventory_quantity,omitempty"`
	AdminGraphQLAPIID   string              `json:"admin_graphql_api_id,omitempty"`
	CreatedAt           *time.Time          `json:"created_at,omitempty"`
	UpdatedAt           *time.Time          `json:"updated_at,omitempty"`
}

// TracksInventory reports whether the platform manages stock for the variant.
func (v Variant) TracksInventory() bool {
	return v.InventoryManagement != nil && strings.TrimSpace(*v.InventoryManagement) != "" && v.InventoryItemID > 0
}

// OptionSignature joins the option values; the platform rejects two variants
// of one product sharing a signature.
func (v Variant) OptionSignature() string {
	parts := make([]string, 0, 3)
	for _, opt := range []*string{v.Option1, v.Option2, v.Option3} {
		if opt == nil {
			break
		}
		parts = append(parts, *opt)
	}
	return strings.Join(parts, " / ")
}

// CreationAttributes drops every field the platform assigns on its own: the
// identities, the inventory item link, the stock snapshot and the timestamps.
func (v Variant) CreationAttributes() VariantInput {
	position := v.Position
	return VariantInput{
		Option1:             v.Option1,
		Option2:             v.Option2,
		Option3:             v.Option3,
		Price:               v.Price,
		CompareAtPrice:      v.CompareAtPrice,
		SKU:                 v.SKU,
		Barcode:             v.Barcode,
		Position:            &position,
		InventoryPolicy:     v.InventoryPolicy,
		InventoryManagement: v.InventoryManagement,
		FulfillmentService:  v.FulfillmentService,
		Taxable:             v.Taxable,
		RequiresShipping:    v.RequiresShipping,
		Grams:               v.Grams,
		Weight:              v.Weight,
		WeightUnit:          v.WeightUnit,
		ImageID:             v.ImageID,
	}
}

// VariantInput is the writable attribute set accepted by create and update.
type VariantInput struct {
	Option1             *string             `json:"option1,omitempty"`
	Option2             *string             `json:"option2,omitempty"`
	Option3             *string             `json:"option3,omitempty"`
	Price               decimal.Decimal     `json:"price"`
	CompareAtPrice      decimal.NullDecimal `json:"compare_at_price"`
	SKU                 *string             `json:"sku,omitempty"`
	Barcode             *string             `json:"barcode,omitempty"`
	Position            *int                `json:"position,omitempty"`
	InventoryPolicy     string              `json:"inventory_policy,omitempty"`
	InventoryManagement *string             `json:"inventory_management,omitempty"`
	FulfillmentService  string              `json:"fulfillment_service,omitempty"`
	Taxable             *bool               `json:"taxable,omitempty"`
	RequiresShipping    *bool               `json:"requires_shipping,omitempty"`
	Grams               *int                `json:"grams,omitempty"`
	Weight              decimal.NullDecimal `json:"weight"`
	WeightUnit          string              `json:"weight_unit,omitempty"`
	ImageID             *int64              `json:"image_id,omitempty"`
}

// InventoryLevel is the stock of one inventory item at one location. A nil
// Available means the platform reported no quantity.
type InventoryLevel struct {
	InventoryItemID int64      `json:"inventory_item_id"`
	LocationID      int64      `json:"location_id"`
	Available       *int       `json:"available"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

type Location struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type Product struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	Handle   string    `json:"handle"`
	Vendor   string    `json:"vendor"`
	Status   string    `json:"status"`
	Tags     string    `json:"tags"`
	Variants []Variant `json:"variants"`
}

// ProductQuery filters the paginated product listing.
type ProductQuery struct {
	Status string
	Limit  int
}

type variantEnvelope struct {
	Variant Variant `json:"variant"`
}

type variantInputEnvelope struct {
	Variant VariantInput `json:"variant"`
}

type variantsEnvelope struct {
	Variants []Variant `json:"variants"`
}

type productsEnvelope struct {
	Products []Product `json:"products"`
}

type inventoryLevelsEnvelope struct {
	InventoryLevels []InventoryLevel `json:"inventory_levels"`
}

type locationsEnvelope struct {
	Locations []Location `json:"locations"`
}

type setInventoryLevelRequest struct {
	LocationID      int64 `json:"location_id"`
	InventoryItemID int64 `json:"inventory_item_id"`
	Available       int   `json:"available"`
}

// StringPtr is a small helper for building optional attributes.
func StringPtr(value string) *string {
	return &value
}
