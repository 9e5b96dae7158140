package backup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/catalogsync/pkg/db"
	"github.com/angelmondragon/catalogsync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/catalogsync/pkg/errors"
	"github.com/angelmondragon/catalogsync/pkg/shopify"
	"gorm.io/gorm"
)

// Encoder serializes a variant into the stored attribute blob.
type Encoder func(shopify.Variant) ([]byte, error)

// Store persists pre-reset snapshots scoped per product.
type Store struct {
	db     *gorm.DB
	encode Encoder
}

type StoreOption func(*Store)

// WithEncoder swaps the attribute encoder, mostly to simulate encoding failures.
func WithEncoder(encode Encoder) StoreOption {
	return func(s *Store) {
		if encode != nil {
			s.encode = encode
		}
	}
}

func NewStore(conn *gorm.DB, opts ...StoreOption) *Store {
	s := &Store{
		db: conn,
		encode: func(v shopify.Variant) ([]byte, error) {
			return json.Marshal(v)
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// VariantRecord is one backed up variant with its decoded attributes.
type VariantRecord struct {
	ProductID       int64
	VariantID       int64
	InventoryItemID *int64
	Position        int
	Variant         shopify.Variant
}

// LevelRecord is one backed up inventory level.
type LevelRecord struct {
	VariantID       int64
	InventoryItemID int64
	LocationID      int64
	Available       *int
}

// Begin opens a snapshot for productID after discarding whatever an earlier
// run left for the same product. Nothing is visible to readers until Commit.
func (s *Store) Begin(ctx context.Context, productID int64) (*Snapshot, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, tx.Error, "begin backup transaction")
	}

	if err := clearScope(tx, productID); err != nil {
		_ = tx.Rollback()
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("clear backup scope for product %d", productID))
	}

	return &Snapshot{tx: tx, productID: productID, encode: s.encode}, nil
}

func clearScope(tx *gorm.DB, productID int64) error {
	owned := tx.Model(&models.VariantBackup{}).Select("variant_id").Where("product_id = ?", productID)
	if err := tx.Where("variant_id IN (?)", owned).Delete(&models.InventoryBackup{}).Error; err != nil {
		return err
	}
	return tx.Where("product_id = ?", productID).Delete(&models.VariantBackup{}).Error
}

// LoadVariants returns the committed snapshot ordered by original position.
func (s *Store) LoadVariants(ctx context.Context, productID int64) ([]VariantRecord, error) {
	var rows []models.VariantBackup
	err := s.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("position ASC").
		Order("variant_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variant backups")
	}

	out := make([]VariantRecord, 0, len(rows))
	for _, row := range rows {
		var variant shopify.Variant
		if err := json.Unmarshal([]byte(row.VariantJSON), &variant); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeSerialization, err, fmt.Sprintf("decode backup of variant %d", row.VariantID)).
				WithDetails(map[string]any{"variant_id": row.VariantID, "variant_json": row.VariantJSON})
		}
		out = append(out, VariantRecord{
			ProductID:       row.ProductID,
			VariantID:       row.VariantID,
			InventoryItemID: row.InventoryItemID,
			Position:        row.Position,
			Variant:         variant,
		})
	}
	return out, nil
}

// LoadInventoryLevels returns every level backed up for the product's
// variants, ordered by variant position then location.
func (s *Store) LoadInventoryLevels(ctx context.Context, productID int64) ([]LevelRecord, error) {
	var rows []LevelRecord
	err := s.db.WithContext(ctx).
		Table("inventory_backup AS ib").
		Select("ib.variant_id, ib.inventory_item_id, ib.location_id, ib.available").
		Joins("JOIN variant_backup AS vb ON vb.variant_id = ib.variant_id").
		Where("vb.product_id = ?", productID).
		Order("vb.position ASC").
		Order("ib.location_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory backups")
	}
	return rows, nil
}

// OriginalLocations lists the locations a variant was stocked at when the
// snapshot was taken.
func (s *Store) OriginalLocations(ctx context.Context, variantID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&models.InventoryBackup{}).
		Where("variant_id = ?", variantID).
		Order("location_id ASC").
		Pluck("location_id", &ids).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load original locations")
	}
	return ids, nil
}

// Snapshot is an open backup transaction for one product.
type Snapshot struct {
	tx        *gorm.DB
	productID int64
	encode    Encoder
	variants  int
	levels    int
	closed    bool
}

// SaveVariant stores the variant's attributes at position. An encoding
// failure returns SERIALIZATION_ERROR and leaves the snapshot usable; the
// caller must then treat the variant as unmanaged.
func (s *Snapshot) SaveVariant(ctx context.Context, variant shopify.Variant, position int) error {
	if s.closed {
		return pkgerrors.New(pkgerrors.CodeInternal, "snapshot already closed")
	}

	payload, err := s.encode(variant)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeSerialization, err, fmt.Sprintf("encode variant %d", variant.ID)).
			WithDetails(map[string]any{"variant_id": variant.ID, "variant": fmt.Sprintf("%+v", variant)})
	}

	row := models.VariantBackup{
		ProductID:   s.productID,
		VariantID:   variant.ID,
		VariantJSON: string(payload),
		Position:    position,
	}
	if variant.InventoryItemID > 0 {
		itemID := variant.InventoryItemID
		row.InventoryItemID = &itemID
	}

	if err := s.tx.WithContext(ctx).Create(&row).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, fmt.Sprintf("variant %d backed up twice", variant.ID))
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("save backup of variant %d", variant.ID))
	}
	s.variants++
	return nil
}

// SaveInventoryLevel stores one level of a variant saved earlier in this snapshot.
func (s *Snapshot) SaveInventoryLevel(ctx context.Context, variantID, inventoryItemID, locationID int64, available *int) error {
	if s.closed {
		return pkgerrors.New(pkgerrors.CodeInternal, "snapshot already closed")
	}

	row := models.InventoryBackup{
		VariantID:       variantID,
		InventoryItemID: inventoryItemID,
		LocationID:      locationID,
		Available:       available,
	}
	if err := s.tx.WithContext(ctx).Create(&row).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("save inventory backup of variant %d at location %d", variantID, locationID))
	}
	s.levels++
	return nil
}

// Counts reports how many rows the snapshot wrote so far.
func (s *Snapshot) Counts() (variants, levels int) {
	return s.variants, s.levels
}

// Commit makes the snapshot durable. It is the recovery point of a reset.
func (s *Snapshot) Commit() error {
	if s.closed {
		return pkgerrors.New(pkgerrors.CodeInternal, "snapshot already closed")
	}
	s.closed = true
	if err := s.tx.Commit().Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "commit backup snapshot")
	}
	return nil
}

// Rollback discards the snapshot. Calling it after Commit is a no-op.
func (s *Snapshot) Rollback() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.tx.Rollback().Error
}
