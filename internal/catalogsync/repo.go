package catalogsync

import (
	"context"

	"github.com/angelmondragon/catalogsync/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	upsertBatchSize = 200
	lookupChunkSize = 500
)

// Repository persists the catalog mirror.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a mirror repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByVariantIDs returns the mirrored rows of ids keyed by variant id.
func (r *Repository) FindByVariantIDs(ctx context.Context, ids []int64) (map[int64]models.OnlineProduct, error) {
	out := make(map[int64]models.OnlineProduct, len(ids))
	for _, chunk := range chunks(ids, lookupChunkSize) {
		var rows []models.OnlineProduct
		if err := r.db.WithContext(ctx).Where("variant_id IN ?", chunk).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, row := range rows {
			out[row.VariantID] = row
		}
	}
	return out, nil
}

// UpsertWithTx inserts rows or overwrites the mirrored copy of each variant.
func (r *Repository) UpsertWithTx(tx *gorm.DB, rows []models.OnlineProduct) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "variant_id"}},
		UpdateAll: true,
	}).CreateInBatches(&rows, upsertBatchSize).Error
}

// InsertPriceHistoryWithTx appends price change rows.
func (r *Repository) InsertPriceHistoryWithTx(tx *gorm.DB, rows []models.PriceHistory) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(&rows, upsertBatchSize).Error
}

// VariantIDs lists every mirrored variant id.
func (r *Repository) VariantIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&models.OnlineProduct{}).
		Order("variant_id ASC").
		Pluck("variant_id", &ids).Error
	return ids, err
}

// DeleteVariants removes the mirrored rows of ids.
func (r *Repository) DeleteVariants(ctx context.Context, ids []int64) (int64, error) {
	var deleted int64
	for _, chunk := range chunks(ids, lookupChunkSize) {
		res := r.db.WithContext(ctx).Where("variant_id IN ?", chunk).Delete(&models.OnlineProduct{})
		if res.Error != nil {
			return deleted, res.Error
		}
		deleted += res.RowsAffected
	}
	return deleted, nil
}

// PriceHistory returns the recorded changes of one variant, oldest first.
func (r *Repository) PriceHistory(ctx context.Context, variantID int64) ([]models.PriceHistory, error) {
	var rows []models.PriceHistory
	err := r.db.WithContext(ctx).
		Where("variant_id = ?", variantID).
		Order("changed_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func chunks(ids []int64, size int) [][]int64 {
	var out [][]int64
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
