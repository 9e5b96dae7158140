package catalogsync

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/catalogsync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/catalogsync/pkg/errors"
	"github.com/angelmondragon/catalogsync/pkg/logger"
	"github.com/angelmondragon/catalogsync/pkg/shopify"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Source is the read side of the Admin API the sync needs. *shopify.Client
// satisfies it.
type Source interface {
	ListProducts(ctx context.Context, q shopify.ProductQuery, fn func([]shopify.Product) error) error
	LocationIDByName(ctx context.Context, name string) (int64, bool, error)
	InventoryLevelsAtLocation(ctx context.Context, inventoryItemIDs []int64, locationID int64) (map[int64]*int, error)
}

type mirrorRepository interface {
	FindByVariantIDs(ctx context.Context, ids []int64) (map[int64]models.OnlineProduct, error)
	UpsertWithTx(tx *gorm.DB, rows []models.OnlineProduct) error
	InsertPriceHistoryWithTx(tx *gorm.DB, rows []models.PriceHistory) error
	VariantIDs(ctx context.Context) ([]int64, error)
	DeleteVariants(ctx context.Context, ids []int64) (int64, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams configures the catalog sync.
type ServiceParams struct {
	Source        Source
	Repo          mirrorRepository
	DB            txRunner
	Logger        *logger.Logger
	Status        string
	PageSize      int
	StockLocation string
	Clock         func() time.Time
}

// Service copies the remote catalog into the online_products mirror.
type Service struct {
	source        Source
	repo          mirrorRepository
	db            txRunner
	logg          *logger.Logger
	status        string
	pageSize      int
	stockLocation string
	now           func() time.Time
}

// Result counts what one sync changed.
type Result struct {
	Products     int
	Variants     int
	Inserted     int
	Updated      int
	PriceChanges int
	Deleted      int
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Source == nil {
		return nil, fmt.Errorf("catalog source required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("mirror repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		source:        params.Source,
		repo:          params.Repo,
		db:            params.DB,
		logg:          params.Logger,
		status:        params.Status,
		pageSize:      params.PageSize,
		stockLocation: params.StockLocation,
		now:           now,
	}, nil
}

// Sync mirrors every listed product. Rows of variants the listing no longer
// returns are deleted, but only after the whole listing succeeded.
func (s *Service) Sync(ctx context.Context) (Result, error) {
	var res Result
	syncedAt := s.now().UTC()

	locationID, err := s.resolveLocation(ctx)
	if err != nil {
		return res, err
	}

	seen := make(map[int64]struct{})
	query := shopify.ProductQuery{Status: s.status, Limit: s.pageSize}
	err = s.source.ListProducts(ctx, query, func(page []shopify.Product) error {
		return s.syncPage(ctx, page, locationID, syncedAt, seen, &res)
	})
	if err != nil {
		return res, fmt.Errorf("sync products: %w", err)
	}

	mirrored, err := s.repo.VariantIDs(ctx)
	if err != nil {
		return res, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list mirrored variants")
	}
	var stale []int64
	for _, id := range mirrored {
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	deleted, err := s.repo.DeleteVariants(ctx, stale)
	if err != nil {
		return res, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete vanished variants")
	}
	res.Deleted = int(deleted)

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"products":      res.Products,
		"variants":      res.Variants,
		"inserted":      res.Inserted,
		"updated":       res.Updated,
		"price_changes": res.PriceChanges,
		"deleted":       res.Deleted,
	}), "catalog sync finished")
	return res, nil
}

func (s *Service) resolveLocation(ctx context.Context) (int64, error) {
	if s.stockLocation == "" {
		return 0, nil
	}
	id, ok, err := s.source.LocationIDByName(ctx, s.stockLocation)
	if err != nil {
		return 0, fmt.Errorf("resolve stock location: %w", err)
	}
	if !ok {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("location %q not found", s.stockLocation))
	}
	return id, nil
}

func (s *Service) syncPage(ctx context.Context, page []shopify.Product, locationID int64, syncedAt time.Time, seen map[int64]struct{}, res *Result) error {
	var (
		rows    []models.OnlineProduct
		ids     []int64
		itemIDs []int64
	)
	for _, product := range page {
		res.Products++
		for _, v := range product.Variants {
			rows = append(rows, mirrorRow(product, v, syncedAt))
			ids = append(ids, v.ID)
			if v.TracksInventory() {
				itemIDs = append(itemIDs, v.InventoryItemID)
			}
		}
	}
	if len(rows) == 0 {
		return nil
	}

	if locationID != 0 && len(itemIDs) > 0 {
		stock, err := s.source.InventoryLevelsAtLocation(ctx, itemIDs, locationID)
		if err != nil {
			return fmt.Errorf("stock at location %d: %w", locationID, err)
		}
		for i := range rows {
			if rows[i].InventoryItemID == nil {
				continue
			}
			rows[i].StockQuantity = stock[*rows[i].InventoryItemID]
		}
	}

	existing, err := s.repo.FindByVariantIDs(ctx, ids)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load mirrored variants")
	}

	var history []models.PriceHistory
	for _, row := range rows {
		seen[row.VariantID] = struct{}{}
		prev, ok := existing[row.VariantID]
		if !ok {
			res.Inserted++
			continue
		}
		res.Updated++
		if pricesEqual(prev, row) {
			continue
		}
		history = append(history, models.PriceHistory{
			VariantID:         row.VariantID,
			OldPrice:          decimal.NewNullDecimal(prev.Price),
			NewPrice:          decimal.NewNullDecimal(row.Price),
			OldCompareAtPrice: prev.CompareAtPrice,
			NewCompareAtPrice: row.CompareAtPrice,
			ChangedAt:         syncedAt,
		})
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"variant_id": row.VariantID,
			"old_price":  prev.Price.String(),
			"new_price":  row.Price.String(),
		}), "price changed")
	}
	res.Variants += len(rows)
	res.PriceChanges += len(history)

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.UpsertWithTx(tx, rows); err != nil {
			return err
		}
		return s.repo.InsertPriceHistoryWithTx(tx, history)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write mirror page")
	}
	return nil
}

func mirrorRow(product shopify.Product, v shopify.Variant, syncedAt time.Time) models.OnlineProduct {
	row := models.OnlineProduct{
		VariantID:      v.ID,
		VariantTitle:   v.Title,
		SKU:            v.SKU,
		Barcode:        v.Barcode,
		ProductID:      product.ID,
		ProductTitle:   product.Title,
		ProductHandle:  product.Handle,
		Vendor:         product.Vendor,
		Price:          v.Price,
		CompareAtPrice: v.CompareAtPrice,
		Tags:           product.Tags,
		SyncedAt:       syncedAt,
	}
	if v.InventoryItemID > 0 {
		itemID := v.InventoryItemID
		row.InventoryItemID = &itemID
	}
	return row
}

func pricesEqual(prev, next models.OnlineProduct) bool {
	if !prev.Price.Equal(next.Price) {
		return false
	}
	if prev.CompareAtPrice.Valid != next.CompareAtPrice.Valid {
		return false
	}
	return !prev.CompareAtPrice.Valid || prev.CompareAtPrice.Decimal.Equal(next.CompareAtPrice.Decimal)
}
