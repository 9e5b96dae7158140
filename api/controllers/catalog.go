package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/catalogsync/api/responses"
	"github.com/angelmondragon/catalogsync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/catalogsync/pkg/errors"
	"github.com/angelmondragon/catalogsync/pkg/logger"
)

// RunReader loads reset journal entries.
type RunReader interface {
	Latest(ctx context.Context, productID int64) (*models.ResetRun, error)
	Interrupted(ctx context.Context) ([]models.ResetRun, error)
}

// HistoryReader loads the price changes of a mirrored variant.
type HistoryReader interface {
	PriceHistory(ctx context.Context, variantID int64) ([]models.PriceHistory, error)
}

type resetRunView struct {
	ID                  string     `json:"id"`
	BatchID             string     `json:"batch_id"`
	ProductID           int64      `json:"product_id"`
	State               string     `json:"state"`
	Status              string     `json:"status"`
	VariantsBackedUp    int        `json:"variants_backed_up"`
	VariantsRecreated   int        `json:"variants_recreated"`
	VariantsFailed      int        `json:"variants_failed"`
	InventoryRestored   int        `json:"inventory_restored"`
	InventoryUnrestored int        `json:"inventory_unrestored"`
	Error               *string    `json:"error,omitempty"`
	StartedAt           time.Time  `json:"started_at"`
	FinishedAt          *time.Time `json:"finished_at,omitempty"`
}

type priceChangeView struct {
	OldPrice          *string   `json:"old_price"`
	NewPrice          *string   `json:"new_price"`
	OldCompareAtPrice *string   `json:"old_compare_at_price"`
	NewCompareAtPrice *string   `json:"new_compare_at_price"`
	ChangedAt         time.Time `json:"changed_at"`
}

// LatestResetRun returns the newest journal entry of a product.
func LatestResetRun(runs RunReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := parseIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		run, err := runs.Latest(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if run == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "no reset run for product"))
			return
		}
		responses.WriteSuccess(w, newResetRunView(*run))
	}
}

// InterruptedResetRuns lists products a crashed batch left half reset.
func InterruptedResetRuns(runs RunReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := runs.Interrupted(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		views := make([]resetRunView, 0, len(list))
		for _, run := range list {
			views = append(views, newResetRunView(run))
		}
		responses.WriteSuccess(w, views)
	}
}

// VariantPriceHistory returns the recorded price changes of a variant, oldest first.
func VariantPriceHistory(history HistoryReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		variantID, err := parseIDParam(r, "variantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := history.PriceHistory(r.Context(), variantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load price history"))
			return
		}
		views := make([]priceChangeView, 0, len(rows))
		for _, row := range rows {
			views = append(views, priceChangeView{
				OldPrice:          nullDecimalString(row.OldPrice),
				NewPrice:          nullDecimalString(row.NewPrice),
				OldCompareAtPrice: nullDecimalString(row.OldCompareAtPrice),
				NewCompareAtPrice: nullDecimalString(row.NewCompareAtPrice),
				ChangedAt:         row.ChangedAt,
			})
		}
		responses.WriteSuccess(w, views)
	}
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid "+name).
			WithDetails(map[string]string{"param": name, "value": raw})
	}
	return id, nil
}

func newResetRunView(run models.ResetRun) resetRunView {
	return resetRunView{
		ID:                  run.ID,
		BatchID:             run.BatchID,
		ProductID:           run.ProductID,
		State:               string(run.State),
		Status:              string(run.Status),
		VariantsBackedUp:    run.VariantsBackedUp,
		VariantsRecreated:   run.VariantsRecreated,
		VariantsFailed:      run.VariantsFailed,
		InventoryRestored:   run.InventoryRestored,
		InventoryUnrestored: run.InventoryUnrestored,
		Error:               run.Error,
		StartedAt:           run.StartedAt,
		FinishedAt:          run.FinishedAt,
	}
}

func nullDecimalString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.StringFixed(2)
	return &s
}
