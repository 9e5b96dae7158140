package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/catalogsync/pkg/db/models"
	"github.com/angelmondragon/catalogsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalogsync/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Journal records the last state every product reset reached in reset_runs.
// It only documents progress; a crashed run is recovered by running the
// product again from the start.
type Journal struct {
	db  *gorm.DB
	now func() time.Time
}

func NewJournal(conn *gorm.DB) *Journal {
	return &Journal{db: conn, now: time.Now}
}

// RunTotals are the counters persisted when a run finishes.
type RunTotals struct {
	BackedUp   int
	Recreated  int
	Failed     int
	Restored   int
	Unrestored int
}

// Start inserts a running entry for productID.
func (j *Journal) Start(ctx context.Context, batchID string, productID int64) (*models.ResetRun, error) {
	now := j.now().UTC()
	run := &models.ResetRun{
		ID:        uuid.NewString(),
		BatchID:   batchID,
		ProductID: productID,
		State:     enums.ResetStateFetch,
		Status:    enums.RunStatusRunning,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := j.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert reset run")
	}
	return run, nil
}

// Advance records that the run entered state.
func (j *Journal) Advance(ctx context.Context, run *models.ResetRun, state enums.ResetState) error {
	if run == nil {
		return nil
	}
	if !state.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown reset state %q", state))
	}
	now := j.now().UTC()
	err := j.db.WithContext(ctx).
		Model(&models.ResetRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{
			"state":      state,
			"updated_at": now,
		}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advance reset run")
	}
	run.State = state
	run.UpdatedAt = now
	return nil
}

// Finish closes the run with a terminal status and its totals.
func (j *Journal) Finish(ctx context.Context, run *models.ResetRun, status enums.RunStatus, totals RunTotals, runErr error) error {
	if run == nil {
		return nil
	}
	if !status.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("status %q is not terminal", status))
	}
	now := j.now().UTC()
	updates := map[string]any{
		"status":               status,
		"variants_backed_up":   totals.BackedUp,
		"variants_recreated":   totals.Recreated,
		"variants_failed":      totals.Failed,
		"inventory_restored":   totals.Restored,
		"inventory_unrestored": totals.Unrestored,
		"updated_at":           now,
		"finished_at":          now,
	}
	var message *string
	if runErr != nil {
		text := runErr.Error()
		message = &text
		updates["error"] = text
	}
	err := j.db.WithContext(ctx).
		Model(&models.ResetRun{}).
		Where("id = ?", run.ID).
		Updates(updates).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finish reset run")
	}
	run.Status = status
	run.VariantsBackedUp = totals.BackedUp
	run.VariantsRecreated = totals.Recreated
	run.VariantsFailed = totals.Failed
	run.InventoryRestored = totals.Restored
	run.InventoryUnrestored = totals.Unrestored
	run.Error = message
	run.UpdatedAt = now
	run.FinishedAt = &now
	return nil
}

// Latest returns the most recent run of productID, or nil when none exists.
func (j *Journal) Latest(ctx context.Context, productID int64) (*models.ResetRun, error) {
	var run models.ResetRun
	err := j.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load latest reset run")
	}
	return &run, nil
}

// Interrupted lists runs that never reached a terminal status, oldest first.
// These are products a crash left half reset.
func (j *Journal) Interrupted(ctx context.Context) ([]models.ResetRun, error) {
	var runs []models.ResetRun
	err := j.db.WithContext(ctx).
		Where("status = ?", enums.RunStatusRunning).
		Order("started_at ASC").
		Find(&runs).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load interrupted reset runs")
	}
	return runs, nil
}
