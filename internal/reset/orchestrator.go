package reset

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/catalogsync/internal/backup"
	"github.com/angelmondragon/catalogsync/pkg/db/models"
	"github.com/angelmondragon/catalogsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalogsync/pkg/errors"
	"github.com/angelmondragon/catalogsync/pkg/logger"
	"github.com/angelmondragon/catalogsync/pkg/metrics"
	"github.com/angelmondragon/catalogsync/pkg/shopify"
	"github.com/shopspring/decimal"
)

const (
	placeholderOption = "dummy"
	placeholderPrice  = "9999"
	placeholderSKU    = "DUMMY-%d"
)

// Catalog is the part of the Admin API a reset drives. *shopify.Client
// satisfies it.
type Catalog interface {
	ListVariants(ctx context.Context, productID int64) ([]shopify.Variant, error)
	CreateVariant(ctx context.Context, productID int64, attrs shopify.VariantInput) (shopify.Variant, error)
	UpdateVariant(ctx context.Context, variantID int64, attrs shopify.VariantInput) (shopify.Variant, error)
	DeleteVariant(ctx context.Context, productID, variantID int64) error
	GetInventoryLevels(ctx context.Context, inventoryItemID int64) ([]shopify.InventoryLevel, error)
	SetInventoryLevel(ctx context.Context, inventoryItemID, locationID int64, available int) error
	RemoveInventoryLevel(ctx context.Context, inventoryItemID, locationID int64) error
}

// Journal persists run progress. *backup.Journal satisfies it.
type Journal interface {
	Start(ctx context.Context, batchID string, productID int64) (*models.ResetRun, error)
	Advance(ctx context.Context, run *models.ResetRun, state enums.ResetState) error
	Finish(ctx context.Context, run *models.ResetRun, status enums.RunStatus, totals backup.RunTotals, runErr error) error
}

// Params wires an Orchestrator. Journal, Metrics, Policy, Filter and Clock
// are optional.
type Params struct {
	Catalog Catalog
	Store   *backup.Store
	Journal Journal
	Logger  *logger.Logger
	Metrics *metrics.ResetMetrics
	Policy  SurvivorPolicy
	Filter  VariantFilter
	BatchID string
	Clock   func() time.Time
}

// Orchestrator resets the variants of one product at a time. It holds no
// per-product state; every Run gets its own identity map.
type Orchestrator struct {
	catalog Catalog
	store   *backup.Store
	journal Journal
	logg    *logger.Logger
	metrics *metrics.ResetMetrics
	policy  SurvivorPolicy
	filter  VariantFilter
	batchID string
	now     func() time.Time
}

func NewOrchestrator(p Params) (*Orchestrator, error) {
	if p.Catalog == nil {
		return nil, fmt.Errorf("catalog client required")
	}
	if p.Store == nil {
		return nil, fmt.Errorf("backup store required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	o := &Orchestrator{
		catalog: p.Catalog,
		store:   p.Store,
		journal: p.Journal,
		logg:    p.Logger,
		metrics: p.Metrics,
		policy:  p.Policy,
		filter:  p.Filter,
		batchID: p.BatchID,
		now:     p.Clock,
	}
	if o.policy == nil {
		o.policy = FirstSurvivor{}
	}
	if o.filter == nil {
		o.filter = noFilter{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// UnrestoredLevel is a backed up stock figure that did not make it onto a
// recreated variant. It carries what an operator needs to fix it by hand.
type UnrestoredLevel struct {
	VariantID  int64
	LocationID int64
	Available  *int
	Reason     string
}

// Outcome summarizes one product run. Err aggregates the per-variant
// problems that did not stop the run.
type Outcome struct {
	ProductID        int64
	RunID            string
	State            enums.ResetState
	Status           enums.RunStatus
	Fetched          int
	BackedUp         int
	Unmanaged        []int64
	SurvivorID       int64
	SurvivorRetained bool
	Deleted          int
	Orphaned         []int64
	Recreated        int
	Excluded         []int64
	RecreateFailed   []int64
	Restored         int
	Unrestored       []UnrestoredLevel
	LocationsRemoved int
	Replacements     []Replacement
	Err              error
}

// Degraded reports whether the run finished with per-variant problems.
func (o *Outcome) Degraded() bool {
	return o != nil && o.Err != nil
}

func (o *Outcome) totals() backup.RunTotals {
	return backup.RunTotals{
		BackedUp:   o.BackedUp,
		Recreated:  o.Recreated,
		Failed:     len(o.RecreateFailed),
		Restored:   o.Restored,
		Unrestored: len(o.Unrestored),
	}
}

// Run resets one product. A returned error means the product failed before
// any destructive step could be trusted; per-variant problems are reported in
// Outcome.Err instead.
func (o *Orchestrator) Run(ctx context.Context, productID int64) (*Outcome, error) {
	r := &productRun{
		o:         o,
		productID: productID,
		ids:       NewIdentityMap(),
		retained:  make(map[int64]bool),
		out: &Outcome{
			ProductID: productID,
			State:     enums.ResetStateFetch,
			Status:    enums.RunStatusRunning,
		},
	}
	ctx = o.logg.WithProductID(ctx, productID)
	if o.journal != nil {
		run, err := o.journal.Start(ctx, o.batchID, productID)
		if err != nil {
			o.logg.Error(ctx, "failed to journal reset start", err)
		} else {
			r.journalRun = run
			r.out.RunID = run.ID
			ctx = o.logg.WithRunID(ctx, run.ID)
		}
	}

	err := r.execute(ctx)
	r.finish(ctx, err)
	return r.out, err
}

// productRun is the state owned by a single Run call.
type productRun struct {
	o          *Orchestrator
	productID  int64
	journalRun *models.ResetRun
	out        *Outcome
	ids        *IdentityMap

	fetched     []shopify.Variant
	records     []backup.VariantRecord
	levels      []backup.LevelRecord
	survivor    backup.VariantRecord
	others      []backup.VariantRecord
	alive       int
	placeholder bool
	retained    map[int64]bool
}

type step struct {
	state enums.ResetState
	run   func(context.Context) (bool, error)
}

func (r *productRun) execute(ctx context.Context) error {
	steps := []step{
		{enums.ResetStateFetch, r.fetch},
		{enums.ResetStateBackup, r.backup},
		{enums.ResetStateDesignateSurvivor, r.designateSurvivor},
		{enums.ResetStateDeleteNonSurvivors, r.deleteNonSurvivors},
		{enums.ResetStateRecreateNonSurvivors, r.recreateNonSurvivors},
		{enums.ResetStateDeleteSurvivor, r.deleteSurvivor},
		{enums.ResetStateRecreateSurvivor, r.recreateSurvivor},
		{enums.ResetStateRestoreInventory, r.restoreInventory},
		{enums.ResetStateCleanupLocations, r.cleanupLocations},
	}
	for _, s := range steps {
		r.enter(ctx, s.state)
		stop, err := s.run(r.o.logg.WithField(ctx, "state", s.state.String()))
		if err != nil {
			return fmt.Errorf("%s: %w", s.state, err)
		}
		if stop {
			break
		}
	}
	r.enter(ctx, enums.ResetStateDone)
	return nil
}

func (r *productRun) enter(ctx context.Context, state enums.ResetState) {
	r.out.State = state
	r.o.logg.Info(r.o.logg.WithField(ctx, "state", state.String()), "entering reset state")
	if r.o.journal == nil || r.journalRun == nil {
		return
	}
	if err := r.o.journal.Advance(ctx, r.journalRun, state); err != nil {
		r.o.logg.Error(ctx, "failed to journal reset state", err)
	}
}

func (r *productRun) finish(ctx context.Context, runErr error) {
	switch {
	case runErr != nil:
		r.out.Status = enums.RunStatusFailed
	case r.out.Status == enums.RunStatusRunning:
		r.out.Status = enums.RunStatusDone
	}
	r.out.Replacements = r.ids.Entries()

	fields := map[string]any{
		"status":            r.out.Status.String(),
		"state":             r.out.State.String(),
		"backed_up":         r.out.BackedUp,
		"recreated":         r.out.Recreated,
		"recreate_failed":   len(r.out.RecreateFailed),
		"orphaned":          len(r.out.Orphaned),
		"restored":          r.out.Restored,
		"unrestored":        len(r.out.Unrestored),
		"locations_removed": r.out.LocationsRemoved,
	}
	summaryCtx := r.o.logg.WithFields(ctx, fields)
	switch {
	case runErr != nil:
		r.o.logg.Error(summaryCtx, "product reset failed", runErr)
	case r.out.Degraded():
		r.o.logg.Warn(r.o.logg.WithField(summaryCtx, "error", r.out.Err.Error()), "product reset finished with problems")
	default:
		r.o.logg.Info(summaryCtx, "product reset finished")
	}

	if r.o.journal == nil || r.journalRun == nil {
		return
	}
	journalErr := runErr
	if journalErr == nil {
		journalErr = r.out.Err
	}
	if err := r.o.journal.Finish(ctx, r.journalRun, r.out.Status, r.out.totals(), journalErr); err != nil {
		r.o.logg.Error(ctx, "failed to journal reset result", err)
	}
}

// note keeps a per-variant problem without failing the product.
func (r *productRun) note(err error) {
	r.out.Err = multierr.Append(r.out.Err, err)
}

func (r *productRun) fetch(ctx context.Context) (bool, error) {
	variants, err := r.o.catalog.ListVariants(ctx, r.productID)
	if err != nil {
		return false, fmt.Errorf("list variants: %w", err)
	}
	r.out.Fetched = len(variants)
	if len(variants) == 0 {
		r.out.Status = enums.RunStatusSkipped
		r.o.logg.Info(ctx, "product has no variants; skipping")
		return true, nil
	}
	r.fetched = variants
	r.alive = len(variants)
	r.o.logg.Info(r.o.logg.WithField(ctx, "variants", len(variants)), "fetched variants")
	return false, nil
}

func (r *productRun) backup(ctx context.Context) (bool, error) {
	snap, err := r.o.store.Begin(ctx, r.productID)
	if err != nil {
		return false, err
	}
	defer func() { _ = snap.Rollback() }()

	for position, v := range r.fetched {
		vctx := r.o.logg.WithVariantID(ctx, v.ID)
		if err := snap.SaveVariant(ctx, v, position); err != nil {
			if !pkgerrors.IsCode(err, pkgerrors.CodeSerialization) {
				return false, err
			}
			r.out.Unmanaged = append(r.out.Unmanaged, v.ID)
			r.o.metrics.IncVariant(metrics.VariantUnencoded)
			r.o.logg.Error(r.o.logg.WithField(vctx, "variant", fmt.Sprintf("%+v", v)), "variant could not be backed up; it will not be touched", err)
			r.note(err)
			continue
		}
		if !v.TracksInventory() {
			continue
		}
		levels, err := r.o.catalog.GetInventoryLevels(ctx, v.InventoryItemID)
		if err != nil {
			return false, fmt.Errorf("inventory levels of variant %d: %w", v.ID, err)
		}
		for _, lvl := range levels {
			if err := snap.SaveInventoryLevel(ctx, v.ID, v.InventoryItemID, lvl.LocationID, lvl.Available); err != nil {
				return false, err
			}
		}
	}

	variants, levels := snap.Counts()
	if err := snap.Commit(); err != nil {
		return false, err
	}

	r.records, err = r.o.store.LoadVariants(ctx, r.productID)
	if err != nil {
		return false, err
	}
	r.levels, err = r.o.store.LoadInventoryLevels(ctx, r.productID)
	if err != nil {
		return false, err
	}
	r.out.BackedUp = len(r.records)
	for range r.records {
		r.o.metrics.IncVariant(metrics.VariantBackedUp)
	}
	r.o.logg.Info(r.o.logg.WithFields(ctx, map[string]any{
		"variants": variants,
		"levels":   levels,
	}), "backup committed")

	if len(r.records) == 0 {
		return false, pkgerrors.New(pkgerrors.CodeSerialization, "no variant of the product could be backed up")
	}
	return false, nil
}

func (r *productRun) designateSurvivor(ctx context.Context) (bool, error) {
	idx := r.o.policy.Select(r.records)
	if idx < 0 || idx >= len(r.records) {
		return false, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("survivor policy %s chose index %d of %d", r.o.policy.Name(), idx, len(r.records)))
	}
	r.survivor = r.records[idx]
	r.others = make([]backup.VariantRecord, 0, len(r.records)-1)
	for i, rec := range r.records {
		if i != idx {
			r.others = append(r.others, rec)
		}
	}
	r.out.SurvivorID = r.survivor.VariantID
	r.o.logg.Info(r.o.logg.WithFields(ctx, map[string]any{
		"survivor_variant_id": r.survivor.VariantID,
		"policy":              r.o.policy.Name().String(),
	}), "survivor designated")
	return false, nil
}

func (r *productRun) deleteNonSurvivors(ctx context.Context) (bool, error) {
	for _, rec := range r.others {
		r.delete(r.o.logg.WithVariantID(ctx, rec.VariantID), rec.VariantID)
	}
	return false, nil
}

// delete removes one variant. An already missing variant counts as deleted;
// any other failure leaves an orphan behind and is only reported.
func (r *productRun) delete(ctx context.Context, variantID int64) bool {
	err := r.o.catalog.DeleteVariant(ctx, r.productID, variantID)
	switch {
	case err == nil:
		r.o.logg.Info(ctx, "variant deleted")
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		r.o.logg.Info(ctx, "variant already gone")
	default:
		r.out.Orphaned = append(r.out.Orphaned, variantID)
		r.o.metrics.IncVariant(metrics.VariantOrphaned)
		r.o.logg.Warn(r.o.logg.WithField(ctx, "error", err.Error()), "variant could not be deleted; left as orphan")
		r.note(fmt.Errorf("delete variant %d: %w", variantID, err))
		return false
	}
	r.alive--
	r.out.Deleted++
	r.o.metrics.IncVariant(metrics.VariantDeleted)
	return true
}

func (r *productRun) recreateNonSurvivors(ctx context.Context) (bool, error) {
	for _, rec := range r.others {
		vctx := r.o.logg.WithVariantID(ctx, rec.VariantID)
		if r.o.filter.Excluded(rec.Variant) {
			r.exclude(vctx, rec)
			continue
		}
		r.recreate(vctx, rec)
	}
	return false, nil
}

func (r *productRun) exclude(ctx context.Context, rec backup.VariantRecord) {
	r.out.Excluded = append(r.out.Excluded, rec.VariantID)
	r.o.metrics.IncVariant(metrics.VariantExcluded)
	r.o.logg.Info(r.o.logg.WithField(ctx, "title", rec.Variant.Title), "variant excluded; not recreated")
}

func (r *productRun) recreate(ctx context.Context, rec backup.VariantRecord) bool {
	created, err := r.o.catalog.CreateVariant(ctx, r.productID, rec.Variant.CreationAttributes())
	if err != nil {
		r.out.RecreateFailed = append(r.out.RecreateFailed, rec.VariantID)
		r.o.metrics.IncVariant(metrics.VariantFailed)
		r.o.logg.Warn(r.o.logg.WithFields(ctx, map[string]any{
			"error":     err.Error(),
			"signature": rec.Variant.OptionSignature(),
		}), "variant could not be recreated")
		r.note(fmt.Errorf("recreate variant %d: %w", rec.VariantID, err))
		return false
	}
	repl := r.ids.Record(rec.VariantID, created)
	r.alive++
	r.out.Recreated++
	r.o.metrics.IncVariant(metrics.VariantRecreated)
	r.o.logg.Info(r.o.logg.WithFields(ctx, map[string]any{
		"new_variant_id":        repl.NewVariantID,
		"new_inventory_item_id": repl.NewInventoryItemID,
	}), "variant recreated")
	return true
}

// deleteSurvivor removes the survivor when another variant is alive.
// Otherwise the survivor is renamed to a placeholder so its option values are
// free for the recreation, and the placeholder is deleted afterwards.
func (r *productRun) deleteSurvivor(ctx context.Context) (bool, error) {
	s := r.survivor
	vctx := r.o.logg.WithVariantID(ctx, s.VariantID)
	excluded := r.o.filter.Excluded(s.Variant)
	if excluded {
		r.exclude(vctx, s)
	}

	if r.alive > 1 {
		if !r.delete(vctx, s.VariantID) {
			r.retain(vctx)
		}
		return false, nil
	}

	if excluded {
		r.o.logg.Warn(vctx, "excluded survivor is the only variant left; keeping it")
		r.retain(vctx)
		return false, nil
	}

	_, err := r.o.catalog.UpdateVariant(ctx, s.VariantID, r.placeholderInput())
	if err != nil {
		r.o.logg.Warn(r.o.logg.WithField(vctx, "error", err.Error()), "survivor could not be turned into a placeholder; keeping it")
		r.note(fmt.Errorf("placeholder swap of variant %d: %w", s.VariantID, err))
		r.retain(vctx)
		return false, nil
	}
	r.placeholder = true
	r.o.metrics.IncVariant(metrics.VariantPlaceholder)
	r.o.logg.Info(vctx, "survivor renamed to placeholder")
	return false, nil
}

// retain keeps the survivor under its original identity, stock included.
func (r *productRun) retain(ctx context.Context) {
	r.retained[r.survivor.VariantID] = true
	r.out.SurvivorRetained = true
	r.o.logg.Info(ctx, "survivor kept in place")
}

func (r *productRun) placeholderInput() shopify.VariantInput {
	return shopify.VariantInput{
		Option1: shopify.StringPtr(placeholderOption),
		Price:   decimal.RequireFromString(placeholderPrice),
		SKU:     shopify.StringPtr(fmt.Sprintf(placeholderSKU, r.o.now().Unix())),
	}
}

func (r *productRun) recreateSurvivor(ctx context.Context) (bool, error) {
	s := r.survivor
	vctx := r.o.logg.WithVariantID(ctx, s.VariantID)
	if r.retained[s.VariantID] || r.o.filter.Excluded(s.Variant) {
		return false, nil
	}

	if r.recreate(vctx, s) {
		if r.placeholder {
			r.delete(vctx, s.VariantID)
		}
		return false, nil
	}
	if !r.placeholder {
		return false, nil
	}

	// The placeholder is the last variant standing; put the original
	// attributes back instead of leaving a dummy on the storefront.
	if _, err := r.o.catalog.UpdateVariant(ctx, s.VariantID, s.Variant.CreationAttributes()); err != nil {
		r.o.logg.Error(vctx, "placeholder could not be reverted; product keeps a placeholder variant", err)
		r.note(fmt.Errorf("revert placeholder %d: %w", s.VariantID, err))
	} else {
		r.o.logg.Warn(vctx, "survivor reverted from placeholder after failed recreation")
	}
	r.retain(vctx)
	return false, nil
}

func (r *productRun) restoreInventory(ctx context.Context) (bool, error) {
	for _, lvl := range r.levels {
		lctx := r.o.logg.WithFields(ctx, map[string]any{
			"variant_id":  lvl.VariantID,
			"location_id": lvl.LocationID,
			"available":   availableField(lvl.Available),
		})
		if r.retained[lvl.VariantID] {
			r.o.logg.Debug(lctx, "variant kept its original inventory item")
			continue
		}
		repl, ok := r.ids.Lookup(lvl.VariantID)
		if !ok {
			r.unrestored(lctx, lvl, r.missReason(lvl.VariantID), nil)
			continue
		}
		if lvl.Available == nil {
			r.o.logg.Info(lctx, "no quantity recorded; nothing to restore")
			continue
		}
		if err := r.o.catalog.SetInventoryLevel(ctx, repl.NewInventoryItemID, lvl.LocationID, *lvl.Available); err != nil {
			r.unrestored(lctx, lvl, string(pkgerrors.CodeOf(err)), err)
			continue
		}
		r.out.Restored++
		r.o.metrics.IncRestored()
	}
	return false, nil
}

func (r *productRun) missReason(variantID int64) string {
	for _, id := range r.out.Excluded {
		if id == variantID {
			return "excluded"
		}
	}
	return string(pkgerrors.CodeIdentityMappingMiss)
}

func (r *productRun) unrestored(ctx context.Context, lvl backup.LevelRecord, reason string, cause error) {
	r.out.Unrestored = append(r.out.Unrestored, UnrestoredLevel{
		VariantID:  lvl.VariantID,
		LocationID: lvl.LocationID,
		Available:  lvl.Available,
		Reason:     reason,
	})
	r.o.metrics.IncUnrestored()
	ctx = r.o.logg.WithField(ctx, "reason", reason)
	if cause != nil {
		ctx = r.o.logg.WithField(ctx, "error", cause.Error())
	}
	r.o.logg.Warn(ctx, "inventory level not restored")

	err := pkgerrors.New(pkgerrors.CodeIdentityMappingMiss, fmt.Sprintf("variant %d stock at location %d not restored", lvl.VariantID, lvl.LocationID))
	if cause != nil {
		err = pkgerrors.Wrap(pkgerrors.CodeOf(cause), cause, fmt.Sprintf("restore variant %d stock at location %d", lvl.VariantID, lvl.LocationID))
	}
	r.note(err.WithDetails(map[string]any{
		"variant_id":  lvl.VariantID,
		"location_id": lvl.LocationID,
		"available":   availableField(lvl.Available),
	}))
}

func (r *productRun) cleanupLocations(ctx context.Context) (bool, error) {
	byID := make(map[int64]backup.VariantRecord, len(r.records))
	for _, rec := range r.records {
		byID[rec.VariantID] = rec
	}
	for _, repl := range r.ids.Entries() {
		rec := byID[repl.OldVariantID]
		if !rec.Variant.TracksInventory() {
			continue
		}
		vctx := r.o.logg.WithVariantID(ctx, repl.OldVariantID)
		if err := r.cleanupVariant(vctx, repl); err != nil {
			r.o.logg.Warn(r.o.logg.WithField(vctx, "error", err.Error()), "extra locations could not be cleaned up")
			r.note(fmt.Errorf("cleanup locations of variant %d: %w", repl.OldVariantID, err))
		}
	}
	return false, nil
}

func (r *productRun) cleanupVariant(ctx context.Context, repl Replacement) error {
	original, err := r.o.store.OriginalLocations(ctx, repl.OldVariantID)
	if err != nil {
		return err
	}
	keep := make(map[int64]struct{}, len(original))
	for _, id := range original {
		keep[id] = struct{}{}
	}
	current, err := r.o.catalog.GetInventoryLevels(ctx, repl.NewInventoryItemID)
	if err != nil {
		return err
	}
	var errs error
	for _, lvl := range current {
		if _, ok := keep[lvl.LocationID]; ok {
			continue
		}
		lctx := r.o.logg.WithField(ctx, "location_id", lvl.LocationID)
		if err := r.o.catalog.RemoveInventoryLevel(ctx, repl.NewInventoryItemID, lvl.LocationID); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				continue
			}
			errs = multierr.Append(errs, err)
			continue
		}
		r.out.LocationsRemoved++
		r.o.logg.Info(lctx, "removed location the original variant never used")
	}
	return errs
}

func availableField(available *int) any {
	if available == nil {
		return nil
	}
	return *available
}
