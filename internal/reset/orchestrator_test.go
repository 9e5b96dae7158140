package reset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/catalogsync/internal/backup"
	"github.com/angelmondragon/catalogsync/pkg/db/dbtest"
	"github.com/angelmondragon/catalogsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalogsync/pkg/errors"
	"github.com/angelmondragon/catalogsync/pkg/logger"
	"github.com/angelmondragon/catalogsync/pkg/shopify"
)

const (
	productID  = int64(1)
	locationA  = int64(1)
	locationB  = int64(2)
	fixedEpoch = int64(1700000000)
)

func managed(id, itemID int64, option, price string) shopify.Variant {
	return shopify.Variant{
		ID:                  id,
		Title:               option,
		Option1:             shopify.StringPtr(option),
		Price:               decimal.RequireFromString(price),
		SKU:                 shopify.StringPtr("SKU-" + option),
		InventoryManagement: shopify.StringPtr("shopify"),
		InventoryPolicy:     "deny",
		InventoryItemID:     itemID,
	}
}

func unmanaged(id, itemID int64, option, price string) shopify.Variant {
	v := managed(id, itemID, option, price)
	v.InventoryManagement = nil
	return v
}

type harness struct {
	catalog *fakeCatalog
	store   *backup.Store
	journal *backup.Journal
	orch    *Orchestrator
}

func newHarness(t *testing.T, params Params, storeOpts ...backup.StoreOption) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	h := &harness{
		catalog: newFakeCatalog(),
		store:   backup.NewStore(conn, storeOpts...),
		journal: backup.NewJournal(conn),
	}
	params.Catalog = h.catalog
	params.Store = h.store
	params.Journal = h.journal
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Clock == nil {
		params.Clock = func() time.Time { return time.Unix(fixedEpoch, 0) }
	}
	orch, err := NewOrchestrator(params)
	require.NoError(t, err)
	h.orch = orch
	return h
}

// seedScenario creates Small(loc1:5), Medium(loc1:3) and an untracked Large.
func (h *harness) seedScenario() {
	h.catalog.seed(productID,
		managed(101, 201, "Small", "10"),
		managed(102, 202, "Medium", "20"),
		unmanaged(103, 203, "Large", "30"),
	)
	h.catalog.stock(201, locationA, 5)
	h.catalog.stock(202, locationA, 3)
}

func signatures(variants []shopify.Variant) []string {
	out := make([]string, 0, len(variants))
	for _, v := range variants {
		out = append(out, v.OptionSignature())
	}
	return out
}

func TestResetRecreatesVariantsAndRestoresStock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Params{})
	h.seedScenario()

	out, err := h.orch.Run(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusDone, out.Status)
	assert.Equal(t, enums.ResetStateDone, out.State)
	assert.NoError(t, out.Err)
	assert.Equal(t, int64(101), out.SurvivorID)
	assert.Equal(t, 3, out.BackedUp)
	assert.Equal(t, 3, out.Recreated)
	assert.Equal(t, 2, out.Restored)
	assert.Equal(t, 2, out.LocationsRemoved)
	assert.Empty(t, out.Unrestored)

	variants := h.catalog.products[productID]
	require.Len(t, variants, 3)
	assert.Equal(t, []string{"Small", "Medium", "Large"}, signatures(variants))
	for i, price := range []string{"10", "20", "30"} {
		assert.True(t, variants[i].Price.Equal(decimal.RequireFromString(price)), "price of %s", variants[i].Title)
	}

	small, _ := h.catalog.bySignature(productID, "Small")
	medium, _ := h.catalog.bySignature(productID, "Medium")
	large, _ := h.catalog.bySignature(productID, "Large")
	assert.Equal(t, map[int64]int{locationA: 5}, h.catalog.levelsOf(small.InventoryItemID))
	assert.Equal(t, map[int64]int{locationA: 3}, h.catalog.levelsOf(medium.InventoryItemID))
	assert.Empty(t, h.catalog.levelsOf(large.InventoryItemID))

	assert.GreaterOrEqual(t, h.catalog.minVariants[productID], 1)
}

func TestRecreatedIdentitiesNeverReuseOriginals(t *testing.T) {
	h := newHarness(t, Params{})
	h.seedScenario()

	out, err := h.orch.Run(context.Background(), productID)
	require.NoError(t, err)
	require.Len(t, out.Replacements, 3)

	originalVariants := map[int64]bool{101: true, 102: true, 103: true}
	originalItems := map[int64]bool{201: true, 202: true, 203: true}
	for _, repl := range out.Replacements {
		assert.True(t, originalVariants[repl.OldVariantID])
		assert.False(t, originalVariants[repl.NewVariantID], "variant id %d reused", repl.NewVariantID)
		assert.False(t, originalItems[repl.NewInventoryItemID], "inventory item %d reused", repl.NewInventoryItemID)
	}
	// survivor is recreated last
	assert.Equal(t, int64(101), out.Replacements[2].OldVariantID)
}

func TestBackupMatchesObservedInventory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Params{})
	h.seedScenario()
	h.catalog.stock(201, locationB, 9)

	_, err := h.orch.Run(ctx, productID)
	require.NoError(t, err)

	levels, err := h.store.LoadInventoryLevels(ctx, productID)
	require.NoError(t, err)
	five, nine, three := 5, 9, 3
	assert.Equal(t, []backup.LevelRecord{
		{VariantID: 101, InventoryItemID: 201, LocationID: locationA, Available: &five},
		{VariantID: 101, InventoryItemID: 201, LocationID: locationB, Available: &nine},
		{VariantID: 102, InventoryItemID: 202, LocationID: locationA, Available: &three},
	}, levels)
}

func TestExcludedVariantIsDroppedAndReported(t *testing.T) {
	h := newHarness(t, Params{Filter: TitleMarkerFilter{Marker: "perso"}})
	h.catalog.seed(productID,
		managed(101, 201, "Small", "10"),
		managed(102, 202, "PERSO engraving", "20"),
		unmanaged(103, 203, "Large", "30"),
	)
	h.catalog.stock(201, locationA, 5)
	h.catalog.stock(202, locationA, 3)

	out, err := h.orch.Run(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusDone, out.Status)
	assert.Equal(t, []int64{102}, out.Excluded)
	assert.Equal(t, []string{"Small", "Large"}, signatures(h.catalog.products[productID]))

	three := 3
	assert.Equal(t, []UnrestoredLevel{{VariantID: 102, LocationID: locationA, Available: &three, Reason: "excluded"}}, out.Unrestored)

	small, _ := h.catalog.bySignature(productID, "Small")
	large, _ := h.catalog.bySignature(productID, "Large")
	assert.Equal(t, map[int64]int{locationA: 5}, h.catalog.levelsOf(small.InventoryItemID))
	assert.Empty(t, h.catalog.levelsOf(large.InventoryItemID))
}

func TestAlreadyDeletedVariantIsStillRecreated(t *testing.T) {
	h := newHarness(t, Params{})
	h.seedScenario()
	h.catalog.vanish[102] = true

	out, err := h.orch.Run(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusDone, out.Status)
	assert.NoError(t, out.Err)
	assert.Empty(t, out.Orphaned)
	assert.Equal(t, []string{"Small", "Medium", "Large"}, signatures(h.catalog.products[productID]))
	medium, _ := h.catalog.bySignature(productID, "Medium")
	assert.Equal(t, map[int64]int{locationA: 3}, h.catalog.levelsOf(medium.InventoryItemID))
}

func TestFailedDeleteLeavesOrphanAndReportsStock(t *testing.T) {
	h := newHarness(t, Params{})
	h.seedScenario()
	h.catalog.deleteErr[102] = pkgerrors.New(pkgerrors.CodeDependency, "upstream unavailable")

	out, err := h.orch.Run(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusDone, out.Status)
	assert.Equal(t, []int64{102}, out.Orphaned)
	assert.Equal(t, []int64{102}, out.RecreateFailed)
	require.Len(t, out.Unrestored, 1)
	assert.Equal(t, string(pkgerrors.CodeIdentityMappingMiss), out.Unrestored[0].Reason)

	_, stillThere := h.catalog.bySignature(productID, "Medium")
	assert.True(t, stillThere)
	assert.Len(t, h.catalog.products[productID], 3)
}

func TestRecreateFailureDoesNotStopRestoration(t *testing.T) {
	h := newHarness(t, Params{})
	h.seedScenario()
	h.catalog.createErr["Medium"] = pkgerrors.New(pkgerrors.CodeValidation, "sku rejected")

	out, err := h.orch.Run(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusDone, out.Status)
	assert.True(t, out.Degraded())
	assert.Equal(t, []int64{102}, out.RecreateFailed)
	assert.Equal(t, 1, out.Restored)

	three := 3
	assert.Equal(t, []UnrestoredLevel{{
		VariantID:  102,
		LocationID: locationA,
		Available:  &three,
		Reason:     string(pkgerrors.CodeIdentityMappingMiss),
	}}, out.Unrestored)
	assert.Len(t, multierr.Errors(out.Err), 2)

	small, _ := h.catalog.bySignature(productID, "Small")
	assert.Equal(t, map[int64]int{locationA: 5}, h.catalog.levelsOf(small.InventoryItemID))
	assert.Equal(t, []string{"Small", "Large"}, signatures(h.catalog.products[productID]))
}

func TestUnrestoredStockIsLoggedForOperators(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "reset", Output: &buf})
	h := newHarness(t, Params{Logger: logg})
	h.seedScenario()
	h.catalog.createErr["Medium"] = pkgerrors.New(pkgerrors.CodeValidation, "sku rejected")

	_, err := h.orch.Run(context.Background(), productID)
	require.NoError(t, err)

	var warnings []map[string]any
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		if entry["level"] == "warn" && entry["message"] == "inventory level not restored" {
			warnings = append(warnings, entry)
		}
	}
	require.NoError(t, scanner.Err())
	require.Len(t, warnings, 1)

	entry := warnings[0]
	assert.Equal(t, float64(102), entry["variant_id"])
	assert.Equal(t, float64(locationA), entry["location_id"])
	assert.Equal(t, float64(3), entry["available"])
	assert.Equal(t, float64(productID), entry["product_id"])
	assert.Equal(t, string(pkgerrors.CodeIdentityMappingMiss), entry["reason"])
}

func TestSingleVariantGoesThroughPlaceholder(t *testing.T) {
	h := newHarness(t, Params{})
	h.catalog.seed(productID, managed(301, 401, "Only", "15"))
	h.catalog.stock(401, locationA, 7)
	h.catalog.stock(401, locationB, 2)

	out, err := h.orch.Run(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusDone, out.Status)
	assert.NoError(t, out.Err)
	assert.False(t, out.SurvivorRetained)

	require.Len(t, h.catalog.updates, 1)
	placeholder := h.catalog.updates[0]
	assert.Equal(t, "dummy", *placeholder.Option1)
	assert.Equal(t, "DUMMY-1700000000", *placeholder.SKU)
	assert.True(t, placeholder.Price.Equal(decimal.NewFromInt(9999)))

	variants := h.catalog.products[productID]
	require.Len(t, variants, 1)
	assert.Equal(t, "Only", variants[0].OptionSignature())
	assert.NotEqual(t, int64(301), variants[0].ID)
	assert.Equal(t, map[int64]int{locationA: 7, locationB: 2}, h.catalog.levelsOf(variants[0].InventoryItemID))
	assert.Equal(t, 1, h.catalog.minVariants[productID])
}

func TestPlaceholderIsRevertedWhenRecreationFails(t *testing.T) {
	h := newHarness(t, Params{})
	h.catalog.seed(productID, managed(301, 401, "Only", "15"))
	h.catalog.stock(401, locationA, 7)
	h.catalog.createErr["Only"] = pkgerrors.New(pkgerrors.CodeValidation, "rejected")

	out, err := h.orch.Run(context.Background(), productID)
	require.NoError(t, err)
	assert.True(t, out.SurvivorRetained)
	assert.Empty(t, out.Unrestored)

	variants := h.catalog.products[productID]
	require.Len(t, variants, 1)
	assert.Equal(t, int64(301), variants[0].ID)
	assert.Equal(t, "Only", variants[0].OptionSignature())
	assert.True(t, variants[0].Price.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, map[int64]int{locationA: 7}, h.catalog.levelsOf(401))
}

func TestExcludedLoneSurvivorIsKept(t *testing.T) {
	h := newHarness(t, Params{Filter: TitleMarkerFilter{Marker: "perso"}})
	h.catalog.seed(productID, managed(301, 401, "Personalised", "15"))
	h.catalog.stock(401, locationA, 7)

	out, err := h.orch.Run(context.Background(), productID)
	require.NoError(t, err)
	assert.True(t, out.SurvivorRetained)
	assert.Equal(t, []int64{301}, out.Excluded)
	assert.Empty(t, h.catalog.updates)
	assert.Zero(t, h.catalog.creations)
	assert.Equal(t, int64(301), h.catalog.products[productID][0].ID)
}

func TestLastSurvivorPolicyPreservesOrder(t *testing.T) {
	h := newHarness(t, Params{Policy: LastSurvivor{}})
	h.seedScenario()

	out, err := h.orch.Run(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, int64(103), out.SurvivorID)
	assert.Equal(t, []string{"Small", "Medium", "Large"}, signatures(h.catalog.products[productID]))
	assert.GreaterOrEqual(t, h.catalog.minVariants[productID], 1)
}

func TestUnencodableVariantIsLeftUntouched(t *testing.T) {
	encoder := func(v shopify.Variant) ([]byte, error) {
		if v.ID == 102 {
			return nil, errors.New("unsupported value")
		}
		return json.Marshal(v)
	}
	h := newHarness(t, Params{}, backup.WithEncoder(encoder))
	h.seedScenario()

	out, err := h.orch.Run(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusDone, out.Status)
	assert.Equal(t, []int64{102}, out.Unmanaged)
	assert.Equal(t, 2, out.BackedUp)
	assert.Equal(t, 2, out.Recreated)

	variants := h.catalog.products[productID]
	assert.Equal(t, []string{"Small", "Medium", "Large"}, signatures(variants))
	assert.Equal(t, int64(102), variants[1].ID)
	assert.Equal(t, map[int64]int{locationA: 3}, h.catalog.levelsOf(202))
}

func TestRunningTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Params{})
	h.seedScenario()

	first, err := h.orch.Run(ctx, productID)
	require.NoError(t, err)
	afterFirst := append([]shopify.Variant(nil), h.catalog.products[productID]...)

	second, err := h.orch.Run(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusDone, first.Status)
	assert.Equal(t, enums.RunStatusDone, second.Status)

	records, err := h.store.LoadVariants(ctx, productID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, afterFirst[i].ID, rec.VariantID)
	}
	levels, err := h.store.LoadInventoryLevels(ctx, productID)
	require.NoError(t, err)
	assert.Len(t, levels, 2)

	assert.Equal(t, []string{"Small", "Medium", "Large"}, signatures(h.catalog.products[productID]))
	small, _ := h.catalog.bySignature(productID, "Small")
	assert.Equal(t, map[int64]int{locationA: 5}, h.catalog.levelsOf(small.InventoryItemID))
}

func TestEmptyProductIsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Params{})
	h.catalog.seed(productID)

	out, err := h.orch.Run(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusSkipped, out.Status)
	assert.Equal(t, enums.ResetStateDone, out.State)

	run, err := h.journal.Latest(ctx, productID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, enums.RunStatusSkipped, run.Status)
}

func TestFetchFailureFailsProduct(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Params{})
	h.seedScenario()
	h.catalog.listErr = pkgerrors.New(pkgerrors.CodeTransportExhausted, "gave up")

	out, err := h.orch.Run(ctx, productID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTransportExhausted))
	assert.Equal(t, enums.RunStatusFailed, out.Status)
	assert.Equal(t, enums.ResetStateFetch, out.State)
	assert.Len(t, h.catalog.products[productID], 3)

	records, err := h.store.LoadVariants(ctx, productID)
	require.NoError(t, err)
	assert.Empty(t, records)

	run, err := h.journal.Latest(ctx, productID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, enums.RunStatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Contains(t, *run.Error, "gave up")
}

func TestJournalRecordsFinishedRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Params{BatchID: "batch-1"})
	h.seedScenario()

	out, err := h.orch.Run(ctx, productID)
	require.NoError(t, err)

	run, err := h.journal.Latest(ctx, productID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, out.RunID, run.ID)
	assert.Equal(t, "batch-1", run.BatchID)
	assert.Equal(t, enums.RunStatusDone, run.Status)
	assert.Equal(t, enums.ResetStateDone, run.State)
	assert.Equal(t, 3, run.VariantsBackedUp)
	assert.Equal(t, 3, run.VariantsRecreated)
	assert.Equal(t, 2, run.InventoryRestored)
	assert.Nil(t, run.Error)

	interrupted, err := h.journal.Interrupted(ctx)
	require.NoError(t, err)
	assert.Empty(t, interrupted)
}

func TestNewOrchestratorValidatesParams(t *testing.T) {
	_, err := NewOrchestrator(Params{})
	assert.Error(t, err)
	_, err = NewOrchestrator(Params{Catalog: newFakeCatalog()})
	assert.Error(t, err)
}
