package reset

import (
	"context"
	"fmt"
	"sort"
	"sync"

	pkgerrors "github.com/angelmondragon/catalogsync/pkg/errors"
	"github.com/angelmondragon/catalogsync/pkg/shopify"
)

// fakeCatalog behaves like the platform for the rules a reset depends on:
// a product never drops to zero variants, option signatures are unique per
// product, every creation mints new ids, and new tracked variants get
// stocked at a default location.
type fakeCatalog struct {
	mu sync.Mutex

	products map[int64][]shopify.Variant
	levels   map[int64]map[int64]*int // inventory item -> location -> available
	nextID   int64

	defaultLocation int64
	minVariants     map[int64]int

	listErr   error
	deleteErr map[int64]error
	vanish    map[int64]bool
	createErr map[string]error
	updates   []shopify.VariantInput
	creations int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products:        map[int64][]shopify.Variant{},
		levels:          map[int64]map[int64]*int{},
		nextID:          9000,
		defaultLocation: 99,
		minVariants:     map[int64]int{},
		deleteErr:       map[int64]error{},
		vanish:          map[int64]bool{},
		createErr:       map[string]error{},
	}
}

func (f *fakeCatalog) seed(productID int64, variants ...shopify.Variant) {
	for i := range variants {
		variants[i].ProductID = productID
		variants[i].Position = i + 1
	}
	f.products[productID] = variants
	f.minVariants[productID] = len(variants)
}

func (f *fakeCatalog) stock(itemID, locationID int64, available int) {
	if f.levels[itemID] == nil {
		f.levels[itemID] = map[int64]*int{}
	}
	f.levels[itemID][locationID] = &available
}

func (f *fakeCatalog) mint() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeCatalog) track(productID int64) {
	if n := len(f.products[productID]); n < f.minVariants[productID] {
		f.minVariants[productID] = n
	}
}

func (f *fakeCatalog) ListVariants(_ context.Context, productID int64) ([]shopify.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]shopify.Variant, len(f.products[productID]))
	for i, v := range f.products[productID] {
		v.Position = i + 1
		out[i] = v
	}
	return out, nil
}

func (f *fakeCatalog) signatureTaken(productID, exceptID int64, signature string) bool {
	for _, v := range f.products[productID] {
		if v.ID != exceptID && v.OptionSignature() == signature {
			return true
		}
	}
	return false
}

func (f *fakeCatalog) CreateVariant(_ context.Context, productID int64, attrs shopify.VariantInput) (shopify.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := shopify.Variant{ProductID: productID}
	applyInput(&v, attrs)
	if err, ok := f.createErr[v.OptionSignature()]; ok {
		return shopify.Variant{}, err
	}
	if f.signatureTaken(productID, 0, v.OptionSignature()) {
		return shopify.Variant{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("option values %q already exist", v.OptionSignature()))
	}
	v.ID = f.mint()
	v.InventoryItemID = f.mint()
	if v.TracksInventory() {
		f.stock(v.InventoryItemID, f.defaultLocation, 0)
	}

	list := f.products[productID]
	idx := len(list)
	if attrs.Position != nil && *attrs.Position >= 1 && *attrs.Position-1 < idx {
		idx = *attrs.Position - 1
	}
	list = append(list, shopify.Variant{})
	copy(list[idx+1:], list[idx:])
	list[idx] = v
	f.products[productID] = list
	f.creations++
	return v, nil
}

func (f *fakeCatalog) UpdateVariant(_ context.Context, variantID int64, attrs shopify.VariantInput) (shopify.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for productID, list := range f.products {
		for i := range list {
			if list[i].ID != variantID {
				continue
			}
			updated := list[i]
			applyInput(&updated, attrs)
			if f.signatureTaken(productID, variantID, updated.OptionSignature()) {
				return shopify.Variant{}, pkgerrors.New(pkgerrors.CodeValidation, "option values already exist")
			}
			list[i] = updated
			f.updates = append(f.updates, attrs)
			return updated, nil
		}
	}
	return shopify.Variant{}, pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
}

func (f *fakeCatalog) DeleteVariant(_ context.Context, productID, variantID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.deleteErr[variantID]; ok {
		return err
	}
	list := f.products[productID]
	for i := range list {
		if list[i].ID != variantID {
			continue
		}
		if len(list) == 1 {
			return pkgerrors.New(pkgerrors.CodeValidation, "a product must have at least one variant")
		}
		delete(f.levels, list[i].InventoryItemID)
		f.products[productID] = append(list[:i:i], list[i+1:]...)
		f.track(productID)
		if f.vanish[variantID] {
			return pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
		}
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
}

func (f *fakeCatalog) GetInventoryLevels(_ context.Context, inventoryItemID int64) ([]shopify.InventoryLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]shopify.InventoryLevel, 0, len(f.levels[inventoryItemID]))
	for loc, available := range f.levels[inventoryItemID] {
		lvl := shopify.InventoryLevel{InventoryItemID: inventoryItemID, LocationID: loc}
		if available != nil {
			qty := *available
			lvl.Available = &qty
		}
		out = append(out, lvl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out, nil
}

func (f *fakeCatalog) SetInventoryLevel(_ context.Context, inventoryItemID, locationID int64, available int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.itemExists(inventoryItemID) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "inventory item not found")
	}
	f.stock(inventoryItemID, locationID, available)
	return nil
}

func (f *fakeCatalog) RemoveInventoryLevel(_ context.Context, inventoryItemID, locationID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.levels[inventoryItemID][locationID]; !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "inventory level not found")
	}
	delete(f.levels[inventoryItemID], locationID)
	return nil
}

func (f *fakeCatalog) itemExists(itemID int64) bool {
	for _, list := range f.products {
		for _, v := range list {
			if v.InventoryItemID == itemID {
				return true
			}
		}
	}
	return false
}

// levelsOf returns location -> available for an item, nil quantities as -1.
func (f *fakeCatalog) levelsOf(itemID int64) map[int64]int {
	out := map[int64]int{}
	for loc, available := range f.levels[itemID] {
		if available == nil {
			out[loc] = -1
			continue
		}
		out[loc] = *available
	}
	return out
}

func (f *fakeCatalog) bySignature(productID int64, signature string) (shopify.Variant, bool) {
	for _, v := range f.products[productID] {
		if v.OptionSignature() == signature {
			return v, true
		}
	}
	return shopify.Variant{}, false
}

func applyInput(v *shopify.Variant, in shopify.VariantInput) {
	if in.Option1 != nil {
		v.Option1 = in.Option1
	}
	if in.Option2 != nil {
		v.Option2 = in.Option2
	}
	if in.Option3 != nil {
		v.Option3 = in.Option3
	}
	v.Price = in.Price
	if in.CompareAtPrice.Valid {
		v.CompareAtPrice = in.CompareAtPrice
	}
	if in.SKU != nil {
		v.SKU = in.SKU
	}
	if in.Barcode != nil {
		v.Barcode = in.Barcode
	}
	if in.InventoryManagement != nil {
		v.InventoryManagement = in.InventoryManagement
	}
	if in.InventoryPolicy != "" {
		v.InventoryPolicy = in.InventoryPolicy
	}
	v.Title = v.OptionSignature()
}
