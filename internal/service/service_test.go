package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BryanFarras/TokoKami/internal/cache"
	"github.com/BryanFarras/TokoKami/internal/domain"
	"github.com/BryanFarras/TokoKami/internal/store"
	"github.com/BryanFarras/TokoKami/internal/store/memory"
)

// mapCache mimics the Redis cache: values round-trip through JSON.
type mapCache struct {
	mu          sync.Mutex
	entries     map[string][]byte
	generations map[string]int64
	// beforeSet, when set, runs once ahead of the next Set.
	beforeSet func()
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte), generations: make(map[string]int64)}
}

func (c *mapCache) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *mapCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	if hook := c.beforeSet; hook != nil {
		c.beforeSet = nil
		hook()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *mapCache) Generation(_ context.Context, scope string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[scope], nil
}

func (c *mapCache) BumpGeneration(_ context.Context, scope string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[scope]++
	return nil
}

func (c *mapCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *mapCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

var fixedNow = time.Date(2026, time.March, 15, 10, 30, 0, 0, time.UTC)

type fixture struct {
	svc        *Service
	repo       *memory.Store
	materialID int64
	productID  int64
}

// newFixture seeds one raw material (unit_cost 500, stock 1000) and one
// product priced 25000 with a manual cost of 15000, stock 50, using 10 units
// of the material per sale.
func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()

	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	repo := memory.New()
	svc := New(repo, nil, nil, opts)
	ctx := context.Background()

	material, err := svc.CreateRawMaterial(ctx, domain.RawMaterialInput{
		Name:     "Biji Kopi",
		Unit:     "g",
		Stock:    decimal.NewFromInt(1000),
		UnitCost: decimal.NewFromInt(500),
	})
	if err != nil {
		t.Fatalf("create raw material failed: %v", err)
	}

	manual := true
	product, err := svc.CreateProduct(ctx, domain.ProductInput{
		Name:       "Kopi Susu",
		Category:   "coffee",
		Price:      decimal.NewFromInt(25000),
		CostPrice:  decimal.NewFromInt(15000),
		ManualCost: &manual,
		Stock:      50,
		Ingredients: []domain.IngredientInput{
			{RawMaterialID: material.ID, Amount: decimal.NewFromInt(10)},
		},
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}

	return fixture{svc: svc, repo: repo, materialID: material.ID, productID: product.ID}
}

func checkoutRequest(items ...domain.CartItem) domain.CheckoutRequest {
	return domain.CheckoutRequest{
		PaymentMethod: "cash",
		CashierName:   "Kasir A",
		Items:         items,
	}
}

func TestCheckoutDecrementsProductAndIngredientStock(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	resp, err := f.svc.Checkout(ctx, checkoutRequest(domain.CartItem{ProductID: f.productID, Quantity: 2}))
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	tx := resp.Transaction
	if resp.TransactionID != tx.ID || resp.Message != "Transaction completed successfully" {
		t.Fatalf("unexpected checkout response %+v", resp)
	}
	if !tx.Subtotal.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("expected subtotal 50000, got %s", tx.Subtotal)
	}
	if !tx.Total.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("expected total 50000, got %s", tx.Total)
	}
	if !tx.Profit.Equal(decimal.NewFromInt(20000)) {
		t.Fatalf("expected profit 20000, got %s", tx.Profit)
	}
	if len(tx.Items) != 1 || !tx.Items[0].CostPrice.Equal(decimal.NewFromInt(15000)) {
		t.Fatalf("expected one line snapshotting cost 15000, got %+v", tx.Items)
	}

	product, err := f.svc.GetProduct(ctx, f.productID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Stock != 48 {
		t.Fatalf("expected product stock 48, got %d", product.Stock)
	}

	material, err := f.svc.GetRawMaterial(ctx, f.materialID)
	if err != nil {
		t.Fatalf("get raw material failed: %v", err)
	}
	if !material.Stock.Equal(decimal.NewFromInt(980)) {
		t.Fatalf("expected material stock 980, got %s", material.Stock)
	}
}

func TestCheckoutAppliesDiscountAndTax(t *testing.T) {
	f := newFixture(t, Options{})

	req := checkoutRequest(domain.CartItem{ProductID: f.productID, Quantity: 1})
	req.Discount = decimal.NewFromInt(5000)
	req.Tax = decimal.NewFromInt(2000)
	resp, err := f.svc.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if !resp.Transaction.Total.Equal(decimal.NewFromInt(22000)) {
		t.Fatalf("expected total 22000, got %s", resp.Transaction.Total)
	}
}

func TestCheckoutRejectsDiscountAboveSubtotal(t *testing.T) {
	f := newFixture(t, Options{})

	req := checkoutRequest(domain.CartItem{ProductID: f.productID, Quantity: 1})
	req.Discount = decimal.NewFromInt(30000)
	_, err := f.svc.Checkout(context.Background(), req)
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	product, _ := f.svc.GetProduct(context.Background(), f.productID)
	if product.Stock != 50 {
		t.Fatalf("expected stock untouched at 50, got %d", product.Stock)
	}
}

func TestCheckoutInsufficientProductStockRollsBack(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	other, err := f.svc.CreateProduct(ctx, domain.ProductInput{
		Name: "Croissant", Category: "pastry", Price: decimal.NewFromInt(20000), CostPrice: decimal.NewFromInt(9000), Stock: 1,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}

	_, err = f.svc.Checkout(ctx, checkoutRequest(
		domain.CartItem{ProductID: f.productID, Quantity: 2},
		domain.CartItem{ProductID: other.ID, Quantity: 2},
	))
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.Name != "Croissant" {
		t.Fatalf("expected stock error naming Croissant, got %v", err)
	}

	product, _ := f.svc.GetProduct(ctx, f.productID)
	if product.Stock != 50 {
		t.Fatalf("expected first line to be rolled back, stock %d", product.Stock)
	}
	material, _ := f.svc.GetRawMaterial(ctx, f.materialID)
	if !material.Stock.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected material stock untouched, got %s", material.Stock)
	}
	txs, _ := f.svc.ListTransactions(ctx)
	if len(txs) != 0 {
		t.Fatalf("expected no transaction to be recorded, got %d", len(txs))
	}
}

func TestCheckoutIngredientPolicy(t *testing.T) {
	ctx := context.Background()

	// 200 units need 2000 of material while only 1000 are on hand.
	strict := newFixture(t, Options{})
	if _, err := strict.svc.UpdateProduct(ctx, strict.productID, domain.ProductInput{
		Name: "Kopi Susu", Category: "coffee", Price: decimal.NewFromInt(25000), CostPrice: decimal.NewFromInt(15000), Stock: 500,
		Ingredients: []domain.IngredientInput{{RawMaterialID: strict.materialID, Amount: decimal.NewFromInt(10)}},
	}); err != nil {
		t.Fatalf("update product failed: %v", err)
	}
	_, err := strict.svc.Checkout(ctx, checkoutRequest(domain.CartItem{ProductID: strict.productID, Quantity: 200}))
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient raw material under reject policy, got %v", err)
	}

	lenient := newFixture(t, Options{IngredientPolicy: domain.IngredientPolicyAllowNegative})
	if _, err := lenient.svc.UpdateProduct(ctx, lenient.productID, domain.ProductInput{
		Name: "Kopi Susu", Category: "coffee", Price: decimal.NewFromInt(25000), CostPrice: decimal.NewFromInt(15000), Stock: 500,
		Ingredients: []domain.IngredientInput{{RawMaterialID: lenient.materialID, Amount: decimal.NewFromInt(10)}},
	}); err != nil {
		t.Fatalf("update product failed: %v", err)
	}
	if _, err := lenient.svc.Checkout(ctx, checkoutRequest(domain.CartItem{ProductID: lenient.productID, Quantity: 200})); err != nil {
		t.Fatalf("expected checkout to pass under allow_negative, got %v", err)
	}
	material, _ := lenient.svc.GetRawMaterial(ctx, lenient.materialID)
	if !material.Stock.Equal(decimal.NewFromInt(-1000)) {
		t.Fatalf("expected material stock -1000, got %s", material.Stock)
	}
}

func TestCheckoutValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	cases := map[string]domain.CheckoutRequest{
		"empty cart":        checkoutRequest(),
		"zero quantity":     checkoutRequest(domain.CartItem{ProductID: f.productID, Quantity: 0}),
		"missing product":   checkoutRequest(domain.CartItem{Quantity: 1}),
		"unknown payment":   {PaymentMethod: "barter", CashierName: "A", Items: []domain.CartItem{{ProductID: f.productID, Quantity: 1}}},
		"missing cashier":   {PaymentMethod: "cash", Items: []domain.CartItem{{ProductID: f.productID, Quantity: 1}}},
		"negative tax":      {PaymentMethod: "cash", CashierName: "A", Tax: decimal.NewFromInt(-1), Items: []domain.CartItem{{ProductID: f.productID, Quantity: 1}}},
		"negative discount": {PaymentMethod: "cash", CashierName: "A", Discount: decimal.NewFromInt(-1), Items: []domain.CartItem{{ProductID: f.productID, Quantity: 1}}},
	}
	for name, req := range cases {
		if _, err := f.svc.Checkout(ctx, req); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}

	_, err := f.svc.Checkout(ctx, checkoutRequest(domain.CartItem{ProductID: 999, Quantity: 1}))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown product, got %v", err)
	}
}

func TestCheckoutPublishesSaleEvent(t *testing.T) {
	repo := memory.New()
	publisher := &recordingPublisher{}
	svc := New(repo, nil, publisher, Options{Now: func() time.Time { return fixedNow }})
	ctx := WithActor(context.Background(), domain.Actor{ID: 7, Email: "kasir@tokokami.id", Role: domain.RoleCashier})

	product, err := svc.CreateProduct(ctx, domain.ProductInput{
		Name: "Air Mineral", Category: "drink", Price: decimal.NewFromInt(5000), CostPrice: decimal.NewFromInt(2000), Stock: 10,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	resp, err := svc.Checkout(ctx, checkoutRequest(domain.CartItem{ProductID: product.ID, Quantity: 3}))
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if len(publisher.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(publisher.events))
	}
	event := publisher.events[0]
	if event.Type != domain.EventSaleCompleted || event.EntityID != resp.TransactionID || event.Total != "15000" || event.Actor != "kasir@tokokami.id" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestProductCostFollowsRecipe(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	product, err := f.svc.CreateProduct(ctx, domain.ProductInput{
		Name: "Espresso", Category: "coffee", Price: decimal.NewFromInt(18000), Stock: 10,
		Ingredients: []domain.IngredientInput{
			{RawMaterialID: f.materialID, Amount: decimal.NewFromInt(4)},
			{RawMaterialID: f.materialID, Amount: decimal.NewFromInt(3)},
		},
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if product.ManualCost {
		t.Fatalf("expected recipe cost by default when ingredients are present")
	}
	if len(product.Ingredients) != 1 || !product.Ingredients[0].Amount.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected merged ingredient amount 7, got %+v", product.Ingredients)
	}
	if !product.CostPrice.Equal(decimal.NewFromInt(3500)) {
		t.Fatalf("expected cost 3500, got %s", product.CostPrice)
	}

	if _, err := f.svc.UpdateRawMaterial(ctx, f.materialID, domain.RawMaterialInput{
		Name: "Biji Kopi", Unit: "g", Stock: decimal.NewFromInt(1000), UnitCost: decimal.NewFromInt(600),
	}); err != nil {
		t.Fatalf("update raw material failed: %v", err)
	}

	repriced, _ := f.svc.GetProduct(ctx, product.ID)
	if !repriced.CostPrice.Equal(decimal.NewFromInt(4200)) {
		t.Fatalf("expected cost 4200 after unit cost change, got %s", repriced.CostPrice)
	}
	manual, _ := f.svc.GetProduct(ctx, f.productID)
	if !manual.CostPrice.Equal(decimal.NewFromInt(15000)) {
		t.Fatalf("expected manual cost to stay 15000, got %s", manual.CostPrice)
	}

	preview, err := f.svc.PreviewCost(ctx, domain.CostPreviewRequest{
		Ingredients: []domain.IngredientInput{{RawMaterialID: f.materialID, Amount: decimal.RequireFromString("2.5")}},
	})
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if !preview.CostPrice.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("expected preview 1500, got %s", preview.CostPrice)
	}
}

func TestProductValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	cases := map[string]domain.ProductInput{
		"missing name":     {Category: "coffee"},
		"missing category": {Name: "X"},
		"negative price":   {Name: "X", Category: "c", Price: decimal.NewFromInt(-1)},
		"negative stock":   {Name: "X", Category: "c", Stock: -1},
		"negative amount":  {Name: "X", Category: "c", Ingredients: []domain.IngredientInput{{RawMaterialID: f.materialID, Amount: decimal.NewFromInt(-1)}}},
		"missing material": {Name: "X", Category: "c", Ingredients: []domain.IngredientInput{{Amount: decimal.NewFromInt(1)}}},
	}
	for name, req := range cases {
		if _, err := f.svc.CreateProduct(ctx, req); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestDeleteGuards(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if err := f.svc.DeleteRawMaterial(ctx, f.materialID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict deleting material used by a recipe, got %v", err)
	}

	if _, err := f.svc.Checkout(ctx, checkoutRequest(domain.CartItem{ProductID: f.productID, Quantity: 1})); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if err := f.svc.DeleteProduct(ctx, f.productID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict deleting product with sales, got %v", err)
	}
	if err := f.svc.DeleteProduct(ctx, 999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreatePurchaseIncreasesStock(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	purchase, err := f.svc.CreatePurchase(ctx, domain.PurchaseRequest{
		Supplier: "Kopi Nusantara",
		Items: []domain.PurchaseItemInput{
			{RawMaterialID: f.materialID, Quantity: decimal.NewFromInt(250), UnitCost: decimal.NewFromInt(480)},
			{RawMaterialID: f.materialID, Quantity: decimal.NewFromInt(50), UnitCost: decimal.NewFromInt(500)},
		},
	})
	if err != nil {
		t.Fatalf("create purchase failed: %v", err)
	}
	if !purchase.TotalAmount.Equal(decimal.NewFromInt(145000)) {
		t.Fatalf("expected total 145000, got %s", purchase.TotalAmount)
	}
	if !purchase.Date.Equal(fixedNow) {
		t.Fatalf("expected purchase date to default to now, got %s", purchase.Date)
	}
	if len(purchase.Items) != 2 || !purchase.Items[0].Total.Equal(decimal.NewFromInt(120000)) {
		t.Fatalf("unexpected purchase items %+v", purchase.Items)
	}

	material, _ := f.svc.GetRawMaterial(ctx, f.materialID)
	if !material.Stock.Equal(decimal.NewFromInt(1300)) {
		t.Fatalf("expected stock 1300, got %s", material.Stock)
	}
	if !material.UnitCost.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected unit cost to stay 500, got %s", material.UnitCost)
	}

	got, err := f.svc.GetPurchase(ctx, purchase.ID)
	if err != nil || got.Supplier != "Kopi Nusantara" {
		t.Fatalf("get purchase failed: %+v %v", got, err)
	}
}

func TestCreatePurchaseValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	item := domain.PurchaseItemInput{RawMaterialID: f.materialID, Quantity: decimal.NewFromInt(1), UnitCost: decimal.NewFromInt(1)}

	cases := map[string]domain.PurchaseRequest{
		"missing supplier": {Items: []domain.PurchaseItemInput{item}},
		"no items":         {Supplier: "S"},
		"bad date":         {Supplier: "S", Date: "15/03/2026", Items: []domain.PurchaseItemInput{item}},
		"zero quantity":    {Supplier: "S", Items: []domain.PurchaseItemInput{{RawMaterialID: f.materialID, UnitCost: decimal.NewFromInt(1)}}},
	}
	for name, req := range cases {
		if _, err := f.svc.CreatePurchase(ctx, req); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}

	_, err := f.svc.CreatePurchase(ctx, domain.PurchaseRequest{
		Supplier: "S",
		Items:    []domain.PurchaseItemInput{{RawMaterialID: 999, Quantity: decimal.NewFromInt(1), UnitCost: decimal.NewFromInt(1)}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown raw material, got %v", err)
	}
}

func TestSalesTrendBuckets(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	sellAt := func(at time.Time, qty int) {
		f.svc.opts.Now = func() time.Time { return at }
		if _, err := f.svc.Checkout(ctx, checkoutRequest(domain.CartItem{ProductID: f.productID, Quantity: qty})); err != nil {
			t.Fatalf("checkout at %s failed: %v", at, err)
		}
	}
	sellAt(fixedNow.AddDate(0, -3, 0), 1)
	sellAt(fixedNow.AddDate(0, 0, -10), 1)
	sellAt(fixedNow.AddDate(0, 0, -2), 1)
	sellAt(fixedNow.Add(-2*time.Hour), 1)
	sellAt(fixedNow, 2)
	f.svc.opts.Now = func() time.Time { return fixedNow }

	week, err := f.svc.SalesTrend(ctx, TrendWeek)
	if err != nil {
		t.Fatalf("week trend failed: %v", err)
	}
	if len(week) != 2 || week[0].Date != "2026-03-13" || week[1].Date != "2026-03-15" {
		t.Fatalf("unexpected week buckets %+v", week)
	}
	if !week[1].Sales.Equal(decimal.NewFromInt(75000)) {
		t.Fatalf("expected 75000 today, got %s", week[1].Sales)
	}

	month, err := f.svc.SalesTrend(ctx, "")
	if err != nil {
		t.Fatalf("month trend failed: %v", err)
	}
	if len(month) != 3 {
		t.Fatalf("expected 3 daily buckets in month range, got %+v", month)
	}

	year, err := f.svc.SalesTrend(ctx, TrendYear)
	if err != nil {
		t.Fatalf("year trend failed: %v", err)
	}
	if len(year) != 2 || year[0].Date != "2025-12" || year[1].Date != "2026-03" {
		t.Fatalf("unexpected year buckets %+v", year)
	}

	if _, err := f.svc.SalesTrend(ctx, "decade"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for unknown range, got %v", err)
	}
}

func TestTopProductsClampsLimit(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := f.svc.Checkout(ctx, checkoutRequest(domain.CartItem{ProductID: f.productID, Quantity: 3})); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	top, err := f.svc.TopProducts(ctx, 0)
	if err != nil {
		t.Fatalf("top products failed: %v", err)
	}
	if len(top) != 1 || top[0].Name != "Kopi Susu" || top[0].Value != 3 {
		t.Fatalf("unexpected top products %+v", top)
	}
	if _, err := f.svc.TopProducts(ctx, 1000); err != nil {
		t.Fatalf("top products with large limit failed: %v", err)
	}
}

func TestReportDetailsInventory(t *testing.T) {
	f := newFixture(t, Options{LowStockThreshold: 20})
	ctx := context.Background()

	if _, err := f.svc.CreateProduct(ctx, domain.ProductInput{
		Name: "Croissant", Category: "pastry", Price: decimal.NewFromInt(20000), CostPrice: decimal.NewFromInt(9000), Stock: 4,
	}); err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if _, err := f.svc.CreateRawMaterial(ctx, domain.RawMaterialInput{
		Name: "Gula", Unit: "kg", Stock: decimal.NewFromInt(3), UnitCost: decimal.NewFromInt(15000),
	}); err != nil {
		t.Fatalf("create raw material failed: %v", err)
	}
	if _, err := f.svc.Checkout(ctx, checkoutRequest(domain.CartItem{ProductID: f.productID, Quantity: 2})); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	details, err := f.svc.ReportDetails(ctx)
	if err != nil {
		t.Fatalf("report details failed: %v", err)
	}

	fin := details.Financials
	if !fin.Revenue.Equal(decimal.NewFromInt(50000)) || !fin.Expenses.Equal(decimal.NewFromInt(30000)) || !fin.Profit.Equal(decimal.NewFromInt(20000)) {
		t.Fatalf("unexpected financials %+v", fin)
	}
	if len(fin.RecentTransactions) != 1 {
		t.Fatalf("expected 1 recent transaction, got %d", len(fin.RecentTransactions))
	}

	inv := details.Inventory
	if len(inv.StockLevels) != 2 || inv.StockLevels[0].Name != "Croissant" || !inv.StockLevels[0].IsLow || inv.StockLevels[1].IsLow {
		t.Fatalf("unexpected stock levels %+v", inv.StockLevels)
	}
	if inv.LowStockItems != 1 {
		t.Fatalf("expected 1 low stock item, got %d", inv.LowStockItems)
	}
	// 15000 * 48 + 9000 * 4
	if !inv.TotalValue.Equal(decimal.NewFromInt(756000)) {
		t.Fatalf("expected inventory value 756000, got %s", inv.TotalValue)
	}
	if len(inv.LowRawMaterials) != 1 || inv.LowRawMaterials[0].Name != "Gula" {
		t.Fatalf("unexpected low raw materials %+v", inv.LowRawMaterials)
	}
}

func TestReportsAreCachedUntilInvalidated(t *testing.T) {
	repo := memory.New()
	c := newMapCache()
	svc := New(repo, c, nil, Options{Now: func() time.Time { return fixedNow }})
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, domain.ProductInput{
		Name: "Air Mineral", Category: "drink", Price: decimal.NewFromInt(5000), CostPrice: decimal.NewFromInt(2000), Stock: 10,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}

	if _, err := svc.ListProducts(ctx); err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	summary, err := svc.SalesSummary(ctx)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.TotalTransactions != 0 {
		t.Fatalf("expected no transactions yet, got %d", summary.TotalTransactions)
	}
	if !c.has(cache.VersionedKey(cache.KeyProductList, 0)) || !c.has(cache.VersionedKey(cache.KeyReportsBase+"summary", 0)) {
		t.Fatalf("expected product list and summary to be cached")
	}

	if _, err := svc.Checkout(ctx, checkoutRequest(domain.CartItem{ProductID: product.ID, Quantity: 1})); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if c.has(cache.VersionedKey(cache.KeyProductList, 0)) || c.has(cache.VersionedKey(cache.KeyReportsBase+"summary", 0)) {
		t.Fatalf("expected checkout to invalidate cached catalog and reports")
	}
	if c.generations[cache.ScopeProducts] != 1 || c.generations[cache.ScopeReports] != 1 {
		t.Fatalf("expected checkout to bump both generations, got %+v", c.generations)
	}

	summary, err = svc.SalesSummary(ctx)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.TotalTransactions != 1 || !summary.TotalSales.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("unexpected summary after checkout %+v", summary)
	}

	products, err := svc.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	if products[0].Stock != 9 {
		t.Fatalf("expected fresh stock 9, got %d", products[0].Stock)
	}
}

func TestProductListLoadedBeforeCheckoutIsNotServedAfterIt(t *testing.T) {
	repo := memory.New()
	c := newMapCache()
	svc := New(repo, c, nil, Options{Now: func() time.Time { return fixedNow }})
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, domain.ProductInput{
		Name: "Kopi Tubruk", Category: "coffee", Price: decimal.NewFromInt(12000), CostPrice: decimal.NewFromInt(4000), Stock: 50,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}

	// The sale commits after the list was read but before it reaches the cache.
	c.beforeSet = func() {
		if _, err := svc.Checkout(ctx, checkoutRequest(domain.CartItem{ProductID: product.ID, Quantity: 2})); err != nil {
			t.Errorf("checkout failed: %v", err)
		}
	}
	stale, err := svc.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	if stale[0].Stock != 50 {
		t.Fatalf("expected the in-flight read to see stock 50, got %d", stale[0].Stock)
	}

	products, err := svc.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	if products[0].Stock != 48 {
		t.Fatalf("expected stock 48 after the sale, got %d", products[0].Stock)
	}

	again, err := svc.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	if again[0].Stock != 48 || !c.has(cache.VersionedKey(cache.KeyProductList, 1)) {
		t.Fatalf("expected the fresh list to be cached under generation 1, got stock %d", again[0].Stock)
	}
}

func TestCheckoutLineTotalsSumToSubtotal(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	tea, err := f.svc.CreateProduct(ctx, domain.ProductInput{
		Name: "Teh Tarik", Category: "tea", Price: decimal.RequireFromString("18500.50"), CostPrice: decimal.NewFromInt(6000), Stock: 20,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}

	resp, err := f.svc.Checkout(ctx, checkoutRequest(
		domain.CartItem{ProductID: f.productID, Quantity: 2},
		domain.CartItem{ProductID: tea.ID, Quantity: 3},
		domain.CartItem{ProductID: f.productID, Quantity: 1},
	))
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	tx := resp.Transaction
	if len(tx.Items) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(tx.Items))
	}
	lineSum := decimal.Zero
	profitSum := decimal.Zero
	for _, item := range tx.Items {
		lineSum = lineSum.Add(item.TotalPrice)
		profitSum = profitSum.Add(item.Profit)
	}
	if !lineSum.Equal(tx.Subtotal) {
		t.Fatalf("expected line totals %s to equal subtotal %s", lineSum, tx.Subtotal)
	}
	if !profitSum.Equal(tx.Profit) {
		t.Fatalf("expected line profits %s to equal profit %s", profitSum, tx.Profit)
	}
	// 25000 * 3 + 18500.50 * 3
	if !tx.Subtotal.Equal(decimal.RequireFromString("130501.5")) {
		t.Fatalf("expected subtotal 130501.5, got %s", tx.Subtotal)
	}

	stored, err := f.svc.GetTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get transaction failed: %v", err)
	}
	storedSum := decimal.Zero
	for _, item := range stored.Items {
		storedSum = storedSum.Add(item.TotalPrice)
	}
	if !storedSum.Equal(stored.Subtotal) {
		t.Fatalf("expected stored line totals %s to equal stored subtotal %s", storedSum, stored.Subtotal)
	}
}
