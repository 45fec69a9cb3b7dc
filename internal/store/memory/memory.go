package memory

import (
	"cmp"
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/BryanFarras/TokoKami/internal/domain"
	"github.com/BryanFarras/TokoKami/internal/recipe"
	"github.com/BryanFarras/TokoKami/internal/store"
)

type Store struct {
	mu           sync.RWMutex
	products     map[int64]domain.Product
	rawMaterials map[int64]domain.RawMaterial
	purchases    map[int64]domain.Purchase
	transactions map[int64]domain.Transaction
	users        map[int64]domain.UserAccount
	nextID       map[string]int64
}

func New() *Store {
	return &Store{
		products:     make(map[int64]domain.Product),
		rawMaterials: make(map[int64]domain.RawMaterial),
		purchases:    make(map[int64]domain.Purchase),
		transactions: make(map[int64]domain.Transaction),
		users:        make(map[int64]domain.UserAccount),
		nextID:       make(map[string]int64),
	}
}

// NewSeeded returns a store with demo catalog data and two accounts for
// dev mode. Credentials come from SEED_ADMIN_PASSWORD and
// SEED_CASHIER_PASSWORD, falling back to dev defaults with a warning.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	materials := []domain.RawMaterial{
		{Name: "Biji Kopi Arabika", Unit: "kg", Stock: decimal.RequireFromString("5"), UnitCost: decimal.NewFromInt(200000), Supplier: "Kopi Nusantara"},
		{Name: "Susu Segar", Unit: "L", Stock: decimal.RequireFromString("20"), UnitCost: decimal.NewFromInt(20000), Supplier: "Dairy Lembang"},
		{Name: "Gula Aren", Unit: "kg", Stock: decimal.RequireFromString("8"), UnitCost: decimal.NewFromInt(40000), Supplier: "Pasar Induk"},
		{Name: "Teh Hitam", Unit: "kg", Stock: decimal.RequireFromString("2"), UnitCost: decimal.NewFromInt(120000), Supplier: "Pasar Induk"},
		{Name: "Lemon", Unit: "pcs", Stock: decimal.RequireFromString("60"), UnitCost: decimal.NewFromInt(2500), Supplier: "Pasar Induk"},
	}
	for _, m := range materials {
		m.ID = s.allocate("raw_materials")
		m.CreatedAt, m.UpdatedAt = now, now
		s.rawMaterials[m.ID] = m
	}

	products := []domain.Product{
		{Name: "Kopi Susu Signature", Category: "coffee", Price: decimal.NewFromInt(25000), Stock: 50, Ingredients: []domain.Ingredient{
			{RawMaterialID: 1, Amount: decimal.RequireFromString("0.018")},
			{RawMaterialID: 2, Amount: decimal.RequireFromString("0.15")},
			{RawMaterialID: 3, Amount: decimal.RequireFromString("0.02")},
		}},
		{Name: "Teh Lemon Dingin", Category: "tea", Price: decimal.NewFromInt(18000), Stock: 100, Ingredients: []domain.Ingredient{
			{RawMaterialID: 4, Amount: decimal.RequireFromString("0.005")},
			{RawMaterialID: 5, Amount: decimal.NewFromInt(1)},
		}},
		{Name: "Croissant Butter", Category: "pastry", Price: decimal.NewFromInt(22000), CostPrice: decimal.NewFromInt(11000), ManualCost: true, Stock: 24},
	}
	for _, p := range products {
		p.ID = s.allocate("products")
		p.CreatedAt, p.UpdatedAt = now, now
		if err := recipe.Apply(&p, s.unitCosts()); err != nil {
			log.Fatalf("[memory-store] seed recipe for %s: %v", p.Name, err)
		}
		s.products[p.ID] = p
	}

	for _, u := range []struct {
		name     string
		email    string
		password string
		role     string
	}{
		{"Admin", "admin@tokokami.id", envOr("SEED_ADMIN_PASSWORD", "admin123"), domain.RoleAdmin},
		{"Kasir", "cashier@tokokami.id", envOr("SEED_CASHIER_PASSWORD", "cashier123"), domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.email, err)
		}
		id := s.allocate("users")
		s.users[id] = domain.UserAccount{
			User:     domain.User{ID: id, Name: u.name, Email: u.email, Role: u.role, CreatedAt: now},
			Password: string(hash),
		}
	}
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

// allocate must be called with the write lock held.
func (s *Store) allocate(table string) int64 {
	s.nextID[table]++
	return s.nextID[table]
}

func (s *Store) unitCosts() map[int64]decimal.Decimal {
	costs := make(map[int64]decimal.Decimal, len(s.rawMaterials))
	for id, m := range s.rawMaterials {
		costs[id] = m.UnitCost
	}
	return costs
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, s.hydrateProduct(p))
	}
	slices.SortFunc(products, func(a, b domain.Product) int { return cmp.Compare(a.ID, b.ID) })
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.NotFound("product", id)
	}
	hydrated := s.hydrateProduct(p)
	return &hydrated, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.prepareProduct(&product); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	product.ID = s.allocate("products")
	product.CreatedAt, product.UpdatedAt = now, now
	s.products[product.ID] = cloneProduct(product)

	created := s.hydrateProduct(product)
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.NotFound("product", product.ID)
	}
	if err := s.prepareProduct(&product); err != nil {
		return nil, err
	}
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = cloneProduct(product)

	updated := s.hydrateProduct(product)
	return &updated, nil
}

// prepareProduct validates the recipe against known raw materials and rolls
// up cost. Must be called with the write lock held.
func (s *Store) prepareProduct(product *domain.Product) error {
	for _, ingredient := range product.Ingredients {
		if _, ok := s.rawMaterials[ingredient.RawMaterialID]; !ok {
			return store.NotFound("raw material", ingredient.RawMaterialID)
		}
	}
	return recipe.Apply(product, s.unitCosts())
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.NotFound("product", id)
	}
	for _, tx := range s.transactions {
		for _, item := range tx.Items {
			if item.ProductID == id {
				return store.Conflict("product %d is referenced by sales", id)
			}
		}
	}
	delete(s.products, id)
	return nil
}

func (s *Store) PreviewCost(_ context.Context, ingredients []domain.Ingredient) (domain.CostPreviewResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cost, err := recipe.Rollup(ingredients, s.unitCosts())
	if err != nil {
		return domain.CostPreviewResponse{}, err
	}
	return domain.CostPreviewResponse{CostPrice: cost}, nil
}

func (s *Store) ListRawMaterials(_ context.Context) ([]domain.RawMaterial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	materials := make([]domain.RawMaterial, 0, len(s.rawMaterials))
	for _, m := range s.rawMaterials {
		materials = append(materials, m)
	}
	slices.SortFunc(materials, func(a, b domain.RawMaterial) int { return cmp.Compare(a.ID, b.ID) })
	return materials, nil
}

func (s *Store) GetRawMaterial(_ context.Context, id int64) (*domain.RawMaterial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.rawMaterials[id]
	if !ok {
		return nil, store.NotFound("raw material", id)
	}
	return &m, nil
}

func (s *Store) CreateRawMaterial(_ context.Context, material domain.RawMaterial) (*domain.RawMaterial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	material.ID = s.allocate("raw_materials")
	material.CreatedAt, material.UpdatedAt = now, now
	s.rawMaterials[material.ID] = material
	return &material, nil
}

// UpdateRawMaterial replaces the material and, when its unit cost changed,
// recomputes cost for every recipe-costed product that uses it.
func (s *Store) UpdateRawMaterial(_ context.Context, material domain.RawMaterial) (*domain.RawMaterial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rawMaterials[material.ID]
	if !ok {
		return nil, store.NotFound("raw material", material.ID)
	}
	material.CreatedAt = existing.CreatedAt
	material.UpdatedAt = time.Now().UTC()
	s.rawMaterials[material.ID] = material

	if existing.UnitCost.Equal(material.UnitCost) {
		return &material, nil
	}
	costs := s.unitCosts()
	for id, p := range s.products {
		if p.ManualCost || !usesMaterial(p, material.ID) {
			continue
		}
		if err := recipe.Apply(&p, costs); err != nil {
			return nil, err
		}
		p.UpdatedAt = material.UpdatedAt
		s.products[id] = p
	}
	return &material, nil
}

func (s *Store) DeleteRawMaterial(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rawMaterials[id]; !ok {
		return store.NotFound("raw material", id)
	}
	for _, p := range s.products {
		if usesMaterial(p, id) {
			return store.Conflict("raw material %d is used by product %q", id, p.Name)
		}
	}
	for _, purchase := range s.purchases {
		for _, item := range purchase.Items {
			if item.RawMaterialID == id {
				return store.Conflict("raw material %d is referenced by purchases", id)
			}
		}
	}
	delete(s.rawMaterials, id)
	return nil
}

func (s *Store) ListPurchases(_ context.Context) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchases := make([]domain.Purchase, 0, len(s.purchases))
	for _, p := range s.purchases {
		purchases = append(purchases, s.hydratePurchase(p))
	}
	slices.SortFunc(purchases, func(a, b domain.Purchase) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return purchases, nil
}

func (s *Store) GetPurchase(_ context.Context, id int64) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.purchases[id]
	if !ok {
		return nil, store.NotFound("purchase", id)
	}
	hydrated := s.hydratePurchase(p)
	return &hydrated, nil
}

// CreatePurchase records the purchase and adds each received quantity to its
// raw material. Nothing is applied unless every item resolves.
func (s *Store) CreatePurchase(_ context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[int64]domain.RawMaterial, len(purchase.Items))
	for _, item := range purchase.Items {
		m, ok := staged[item.RawMaterialID]
		if !ok {
			m, ok = s.rawMaterials[item.RawMaterialID]
			if !ok {
				return nil, store.NotFound("raw material", item.RawMaterialID)
			}
		}
		m.Stock = m.Stock.Add(item.Quantity)
		staged[m.ID] = m
	}

	store.PurchaseTotals(&purchase)
	purchase.ID = s.allocate("purchases")
	purchase.CreatedAt = time.Now().UTC()
	purchase.Items = slices.Clone(purchase.Items)
	for i := range purchase.Items {
		purchase.Items[i].ID = s.allocate("purchase_items")
	}

	now := time.Now().UTC()
	for id, m := range staged {
		m.UpdatedAt = now
		s.rawMaterials[id] = m
	}
	s.purchases[purchase.ID] = purchase

	created := s.hydratePurchase(purchase)
	return &created, nil
}

func (s *Store) ListTransactions(_ context.Context) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := make([]domain.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		tx.Items = nil
		txs = append(txs, tx)
	}
	sortNewestFirst(txs)
	return txs, nil
}

func (s *Store) GetTransaction(_ context.Context, id int64) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.NotFound("transaction", id)
	}
	tx.Items = slices.Clone(tx.Items)
	return &tx, nil
}

// CreateCheckout posts a sale. Product and raw material changes are staged
// and only published once every line has been validated, so a failed
// checkout leaves the store untouched.
func (s *Store) CreateCheckout(_ context.Context, sale domain.Sale) (*domain.Transaction, error) {
	if len(sale.Items) == 0 {
		return nil, store.Validation("items cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	products := make(map[int64]domain.Product, len(sale.Items))
	materials := make(map[int64]domain.RawMaterial)
	items := make([]domain.TransactionItem, 0, len(sale.Items))

	for _, line := range sale.Items {
		product, ok := products[line.ProductID]
		if !ok {
			product, ok = s.products[line.ProductID]
			if !ok {
				return nil, store.NotFound("product", line.ProductID)
			}
		}
		if err := store.CheckProductStock(product, line.Quantity); err != nil {
			return nil, err
		}
		items = append(items, store.SaleLine(product, line.Quantity))

		product.Stock -= line.Quantity
		products[product.ID] = product

		for _, ingredient := range product.Ingredients {
			material, ok := materials[ingredient.RawMaterialID]
			if !ok {
				material, ok = s.rawMaterials[ingredient.RawMaterialID]
				if !ok {
					return nil, store.NotFound("raw material", ingredient.RawMaterialID)
				}
			}
			need := store.Consumption(ingredient, line.Quantity)
			if err := store.CheckMaterialStock(material, need, sale.AllowNegativeIngredients); err != nil {
				return nil, err
			}
			material.Stock = material.Stock.Sub(need)
			materials[material.ID] = material
		}
	}

	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}
	tx, err := store.FinalizeSale(sale, items)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for id, p := range products {
		p.UpdatedAt = now
		s.products[id] = p
	}
	for id, m := range materials {
		m.UpdatedAt = now
		s.rawMaterials[id] = m
	}
	tx.ID = s.allocate("transactions")
	for i := range tx.Items {
		tx.Items[i].ID = s.allocate("transaction_items")
	}
	s.transactions[tx.ID] = tx
	store.LogNegativeStock(tx.ID, materials)

	created := tx
	created.Items = slices.Clone(tx.Items)
	return &created, nil
}

func (s *Store) GetSalesSummary(_ context.Context) (domain.SalesSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.SalesSummary{TotalSales: decimal.Zero, TotalProfit: decimal.Zero}
	for _, tx := range s.transactions {
		summary.TotalSales = summary.TotalSales.Add(tx.Total)
		summary.TotalProfit = summary.TotalProfit.Add(tx.Profit)
		summary.TotalTransactions++
	}
	for _, p := range s.products {
		summary.TotalStock += int64(p.Stock)
	}
	return summary, nil
}

func (s *Store) ListSalesSince(_ context.Context, from time.Time) ([]domain.SalesRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.SalesRecord, 0, len(s.transactions))
	for _, tx := range s.transactions {
		if tx.Date.Before(from) {
			continue
		}
		records = append(records, domain.SalesRecord{Date: tx.Date, Total: tx.Total})
	}
	slices.SortFunc(records, func(a, b domain.SalesRecord) int { return a.Date.Compare(b.Date) })
	return records, nil
}

func (s *Store) GetTopProducts(_ context.Context, limit int) ([]domain.TopProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]int64)
	for _, tx := range s.transactions {
		for _, item := range tx.Items {
			totals[item.ProductName] += int64(item.Quantity)
		}
	}
	top := make([]domain.TopProduct, 0, len(totals))
	for name, qty := range totals {
		top = append(top, domain.TopProduct{Name: name, Value: qty})
	}
	slices.SortFunc(top, func(a, b domain.TopProduct) int {
		if c := cmp.Compare(b.Value, a.Value); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	if limit > 0 && len(top) > limit {
		top = top[:limit]
	}
	return top, nil
}

func (s *Store) GetFinancials(_ context.Context, recent int) (domain.Financials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fin := domain.Financials{Revenue: decimal.Zero, Expenses: decimal.Zero}
	txs := make([]domain.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		for _, item := range tx.Items {
			fin.Revenue = fin.Revenue.Add(item.TotalPrice)
			fin.Expenses = fin.Expenses.Add(item.CostPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
		tx.Items = nil
		txs = append(txs, tx)
	}
	fin.Profit = fin.Revenue.Sub(fin.Expenses)
	sortNewestFirst(txs)
	if recent > 0 && len(txs) > recent {
		txs = txs[:recent]
	}
	fin.RecentTransactions = txs
	return fin, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.emailTaken(user.Email, 0) {
		return nil, store.Conflict("email %s is already registered", user.Email)
	}
	user.ID = s.allocate("users")
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = user
	return &user, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetUserByID(_ context.Context, id int64) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.NotFound("user", id)
	}
	return &u, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int { return cmp.Compare(a.ID, b.ID) })
	return users, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return nil, store.NotFound("user", user.ID)
	}
	if s.emailTaken(user.Email, user.ID) {
		return nil, store.Conflict("email %s is already registered", user.Email)
	}
	user.CreatedAt = existing.CreatedAt
	s.users[user.ID] = user
	return &user, nil
}

func (s *Store) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return store.NotFound("user", id)
	}
	delete(s.users, id)
	return nil
}

func (s *Store) emailTaken(email string, exceptID int64) bool {
	for id, u := range s.users {
		if id != exceptID && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

// hydrateProduct fills read-only ingredient fields from the raw material table.
func (s *Store) hydrateProduct(p domain.Product) domain.Product {
	p = cloneProduct(p)
	for i, ingredient := range p.Ingredients {
		if m, ok := s.rawMaterials[ingredient.RawMaterialID]; ok {
			p.Ingredients[i].RawMaterialName = m.Name
			p.Ingredients[i].Unit = m.Unit
		}
	}
	return p
}

func (s *Store) hydratePurchase(p domain.Purchase) domain.Purchase {
	p.Items = slices.Clone(p.Items)
	for i, item := range p.Items {
		if m, ok := s.rawMaterials[item.RawMaterialID]; ok {
			p.Items[i].RawMaterialName = m.Name
		}
	}
	return p
}

func usesMaterial(p domain.Product, materialID int64) bool {
	for _, ingredient := range p.Ingredients {
		if ingredient.RawMaterialID == materialID {
			return true
		}
	}
	return false
}

func cloneProduct(p domain.Product) domain.Product {
	p.Ingredients = slices.Clone(p.Ingredients)
	if p.Ingredients == nil {
		p.Ingredients = []domain.Ingredient{}
	}
	return p
}

func sortNewestFirst(txs []domain.Transaction) {
	slices.SortFunc(txs, func(a, b domain.Transaction) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}
