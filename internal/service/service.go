package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BryanFarras/TokoKami/internal/cache"
	"github.com/BryanFarras/TokoKami/internal/domain"
	"github.com/BryanFarras/TokoKami/internal/recipe"
	"github.com/BryanFarras/TokoKami/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	LowStockThreshold int
	IngredientPolicy  string
	ReportCacheTTL    time.Duration
	ProductCacheTTL   time.Duration
	Now               func() time.Time
}

type Service struct {
	repo      store.Repository
	cache     cache.Cache
	publisher cache.Publisher
	opts      Options
}

func New(repo store.Repository, c cache.Cache, publisher cache.Publisher, opts Options) *Service {
	if c == nil {
		c = cache.NoopCache{}
	}
	if publisher == nil {
		publisher = cache.NoopPublisher{}
	}
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = 10
	}
	if opts.IngredientPolicy == "" {
		opts.IngredientPolicy = domain.IngredientPolicyReject
	}
	if opts.ReportCacheTTL <= 0 {
		opts.ReportCacheTTL = 30 * time.Second
	}
	if opts.ProductCacheTTL <= 0 {
		opts.ProductCacheTTL = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:      repo,
		cache:     c,
		publisher: publisher,
		opts:      opts,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return cachedLoad(ctx, s, cache.ScopeProducts, cache.KeyProductList, s.opts.ProductCacheTTL, s.repo.ListProducts)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductInput) (domain.Product, error) {
	product, err := productFromInput(req)
	if err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateCatalog(ctx)
	return *created, nil
}

// UpdateProduct replaces the product, ingredient list included.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductInput) (domain.Product, error) {
	product, err := productFromInput(req)
	if err != nil {
		return domain.Product{}, err
	}
	product.ID = id

	updated, err := s.repo.UpdateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateCatalog(ctx)
	return *updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.invalidateCatalog(ctx)
	return nil
}

// PreviewCost rolls up an unsaved recipe against current raw material costs.
func (s *Service) PreviewCost(ctx context.Context, req domain.CostPreviewRequest) (domain.CostPreviewResponse, error) {
	ingredients, err := recipe.Normalize(ingredientsFromInput(req.Ingredients))
	if err != nil {
		return domain.CostPreviewResponse{}, err
	}
	return s.repo.PreviewCost(ctx, ingredients)
}

func productFromInput(req domain.ProductInput) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Image = strings.TrimSpace(req.Image)

	if req.Name == "" {
		return domain.Product{}, store.Validation("name is required")
	}
	if req.Category == "" {
		return domain.Product{}, store.Validation("category is required")
	}
	if req.Price.IsNegative() {
		return domain.Product{}, store.Validation("price must not be negative")
	}
	if req.CostPrice.IsNegative() {
		return domain.Product{}, store.Validation("cost_price must not be negative")
	}
	if req.Stock < 0 {
		return domain.Product{}, store.Validation("stock must not be negative")
	}

	ingredients, err := recipe.Normalize(ingredientsFromInput(req.Ingredients))
	if err != nil {
		return domain.Product{}, err
	}

	manual := len(ingredients) == 0
	if req.ManualCost != nil {
		manual = *req.ManualCost
	}

	return domain.Product{
		Name:        req.Name,
		Category:    req.Category,
		Price:       req.Price,
		CostPrice:   req.CostPrice,
		ManualCost:  manual,
		Stock:       req.Stock,
		Image:       req.Image,
		Ingredients: ingredients,
	}, nil
}

func ingredientsFromInput(inputs []domain.IngredientInput) []domain.Ingredient {
	ingredients := make([]domain.Ingredient, 0, len(inputs))
	for _, in := range inputs {
		ingredients = append(ingredients, domain.Ingredient{RawMaterialID: in.RawMaterialID, Amount: in.Amount})
	}
	return ingredients
}

func (s *Service) ListRawMaterials(ctx context.Context) ([]domain.RawMaterial, error) {
	return s.repo.ListRawMaterials(ctx)
}

func (s *Service) GetRawMaterial(ctx context.Context, id int64) (domain.RawMaterial, error) {
	material, err := s.repo.GetRawMaterial(ctx, id)
	if err != nil {
		return domain.RawMaterial{}, err
	}
	return *material, nil
}

func (s *Service) CreateRawMaterial(ctx context.Context, req domain.RawMaterialInput) (domain.RawMaterial, error) {
	material, err := rawMaterialFromInput(req)
	if err != nil {
		return domain.RawMaterial{}, err
	}
	created, err := s.repo.CreateRawMaterial(ctx, material)
	if err != nil {
		return domain.RawMaterial{}, err
	}
	s.invalidateReports(ctx)
	return *created, nil
}

// UpdateRawMaterial may change unit_cost, which re-prices recipe-costed
// products, so the product cache is dropped too.
func (s *Service) UpdateRawMaterial(ctx context.Context, id int64, req domain.RawMaterialInput) (domain.RawMaterial, error) {
	material, err := rawMaterialFromInput(req)
	if err != nil {
		return domain.RawMaterial{}, err
	}
	material.ID = id

	updated, err := s.repo.UpdateRawMaterial(ctx, material)
	if err != nil {
		return domain.RawMaterial{}, err
	}
	s.invalidateCatalog(ctx)
	return *updated, nil
}

func (s *Service) DeleteRawMaterial(ctx context.Context, id int64) error {
	if err := s.repo.DeleteRawMaterial(ctx, id); err != nil {
		return err
	}
	s.invalidateReports(ctx)
	return nil
}

func rawMaterialFromInput(req domain.RawMaterialInput) (domain.RawMaterial, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Unit = strings.TrimSpace(req.Unit)
	req.Supplier = strings.TrimSpace(req.Supplier)

	if req.Name == "" {
		return domain.RawMaterial{}, store.Validation("name is required")
	}
	if req.Unit == "" {
		return domain.RawMaterial{}, store.Validation("unit is required")
	}
	if req.Stock.IsNegative() {
		return domain.RawMaterial{}, store.Validation("stock must not be negative")
	}
	if req.UnitCost.IsNegative() {
		return domain.RawMaterial{}, store.Validation("unit_cost must not be negative")
	}

	return domain.RawMaterial{
		Name:     req.Name,
		Unit:     req.Unit,
		Stock:    req.Stock,
		UnitCost: req.UnitCost,
		Supplier: req.Supplier,
	}, nil
}

func (s *Service) ListPurchases(ctx context.Context) ([]domain.Purchase, error) {
	return s.repo.ListPurchases(ctx)
}

func (s *Service) GetPurchase(ctx context.Context, id int64) (domain.Purchase, error) {
	purchase, err := s.repo.GetPurchase(ctx, id)
	if err != nil {
		return domain.Purchase{}, err
	}
	return *purchase, nil
}

// CreatePurchase receives goods from a supplier. Line totals and the header
// amount are always computed server side.
func (s *Service) CreatePurchase(ctx context.Context, req domain.PurchaseRequest) (domain.Purchase, error) {
	req.Supplier = strings.TrimSpace(req.Supplier)
	req.Notes = strings.TrimSpace(req.Notes)
	if req.Supplier == "" {
		return domain.Purchase{}, store.Validation("supplier is required")
	}
	if len(req.Items) == 0 {
		return domain.Purchase{}, store.Validation("items cannot be empty")
	}

	date := s.opts.Now().UTC()
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(req.Date))
		if err != nil {
			return domain.Purchase{}, store.Validation("date must be formatted YYYY-MM-DD")
		}
		date = parsed.UTC()
	}

	items := make([]domain.PurchaseItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.RawMaterialID < 1 {
			return domain.Purchase{}, store.Validation("raw_material_id is required")
		}
		if !item.Quantity.IsPositive() {
			return domain.Purchase{}, store.Validation("quantity must be greater than zero")
		}
		if item.UnitCost.IsNegative() {
			return domain.Purchase{}, store.Validation("unit_cost must not be negative")
		}
		items = append(items, domain.PurchaseItem{
			RawMaterialID: item.RawMaterialID,
			Quantity:      item.Quantity,
			UnitCost:      item.UnitCost,
		})
	}

	created, err := s.repo.CreatePurchase(ctx, domain.Purchase{
		Date:     date,
		Supplier: req.Supplier,
		Notes:    req.Notes,
		Items:    items,
	})
	if err != nil {
		return domain.Purchase{}, err
	}

	s.invalidateReports(ctx)
	s.publish(ctx, domain.EventPurchaseReceived, created.ID, created.TotalAmount)
	return *created, nil
}

func (s *Service) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return s.repo.ListTransactions(ctx)
}

func (s *Service) GetTransaction(ctx context.Context, id int64) (domain.Transaction, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

var supportedPaymentMethods = map[string]bool{
	"cash":     true,
	"card":     true,
	"qris":     true,
	"transfer": true,
	"ewallet":  true,
}

// Checkout validates the cart and hands it to the repository, which prices
// every line from rows it reads inside one database transaction.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	req.CashierName = strings.TrimSpace(req.CashierName)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.Notes = strings.TrimSpace(req.Notes)

	if len(req.Items) == 0 {
		return domain.CheckoutResponse{}, store.Validation("items cannot be empty")
	}
	for _, item := range req.Items {
		if item.ProductID < 1 {
			return domain.CheckoutResponse{}, store.Validation("productId is required")
		}
		if item.Quantity < 1 {
			return domain.CheckoutResponse{}, store.Validation("quantity must be greater than zero")
		}
	}
	if req.PaymentMethod == "" {
		return domain.CheckoutResponse{}, store.Validation("payment_method is required")
	}
	if !supportedPaymentMethods[req.PaymentMethod] {
		return domain.CheckoutResponse{}, store.Validation("unsupported payment_method %q", req.PaymentMethod)
	}
	if req.CashierName == "" {
		return domain.CheckoutResponse{}, store.Validation("cashier_name is required")
	}
	if req.Discount.IsNegative() {
		return domain.CheckoutResponse{}, store.Validation("discount must not be negative")
	}
	if req.Tax.IsNegative() {
		return domain.CheckoutResponse{}, store.Validation("tax must not be negative")
	}

	allowNegative := s.opts.IngredientPolicy == domain.IngredientPolicyAllowNegative
	tx, err := s.repo.CreateCheckout(ctx, domain.Sale{
		Date:                     s.opts.Now().UTC(),
		Discount:                 req.Discount,
		Tax:                      req.Tax,
		PaymentMethod:            req.PaymentMethod,
		CashierName:              req.CashierName,
		CustomerName:             req.CustomerName,
		Notes:                    req.Notes,
		Items:                    req.Items,
		AllowNegativeIngredients: allowNegative,
	})
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	s.invalidateCatalog(ctx)
	s.publish(ctx, domain.EventSaleCompleted, tx.ID, tx.Total)

	return domain.CheckoutResponse{
		Message:       "Transaction completed successfully",
		TransactionID: tx.ID,
		Transaction:   *tx,
	}, nil
}

func (s *Service) publish(ctx context.Context, eventType string, entityID int64, total decimal.Decimal) {
	event := domain.Event{
		Type:      eventType,
		EntityID:  entityID,
		Total:     total.String(),
		CreatedAt: s.opts.Now().UTC(),
	}
	if actor, ok := ActorFromContext(ctx); ok {
		event.Actor = actor.Email
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Printf("[service] WARN: failed to publish %s id=%d: %v", eventType, entityID, err)
	}
}

// invalidateCatalog drops the product list and every report, since stock and
// cost feed both.
func (s *Service) invalidateCatalog(ctx context.Context) {
	s.invalidate(ctx, cache.ScopeProducts, cache.KeyProductList)
	s.invalidateReports(ctx)
}

func (s *Service) invalidateReports(ctx context.Context) {
	s.invalidate(ctx, cache.ScopeReports, cache.KeyReportsBase)
}

// invalidate moves scope to a new generation, then sweeps the entries left
// under older ones.
func (s *Service) invalidate(ctx context.Context, scope, prefix string) {
	if err := s.cache.BumpGeneration(ctx, scope); err != nil {
		log.Printf("[service] WARN: failed to invalidate %s cache: %v", scope, err)
	}
	if err := s.cache.DeletePrefix(ctx, prefix); err != nil {
		log.Printf("[service] WARN: failed to sweep %s cache: %v", scope, err)
	}
}

// cachedLoad serves key from the cache or fills it from load. The key is
// pinned to the scope generation read before load, so a result that raced an
// invalidation lands under a generation nobody reads again. Cache failures
// are logged and fall through to load.
func cachedLoad[T any](ctx context.Context, s *Service, scope, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	gen, err := s.cache.Generation(ctx, scope)
	if err != nil {
		log.Printf("[service] WARN: cache generation %s failed: %v", scope, err)
		return load(ctx)
	}
	key = cache.VersionedKey(key, gen)

	var cached T
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		log.Printf("[service] WARN: cache get %s failed: %v", key, err)
	}
	if hit {
		return cached, nil
	}

	value, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := s.cache.Set(ctx, key, value, ttl); err != nil {
		log.Printf("[service] WARN: cache set %s failed: %v", key, err)
	}
	return value, nil
}
