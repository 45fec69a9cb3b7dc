package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	ManualCost  bool            `json:"manual_cost"`
	Stock       int             `json:"stock"`
	Image       string          `json:"image"`
	Ingredients []Ingredient    `json:"ingredients"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Ingredient is one line of a product recipe: Amount of the raw material is
// consumed per unit of product sold.
type Ingredient struct {
	RawMaterialID   int64           `json:"raw_material_id"`
	RawMaterialName string          `json:"raw_material_name,omitempty"`
	Unit            string          `json:"unit,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
}

type IngredientInput struct {
	RawMaterialID int64           `json:"raw_material_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// ProductInput is the payload of product create and update. Update replaces
// the whole product, ingredient list included.
type ProductInput struct {
	Name        string            `json:"name"`
	Category    string            `json:"category"`
	Price       decimal.Decimal   `json:"price"`
	CostPrice   decimal.Decimal   `json:"cost_price"`
	ManualCost  *bool             `json:"manual_cost,omitempty"`
	Stock       int               `json:"stock"`
	Image       string            `json:"image"`
	Ingredients []IngredientInput `json:"ingredients"`
}

type CostPreviewRequest struct {
	Ingredients []IngredientInput `json:"ingredients"`
}

type CostPreviewResponse struct {
	CostPrice decimal.Decimal `json:"cost_price"`
}

type RawMaterial struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	Stock     decimal.Decimal `json:"stock"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Supplier  string          `json:"supplier"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type RawMaterialInput struct {
	Name     string          `json:"name"`
	Unit     string          `json:"unit"`
	Stock    decimal.Decimal `json:"stock"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Supplier string          `json:"supplier"`
}

type Purchase struct {
	ID          int64           `json:"id"`
	Date        time.Time       `json:"date"`
	Supplier    string          `json:"supplier"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Notes       string          `json:"notes"`
	Items       []PurchaseItem  `json:"items"`
	CreatedAt   time.Time       `json:"created_at"`
}

type PurchaseItem struct {
	ID              int64           `json:"id"`
	RawMaterialID   int64           `json:"raw_material_id"`
	RawMaterialName string          `json:"raw_material_name,omitempty"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	Total           decimal.Decimal `json:"total"`
}

type PurchaseItemInput struct {
	RawMaterialID int64           `json:"raw_material_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
}

type PurchaseRequest struct {
	Date     string              `json:"date"`
	Supplier string              `json:"supplier"`
	Notes    string              `json:"notes"`
	Items    []PurchaseItemInput `json:"items"`
}

type CartItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type CheckoutRequest struct {
	Discount      decimal.Decimal `json:"discount"`
	Tax           decimal.Decimal `json:"tax"`
	PaymentMethod string          `json:"payment_method"`
	CashierName   string          `json:"cashier_name"`
	CustomerName  string          `json:"customer_name"`
	Notes         string          `json:"notes"`
	Items         []CartItem      `json:"items"`
}

type CheckoutResponse struct {
	Message       string      `json:"message"`
	TransactionID int64       `json:"transactionId"`
	Transaction   Transaction `json:"transaction"`
}

// Sale is the validated checkout handed to the repository. Totals are always
// computed by the repository from rows read inside its transaction.
type Sale struct {
	Date                     time.Time
	Discount                 decimal.Decimal
	Tax                      decimal.Decimal
	PaymentMethod            string
	CashierName              string
	CustomerName             string
	Notes                    string
	Items                    []CartItem
	AllowNegativeIngredients bool
}

type Transaction struct {
	ID            int64             `json:"id"`
	Date          time.Time         `json:"date"`
	Subtotal      decimal.Decimal   `json:"subtotal"`
	Discount      decimal.Decimal   `json:"discount"`
	Tax           decimal.Decimal   `json:"tax"`
	Total         decimal.Decimal   `json:"total"`
	Profit        decimal.Decimal   `json:"profit"`
	PaymentMethod string            `json:"payment_method"`
	CashierName   string            `json:"cashier_name"`
	CustomerName  string            `json:"customer_name,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	Items         []TransactionItem `json:"items,omitempty"`
}

// TransactionItem snapshots the product at the time of sale so later product
// edits do not change historical reports.
type TransactionItem struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Profit      decimal.Decimal `json:"profit"`
}

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	User
	Password string `json:"-"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	User      User   `json:"user"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UserUpdateRequest struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
	Role     *string `json:"role,omitempty"`
}

// Actor is the identity decoded from a bearer token.
type Actor struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type SalesSummary struct {
	TotalSales        decimal.Decimal `json:"total_sales"`
	TotalTransactions int64           `json:"total_transactions"`
	TotalProfit       decimal.Decimal `json:"total_profit"`
	TotalStock        int64           `json:"total_stock"`
}

type TrendPoint struct {
	Date  string          `json:"date"`
	Sales decimal.Decimal `json:"sales"`
}

type TopProduct struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

type Financials struct {
	Revenue            decimal.Decimal `json:"revenue"`
	Expenses           decimal.Decimal `json:"expenses"`
	Profit             decimal.Decimal `json:"profit"`
	RecentTransactions []Transaction   `json:"recentTransactions"`
}

type StockLevel struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Stock int    `json:"stock"`
	IsLow bool   `json:"isLow"`
}

type InventoryReport struct {
	StockLevels     []StockLevel    `json:"stockLevels"`
	TotalValue      decimal.Decimal `json:"totalValue"`
	LowStockItems   int             `json:"lowStockItems"`
	LowRawMaterials []RawMaterial   `json:"lowRawMaterials"`
}

type ReportDetails struct {
	Financials Financials      `json:"financials"`
	Inventory  InventoryReport `json:"inventory"`
}

// SalesRecord is the slim row the trend report buckets in Go so the query
// stays portable across SQL dialects.
type SalesRecord struct {
	Date  time.Time
	Total decimal.Decimal
}

type Event struct {
	Type      string    `json:"type"`
	EntityID  int64     `json:"entity_id"`
	Total     string    `json:"total,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	EventSaleCompleted    = "sale.completed"
	EventPurchaseReceived = "purchase.received"
)

const (
	IngredientPolicyReject        = "reject"
	IngredientPolicyAllowNegative = "allow_negative"
)
