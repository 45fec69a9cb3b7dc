package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BryanFarras/TokoKami/internal/domain"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
)

// InsufficientStockError reports the item that could not cover a sale.
// It matches ErrInsufficientStock with errors.Is.
type InsufficientStockError struct {
	Kind      string
	Name      string
	Available string
	Requested string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: %s. Available: %s, Requested: %s", e.Kind, e.Name, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Validation wraps ErrValidation with a user-facing message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func NotFound(entity string, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, entity, id)
}

type Repository interface {
	Ping(ctx context.Context) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	PreviewCost(ctx context.Context, ingredients []domain.Ingredient) (domain.CostPreviewResponse, error)

	ListRawMaterials(ctx context.Context) ([]domain.RawMaterial, error)
	GetRawMaterial(ctx context.Context, id int64) (*domain.RawMaterial, error)
	CreateRawMaterial(ctx context.Context, material domain.RawMaterial) (*domain.RawMaterial, error)
	UpdateRawMaterial(ctx context.Context, material domain.RawMaterial) (*domain.RawMaterial, error)
	DeleteRawMaterial(ctx context.Context, id int64) error

	ListPurchases(ctx context.Context) ([]domain.Purchase, error)
	GetPurchase(ctx context.Context, id int64) (*domain.Purchase, error)
	CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)

	ListTransactions(ctx context.Context) ([]domain.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error)
	CreateCheckout(ctx context.Context, sale domain.Sale) (*domain.Transaction, error)

	GetSalesSummary(ctx context.Context) (domain.SalesSummary, error)
	ListSalesSince(ctx context.Context, from time.Time) ([]domain.SalesRecord, error)
	GetTopProducts(ctx context.Context, limit int) ([]domain.TopProduct, error)
	GetFinancials(ctx context.Context, recent int) (domain.Financials, error)

	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	GetUserByID(ctx context.Context, id int64) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	DeleteUser(ctx context.Context, id int64) error
}
