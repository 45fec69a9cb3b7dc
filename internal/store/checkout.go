package store

import (
	"cmp"
	"log"
	"slices"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/BryanFarras/TokoKami/internal/domain"
)

// MoneyPlaces is the scale every stored money column uses.
const MoneyPlaces = 2

// CheckProductStock fails when the product cannot cover qty units.
func CheckProductStock(product domain.Product, qty int) error {
	if product.Stock < qty {
		return &InsufficientStockError{
			Kind:      "product",
			Name:      product.Name,
			Available: strconv.Itoa(product.Stock),
			Requested: strconv.Itoa(qty),
		}
	}
	return nil
}

// CheckMaterialStock fails when the raw material cannot cover need, unless
// negative ingredient stock is allowed.
func CheckMaterialStock(material domain.RawMaterial, need decimal.Decimal, allowNegative bool) error {
	if allowNegative || material.Stock.GreaterThanOrEqual(need) {
		return nil
	}
	return &InsufficientStockError{
		Kind:      "raw material",
		Name:      material.Name,
		Available: material.Stock.String(),
		Requested: need.String(),
	}
}

// NegativeStock returns, ordered by id, the raw materials a sale drew that
// ended below zero.
func NegativeStock(drawn map[int64]domain.RawMaterial) []domain.RawMaterial {
	var negative []domain.RawMaterial
	for _, m := range drawn {
		if m.Stock.IsNegative() {
			negative = append(negative, m)
		}
	}
	slices.SortFunc(negative, func(a, b domain.RawMaterial) int { return cmp.Compare(a.ID, b.ID) })
	return negative
}

// LogNegativeStock warns once per raw material a committed sale left below
// zero.
func LogNegativeStock(transactionID int64, drawn map[int64]domain.RawMaterial) {
	for _, m := range NegativeStock(drawn) {
		log.Printf("[store] WARN: transaction id=%d left raw material id=%d name=%q at negative stock (%s %s)", transactionID, m.ID, m.Name, m.Stock, m.Unit)
	}
}

// SaleLine snapshots one cart line at the product's current price and cost.
func SaleLine(product domain.Product, qty int) domain.TransactionItem {
	quantity := decimal.NewFromInt(int64(qty))
	return domain.TransactionItem{
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    qty,
		UnitPrice:   product.Price,
		CostPrice:   product.CostPrice,
		TotalPrice:  product.Price.Mul(quantity),
		Profit:      product.Price.Sub(product.CostPrice).Mul(quantity),
	}
}

// Consumption is the raw material drawn by qty units of a product.
func Consumption(ingredient domain.Ingredient, qty int) decimal.Decimal {
	return ingredient.Amount.Mul(decimal.NewFromInt(int64(qty)))
}

// FinalizeSale builds the transaction header from its priced lines:
// total = subtotal - discount + tax.
func FinalizeSale(sale domain.Sale, items []domain.TransactionItem) (domain.Transaction, error) {
	subtotal := decimal.Zero
	profit := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.TotalPrice)
		profit = profit.Add(item.Profit)
	}
	if sale.Discount.GreaterThan(subtotal) {
		return domain.Transaction{}, Validation("discount %s exceeds subtotal %s", sale.Discount, subtotal)
	}

	return domain.Transaction{
		Date:          sale.Date,
		Subtotal:      subtotal,
		Discount:      sale.Discount,
		Tax:           sale.Tax,
		Total:         subtotal.Sub(sale.Discount).Add(sale.Tax),
		Profit:        profit,
		PaymentMethod: sale.PaymentMethod,
		CashierName:   sale.CashierName,
		CustomerName:  sale.CustomerName,
		Notes:         sale.Notes,
		Items:         items,
	}, nil
}

// PurchaseTotals recomputes line totals and the header amount server side.
// Lines are rounded to MoneyPlaces first so the header always equals their sum.
func PurchaseTotals(purchase *domain.Purchase) {
	total := decimal.Zero
	for i := range purchase.Items {
		purchase.Items[i].Total = purchase.Items[i].Quantity.Mul(purchase.Items[i].UnitCost).Round(MoneyPlaces)
		total = total.Add(purchase.Items[i].Total)
	}
	purchase.TotalAmount = total
}
