package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/BryanFarras/TokoKami/internal/domain"
	"github.com/BryanFarras/TokoKami/internal/store"
)

type purchaseRow struct {
	ID          int64           `db:"id"`
	Date        time.Time       `db:"date"`
	Supplier    string          `db:"supplier"`
	TotalAmount decimal.Decimal `db:"total_amount"`
	Notes       string          `db:"notes"`
	CreatedAt   time.Time       `db:"created_at"`
}

type purchaseItemRow struct {
	ID              int64           `db:"id"`
	PurchaseID      int64           `db:"purchase_id"`
	RawMaterialID   int64           `db:"raw_material_id"`
	RawMaterialName string          `db:"raw_material_name"`
	Quantity        decimal.Decimal `db:"quantity"`
	UnitCost        decimal.Decimal `db:"unit_cost"`
	Total           decimal.Decimal `db:"total"`
}

const purchaseItemQuery = `
	SELECT pi.id, pi.purchase_id, pi.raw_material_id, rm.name AS raw_material_name, pi.quantity, pi.unit_cost, pi.total
	FROM purchase_items pi
	JOIN raw_materials rm ON rm.id = pi.raw_material_id
`

func (r purchaseRow) toDomain() domain.Purchase {
	return domain.Purchase{
		ID:          r.ID,
		Date:        r.Date,
		Supplier:    r.Supplier,
		TotalAmount: r.TotalAmount,
		Notes:       r.Notes,
		Items:       []domain.PurchaseItem{},
		CreatedAt:   r.CreatedAt,
	}
}

func (r purchaseItemRow) toDomain() domain.PurchaseItem {
	return domain.PurchaseItem{
		ID:              r.ID,
		RawMaterialID:   r.RawMaterialID,
		RawMaterialName: r.RawMaterialName,
		Quantity:        r.Quantity,
		UnitCost:        r.UnitCost,
		Total:           r.Total,
	}
}

func (s *Store) ListPurchases(ctx context.Context) ([]domain.Purchase, error) {
	var rows []purchaseRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, date, supplier, total_amount, notes, created_at
		FROM purchases
		ORDER BY date DESC, id DESC
	`); err != nil {
		return nil, err
	}

	var items []purchaseItemRow
	if err := s.db.SelectContext(ctx, &items, purchaseItemQuery+` ORDER BY pi.purchase_id, pi.id`); err != nil {
		return nil, err
	}
	byPurchase := make(map[int64][]domain.PurchaseItem, len(rows))
	for _, item := range items {
		byPurchase[item.PurchaseID] = append(byPurchase[item.PurchaseID], item.toDomain())
	}

	purchases := make([]domain.Purchase, 0, len(rows))
	for _, row := range rows {
		p := row.toDomain()
		if list, ok := byPurchase[p.ID]; ok {
			p.Items = list
		}
		purchases = append(purchases, p)
	}
	return purchases, nil
}

func (s *Store) GetPurchase(ctx context.Context, id int64) (*domain.Purchase, error) {
	var row purchaseRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, date, supplier, total_amount, notes, created_at
		FROM purchases
		WHERE id = ?
	`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("purchase", id)
		}
		return nil, err
	}

	var items []purchaseItemRow
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(purchaseItemQuery+` WHERE pi.purchase_id = ? ORDER BY pi.id`), id); err != nil {
		return nil, err
	}
	purchase := row.toDomain()
	for _, item := range items {
		purchase.Items = append(purchase.Items, item.toDomain())
	}
	return &purchase, nil
}

// CreatePurchase inserts the header and items and adds each quantity to its
// raw material stock, all in one transaction.
func (s *Store) CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if len(purchase.Items) == 0 {
		return nil, store.Validation("items cannot be empty")
	}
	store.PurchaseTotals(&purchase)

	var id int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, item := range purchase.Items {
			if _, err := s.getRawMaterial(ctx, tx, item.RawMaterialID, true); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		var err error
		id, err = s.insert(ctx, tx, `
			INSERT INTO purchases (date, supplier, total_amount, notes, created_at)
			VALUES (?,?,?,?,?)
		`, purchase.Date, purchase.Supplier, purchase.TotalAmount, purchase.Notes, now)
		if err != nil {
			return err
		}

		for _, item := range purchase.Items {
			_, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO purchase_items (purchase_id, raw_material_id, quantity, unit_cost, total)
				VALUES (?,?,?,?,?)
			`), id, item.RawMaterialID, item.Quantity, item.UnitCost, item.Total)
			if err != nil {
				return classify(err)
			}
			_, err = tx.ExecContext(ctx, tx.Rebind(`
				UPDATE raw_materials SET stock = stock + ?, updated_at = ? WHERE id = ?
			`), item.Quantity, now, item.RawMaterialID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetPurchase(ctx, id)
}

type transactionRow struct {
	ID            int64           `db:"id"`
	Date          time.Time       `db:"date"`
	Subtotal      decimal.Decimal `db:"subtotal"`
	Discount      decimal.Decimal `db:"discount"`
	Tax           decimal.Decimal `db:"tax"`
	Total         decimal.Decimal `db:"total"`
	Profit        decimal.Decimal `db:"profit"`
	PaymentMethod string          `db:"payment_method"`
	CashierName   string          `db:"cashier_name"`
	CustomerName  string          `db:"customer_name"`
	Notes         string          `db:"notes"`
}

func (r transactionRow) toDomain() domain.Transaction {
	return domain.Transaction{
		ID:            r.ID,
		Date:          r.Date,
		Subtotal:      r.Subtotal,
		Discount:      r.Discount,
		Tax:           r.Tax,
		Total:         r.Total,
		Profit:        r.Profit,
		PaymentMethod: r.PaymentMethod,
		CashierName:   r.CashierName,
		CustomerName:  r.CustomerName,
		Notes:         r.Notes,
	}
}

type transactionItemRow struct {
	ID          int64           `db:"id"`
	ProductID   int64           `db:"product_id"`
	ProductName string          `db:"product_name"`
	Quantity    int             `db:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price"`
	CostPrice   decimal.Decimal `db:"cost_price"`
	TotalPrice  decimal.Decimal `db:"total_price"`
	Profit      decimal.Decimal `db:"profit"`
}

const transactionColumns = `id, date, subtotal, discount, tax, total, profit, payment_method, cashier_name, customer_name, notes`

func (s *Store) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return s.listTransactions(ctx, 0)
}

func (s *Store) listTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions ORDER BY date DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	txs := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		txs = append(txs, row.toDomain())
	}
	return txs, nil
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	var row transactionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("transaction", id)
		}
		return nil, err
	}

	var items []transactionItemRow
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(`
		SELECT id, product_id, product_name, quantity, unit_price, cost_price, total_price, profit
		FROM transaction_items
		WHERE transaction_id = ?
		ORDER BY id
	`), id); err != nil {
		return nil, err
	}

	tx := row.toDomain()
	tx.Items = make([]domain.TransactionItem, 0, len(items))
	for _, item := range items {
		tx.Items = append(tx.Items, domain.TransactionItem(item))
	}
	return &tx, nil
}

// CreateCheckout posts a sale in one database transaction. Each cart line
// locks its product row, then every raw material in the product's recipe,
// before decrementing stock. Any error rolls the whole sale back.
func (s *Store) CreateCheckout(ctx context.Context, sale domain.Sale) (*domain.Transaction, error) {
	if len(sale.Items) == 0 {
		return nil, store.Validation("items cannot be empty")
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}

	var (
		created domain.Transaction
		drawn   map[int64]domain.RawMaterial
	)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		items := make([]domain.TransactionItem, 0, len(sale.Items))
		drawn = make(map[int64]domain.RawMaterial)

		for _, line := range sale.Items {
			product, err := s.getProduct(ctx, tx, line.ProductID, true)
			if err != nil {
				return err
			}
			if err := store.CheckProductStock(*product, line.Quantity); err != nil {
				return err
			}
			items = append(items, store.SaleLine(*product, line.Quantity))

			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				UPDATE products SET stock = stock - ?, updated_at = ? WHERE id = ?
			`), line.Quantity, now, product.ID); err != nil {
				return err
			}

			for _, ingredient := range product.Ingredients {
				material, err := s.getRawMaterial(ctx, tx, ingredient.RawMaterialID, true)
				if err != nil {
					return err
				}
				need := store.Consumption(ingredient, line.Quantity)
				if err := store.CheckMaterialStock(*material, need, sale.AllowNegativeIngredients); err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, tx.Rebind(`
					UPDATE raw_materials SET stock = stock - ?, updated_at = ? WHERE id = ?
				`), need, now, material.ID); err != nil {
					return err
				}
				material.Stock = material.Stock.Sub(need)
				drawn[material.ID] = *material
			}
		}

		header, err := store.FinalizeSale(sale, items)
		if err != nil {
			return err
		}

		header.ID, err = s.insert(ctx, tx, `
			INSERT INTO transactions (date, subtotal, discount, tax, total, profit, payment_method, cashier_name, customer_name, notes)
			VALUES (?,?,?,?,?,?,?,?,?,?)
		`, header.Date, header.Subtotal, header.Discount, header.Tax, header.Total, header.Profit,
			header.PaymentMethod, header.CashierName, header.CustomerName, header.Notes)
		if err != nil {
			return err
		}

		for i, item := range header.Items {
			header.Items[i].ID, err = s.insert(ctx, tx, `
				INSERT INTO transaction_items (transaction_id, product_id, product_name, quantity, unit_price, cost_price, total_price, profit)
				VALUES (?,?,?,?,?,?,?,?)
			`, header.ID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.CostPrice, item.TotalPrice, item.Profit)
			if err != nil {
				return err
			}
		}

		created = header
		return nil
	})
	if err != nil {
		return nil, err
	}
	store.LogNegativeStock(created.ID, drawn)
	return &created, nil
}

func (s *Store) GetSalesSummary(ctx context.Context) (domain.SalesSummary, error) {
	var summary domain.SalesSummary
	err := s.db.QueryRowxContext(ctx, `
		SELECT COALESCE(SUM(total), 0), COUNT(*), COALESCE(SUM(profit), 0)
		FROM transactions
	`).Scan(&summary.TotalSales, &summary.TotalTransactions, &summary.TotalProfit)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	if err := s.db.GetContext(ctx, &summary.TotalStock, `SELECT COALESCE(SUM(stock), 0) FROM products`); err != nil {
		return domain.SalesSummary{}, err
	}
	return summary, nil
}

func (s *Store) ListSalesSince(ctx context.Context, from time.Time) ([]domain.SalesRecord, error) {
	var rows []struct {
		Date  time.Time       `db:"date"`
		Total decimal.Decimal `db:"total"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT date, total
		FROM transactions
		WHERE date >= ?
		ORDER BY date
	`), from.UTC()); err != nil {
		return nil, err
	}
	records := make([]domain.SalesRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, domain.SalesRecord{Date: row.Date, Total: row.Total})
	}
	return records, nil
}

func (s *Store) GetTopProducts(ctx context.Context, limit int) ([]domain.TopProduct, error) {
	var rows []struct {
		Name  string `db:"name"`
		Value int64  `db:"total_qty"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT product_name AS name, SUM(quantity) AS total_qty
		FROM transaction_items
		GROUP BY product_name
		ORDER BY total_qty DESC, name ASC
		LIMIT ?
	`), limit); err != nil {
		return nil, err
	}
	top := make([]domain.TopProduct, 0, len(rows))
	for _, row := range rows {
		top = append(top, domain.TopProduct{Name: row.Name, Value: row.Value})
	}
	return top, nil
}

func (s *Store) GetFinancials(ctx context.Context, recent int) (domain.Financials, error) {
	var fin domain.Financials
	err := s.db.QueryRowxContext(ctx, `
		SELECT COALESCE(SUM(total_price), 0), COALESCE(SUM(cost_price * quantity), 0)
		FROM transaction_items
	`).Scan(&fin.Revenue, &fin.Expenses)
	if err != nil {
		return domain.Financials{}, err
	}
	fin.Profit = fin.Revenue.Sub(fin.Expenses)

	fin.RecentTransactions, err = s.listTransactions(ctx, recent)
	if err != nil {
		return domain.Financials{}, err
	}
	return fin, nil
}
