package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/BryanFarras/TokoKami/internal/domain"
	"github.com/BryanFarras/TokoKami/internal/recipe"
	"github.com/BryanFarras/TokoKami/internal/store"
)

const (
	DriverPostgres = "pgx"
	DriverMySQL    = "mysql"
)

//go:embed schema/*.sql
var schemaFS embed.FS

type Store struct {
	db     *sqlx.DB
	driver string
}

// New opens a pool for driver ("pgx" or "mysql") and verifies connectivity.
// MySQL DSNs are forced to parse DATETIME columns into UTC time.Time.
func New(ctx context.Context, driver string, databaseURL string) (*Store, error) {
	switch driver {
	case DriverPostgres:
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(databaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		databaseURL = cfg.FormatDSN()
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, driver: driver}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema for the active driver. Every statement
// is idempotent, so it is safe to run on each start.
func (s *Store) Migrate(ctx context.Context) error {
	name := "schema/postgres.sql"
	if s.driver == DriverMySQL {
		name = "schema/mysql.sql"
	}
	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(raw), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

// insert runs an INSERT and returns the generated id. Postgres reports it via
// RETURNING, MySQL via LastInsertId.
func (s *Store) insert(ctx context.Context, ext sqlx.ExtContext, query string, args ...any) (int64, error) {
	if s.driver == DriverPostgres {
		var id int64
		if err := sqlx.GetContext(ctx, ext, &id, ext.Rebind(query+" RETURNING id"), args...); err != nil {
			return 0, classify(err)
		}
		return id, nil
	}

	res, err := ext.ExecContext(ctx, ext.Rebind(query), args...)
	if err != nil {
		return 0, classify(err)
	}
	return res.LastInsertId()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type productRow struct {
	ID         int64           `db:"id"`
	Name       string          `db:"name"`
	Category   string          `db:"category"`
	Price      decimal.Decimal `db:"price"`
	CostPrice  decimal.Decimal `db:"cost_price"`
	ManualCost bool            `db:"manual_cost"`
	Stock      int             `db:"stock"`
	Image      string          `db:"image"`
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:          r.ID,
		Name:        r.Name,
		Category:    r.Category,
		Price:       r.Price,
		CostPrice:   r.CostPrice,
		ManualCost:  r.ManualCost,
		Stock:       r.Stock,
		Image:       r.Image,
		Ingredients: []domain.Ingredient{},
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type ingredientRow struct {
	ProductID       int64           `db:"product_id"`
	RawMaterialID   int64           `db:"raw_material_id"`
	RawMaterialName string          `db:"raw_material_name"`
	Unit            string          `db:"unit"`
	Amount          decimal.Decimal `db:"amount"`
}

const productColumns = `id, name, category, price, cost_price, manual_cost, stock, image, created_at, updated_at`

const ingredientQuery = `
	SELECT pi.product_id, pi.raw_material_id, rm.name AS raw_material_name, rm.unit, pi.amount
	FROM product_ingredients pi
	JOIN raw_materials rm ON rm.id = pi.raw_material_id
`

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var rows []productRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+productColumns+` FROM products ORDER BY id`); err != nil {
		return nil, err
	}

	var ingredients []ingredientRow
	if err := s.db.SelectContext(ctx, &ingredients, ingredientQuery+` ORDER BY pi.product_id, pi.raw_material_id`); err != nil {
		return nil, err
	}
	byProduct := make(map[int64][]domain.Ingredient, len(rows))
	for _, in := range ingredients {
		byProduct[in.ProductID] = append(byProduct[in.ProductID], in.toDomain())
	}

	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		p := row.toDomain()
		if list, ok := byProduct[p.ID]; ok {
			p.Ingredients = list
		}
		products = append(products, p)
	}
	return products, nil
}

func (r ingredientRow) toDomain() domain.Ingredient {
	return domain.Ingredient{
		RawMaterialID:   r.RawMaterialID,
		RawMaterialName: r.RawMaterialName,
		Unit:            r.Unit,
		Amount:          r.Amount,
	}
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return s.getProduct(ctx, s.db, id, false)
}

func (s *Store) getProduct(ctx context.Context, ext sqlx.ExtContext, id int64, lock bool) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	var row productRow
	if err := sqlx.GetContext(ctx, ext, &row, ext.Rebind(query), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("product", id)
		}
		return nil, err
	}

	product := row.toDomain()
	ingredients, err := s.loadIngredients(ctx, ext, id)
	if err != nil {
		return nil, err
	}
	product.Ingredients = ingredients
	return &product, nil
}

func (s *Store) loadIngredients(ctx context.Context, ext sqlx.ExtContext, productID int64) ([]domain.Ingredient, error) {
	var rows []ingredientRow
	query := ext.Rebind(ingredientQuery + ` WHERE pi.product_id = ? ORDER BY pi.raw_material_id`)
	if err := sqlx.SelectContext(ctx, ext, &rows, query, productID); err != nil {
		return nil, err
	}
	ingredients := make([]domain.Ingredient, 0, len(rows))
	for _, row := range rows {
		ingredients = append(ingredients, row.toDomain())
	}
	return ingredients, nil
}

// loadUnitCosts reads unit_cost for the given raw materials. Ids that do not
// exist are simply absent from the map; recipe.Rollup reports them.
func (s *Store) loadUnitCosts(ctx context.Context, ext sqlx.ExtContext, ids []int64) (map[int64]decimal.Decimal, error) {
	costs := make(map[int64]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return costs, nil
	}
	query, args, err := sqlx.In(`SELECT id, unit_cost FROM raw_materials WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID       int64           `db:"id"`
		UnitCost decimal.Decimal `db:"unit_cost"`
	}
	if err := sqlx.SelectContext(ctx, ext, &rows, ext.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, row := range rows {
		costs[row.ID] = row.UnitCost
	}
	return costs, nil
}

// recipeCosts loads unit costs for a recipe and fails with ErrNotFound when
// any referenced raw material is missing, manual-cost products included.
func (s *Store) recipeCosts(ctx context.Context, ext sqlx.ExtContext, ingredients []domain.Ingredient) (map[int64]decimal.Decimal, error) {
	ids := recipe.MaterialIDs(ingredients)
	costs, err := s.loadUnitCosts(ctx, ext, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := costs[id]; !ok {
			return nil, store.NotFound("raw material", id)
		}
	}
	return costs, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		costs, err := s.recipeCosts(ctx, tx, product.Ingredients)
		if err != nil {
			return err
		}
		if err := recipe.Apply(&product, costs); err != nil {
			return err
		}

		now := time.Now().UTC()
		id, err = s.insert(ctx, tx, `
			INSERT INTO products (name, category, price, cost_price, manual_cost, stock, image, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?)
		`, product.Name, product.Category, product.Price, product.CostPrice, product.ManualCost, product.Stock, product.Image, now, now)
		if err != nil {
			return err
		}
		return s.replaceIngredients(ctx, tx, id, product.Ingredients)
	})
	if err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, id)
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.getProduct(ctx, tx, product.ID, true); err != nil {
			return err
		}
		costs, err := s.recipeCosts(ctx, tx, product.Ingredients)
		if err != nil {
			return err
		}
		if err := recipe.Apply(&product, costs); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE products
			SET name = ?, category = ?, price = ?, cost_price = ?, manual_cost = ?, stock = ?, image = ?, updated_at = ?
			WHERE id = ?
		`), product.Name, product.Category, product.Price, product.CostPrice, product.ManualCost, product.Stock, product.Image, time.Now().UTC(), product.ID)
		if err != nil {
			return classify(err)
		}
		return s.replaceIngredients(ctx, tx, product.ID, product.Ingredients)
	})
	if err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, product.ID)
}

// replaceIngredients swaps the whole recipe of a product.
func (s *Store) replaceIngredients(ctx context.Context, tx *sqlx.Tx, productID int64, ingredients []domain.Ingredient) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM product_ingredients WHERE product_id = ?`), productID); err != nil {
		return err
	}
	for _, in := range ingredients {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO product_ingredients (product_id, raw_material_id, amount)
			VALUES (?,?,?)
		`), productID, in.RawMaterialID, in.Amount)
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "products", "product", id)
}

func (s *Store) PreviewCost(ctx context.Context, ingredients []domain.Ingredient) (domain.CostPreviewResponse, error) {
	costs, err := s.loadUnitCosts(ctx, s.db, recipe.MaterialIDs(ingredients))
	if err != nil {
		return domain.CostPreviewResponse{}, err
	}
	cost, err := recipe.Rollup(ingredients, costs)
	if err != nil {
		return domain.CostPreviewResponse{}, err
	}
	return domain.CostPreviewResponse{CostPrice: cost}, nil
}

type rawMaterialRow struct {
	ID        int64           `db:"id"`
	Name      string          `db:"name"`
	Unit      string          `db:"unit"`
	Stock     decimal.Decimal `db:"stock"`
	UnitCost  decimal.Decimal `db:"unit_cost"`
	Supplier  string          `db:"supplier"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

func (r rawMaterialRow) toDomain() domain.RawMaterial {
	return domain.RawMaterial(r)
}

const rawMaterialColumns = `id, name, unit, stock, unit_cost, supplier, created_at, updated_at`

func (s *Store) ListRawMaterials(ctx context.Context) ([]domain.RawMaterial, error) {
	var rows []rawMaterialRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+rawMaterialColumns+` FROM raw_materials ORDER BY id`); err != nil {
		return nil, err
	}
	materials := make([]domain.RawMaterial, 0, len(rows))
	for _, row := range rows {
		materials = append(materials, row.toDomain())
	}
	return materials, nil
}

func (s *Store) GetRawMaterial(ctx context.Context, id int64) (*domain.RawMaterial, error) {
	return s.getRawMaterial(ctx, s.db, id, false)
}

func (s *Store) getRawMaterial(ctx context.Context, ext sqlx.ExtContext, id int64, lock bool) (*domain.RawMaterial, error) {
	query := `SELECT ` + rawMaterialColumns + ` FROM raw_materials WHERE id = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	var row rawMaterialRow
	if err := sqlx.GetContext(ctx, ext, &row, ext.Rebind(query), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("raw material", id)
		}
		return nil, err
	}
	material := row.toDomain()
	return &material, nil
}

func (s *Store) CreateRawMaterial(ctx context.Context, material domain.RawMaterial) (*domain.RawMaterial, error) {
	now := time.Now().UTC()
	id, err := s.insert(ctx, s.db, `
		INSERT INTO raw_materials (name, unit, stock, unit_cost, supplier, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)
	`, material.Name, material.Unit, material.Stock, material.UnitCost, material.Supplier, now, now)
	if err != nil {
		return nil, err
	}
	return s.GetRawMaterial(ctx, id)
}

// UpdateRawMaterial replaces the material and, when unit_cost changed,
// re-rolls cost for every recipe-costed product using it in the same
// transaction.
func (s *Store) UpdateRawMaterial(ctx context.Context, material domain.RawMaterial) (*domain.RawMaterial, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := s.getRawMaterial(ctx, tx, material.ID, true)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE raw_materials
			SET name = ?, unit = ?, stock = ?, unit_cost = ?, supplier = ?, updated_at = ?
			WHERE id = ?
		`), material.Name, material.Unit, material.Stock, material.UnitCost, material.Supplier, now, material.ID)
		if err != nil {
			return err
		}
		if existing.UnitCost.Equal(material.UnitCost) {
			return nil
		}

		var productIDs []int64
		err = tx.SelectContext(ctx, &productIDs, tx.Rebind(`
			SELECT p.id
			FROM products p
			JOIN product_ingredients pi ON pi.product_id = p.id
			WHERE pi.raw_material_id = ? AND p.manual_cost = ?
			ORDER BY p.id
			FOR UPDATE
		`), material.ID, false)
		if err != nil {
			return err
		}
		for _, productID := range productIDs {
			ingredients, err := s.loadIngredients(ctx, tx, productID)
			if err != nil {
				return err
			}
			costs, err := s.loadUnitCosts(ctx, tx, recipe.MaterialIDs(ingredients))
			if err != nil {
				return err
			}
			cost, err := recipe.Rollup(ingredients, costs)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				UPDATE products SET cost_price = ?, updated_at = ? WHERE id = ?
			`), cost, now, productID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetRawMaterial(ctx, material.ID)
}

func (s *Store) DeleteRawMaterial(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "raw_materials", "raw material", id)
}

func (s *Store) deleteByID(ctx context.Context, table string, entity string, id int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM `+table+` WHERE id = ?`), id)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.NotFound(entity, id)
	}
	return nil
}

// classify maps driver constraint violations onto store.ErrConflict.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: duplicate value violates %s", store.ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: record is still referenced (%s)", store.ErrConflict, pgErr.ConstraintName)
		}
		return err
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062:
			return fmt.Errorf("%w: duplicate value", store.ErrConflict)
		case 1451, 1452:
			return fmt.Errorf("%w: record is still referenced", store.ErrConflict)
		}
	}
	return err
}
