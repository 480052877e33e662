package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ivallejo/coffee-sub000/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// isUniqueViolation reports whether err is a Postgres unique constraint error.
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// GetProducts retrieves all products
func (s *Store) GetProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY id")
	return products, err
}

// GetLowStockProducts retrieves simple products at or below the threshold.
func (s *Store) GetLowStockProducts(ctx context.Context, threshold decimal.Decimal) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products,
		"SELECT * FROM products WHERE type = $1 AND stock <= $2 ORDER BY stock ASC",
		models.ProductTypeSimple, threshold)
	return products, err
}

// GetRecipeEdges retrieves the recipe edges for a set of parent products.
func (s *Store) GetRecipeEdges(ctx context.Context, parentIDs []int64) ([]models.RecipeEdge, error) {
	if len(parentIDs) == 0 {
		return []models.RecipeEdge{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT parent_product_id, ingredient_product_id, quantity_per_unit FROM recipe_edges WHERE parent_product_id IN (?)",
		parentIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var edges []models.RecipeEdge
	err = s.db.SelectContext(ctx, &edges, query, args...)
	return edges, err
}

// HasSaleMovements reports whether sale-driven movements already exist for
// an order id. Used by the consumption engine to make re-runs a no-op.
func (s *Store) HasSaleMovements(ctx context.Context, orderID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM inventory_movements WHERE reference_order_id = $1 AND reason = $2)",
		orderID, models.MovementReasonSale)
	return exists, err
}

// StockDeduction is one aggregated OUT quantity for a simple product.
type StockDeduction struct {
	ProductID int64
	Quantity  decimal.Decimal
	NewStock  decimal.Decimal
}

// ApplyConsumption records one OUT movement per deduction and decrements the
// cached stock by the same amount, all in one transaction. The decrement is a
// single UPDATE so concurrent sales of the same product both land. It returns
// the deductions with the post-decrement stock filled in.
func (s *Store) ApplyConsumption(ctx context.Context, orderID int64, actor string, deductions []StockDeduction) ([]StockDeduction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists bool
	err = tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM inventory_movements WHERE reference_order_id = $1 AND reason = $2)",
		orderID, models.MovementReasonSale)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	applied := make([]StockDeduction, 0, len(deductions))
	for _, d := range deductions {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO inventory_movements (product_id, type, quantity, reason, reference_order_id, actor)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			d.ProductID, models.MovementOut, d.Quantity, models.MovementReasonSale, orderID, actor)
		if err != nil {
			return nil, fmt.Errorf("failed to record movement for product %d: %w", d.ProductID, err)
		}

		err = tx.GetContext(ctx, &d.NewStock,
			"UPDATE products SET stock = stock - $1 WHERE id = $2 RETURNING stock",
			d.Quantity, d.ProductID)
		if err != nil {
			return nil, fmt.Errorf("failed to deduct stock for product %d: %w", d.ProductID, err)
		}

		applied = append(applied, d)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return applied, nil
}

// AddMovement records a manual, non-recipe-driven adjustment and updates the
// cached stock directly. Returns the movement and the resulting stock.
func (s *Store) AddMovement(ctx context.Context, m *models.InventoryMovement) (decimal.Decimal, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback()

	err = tx.GetContext(ctx, m, `
		INSERT INTO inventory_movements (product_id, type, quantity, reason, notes, reference_order_id, actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		m.ProductID, m.Type, m.Quantity, m.Reason, m.Notes, m.ReferenceOrderID, m.Actor)
	if err != nil {
		return decimal.Zero, err
	}

	delta := m.Quantity
	if m.Type == models.MovementOut {
		delta = delta.Neg()
	}

	var newStock decimal.Decimal
	err = tx.GetContext(ctx, &newStock,
		"UPDATE products SET stock = stock + $1 WHERE id = $2 RETURNING stock",
		delta, m.ProductID)
	if err == sql.ErrNoRows {
		return decimal.Zero, fmt.Errorf("%w: %d", models.ErrProductNotFound, m.ProductID)
	}
	if err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, err
	}
	return newStock, nil
}

// GetMovementsByProduct retrieves movement history for a product, newest first.
func (s *Store) GetMovementsByProduct(ctx context.Context, productID int64, limit int) ([]models.InventoryMovement, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var movements []models.InventoryMovement
	err := s.db.SelectContext(ctx, &movements,
		"SELECT * FROM inventory_movements WHERE product_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		productID, limit)
	return movements, err
}
