package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
)

// CatalogRepository читает меню из таблиц outlets/food_items.
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт PostgreSQL-реализацию Catalog.
func NewCatalogRepository(store *Store) *CatalogRepository {
	return &CatalogRepository{db: store.DB()}
}

// FoodItem возвращает блюдо или ErrFoodItemNotFound.
func (r *CatalogRepository) FoodItem(id string) (domain.FoodItem, error) {
	ctx, cancel := opContext()
	defer cancel()

	var food domain.FoodItem
	err := r.db.QueryRowContext(ctx, `
		SELECT id, outlet_id, name, price_minor, available
		FROM food_items
		WHERE id = $1
	`, id).Scan(&food.ID, &food.OutletID, &food.Name, &food.PriceMinor, &food.Available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FoodItem{}, domain.ErrFoodItemNotFound
		}
		return domain.FoodItem{}, fmt.Errorf("select food item: %w", err)
	}
	return food, nil
}

// Outlet возвращает заведение или ErrOutletNotFound.
func (r *CatalogRepository) Outlet(id string) (domain.Outlet, error) {
	ctx, cancel := opContext()
	defer cancel()

	var outlet domain.Outlet
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM outlets WHERE id = $1`, id).
		Scan(&outlet.ID, &outlet.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Outlet{}, domain.ErrOutletNotFound
		}
		return domain.Outlet{}, fmt.Errorf("select outlet: %w", err)
	}
	return outlet, nil
}

// Seed записывает заведения и блюда, обновляя существующие записи.
func (r *CatalogRepository) Seed(ctx context.Context, outlets []domain.Outlet, foods []domain.FoodItem) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, o := range outlets {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO outlets (id, name) VALUES ($1, $2)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
			`, o.ID, o.Name); err != nil {
				return fmt.Errorf("upsert outlet %s: %w", o.ID, err)
			}
		}
		for _, f := range foods {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO food_items (id, outlet_id, name, price_minor, available)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE
				SET outlet_id = EXCLUDED.outlet_id, name = EXCLUDED.name,
				    price_minor = EXCLUDED.price_minor, available = EXCLUDED.available
			`, f.ID, f.OutletID, f.Name, f.PriceMinor, f.Available); err != nil {
				return fmt.Errorf("upsert food item %s: %w", f.ID, err)
			}
		}
		return nil
	})
}

var _ domain.Catalog = (*CatalogRepository)(nil)
