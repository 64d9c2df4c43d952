package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
)

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
// Сериализация изменений одной корзины обеспечивается блокировкой строки (SELECT ... FOR UPDATE).
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{db: store.DB()}
}

func (r *cartRepository) Get(customerID string) (domain.Cart, error) {
	ctx, cancel := opContext()
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT id, customer_id, outlet_id, total_minor, created_at, updated_at
		FROM carts
		WHERE customer_id = $1
	`, customerID)
	return loadCart(ctx, r.db, row)
}

func (r *cartRepository) Mutate(customerID string, create bool, fn func(cart *domain.Cart) error) (domain.Cart, error) {
	if strings.TrimSpace(customerID) == "" {
		return domain.Cart{}, domain.ErrCustomerRequired
	}

	ctx, cancel := opContext()
	defer cancel()

	var cart domain.Cart
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		if create {
			if err := ensureCart(ctx, tx, customerID); err != nil {
				return err
			}
		}
		locked, err := lockCart(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if err := fn(&locked); err != nil {
			return err
		}
		if err := writeCart(ctx, tx, locked); err != nil {
			return err
		}
		cart = locked
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

// ensureCart создаёт пустую корзину, если её ещё нет. При откате транзакции корзина исчезает.
func ensureCart(ctx context.Context, tx execer, customerID string) error {
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO carts (id, customer_id, outlet_id, total_minor, created_at, updated_at)
		VALUES ($1, $2, '', 0, $3, $3)
		ON CONFLICT (customer_id) DO NOTHING
	`, uuid.NewString(), customerID, now); err != nil {
		return fmt.Errorf("insert cart: %w", err)
	}
	return nil
}

// lockCart читает корзину под блокировкой строки до конца транзакции.
func lockCart(ctx context.Context, tx *sql.Tx, customerID string) (domain.Cart, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, customer_id, outlet_id, total_minor, created_at, updated_at
		FROM carts
		WHERE customer_id = $1
		FOR UPDATE
	`, customerID)
	return loadCart(ctx, tx, row)
}

func loadCart(ctx context.Context, q queryer, row rowScanner) (domain.Cart, error) {
	var cart domain.Cart
	if err := row.Scan(
		&cart.ID, &cart.CustomerID, &cart.OutletID, &cart.TotalMinor, &cart.CreatedAt, &cart.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, fmt.Errorf("select cart: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, food_item_id, outlet_id, food_name, unit_price_minor, qty,
		       selected_ingredients, total_minor, created_at
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY position ASC
	`, cart.ID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("load cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(
			&item.ID, &item.FoodItemID, &item.OutletID, &item.FoodName, &item.UnitPriceMinor, &item.Qty,
			typeMap.SQLScanner(&item.SelectedIngredients), &item.TotalMinor, &item.CreatedAt,
		); err != nil {
			return domain.Cart{}, fmt.Errorf("scan cart item: %w", err)
		}
		item.SelectedIngredients = nonNil(item.SelectedIngredients)
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, fmt.Errorf("iterate cart items: %w", err)
	}

	return cart, nil
}

// writeCart перезаписывает заголовок и строки корзины.
func writeCart(ctx context.Context, tx execer, cart domain.Cart) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE carts
		SET outlet_id = $1,
		    total_minor = $2,
		    updated_at = $3
		WHERE id = $4
	`, cart.OutletID, cart.TotalMinor, cart.UpdatedAt, cart.ID); err != nil {
		return fmt.Errorf("update cart: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cart.ID); err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}

	for i, item := range cart.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cart_items (
				id, cart_id, position, food_item_id, outlet_id, food_name,
				unit_price_minor, qty, selected_ingredients, total_minor, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`,
			item.ID, cart.ID, i, item.FoodItemID, item.OutletID, item.FoodName,
			item.UnitPriceMinor, item.Qty, nonNil(item.SelectedIngredients), item.TotalMinor, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert cart item: %w", err)
		}
	}

	return nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
