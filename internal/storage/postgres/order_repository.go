package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
)

const (
	ordersTokenConstraint = "orders_token_key"
	orderColumns          = `id, customer_id, outlet_id, outlet_name, token, total_minor, status,
		payment_method, payment_status, version, created_at, updated_at`
)

// typeMap сканирует TEXT[] через database/sql.
var typeMap = pgtype.NewMap()

// execer — общий знаменатель *sql.DB и *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := opContext()
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		return insertOrder(ctx, tx, order)
	})
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	return r.getBy("id", id)
}

func (r *orderRepository) GetByToken(token string) (domain.Order, error) {
	return r.getBy("token", token)
}

func (r *orderRepository) getBy(column, value string) (domain.Order, error) {
	ctx, cancel := opContext()
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+column+` = $1`, value)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := loadOrderItems(ctx, r.db, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) ListByCustomer(customerID string, limit int) ([]domain.Order, error) {
	return r.listBy("customer_id", customerID, limit)
}

func (r *orderRepository) ListByOutlet(outletID string, limit int) ([]domain.Order, error) {
	return r.listBy("outlet_id", outletID, limit)
}

func (r *orderRepository) listBy(column, value string, limit int) ([]domain.Order, error) {
	ctx, cancel := opContext()
	defer cancel()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ` + column + ` = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", value, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, value)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		items, err := loadOrderItems(ctx, r.db, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

// Save обновляет статусы с оптимистичной блокировкой по версии.
func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := opContext()
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1, payment_status = $2, version = version + 1, updated_at = $3
			WHERE id = $4 AND version = $5
		`, string(order.Status), string(order.PaymentStatus), order.UpdatedAt, order.ID, order.Version)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected > 0 {
			return nil
		}

		exists, err := orderExists(ctx, tx, order.ID)
		switch {
		case err != nil:
			return err
		case !exists:
			return domain.ErrOrderNotFound
		default:
			return domain.ErrOrderVersionConflict
		}
	})
}

// insertOrder записывает заказ и его позиции в рамках переданной транзакции.
func insertOrder(ctx context.Context, tx execer, order domain.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		order.ID, order.CustomerID, order.OutletID, order.OutletName, order.Token,
		order.TotalMinor, string(order.Status), string(order.PaymentMethod),
		string(order.PaymentStatus), order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			if violatedConstraint(err) == ordersTokenConstraint {
				return domain.ErrOrderTokenConflict
			}
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, position, food_item_id, food_name, qty,
				selected_ingredients, total_minor, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			item.ID, order.ID, i, item.FoodItemID, item.FoodName, item.Qty,
			nonNil(item.SelectedIngredients), item.TotalMinor, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                  domain.Order
		status, method, paymnt string
	)
	if err := row.Scan(
		&order.ID, &order.CustomerID, &order.OutletID, &order.OutletName, &order.Token,
		&order.TotalMinor, &status, &method, &paymnt, &order.Version,
		&order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentMethod = domain.PaymentMethod(method)
	order.PaymentStatus = domain.PaymentStatus(paymnt)
	return order, nil
}

func loadOrderItems(ctx context.Context, q queryer, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, food_item_id, food_name, qty, selected_ingredients, total_minor, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.FoodItemID, &item.FoodName, &item.Qty,
			typeMap.SQLScanner(&item.SelectedIngredients), &item.TotalMinor, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.SelectedIngredients = nonNil(item.SelectedIngredients)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func orderExists(ctx context.Context, q queryer, orderID string) (bool, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func violatedConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// nonNil не даёт записать NULL в NOT NULL колонку TEXT[].
func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

var _ domain.OrderRepository = (*orderRepository)(nil)
