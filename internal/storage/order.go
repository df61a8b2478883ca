package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dandanito/marketplace/internal/domain/models"
	"github.com/lib/pq"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderLocked   = errors.New("order is locked, please try again")
)

// OrderStorage описывает методы для работы с заказами.
type OrderStorage interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	// GetDraftOrderByCustomerTx возвращает черновик заказа покупателя, если он есть
	GetDraftOrderByCustomerTx(ctx context.Context, tx *sql.Tx, customerID int64) (*models.Order, error)
	// LockOrderByIDTx блокирует строку заказа до конца транзакции
	LockOrderByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error)
	CreateOrderTx(ctx context.Context, tx *sql.Tx, o *models.Order) (int64, error)
	// UpdateOrderTx обновляет описание/статус (если заданы) и итоговую цену
	UpdateOrderTx(ctx context.Context, tx *sql.Tx, id int64, description *string, status *models.OrderStatus, price int64) error
	DeleteOrderTx(ctx context.Context, tx *sql.Tx, id int64) error
	// ListOrders возвращает страницу заказов и общее число подходящих строк
	ListOrders(ctx context.Context, f OrderFilter, offset, limit int) ([]*models.Order, int, error)
}

// OrderFilter — необязательные фильтры для выборки заказов
type OrderFilter struct {
	IDs         []int64
	Description string // подстрока
	CustomerIDs []int64
	Statuses    []models.OrderStatus
	PriceFrom   *int64
	PriceTo     *int64
	DateFrom    *time.Time
	DateTo      *time.Time
}

type orderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) OrderStorage {
	return &orderRepository{db: db}
}

const orderColumns = "id, customer_id, description, status, price, created_at"

func scanOrder(scan func(dest ...any) error) (*models.Order, error) {
	o := &models.Order{}
	if err := scan(&o.ID, &o.CustomerID, &o.Description, &o.Status, &o.Price, &o.CreatedAt); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *orderRepository) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	o, err := scanOrder(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}

func (r *orderRepository) GetDraftOrderByCustomerTx(ctx context.Context, tx *sql.Tx, customerID int64) (*models.Order, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE customer_id = $1 AND status = $2",
		customerID, models.StatusDraft)
	o, err := scanOrder(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}

func (r *orderRepository) LockOrderByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE NOWAIT", id)
	o, err := scanOrder(row.Scan)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "55P03" { // lock
				return nil, ErrOrderLocked
			}
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}

func (r *orderRepository) CreateOrderTx(ctx context.Context, tx *sql.Tx, o *models.Order) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO orders (customer_id, description, status, price, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		o.CustomerID, o.Description, o.Status, o.Price, o.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create order: %w", err)
	}
	return id, nil
}

func (r *orderRepository) UpdateOrderTx(ctx context.Context, tx *sql.Tx, id int64, description *string, status *models.OrderStatus, price int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET
			description = COALESCE($1, description),
			status = COALESCE($2, status),
			price = $3
		 WHERE id = $4`,
		description, status, price, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) DeleteOrderTx(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// ListOrders выполняет два запроса с одним и тем же WHERE: страница данных и
// общее число строк (независимо от окна пагинации).
func (r *orderRepository) ListOrders(ctx context.Context, f OrderFilter, offset, limit int) ([]*models.Order, int, error) {
	where, args := buildOrderWhere(f)

	total := 0
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(id) FROM orders"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(
		"SELECT "+orderColumns+" FROM orders%s ORDER BY id DESC OFFSET $%d LIMIT $%d",
		where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, offset, limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func buildOrderWhere(f OrderFilter) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(f.IDs) > 0 {
		add("id = ANY($%d)", pq.Array(f.IDs))
	}
	if f.Description != "" {
		add("description LIKE $%d", "%"+f.Description+"%")
	}
	if len(f.CustomerIDs) > 0 {
		add("customer_id = ANY($%d)", pq.Array(f.CustomerIDs))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]int64, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, int64(s))
		}
		add("status = ANY($%d)", pq.Array(statuses))
	}
	if f.PriceFrom != nil {
		add("price >= $%d", *f.PriceFrom)
	}
	if f.PriceTo != nil {
		add("price <= $%d", *f.PriceTo)
	}
	if f.DateFrom != nil {
		add("created_at >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("created_at <= $%d", *f.DateTo)
	}

	if len(conds) == 0 {
		return "", nil
	}
	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}
