package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dandanito/marketplace/internal/domain/models"
)

var ErrOrderLineNotFound = errors.New("order line not found")

// OrderLineStorage описывает методы для работы со строками заказа.
// Все мутации идут внутри транзакции вместе с обновлением цены заказа.
type OrderLineStorage interface {
	GetLinesByOrderIDTx(ctx context.Context, tx *sql.Tx, orderID int64) ([]*models.OrderLine, error)
	GetLinesByOrderID(ctx context.Context, orderID int64) ([]*models.OrderLine, error)
	CreateLineTx(ctx context.Context, tx *sql.Tx, line *models.OrderLine) (int64, error)
	// UpdateLineQuantityTx сохраняет новое количество и пересчитанную стоимость строки
	UpdateLineQuantityTx(ctx context.Context, tx *sql.Tx, id int64, quantity int, totalPrice int64) error
	DeleteLineTx(ctx context.Context, tx *sql.Tx, id int64) error
	// DeleteLinesByOrderIDTx удаляет все строки заказа (перед удалением самого заказа)
	DeleteLinesByOrderIDTx(ctx context.Context, tx *sql.Tx, orderID int64) error
}

type orderLineRepository struct {
	db *sql.DB
}

func NewOrderLineRepository(db *sql.DB) OrderLineStorage {
	return &orderLineRepository{db: db}
}

const orderLineColumns = "id, order_id, product_id, base_price, discount, discount_type, quantity, total_price"

func scanOrderLines(rows *sql.Rows) ([]*models.OrderLine, error) {
	var lines []*models.OrderLine
	for rows.Next() {
		line := &models.OrderLine{}
		if err := rows.Scan(
			&line.ID, &line.OrderID, &line.ProductID, &line.BasePrice,
			&line.Discount, &line.DiscountType, &line.Quantity, &line.TotalPrice,
		); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *orderLineRepository) GetLinesByOrderIDTx(ctx context.Context, tx *sql.Tx, orderID int64) ([]*models.OrderLine, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT "+orderLineColumns+" FROM order_lines WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderLines(rows)
}

func (r *orderLineRepository) GetLinesByOrderID(ctx context.Context, orderID int64) ([]*models.OrderLine, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderLineColumns+" FROM order_lines WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderLines(rows)
}

func (r *orderLineRepository) CreateLineTx(ctx context.Context, tx *sql.Tx, line *models.OrderLine) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO order_lines (order_id, product_id, base_price, discount, discount_type, quantity, total_price)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		line.OrderID, line.ProductID, line.BasePrice, line.Discount,
		line.DiscountType, line.Quantity, line.TotalPrice,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create order line: %w", err)
	}
	return id, nil
}

func (r *orderLineRepository) UpdateLineQuantityTx(ctx context.Context, tx *sql.Tx, id int64, quantity int, totalPrice int64) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE order_lines SET quantity = $1, total_price = $2 WHERE id = $3",
		quantity, totalPrice, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderLineNotFound
	}
	return nil
}

func (r *orderLineRepository) DeleteLineTx(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, "DELETE FROM order_lines WHERE id = $1", id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderLineNotFound
	}
	return nil
}

func (r *orderLineRepository) DeleteLinesByOrderIDTx(ctx context.Context, tx *sql.Tx, orderID int64) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM order_lines WHERE order_id = $1", orderID)
	if err != nil {
		return fmt.Errorf("failed to delete order lines: %w", err)
	}
	return nil
}
