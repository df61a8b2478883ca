package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dandanito/marketplace/internal/domain/models"
	"github.com/lib/pq"
)

var (
	ErrProductNotFound = errors.New("product not found")
	// ErrProductInUse — товар упоминается в строках заказов, удалить нельзя
	ErrProductInUse = errors.New("product is referenced by orders")
)

// ProductStorage описывает методы для работы с таблицей товаров.
type ProductStorage interface {
	// GetProductsByIDsTx возвращает снимки цен для всех запрошенных товаров.
	// Если хотя бы один id отсутствует — ErrProductNotFound.
	GetProductsByIDsTx(ctx context.Context, tx *sql.Tx, ids []int64) ([]*models.Product, error)
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	// LockProductByIDTx блокирует строку товара на время транзакции
	LockProductByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error)
	CreateProductTx(ctx context.Context, tx *sql.Tx, p *models.Product) (int64, error)
	UpdateProductTx(ctx context.Context, tx *sql.Tx, p *models.Product) error
	UpdateProductVoteTx(ctx context.Context, tx *sql.Tx, id int64, vote float64, voteCount int) error
	DeleteProductTx(ctx context.Context, tx *sql.Tx, id int64) error
	ListProducts(ctx context.Context, f ProductFilter, offset, limit int) ([]*models.Product, int, error)
}

// ProductFilter — необязательные фильтры для выборки товаров
type ProductFilter struct {
	IDs       []int64
	SourceIDs []int64
	Title     string // подстрока
	PriceFrom *int64
	PriceTo   *int64
}

type productRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) ProductStorage {
	return &productRepository{db: db}
}

const productColumns = "id, source_id, title, description, price, discount, discount_type, vote, vote_count, file_uuids"

func scanProduct(scan func(dest ...any) error) (*models.Product, error) {
	p := &models.Product{}
	var fileUUIDs []byte
	if err := scan(
		&p.ID, &p.SourceID, &p.Title, &p.Description, &p.Price,
		&p.Discount, &p.DiscountType, &p.Vote, &p.VoteCount, &fileUUIDs,
	); err != nil {
		return nil, err
	}
	if len(fileUUIDs) > 0 {
		if err := json.Unmarshal(fileUUIDs, &p.FileUUIDs); err != nil {
			return nil, fmt.Errorf("failed to decode file uuids: %w", err)
		}
	}
	return p, nil
}

func (r *productRepository) GetProductsByIDsTx(ctx context.Context, tx *sql.Tx, ids []int64) ([]*models.Product, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// все запрошенные id должны существовать
	if len(products) != len(ids) {
		return nil, ErrProductNotFound
	}
	return products, nil
}

func (r *productRepository) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = $1", id)
	p, err := scanProduct(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *productRepository) LockProductByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = $1 FOR UPDATE NOWAIT", id)
	p, err := scanProduct(row.Scan)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "55P03" { // lock
				return nil, fmt.Errorf("resource is locked, please try again: %w", err)
			}
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *productRepository) CreateProductTx(ctx context.Context, tx *sql.Tx, p *models.Product) (int64, error) {
	fileUUIDs, err := json.Marshal(p.FileUUIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to encode file uuids: %w", err)
	}
	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO products (source_id, title, description, price, discount, discount_type, vote, vote_count, file_uuids)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7) RETURNING id`,
		p.SourceID, p.Title, p.Description, p.Price, p.Discount, p.DiscountType, fileUUIDs,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create product: %w", err)
	}
	return id, nil
}

func (r *productRepository) UpdateProductTx(ctx context.Context, tx *sql.Tx, p *models.Product) error {
	fileUUIDs, err := json.Marshal(p.FileUUIDs)
	if err != nil {
		return fmt.Errorf("failed to encode file uuids: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE products SET title = $1, description = $2, price = $3, discount = $4, discount_type = $5, file_uuids = $6
		 WHERE id = $7`,
		p.Title, p.Description, p.Price, p.Discount, p.DiscountType, fileUUIDs, p.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *productRepository) UpdateProductVoteTx(ctx context.Context, tx *sql.Tx, id int64, vote float64, voteCount int) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE products SET vote = $1, vote_count = $2 WHERE id = $3", vote, voteCount, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *productRepository) DeleteProductTx(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" { // foreign_key_violation
			return ErrProductInUse
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *productRepository) ListProducts(ctx context.Context, f ProductFilter, offset, limit int) ([]*models.Product, int, error) {
	where, args := buildProductWhere(f)

	total := 0
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(id) FROM products"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(
		"SELECT "+productColumns+" FROM products%s ORDER BY id DESC OFFSET $%d LIMIT $%d",
		where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, offset, limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func buildProductWhere(f ProductFilter) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(f.IDs) > 0 {
		add("id = ANY($%d)", pq.Array(f.IDs))
	}
	if len(f.SourceIDs) > 0 {
		add("source_id = ANY($%d)", pq.Array(f.SourceIDs))
	}
	if f.Title != "" {
		add("title LIKE $%d", "%"+f.Title+"%")
	}
	if f.PriceFrom != nil {
		add("price >= $%d", *f.PriceFrom)
	}
	if f.PriceTo != nil {
		add("price <= $%d", *f.PriceTo)
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
