package storage_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/dandanito/marketplace/internal/domain/models"
	"github.com/dandanito/marketplace/internal/storage"
)

func TestGetUserByLogin_Success(t *testing.T) {
	// Создаем sqlmock для эмуляции базы данных.
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewUserRepository(db)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "first_name", "last_name", "phone_number", "email_address",
		"address", "national_code", "pass_hash", "role", "vote", "vote_count",
	}).AddRow(1, "Test", "User", "", "test@example.com", "", "", []byte("hash"), 1, 0.0, 0)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE").
		WithArgs("test@example.com", "").
		WillReturnRows(rows)

	user, err := repo.GetUserByLogin(ctx, "test@example.com", "")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "test@example.com", user.EmailAddress)
	assert.Equal(t, models.RoleCustomer, user.Role)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByLogin_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewUserRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE").
		WithArgs("absent@example.com", "").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "first_name", "last_name", "phone_number", "email_address",
			"address", "national_code", "pass_hash", "role", "vote", "vote_count",
		}))

	user, err := repo.GetUserByLogin(context.Background(), "absent@example.com", "")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
	assert.Nil(t, user)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_Duplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewUserRepository(db)

	// Эмулируем нарушение уникального индекса по email.
	mock.ExpectQuery("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err = repo.CreateUser(context.Background(), &models.User{
		EmailAddress: "dup@example.com",
		PassHash:     []byte("hash"),
		Role:         models.RoleCustomer,
	})
	assert.ErrorIs(t, err, storage.ErrUserExists)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTokenBySecret_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewTokenRepository(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "user_id", "role", "secret", "created_at", "expire_at"}).
		AddRow(7, 1, 1, "a1b2c3d4e5f60718", now, now.Add(time.Hour))

	mock.ExpectQuery("SELECT id, user_id, role, secret, created_at, expire_at FROM tokens WHERE secret = \\$1").
		WithArgs("a1b2c3d4e5f60718").
		WillReturnRows(rows)

	token, err := repo.GetTokenBySecret(context.Background(), "a1b2c3d4e5f60718")
	assert.NoError(t, err)
	assert.Equal(t, int64(7), token.ID)
	assert.Equal(t, int64(1), token.UserID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTokenTx_SecretCollision(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewTokenRepository(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO tokens").
		WillReturnError(&pq.Error{Code: "23505"})

	tx, err := db.Begin()
	assert.NoError(t, err)

	_, err = repo.CreateTokenTx(context.Background(), tx, &models.Token{
		UserID:    1,
		Role:      models.RoleCustomer,
		Secret:    "a1b2c3d4e5f60718",
		CreatedAt: now,
		ExpireAt:  now.Add(time.Hour),
	})
	// Коллизия секрета отображается в сигнальную ошибку для ретрая.
	assert.ErrorIs(t, err, storage.ErrSecretTaken)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountLiveTokensTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewTokenRepository(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(id) FROM tokens WHERE user_id = $1 AND expire_at > $2")).
		WithArgs(int64(1), now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	tx, err := db.Begin()
	assert.NoError(t, err)

	count, err := repo.CountLiveTokensTx(context.Background(), tx, 1, now)
	assert.NoError(t, err)
	assert.Equal(t, 3, count)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExpiredTokensTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewTokenRepository(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM tokens WHERE user_id = $1 AND expire_at <= $2")).
		WithArgs(int64(1), now).
		WillReturnResult(sqlmock.NewResult(0, 2))

	tx, err := db.Begin()
	assert.NoError(t, err)

	err = repo.DeleteExpiredTokensTx(context.Background(), tx, 1, now)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTokensByUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewTokenRepository(db)

	mock.ExpectQuery("DELETE FROM tokens WHERE user_id = \\$1 RETURNING id").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4).AddRow(9))

	ids, err := repo.DeleteTokensByUser(context.Background(), 1)
	assert.NoError(t, err)
	assert.Equal(t, []int64{4, 9}, ids)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockOrderByIDTx_Locked(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewOrderRepository(db)

	mock.ExpectBegin()
	// Эмулируем занятую блокировку строки (NOWAIT).
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1 FOR UPDATE NOWAIT").
		WithArgs(int64(10)).
		WillReturnError(&pq.Error{Code: "55P03"})

	tx, err := db.Begin()
	assert.NoError(t, err)

	order, err := repo.LockOrderByIDTx(context.Background(), tx, 10)
	assert.ErrorIs(t, err, storage.ErrOrderLocked)
	assert.Nil(t, order)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockOrderByIDTx_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewOrderRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1 FOR UPDATE NOWAIT").
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "description", "status", "price", "created_at"}))

	tx, err := db.Begin()
	assert.NoError(t, err)

	order, err := repo.LockOrderByIDTx(context.Background(), tx, 11)
	assert.ErrorIs(t, err, storage.ErrOrderNotFound)
	assert.Nil(t, order)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderTx_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewOrderRepository(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO orders").
		WithArgs(int64(1), "first order", models.StatusDraft, int64(25500), now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	tx, err := db.Begin()
	assert.NoError(t, err)

	id, err := repo.CreateOrderTx(context.Background(), tx, &models.Order{
		CustomerID:  1,
		Description: "first order",
		Status:      models.StatusDraft,
		Price:       25500,
		CreatedAt:   now,
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(42), id)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderTx_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewOrderRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := db.Begin()
	assert.NoError(t, err)

	err = repo.UpdateOrderTx(context.Background(), tx, 99, nil, nil, 100)
	assert.ErrorIs(t, err, storage.ErrOrderNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOrders_WithFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewOrderRepository(db)
	now := time.Now()

	// Сначала COUNT по тому же WHERE, затем страница.
	mock.ExpectQuery("SELECT COUNT\\(id\\) FROM orders WHERE customer_id = ANY\\(\\$1\\) AND status = ANY\\(\\$2\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE customer_id = ANY\\(\\$1\\) AND status = ANY\\(\\$2\\) ORDER BY id DESC OFFSET \\$3 LIMIT \\$4").
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "description", "status", "price", "created_at"}).
			AddRow(5, 1, "order five", 2, 8500, now).
			AddRow(3, 1, "order three", 2, 25500, now))

	orders, total, err := repo.ListOrders(context.Background(), storage.OrderFilter{
		CustomerIDs: []int64{1},
		Statuses:    []models.OrderStatus{models.StatusInProgress},
	}, 0, 2)
	assert.NoError(t, err)
	assert.Equal(t, 12, total)
	assert.Len(t, orders, 2)
	assert.Equal(t, int64(5), orders[0].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductsByIDsTx_MissingProduct(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewProductRepository(db)

	mock.ExpectBegin()
	// Запрошены два id, найден один — вся операция отклоняется.
	mock.ExpectQuery("SELECT (.+) FROM products WHERE id = ANY\\(\\$1\\)").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "source_id", "title", "description", "price",
			"discount", "discount_type", "vote", "vote_count", "file_uuids",
		}).AddRow(1, 2, "reagent kit", "", 10000, 0, 1, 0.0, 0, []byte(`[]`)))

	tx, err := db.Begin()
	assert.NoError(t, err)

	products, err := repo.GetProductsByIDsTx(context.Background(), tx, []int64{1, 2})
	assert.ErrorIs(t, err, storage.ErrProductNotFound)
	assert.Nil(t, products)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProductTx_InUse(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewProductRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM products WHERE id = \\$1").
		WithArgs(int64(1)).
		WillReturnError(&pq.Error{Code: "23503"})

	tx, err := db.Begin()
	assert.NoError(t, err)

	err = repo.DeleteProductTx(context.Background(), tx, 1)
	assert.ErrorIs(t, err, storage.ErrProductInUse)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLinesByOrderIDTx_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewOrderLineRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM order_lines WHERE order_id = \\$1 ORDER BY id").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "order_id", "product_id", "base_price", "discount", "discount_type", "quantity", "total_price",
		}).
			AddRow(1, 42, 7, 10000, 15, 2, 3, 25500).
			AddRow(2, 42, 8, 10000, 2500, 3, 1, 7500))

	tx, err := db.Begin()
	assert.NoError(t, err)

	lines, err := repo.GetLinesByOrderIDTx(context.Background(), tx, 42)
	assert.NoError(t, err)
	assert.Len(t, lines, 2)
	assert.Equal(t, int64(25500), lines[0].TotalPrice)
	assert.Equal(t, models.DiscountAmount, lines[1].DiscountType)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLineQuantityTx_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewOrderLineRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE order_lines SET quantity = $1, total_price = $2 WHERE id = $3")).
		WithArgs(5, int64(42500), int64(77)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := db.Begin()
	assert.NoError(t, err)

	err = repo.UpdateLineQuantityTx(context.Background(), tx, 77, 5, 42500)
	assert.ErrorIs(t, err, storage.ErrOrderLineNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFilesByUUIDsTx_PartialMatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewFileRepository(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM files WHERE uuid = ANY\\(\\$1\\) AND is_temp = \\$2").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "uuid", "is_temp", "size", "name", "extension", "mime_type", "created_at",
		}).AddRow(1, "2f1d7f2e-9c1b-4f0a-8d7e-3f1a2b3c4d5e", true, 1024, "photo", "jpg", "image/jpeg", now))

	tx, err := db.Begin()
	assert.NoError(t, err)

	files, err := repo.GetFilesByUUIDsTx(context.Background(), tx,
		[]string{"2f1d7f2e-9c1b-4f0a-8d7e-3f1a2b3c4d5e", "99999999-0000-0000-0000-000000000000"}, true)
	assert.ErrorIs(t, err, storage.ErrFileNotFound)
	assert.Nil(t, files)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFilesByUUIDsTx_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := storage.NewFileRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM files").
		WillReturnError(errors.New("connection lost"))

	tx, err := db.Begin()
	assert.NoError(t, err)

	_, err = repo.GetFilesByUUIDsTx(context.Background(), tx, []string{"2f1d7f2e-9c1b-4f0a-8d7e-3f1a2b3c4d5e"}, true)
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
