package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dandanito/marketplace/internal/domain/models"
	"github.com/lib/pq"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	// ErrSecretTaken — коллизия секрета (уникальный индекс), нужно перегенерировать
	ErrSecretTaken = errors.New("token secret already taken")
)

// TokenStorage описывает методы для работы с сессионными токенами.
type TokenStorage interface {
	// GetTokenBySecret — один индексированный поиск, выполняется на каждый запрос
	GetTokenBySecret(ctx context.Context, secret string) (*models.Token, error)
	// LockTokenBySecretTx блокирует строку токена для продления на месте
	LockTokenBySecretTx(ctx context.Context, tx *sql.Tx, secret string) (*models.Token, error)
	// DeleteExpiredTokensTx удаляет протухшие токены пользователя
	DeleteExpiredTokensTx(ctx context.Context, tx *sql.Tx, userID int64, now time.Time) error
	CountLiveTokensTx(ctx context.Context, tx *sql.Tx, userID int64, now time.Time) (int, error)
	CreateTokenTx(ctx context.Context, tx *sql.Tx, t *models.Token) (int64, error)
	// UpdateTokenSecretTx перезаписывает секрет и времена существующей строки
	UpdateTokenSecretTx(ctx context.Context, tx *sql.Tx, id int64, secret string, createdAt, expireAt time.Time) error
	// DeleteTokenBySecret удаляет токен и возвращает удаленную строку
	DeleteTokenBySecret(ctx context.Context, secret string) (*models.Token, error)
	// DeleteTokensByUser удаляет все токены пользователя, 0 строк — не ошибка
	DeleteTokensByUser(ctx context.Context, userID int64) ([]int64, error)
}

type tokenRepository struct {
	db *sql.DB
}

func NewTokenRepository(db *sql.DB) TokenStorage {
	return &tokenRepository{db: db}
}

const tokenColumns = "id, user_id, role, secret, created_at, expire_at"

func scanToken(row *sql.Row) (*models.Token, error) {
	t := &models.Token{}
	if err := row.Scan(&t.ID, &t.UserID, &t.Role, &t.Secret, &t.CreatedAt, &t.ExpireAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return t, nil
}

func (r *tokenRepository) GetTokenBySecret(ctx context.Context, secret string) (*models.Token, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM tokens WHERE secret = $1", secret)
	return scanToken(row)
}

func (r *tokenRepository) LockTokenBySecretTx(ctx context.Context, tx *sql.Tx, secret string) (*models.Token, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM tokens WHERE secret = $1 FOR UPDATE", secret)
	return scanToken(row)
}

func (r *tokenRepository) DeleteExpiredTokensTx(ctx context.Context, tx *sql.Tx, userID int64, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		"DELETE FROM tokens WHERE user_id = $1 AND expire_at <= $2", userID, now)
	return err
}

func (r *tokenRepository) CountLiveTokensTx(ctx context.Context, tx *sql.Tx, userID int64, now time.Time) (int, error) {
	count := 0
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(id) FROM tokens WHERE user_id = $1 AND expire_at > $2", userID, now,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *tokenRepository) CreateTokenTx(ctx context.Context, tx *sql.Tx, t *models.Token) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO tokens (user_id, role, secret, created_at, expire_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		t.UserID, t.Role, t.Secret, t.CreatedAt, t.ExpireAt,
	).Scan(&id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return 0, ErrSecretTaken
		}
		return 0, err
	}
	return id, nil
}

func (r *tokenRepository) UpdateTokenSecretTx(ctx context.Context, tx *sql.Tx, id int64, secret string, createdAt, expireAt time.Time) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE tokens SET secret = $1, created_at = $2, expire_at = $3 WHERE id = $4",
		secret, createdAt, expireAt, id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return ErrSecretTaken
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func (r *tokenRepository) DeleteTokenBySecret(ctx context.Context, secret string) (*models.Token, error) {
	row := r.db.QueryRowContext(ctx,
		"DELETE FROM tokens WHERE secret = $1 RETURNING "+tokenColumns, secret)
	return scanToken(row)
}

func (r *tokenRepository) DeleteTokensByUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		"DELETE FROM tokens WHERE user_id = $1 RETURNING id", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
