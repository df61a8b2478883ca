package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dandanito/marketplace/internal/domain/models"
	"github.com/lib/pq"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

type UserStorage interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	// GetUserByLogin ищет пользователя по email или телефону (достаточно одного)
	GetUserByLogin(ctx context.Context, email, phone string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
}

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) UserStorage {
	return &userRepository{db: db}
}

const userColumns = "id, first_name, last_name, phone_number, email_address, address, national_code, pass_hash, role, vote, vote_count"

func scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	if err := row.Scan(
		&user.ID, &user.FirstName, &user.LastName, &user.PhoneNumber,
		&user.EmailAddress, &user.Address, &user.NationalCode,
		&user.PassHash, &user.Role, &user.Vote, &user.VoteCount,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (r *userRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id)
	return scanUser(row)
}

// GetUserByLogin ищет пользователя по email или номеру телефона.
// Пустые значения не участвуют в сравнении.
func (r *userRepository) GetUserByLogin(ctx context.Context, email, phone string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE (email_address = $1 AND $1 <> '') OR (phone_number = $2 AND $2 <> '')",
		email, phone)
	return scanUser(row)
}

func (r *userRepository) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (first_name, last_name, phone_number, email_address, address, national_code, pass_hash, role, vote, vote_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0) RETURNING id`,
		user.FirstName, user.LastName, user.PhoneNumber, user.EmailAddress,
		user.Address, user.NationalCode, user.PassHash, user.Role,
	).Scan(&id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return nil, ErrUserExists
		}
		return nil, err
	}
	user.ID = id
	return user, nil
}
