package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/dandanito/marketplace/internal/apperr"
	"github.com/dandanito/marketplace/internal/domain/models"
	"github.com/dandanito/marketplace/internal/storage"
)

// SignupRequest — параметры регистрации пользователя
type SignupRequest struct {
	FirstName    string
	LastName     string
	PhoneNumber  string
	EmailAddress string
	Address      string
	NationalCode string
	Password     string
	Role         models.Role
}

type UserService interface {
	// Signup регистрирует пользователя. Роль выше покупателя может назначить
	// только администратор; анонимная регистрация — всегда покупатель.
	Signup(ctx context.Context, callerRole *models.Role, req SignupRequest) (int64, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

type userService struct {
	log      *slog.Logger
	userRepo storage.UserStorage
}

func NewUserService(log *slog.Logger, userRepo storage.UserStorage) UserService {
	return &userService{log: log, userRepo: userRepo}
}

func (s *userService) Signup(ctx context.Context, callerRole *models.Role, req SignupRequest) (int64, error) {
	const op = "service.UserService.Signup"
	logger := s.log.With(slog.String("op", op))
	logger.Info("signing up user")

	if req.EmailAddress == "" && req.PhoneNumber == "" {
		return 0, apperr.New(apperr.KindValidation, "login_required")
	}
	if len(req.Password) < 6 || len(req.Password) > 16 {
		return 0, apperr.New(apperr.KindValidation, "invalid_password")
	}
	switch req.Role {
	case models.RoleCustomer, models.RoleLab, models.RoleAdmin:
	default:
		return 0, apperr.New(apperr.KindValidation, "invalid_role")
	}
	if req.Role != models.RoleCustomer {
		if callerRole == nil || *callerRole != models.RoleAdmin {
			return 0, apperr.New(apperr.KindPermission, "permission_denied")
		}
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.Error("failed to hash password", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	user, err := s.userRepo.CreateUser(ctx, &models.User{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PhoneNumber:  req.PhoneNumber,
		EmailAddress: req.EmailAddress,
		Address:      req.Address,
		NationalCode: req.NationalCode,
		PassHash:     passHash,
		Role:         req.Role,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return 0, apperr.New(apperr.KindValidation, "user_already_exists")
		}
		logger.Error("failed to create user", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	logger.Info("user signed up", slog.Int64("userID", user.ID))
	return user.ID, nil
}

func (s *userService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	const op = "service.UserService.GetUser"

	user, err := s.userRepo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "user_not_found")
		}
		s.log.Error("failed to get user", slog.String("op", op), slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}
	return user, nil
}
