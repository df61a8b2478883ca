package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandanito/marketplace/internal/apperr"
	"github.com/dandanito/marketplace/internal/domain/models"
	"github.com/dandanito/marketplace/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

// tokenSecretLength — длина секрета в hex-символах
const tokenSecretLength = 16

// maxSecretAttempts ограничивает перегенерацию секрета при коллизиях
const maxSecretAttempts = 5

// serializableTxOpts — все read-modify-write последовательности сессий идут
// в сериализуемых транзакциях, иначе возможна гонка sweep+count+insert
var serializableTxOpts = &sql.TxOptions{Isolation: sql.LevelSerializable}

// Session — результат проверки токена: кто и с какой ролью
type Session struct {
	UserID int64
	Role   models.Role
}

type SessionService interface {
	// Login проверяет учетные данные и выдает новый токен
	Login(ctx context.Context, email, phone, password string) (*models.Token, error)
	// Verify разрешает секрет в (userID, роль); вызывается на каждый защищенный запрос
	Verify(ctx context.Context, secret string) (*Session, error)
	// Extend продлевает сессию, перезаписывая секрет и времена на месте
	Extend(ctx context.Context, secret string) (*models.Token, error)
	Logout(ctx context.Context, secret string) (*models.Token, error)
	LogoutAll(ctx context.Context, userID int64) ([]int64, error)
}

type sessionService struct {
	log           *slog.Logger
	db            *sql.DB
	userRepo      storage.UserStorage
	tokenRepo     storage.TokenStorage
	tokenTTL      time.Duration
	extendMinLife time.Duration
	maxSessions   int
	now           func() time.Time          // подменяется в тестах
	newSecret     func() (string, error)    // подменяется в тестах
}

func NewSessionService(log *slog.Logger, db *sql.DB, userRepo storage.UserStorage, tokenRepo storage.TokenStorage,
	tokenTTL, extendMinLife time.Duration, maxSessions int) SessionService {
	return &sessionService{
		log:           log,
		db:            db,
		userRepo:      userRepo,
		tokenRepo:     tokenRepo,
		tokenTTL:      tokenTTL,
		extendMinLife: extendMinLife,
		maxSessions:   maxSessions,
		now:           time.Now,
		newSecret:     generateSecret,
	}
}

// generateSecret возвращает случайную hex-строку фиксированной длины
func generateSecret() (string, error) {
	buf := make([]byte, tokenSecretLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (s *sessionService) Login(ctx context.Context, email, phone, password string) (*models.Token, error) {
	const op = "service.SessionService.Login"
	logger := s.log.With(slog.String("op", op), slog.String("email", email))
	logger.Info("logging in")

	if email == "" && phone == "" {
		return nil, apperr.New(apperr.KindValidation, "login_required")
	}

	user, err := s.userRepo.GetUserByLogin(ctx, email, phone)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			logger.Warn("credential not found")
			return nil, apperr.New(apperr.KindNotFound, "credential_not_found")
		}
		logger.Error("failed to get user", slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	// сравнение пароля с хэшем за постоянное время
	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(password)); err != nil {
		logger.Warn("invalid password")
		return nil, apperr.New(apperr.KindPermission, "password_mismatch")
	}

	tx, err := s.db.BeginTx(ctx, serializableTxOpts)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	now := s.now()

	// сначала убираем протухшие токены, затем считаем живые
	if err := s.tokenRepo.DeleteExpiredTokensTx(ctx, tx, user.ID, now); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to sweep expired tokens", slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	liveCount, err := s.tokenRepo.CountLiveTokensTx(ctx, tx, user.ID, now)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to count live tokens", slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}
	if liveCount >= s.maxSessions {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Warn("too many sessions", slog.Int("live", liveCount))
		return nil, apperr.New(apperr.KindState, "too_many_sessions")
	}

	token := &models.Token{
		UserID:    user.ID,
		Role:      user.Role,
		CreatedAt: now,
		ExpireAt:  now.Add(s.tokenTTL),
	}
	// секрет уникален среди живых токенов: коллизия ловится уникальным
	// индексом, перегенерация ограничена maxSecretAttempts
	for attempt := 0; ; attempt++ {
		secret, err := s.newSecret()
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			logger.Error("failed to generate secret", slog.Any("error", err))
			return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
		}
		token.Secret = secret

		id, err := s.tokenRepo.CreateTokenTx(ctx, tx, token)
		if err == nil {
			token.ID = id
			break
		}
		if errors.Is(err, storage.ErrSecretTaken) && attempt < maxSecretAttempts-1 {
			continue
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to create token", slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	logger.Info("user logged in", slog.Int64("userID", user.ID))
	return token, nil
}

func (s *sessionService) Verify(ctx context.Context, secret string) (*Session, error) {
	const op = "service.SessionService.Verify"

	token, err := s.tokenRepo.GetTokenBySecret(ctx, secret)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "token_not_found")
		}
		s.log.Error("failed to get token", slog.String("op", op), slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	// граница включающая: expireAt == now уже считается протухшим
	if !token.ExpireAt.After(s.now()) {
		return nil, apperr.New(apperr.KindState, "token_expired")
	}

	return &Session{UserID: token.UserID, Role: token.Role}, nil
}

func (s *sessionService) Extend(ctx context.Context, secret string) (*models.Token, error) {
	const op = "service.SessionService.Extend"
	logger := s.log.With(slog.String("op", op))

	tx, err := s.db.BeginTx(ctx, serializableTxOpts)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	token, err := s.tokenRepo.LockTokenBySecretTx(ctx, tx, secret)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "token_not_found")
		}
		logger.Error("failed to lock token", slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	now := s.now()
	if !token.ExpireAt.After(now) {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		return nil, apperr.New(apperr.KindState, "token_expired")
	}
	// защита от спама продлениями: токен должен прожить минимум extendMinLife
	if now.Sub(token.CreatedAt) < s.extendMinLife {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		return nil, apperr.New(apperr.KindState, "extend_too_soon")
	}

	token.CreatedAt = now
	token.ExpireAt = now.Add(s.tokenTTL)
	for attempt := 0; ; attempt++ {
		newSecret, err := s.newSecret()
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			logger.Error("failed to generate secret", slog.Any("error", err))
			return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
		}

		err = s.tokenRepo.UpdateTokenSecretTx(ctx, tx, token.ID, newSecret, token.CreatedAt, token.ExpireAt)
		if err == nil {
			token.Secret = newSecret
			break
		}
		if errors.Is(err, storage.ErrSecretTaken) && attempt < maxSecretAttempts-1 {
			continue
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to update token", slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	logger.Info("session extended", slog.Int64("tokenID", token.ID))
	return token, nil
}

func (s *sessionService) Logout(ctx context.Context, secret string) (*models.Token, error) {
	const op = "service.SessionService.Logout"

	token, err := s.tokenRepo.DeleteTokenBySecret(ctx, secret)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "token_not_found")
		}
		s.log.Error("failed to delete token", slog.String("op", op), slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	s.log.Info("logged out", slog.String("op", op), slog.Int64("tokenID", token.ID))
	return token, nil
}

func (s *sessionService) LogoutAll(ctx context.Context, userID int64) ([]int64, error) {
	const op = "service.SessionService.LogoutAll"

	// ноль удаленных строк — не ошибка
	ids, err := s.tokenRepo.DeleteTokensByUser(ctx, userID)
	if err != nil {
		s.log.Error("failed to delete tokens", slog.String("op", op), slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	s.log.Info("logged out everywhere", slog.String("op", op), slog.Int64("userID", userID), slog.Int("count", len(ids)))
	return ids, nil
}
