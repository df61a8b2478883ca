package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dandanito/marketplace/internal/app/sessionmw"
	"github.com/dandanito/marketplace/internal/domain/models"
	"github.com/dandanito/marketplace/internal/service"
)

// SignupRequest представляет структуру запроса регистрации с тегами валидации
type SignupRequest struct {
	FirstName    string `json:"first_name" validate:"required,max=50"`
	LastName     string `json:"last_name" validate:"required,max=50"`
	PhoneNumber  string `json:"phone_number" validate:"omitempty,max=20"`
	EmailAddress string `json:"email_address" validate:"omitempty,email"`
	Address      string `json:"address" validate:"omitempty,max=300"`
	NationalCode string `json:"national_code" validate:"omitempty,max=20"`
	Password     string `json:"password" validate:"required,min=6,max=16"`
	Role         int16  `json:"role" validate:"omitempty,min=1,max=3"`
}

type SignupResponse struct {
	ID int64 `json:"id"`
}

// SignupHandler обрабатывает POST /api/signup. Эндпоинт публичный, но если
// запрос пришел с валидным токеном, роль вызывающего передается в сервис:
// администратор может регистрировать лаборатории и других администраторов.
func SignupHandler(log *slog.Logger, users service.UserService, sessions service.SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.SignupHandler"
		logger := log.With(slog.String("op", op))

		var req SignupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			logger.Error("invalid request: validation error", slog.Any("error", err))
			http.Error(w, "validation error", http.StatusBadRequest)
			return
		}

		var callerRole *models.Role
		if secret := sessionmw.BearerToken(r); secret != "" {
			if session, err := sessions.Verify(r.Context(), secret); err == nil {
				callerRole = &session.Role
			}
		}

		role := models.RoleCustomer
		if req.Role != 0 {
			role = models.Role(req.Role)
		}

		id, err := users.Signup(r.Context(), callerRole, service.SignupRequest{
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			PhoneNumber:  req.PhoneNumber,
			EmailAddress: req.EmailAddress,
			Address:      req.Address,
			NationalCode: req.NationalCode,
			Password:     req.Password,
			Role:         role,
		})
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, SignupResponse{ID: id})
	}
}

// LoginRequest — учетные данные: email или телефон плюс пароль
type LoginRequest struct {
	EmailAddress string `json:"email_address" validate:"omitempty,email"`
	PhoneNumber  string `json:"phone_number" validate:"omitempty,max=20"`
	Password     string `json:"password" validate:"required,min=6,max=16"`
}

// LoginResponse — выданный токен и срок его жизни
type LoginResponse struct {
	Token    string `json:"token"`
	ExpireAt string `json:"expire_at"`
}

// LoginHandler обрабатывает POST /api/login
func LoginHandler(log *slog.Logger, sessions service.SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.LoginHandler"
		logger := log.With(slog.String("op", op))

		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			logger.Error("invalid request: validation error", slog.Any("error", err))
			http.Error(w, "validation error", http.StatusBadRequest)
			return
		}

		token, err := sessions.Login(r.Context(), req.EmailAddress, req.PhoneNumber, req.Password)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, LoginResponse{
			Token:    token.Secret,
			ExpireAt: token.ExpireAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
}
