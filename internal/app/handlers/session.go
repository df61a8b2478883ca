package handlers

import (
	"log/slog"
	"net/http"

	"github.com/dandanito/marketplace/internal/app/sessionmw"
	"github.com/dandanito/marketplace/internal/service"
)

// WhoamiResponse — профиль текущего пользователя
type WhoamiResponse struct {
	ID           int64   `json:"id"`
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	PhoneNumber  string  `json:"phone_number"`
	EmailAddress string  `json:"email_address"`
	Address      string  `json:"address"`
	Role         int16   `json:"role"`
	Vote         float64 `json:"vote"`
	VoteCount    int     `json:"vote_count"`
}

// WhoamiHandler обрабатывает GET /api/whoami
func WhoamiHandler(log *slog.Logger, users service.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.WhoamiHandler"
		logger := log.With(slog.String("op", op))

		session, ok := sessionmw.FromContext(r.Context())
		if !ok {
			logger.Error("session not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		user, err := users.GetUser(r.Context(), session.UserID)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, WhoamiResponse{
			ID:           user.ID,
			FirstName:    user.FirstName,
			LastName:     user.LastName,
			PhoneNumber:  user.PhoneNumber,
			EmailAddress: user.EmailAddress,
			Address:      user.Address,
			Role:         int16(user.Role),
			Vote:         user.Vote,
			VoteCount:    user.VoteCount,
		})
	}
}

// ExtendResponse — новый секрет и срок жизни продленной сессии
type ExtendResponse struct {
	Token    string `json:"token"`
	ExpireAt string `json:"expire_at"`
}

// ExtendHandler обрабатывает POST /api/extend. Токен берется из заголовка
// напрямую, без middleware: сервис сам блокирует строку и решает, жив ли токен.
func ExtendHandler(log *slog.Logger, sessions service.SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ExtendHandler"
		logger := log.With(slog.String("op", op))

		secret := sessionmw.BearerToken(r)
		if secret == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		token, err := sessions.Extend(r.Context(), secret)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, ExtendResponse{
			Token:    token.Secret,
			ExpireAt: token.ExpireAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
}

// LogoutResponse — подтверждение выхода
type LogoutResponse struct {
	Message string `json:"message"`
}

// LogoutHandler обрабатывает POST /api/logout: завершает текущую сессию
func LogoutHandler(log *slog.Logger, sessions service.SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.LogoutHandler"
		logger := log.With(slog.String("op", op))

		secret := sessionmw.BearerToken(r)
		if secret == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if _, err := sessions.Logout(r.Context(), secret); err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, LogoutResponse{Message: "logged out"})
	}
}

// LogoutAllResponse — число завершенных сессий
type LogoutAllResponse struct {
	Count int `json:"count"`
}

// LogoutAllHandler обрабатывает POST /api/logoutAll: завершает все сессии пользователя
func LogoutAllHandler(log *slog.Logger, sessions service.SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.LogoutAllHandler"
		logger := log.With(slog.String("op", op))

		session, ok := sessionmw.FromContext(r.Context())
		if !ok {
			logger.Error("session not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ids, err := sessions.LogoutAll(r.Context(), session.UserID)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, LogoutAllResponse{Count: len(ids)})
	}
}
