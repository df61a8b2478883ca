package sessionmw

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dandanito/marketplace/internal/domain/models"
	"github.com/dandanito/marketplace/internal/service"
)

type contextKey string

const sessionContextKey contextKey = "session"

// BearerToken извлекает секрет из заголовка Authorization
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// New возвращает middleware, которое проверяет сессионный токен и кладет
// (userID, роль) в контекст запроса. Запросы без валидного токена отклоняются.
func New(log *slog.Logger, sessions service.SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "sessionmw.New"

			secret := BearerToken(r)
			if secret == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			session, err := sessions.Verify(r.Context(), secret)
			if err != nil {
				log.Info("session verification failed", slog.String("op", op), slog.Any("error", err))
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext возвращает сессию текущего запроса
func FromContext(ctx context.Context) (*service.Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(*service.Session)
	return session, ok
}

// RoleFromContext — роль текущего пользователя или 0
func RoleFromContext(ctx context.Context) models.Role {
	if session, ok := FromContext(ctx); ok {
		return session.Role
	}
	return 0
}
