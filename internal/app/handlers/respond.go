package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/dandanito/marketplace/internal/apperr"
)

var validate = validator.New()

// ErrorResponse — тело ответа при ошибке: стабильный код для клиента
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON сериализует тело ответа с заданным статусом
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError отображает ошибку ядра на HTTP-статус. Причина (если есть)
// в ответ не попадает, клиент видит только код.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	code := apperr.CodeOf(err)

	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
		// ошибки входа и проверки токена для клиента всегда 401
		if code == "token_not_found" || code == "credential_not_found" {
			status = http.StatusUnauthorized
		}
	case apperr.KindPermission:
		status = http.StatusForbidden
		if code == "password_mismatch" {
			status = http.StatusUnauthorized
		}
	case apperr.KindState:
		status = http.StatusConflict
		if code == "token_expired" {
			status = http.StatusUnauthorized
		}
	case apperr.KindStorage:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		log.Error("internal error", slog.Any("error", err))
		code = "internal_error"
	}
	if code == "" {
		code = "internal_error"
	}
	writeJSON(w, status, ErrorResponse{Error: code})
}
