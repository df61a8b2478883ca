package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dandanito/marketplace/internal/app/sessionmw"
	"github.com/dandanito/marketplace/internal/domain/models"
	"github.com/dandanito/marketplace/internal/service"
	"github.com/dandanito/marketplace/internal/storage"
)

// OrderLinePayload — строка заказа в запросе
type OrderLinePayload struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

// CreateOrderRequest — запрос создания черновика заказа
type CreateOrderRequest struct {
	Description string             `json:"description" validate:"max=300"`
	Lines       []OrderLinePayload `json:"lines" validate:"dive"`
}

// OrderIDResponse — идентификатор затронутого заказа
type OrderIDResponse struct {
	ID int64 `json:"id"`
}

func linePayloadsToRequests(payloads []OrderLinePayload) []service.OrderLineRequest {
	lines := make([]service.OrderLineRequest, 0, len(payloads))
	for _, p := range payloads {
		lines = append(lines, service.OrderLineRequest{ProductID: p.ProductID, Quantity: p.Quantity})
	}
	return lines
}

// OrderCreateHandler обрабатывает POST /api/orders
func OrderCreateHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.OrderCreateHandler"
		logger := log.With(slog.String("op", op))

		session, ok := sessionmw.FromContext(r.Context())
		if !ok {
			logger.Error("session not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req CreateOrderRequest
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

		id, err := orders.Create(r.Context(), session.UserID, req.Description, linePayloadsToRequests(req.Lines))
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, OrderIDResponse{ID: id})
	}
}

// EditOrderRequest — патч заказа: поля, строки для добавления/изменения/удаления
type EditOrderRequest struct {
	Description      *string            `json:"description" validate:"omitempty,max=300"`
	Status           *int16             `json:"status" validate:"omitempty,min=1,max=3"`
	AddLines         []OrderLinePayload `json:"add_lines" validate:"dive"`
	EditLines        []OrderLinePayload `json:"edit_lines" validate:"dive"`
	RemoveProductIDs []int64            `json:"remove_product_ids"`
}

// OrderEditHandler обрабатывает PATCH /api/orders/{id}
func OrderEditHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.OrderEditHandler"
		logger := log.With(slog.String("op", op))

		session, ok := sessionmw.FromContext(r.Context())
		if !ok {
			logger.Error("session not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		var req EditOrderRequest
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

		var status *models.OrderStatus
		if req.Status != nil {
			s := models.OrderStatus(*req.Status)
			status = &s
		}

		id, err := orders.Edit(r.Context(), orderID, session.UserID, service.EditOrderRequest{
			Description:      req.Description,
			Status:           status,
			AddLines:         linePayloadsToRequests(req.AddLines),
			EditLines:        linePayloadsToRequests(req.EditLines),
			RemoveProductIDs: req.RemoveProductIDs,
		})
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, OrderIDResponse{ID: id})
	}
}

// OrderRemoveHandler обрабатывает DELETE /api/orders/{id}
func OrderRemoveHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.OrderRemoveHandler"
		logger := log.With(slog.String("op", op))

		session, ok := sessionmw.FromContext(r.Context())
		if !ok {
			logger.Error("session not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		id, err := orders.Remove(r.Context(), orderID, session.UserID)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, OrderIDResponse{ID: id})
	}
}

// OrderListHandler обрабатывает GET /api/orders с фильтрами в query-параметрах
func OrderListHandler(log *slog.Logger, orders service.OrderGetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.OrderListHandler"
		logger := log.With(slog.String("op", op))

		session, ok := sessionmw.FromContext(r.Context())
		if !ok {
			logger.Error("session not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		f, offset, limit, err := parseOrderFilter(r)
		if err != nil {
			http.Error(w, "invalid filter", http.StatusBadRequest)
			return
		}

		page, err := orders.GetOrders(r.Context(), session.UserID, session.Role, f, offset, limit)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, page)
	}
}

// OrderLinesHandler обрабатывает GET /api/orders/{id}/lines
func OrderLinesHandler(log *slog.Logger, orders service.OrderGetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.OrderLinesHandler"
		logger := log.With(slog.String("op", op))

		session, ok := sessionmw.FromContext(r.Context())
		if !ok {
			logger.Error("session not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		lines, err := orders.GetOrderLines(r.Context(), orderID, session.UserID, session.Role)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, lines)
	}
}

func parseOrderFilter(r *http.Request) (storage.OrderFilter, int, int, error) {
	q := r.URL.Query()
	var f storage.OrderFilter

	ids, err := parseInt64List(q.Get("ids"))
	if err != nil {
		return f, 0, 0, err
	}
	f.IDs = ids

	customerIDs, err := parseInt64List(q.Get("customer_ids"))
	if err != nil {
		return f, 0, 0, err
	}
	f.CustomerIDs = customerIDs

	statusValues, err := parseInt64List(q.Get("statuses"))
	if err != nil {
		return f, 0, 0, err
	}
	for _, v := range statusValues {
		f.Statuses = append(f.Statuses, models.OrderStatus(v))
	}

	f.Description = q.Get("description")

	if f.PriceFrom, err = parseOptInt64(q.Get("price_from")); err != nil {
		return f, 0, 0, err
	}
	if f.PriceTo, err = parseOptInt64(q.Get("price_to")); err != nil {
		return f, 0, 0, err
	}
	if f.DateFrom, err = parseOptTime(q.Get("date_from")); err != nil {
		return f, 0, 0, err
	}
	if f.DateTo, err = parseOptTime(q.Get("date_to")); err != nil {
		return f, 0, 0, err
	}

	offset, limit, err := parsePagination(q.Get("offset"), q.Get("limit"))
	return f, offset, limit, err
}

func parseInt64List(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		if part == "" {
			continue
		}
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseOptInt64(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseOptTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parsePagination(rawOffset, rawLimit string) (int, int, error) {
	offset, limit := 0, 0
	var err error
	if rawOffset != "" {
		if offset, err = strconv.Atoi(rawOffset); err != nil {
			return 0, 0, err
		}
	}
	if rawLimit != "" {
		if limit, err = strconv.Atoi(rawLimit); err != nil {
			return 0, 0, err
		}
	}
	return offset, limit, nil
}
