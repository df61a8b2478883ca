package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dandanito/marketplace/internal/app/sessionmw"
	"github.com/dandanito/marketplace/internal/domain/models"
	"github.com/dandanito/marketplace/internal/service"
	"github.com/dandanito/marketplace/internal/storage"
)

// CreateProductRequest — запрос создания товара
type CreateProductRequest struct {
	Title        string   `json:"title" validate:"required,min=2,max=100"`
	Description  string   `json:"description" validate:"max=300"`
	Price        int64    `json:"price" validate:"required,gt=0"`
	Discount     int64    `json:"discount" validate:"gte=0"`
	DiscountType int16    `json:"discount_type" validate:"required,min=1,max=3"`
	FileUUIDs    []string `json:"file_uuids" validate:"dive,uuid"`
}

// ProductIDResponse — идентификатор затронутого товара
type ProductIDResponse struct {
	ID int64 `json:"id"`
}

// ProductCreateHandler обрабатывает POST /api/products
func ProductCreateHandler(log *slog.Logger, products service.ProductService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ProductCreateHandler"
		logger := log.With(slog.String("op", op))

		session, ok := sessionmw.FromContext(r.Context())
		if !ok {
			logger.Error("session not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req CreateProductRequest
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

		id, err := products.Add(r.Context(), session.UserID, session.Role, service.AddProductRequest{
			Title:        req.Title,
			Description:  req.Description,
			Price:        req.Price,
			Discount:     req.Discount,
			DiscountType: models.DiscountType(req.DiscountType),
			FileUUIDs:    req.FileUUIDs,
		})
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, ProductIDResponse{ID: id})
	}
}

// EditProductRequest — патч товара; nil-поля не меняются
type EditProductRequest struct {
	Title           *string  `json:"title" validate:"omitempty,min=2,max=100"`
	Description     *string  `json:"description" validate:"omitempty,max=300"`
	Price           *int64   `json:"price" validate:"omitempty,gt=0"`
	Discount        *int64   `json:"discount" validate:"omitempty,gte=0"`
	DiscountType    *int16   `json:"discount_type" validate:"omitempty,min=1,max=3"`
	AddFileUUIDs    []string `json:"add_file_uuids" validate:"dive,uuid"`
	RemoveFileUUIDs []string `json:"remove_file_uuids" validate:"dive,uuid"`
}

// ProductEditHandler обрабатывает PATCH /api/products/{id}
func ProductEditHandler(log *slog.Logger, products service.ProductService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ProductEditHandler"
		logger := log.With(slog.String("op", op))

		session, ok := sessionmw.FromContext(r.Context())
		if !ok {
			logger.Error("session not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid product id", http.StatusBadRequest)
			return
		}

		var req EditProductRequest
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

		var discountType *models.DiscountType
		if req.DiscountType != nil {
			dt := models.DiscountType(*req.DiscountType)
			discountType = &dt
		}

		if err := products.Edit(r.Context(), productID, session.UserID, session.Role, service.EditProductRequest{
			Title:           req.Title,
			Description:     req.Description,
			Price:           req.Price,
			Discount:        req.Discount,
			DiscountType:    discountType,
			AddFileUUIDs:    req.AddFileUUIDs,
			RemoveFileUUIDs: req.RemoveFileUUIDs,
		}); err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, ProductIDResponse{ID: productID})
	}
}

// ProductRemoveHandler обрабатывает DELETE /api/products/{id}
func ProductRemoveHandler(log *slog.Logger, products service.ProductService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ProductRemoveHandler"
		logger := log.With(slog.String("op", op))

		session, ok := sessionmw.FromContext(r.Context())
		if !ok {
			logger.Error("session not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid product id", http.StatusBadRequest)
			return
		}

		if err := products.Remove(r.Context(), productID, session.UserID, session.Role); err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, ProductIDResponse{ID: productID})
	}
}

// ProductListHandler обрабатывает GET /api/products с фильтрами в query-параметрах
func ProductListHandler(log *slog.Logger, products service.ProductService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ProductListHandler"
		logger := log.With(slog.String("op", op))

		f, offset, limit, err := parseProductFilter(r)
		if err != nil {
			http.Error(w, "invalid filter", http.StatusBadRequest)
			return
		}

		page, err := products.GetProducts(r.Context(), f, offset, limit)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, page)
	}
}

// VoteRequest — оценка товара
type VoteRequest struct {
	Rating int `json:"rating" validate:"min=0,max=5"`
}

// ProductVoteHandler обрабатывает POST /api/products/{id}/vote
func ProductVoteHandler(log *slog.Logger, products service.ProductService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ProductVoteHandler"
		logger := log.With(slog.String("op", op))

		session, ok := sessionmw.FromContext(r.Context())
		if !ok {
			logger.Error("session not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid product id", http.StatusBadRequest)
			return
		}

		var req VoteRequest
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

		if err := products.Vote(r.Context(), productID, session.UserID, session.Role, req.Rating); err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, ProductIDResponse{ID: productID})
	}
}

func parseProductFilter(r *http.Request) (storage.ProductFilter, int, int, error) {
	q := r.URL.Query()
	var f storage.ProductFilter

	ids, err := parseInt64List(q.Get("ids"))
	if err != nil {
		return f, 0, 0, err
	}
	f.IDs = ids

	sourceIDs, err := parseInt64List(q.Get("source_ids"))
	if err != nil {
		return f, 0, 0, err
	}
	f.SourceIDs = sourceIDs

	f.Title = q.Get("title")

	if f.PriceFrom, err = parseOptInt64(q.Get("price_from")); err != nil {
		return f, 0, 0, err
	}
	if f.PriceTo, err = parseOptInt64(q.Get("price_to")); err != nil {
		return f, 0, 0, err
	}

	offset, limit, err := parsePagination(q.Get("offset"), q.Get("limit"))
	return f, offset, limit, err
}
