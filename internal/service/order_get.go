package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dandanito/marketplace/internal/apperr"
	"github.com/dandanito/marketplace/internal/domain/models"
	"github.com/dandanito/marketplace/internal/storage"
)

const defaultPageLimit = 25

// OrdersPage — страница заказов и общее число строк по фильтру
type OrdersPage struct {
	Orders []*models.Order `json:"orders"`
	Total  int             `json:"total"`
}

// OrderLinesResult — строки одного заказа
type OrderLinesResult struct {
	Lines []*models.OrderLine `json:"lines"`
	Total int                 `json:"total"`
}

type OrderGetService interface {
	// GetOrders возвращает страницу заказов по фильтру. Не-администратор
	// видит только собственные заказы, фильтр по покупателям игнорируется.
	GetOrders(ctx context.Context, callerID int64, callerRole models.Role, f storage.OrderFilter, offset, limit int) (*OrdersPage, error)
	// GetOrderLines возвращает строки заказа; доступ — владельцу или администратору
	GetOrderLines(ctx context.Context, orderID, callerID int64, callerRole models.Role) (*OrderLinesResult, error)
}

type orderGetService struct {
	log       *slog.Logger
	orderRepo storage.OrderStorage
	lineRepo  storage.OrderLineStorage
}

func NewOrderGetService(log *slog.Logger, orderRepo storage.OrderStorage, lineRepo storage.OrderLineStorage) OrderGetService {
	return &orderGetService{log: log, orderRepo: orderRepo, lineRepo: lineRepo}
}

func (s *orderGetService) GetOrders(ctx context.Context, callerID int64, callerRole models.Role, f storage.OrderFilter, offset, limit int) (*OrdersPage, error) {
	const op = "service.OrderGetService.GetOrders"
	logger := s.log.With(slog.String("op", op), slog.Int64("callerID", callerID))

	if offset < 0 || limit < 0 {
		return nil, apperr.New(apperr.KindValidation, "invalid_pagination")
	}
	if limit == 0 {
		limit = defaultPageLimit
	}

	// область видимости сужается на сервере, а не доверяется клиенту
	if callerRole != models.RoleAdmin {
		f.CustomerIDs = []int64{callerID}
	}

	orders, total, err := s.orderRepo.ListOrders(ctx, f, offset, limit)
	if err != nil {
		logger.Error("failed to list orders", slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	return &OrdersPage{Orders: orders, Total: total}, nil
}

func (s *orderGetService) GetOrderLines(ctx context.Context, orderID, callerID int64, callerRole models.Role) (*OrderLinesResult, error) {
	const op = "service.OrderGetService.GetOrderLines"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID))

	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "order_not_found")
		}
		logger.Error("failed to get order", slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}
	if order.CustomerID != callerID && callerRole != models.RoleAdmin {
		return nil, apperr.New(apperr.KindPermission, "permission_denied")
	}

	lines, err := s.lineRepo.GetLinesByOrderID(ctx, orderID)
	if err != nil {
		logger.Error("failed to get order lines", slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}
	if lines == nil {
		lines = []*models.OrderLine{}
	}
	return &OrderLinesResult{Lines: lines, Total: len(lines)}, nil
}
