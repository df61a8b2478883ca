package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/dandanito/marketplace/internal/apperr"
	"github.com/dandanito/marketplace/internal/domain/models"
	"github.com/dandanito/marketplace/internal/pricing"
	"github.com/dandanito/marketplace/internal/storage"
)

// maxOrderDescriptionLength — ограничение длины описания заказа
const maxOrderDescriptionLength = 300

// OrderLineRequest — запрошенная строка заказа
type OrderLineRequest struct {
	ProductID int64
	Quantity  int
}

// EditOrderRequest — патч заказа; хотя бы одно поле должно быть задано
type EditOrderRequest struct {
	Description      *string
	Status           *models.OrderStatus
	AddLines         []OrderLineRequest
	EditLines        []OrderLineRequest
	RemoveProductIDs []int64
}

func (r EditOrderRequest) isEmpty() bool {
	return r.Description == nil && r.Status == nil &&
		len(r.AddLines) == 0 && len(r.EditLines) == 0 && len(r.RemoveProductIDs) == 0
}

type OrderService interface {
	// Create создает черновик заказа; если черновик уже есть — возвращает его id,
	// запрошенные строки при этом игнорируются (возврат существующей корзины)
	Create(ctx context.Context, customerID int64, description string, lines []OrderLineRequest) (int64, error)
	// Edit атомарно применяет патч: строки и итоговая цена меняются в одной транзакции
	Edit(ctx context.Context, orderID, callerID int64, req EditOrderRequest) (int64, error)
	Remove(ctx context.Context, orderID, callerID int64) (int64, error)
}

type orderService struct {
	log         *slog.Logger
	db          *sql.DB
	orderRepo   storage.OrderStorage
	lineRepo    storage.OrderLineStorage
	productRepo storage.ProductStorage
	now         func() time.Time
}

func NewOrderService(log *slog.Logger, db *sql.DB, orderRepo storage.OrderStorage,
	lineRepo storage.OrderLineStorage, productRepo storage.ProductStorage) OrderService {
	return &orderService{
		log:         log,
		db:          db,
		orderRepo:   orderRepo,
		lineRepo:    lineRepo,
		productRepo: productRepo,
		now:         time.Now,
	}
}

func validateOrderDescription(description string) error {
	if utf8.RuneCountInString(description) > maxOrderDescriptionLength {
		return apperr.New(apperr.KindValidation, "invalid_description")
	}
	return nil
}

func validateLineRequests(lines []OrderLineRequest) error {
	seen := make(map[int64]struct{}, len(lines))
	for _, line := range lines {
		if line.ProductID <= 0 {
			return apperr.New(apperr.KindValidation, "invalid_product_id")
		}
		if line.Quantity <= 0 || line.Quantity > pricing.MaxQuantity {
			return apperr.New(apperr.KindValidation, "invalid_quantity")
		}
		if _, ok := seen[line.ProductID]; ok {
			return apperr.New(apperr.KindValidation, "duplicate_product")
		}
		seen[line.ProductID] = struct{}{}
	}
	return nil
}

// snapshotLines фиксирует цены товаров на текущий момент и строит строки заказа
func (s *orderService) snapshotLines(ctx context.Context, tx *sql.Tx, orderID int64, lines []OrderLineRequest) ([]*models.OrderLine, error) {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}

	products, err := s.productRepo.GetProductsByIDsTx(ctx, tx, ids)
	if err != nil {
		if errors.Is(err, storage.ErrProductNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "product_not_found")
		}
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", err)
	}
	byID := make(map[int64]*models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	result := make([]*models.OrderLine, 0, len(lines))
	for _, line := range lines {
		p := byID[line.ProductID]
		unit := pricing.UnitPrice(p.Price, p.DiscountType, p.Discount)
		// скидка, обнуляющая цену, — ошибка целостности данных товара
		if unit <= 0 {
			return nil, apperr.New(apperr.KindValidation, "invalid_product_price")
		}
		result = append(result, &models.OrderLine{
			OrderID:      orderID,
			ProductID:    p.ID,
			BasePrice:    p.Price,
			Discount:     p.Discount,
			DiscountType: p.DiscountType,
			Quantity:     line.Quantity,
			TotalPrice:   pricing.LineTotal(unit, line.Quantity),
		})
	}
	return result, nil
}

func (s *orderService) Create(ctx context.Context, customerID int64, description string, lines []OrderLineRequest) (int64, error) {
	const op = "service.OrderService.Create"
	logger := s.log.With(slog.String("op", op), slog.Int64("customerID", customerID))
	logger.Info("creating order")

	if err := validateOrderDescription(description); err != nil {
		return 0, err
	}
	if err := validateLineRequests(lines); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, serializableTxOpts)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	// у покупателя может быть только один черновик: существующий возвращается как есть
	draft, err := s.orderRepo.GetDraftOrderByCustomerTx(ctx, tx, customerID)
	if err == nil {
		if cmErr := tx.Commit(); cmErr != nil {
			logger.Error("failed to commit transaction", slog.Any("error", cmErr))
			return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, cmErr))
		}
		logger.Info("draft order reused", slog.Int64("orderID", draft.ID))
		return draft.ID, nil
	}
	if !errors.Is(err, storage.ErrOrderNotFound) {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to check draft order", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	var orderLines []*models.OrderLine
	if len(lines) > 0 {
		orderLines, err = s.snapshotLines(ctx, tx, 0, lines)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			return 0, err
		}
	}

	lineTotals := make([]int64, 0, len(orderLines))
	for _, line := range orderLines {
		lineTotals = append(lineTotals, line.TotalPrice)
	}

	orderID, err := s.orderRepo.CreateOrderTx(ctx, tx, &models.Order{
		CustomerID:  customerID,
		Description: description,
		Status:      models.StatusDraft,
		Price:       pricing.OrderTotal(lineTotals),
		CreatedAt:   s.now(),
	})
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to create order", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	for _, line := range orderLines {
		line.OrderID = orderID
		if _, err := s.lineRepo.CreateLineTx(ctx, tx, line); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			logger.Error("failed to create order line", slog.Any("error", err))
			return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
		}
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	logger.Info("order created", slog.Int64("orderID", orderID))
	return orderID, nil
}

func (s *orderService) Edit(ctx context.Context, orderID, callerID int64, req EditOrderRequest) (int64, error) {
	const op = "service.OrderService.Edit"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID), slog.Int64("callerID", callerID))
	logger.Info("editing order")

	// патч без единого поля отклоняется до обращения к БД
	if req.isEmpty() {
		return 0, apperr.New(apperr.KindState, "nothing_to_edit")
	}
	if req.Description != nil {
		if err := validateOrderDescription(*req.Description); err != nil {
			return 0, err
		}
	}
	if req.Status != nil {
		switch *req.Status {
		case models.StatusDraft, models.StatusInProgress, models.StatusDone:
		default:
			return 0, apperr.New(apperr.KindValidation, "invalid_status")
		}
	}
	if err := validateLineRequests(req.AddLines); err != nil {
		return 0, err
	}
	if err := validateLineRequests(req.EditLines); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, serializableTxOpts)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	order, err := s.orderRepo.LockOrderByIDTx(ctx, tx, orderID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrOrderNotFound) {
			return 0, apperr.New(apperr.KindNotFound, "order_not_found")
		}
		logger.Error("failed to lock order", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	// редактировать заказ может только его владелец
	if order.CustomerID != callerID {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		return 0, apperr.New(apperr.KindPermission, "permission_denied")
	}

	// терминальный статус: заказ неизменяем
	if order.Status == models.StatusDone {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		return 0, apperr.New(apperr.KindState, "order_not_editable")
	}

	// статус движется только вперед
	if req.Status != nil && *req.Status <= order.Status {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		return 0, apperr.New(apperr.KindState, "invalid_status_transition")
	}

	lines, err := s.lineRepo.GetLinesByOrderIDTx(ctx, tx, orderID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to get order lines", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}
	byProduct := make(map[int64]*models.OrderLine, len(lines))
	for _, line := range lines {
		byProduct[line.ProductID] = line
	}

	totalPrice := order.Price

	if len(req.AddLines) > 0 {
		for _, add := range req.AddLines {
			if _, ok := byProduct[add.ProductID]; ok {
				if rbErr := tx.Rollback(); rbErr != nil {
					logger.Error("transaction rollback failed", slog.Any("error", rbErr))
				}
				return 0, apperr.New(apperr.KindValidation, "product_already_in_order")
			}
		}
		newLines, err := s.snapshotLines(ctx, tx, orderID, req.AddLines)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			return 0, err
		}
		for _, line := range newLines {
			id, err := s.lineRepo.CreateLineTx(ctx, tx, line)
			if err != nil {
				if rbErr := tx.Rollback(); rbErr != nil {
					logger.Error("transaction rollback failed", slog.Any("error", rbErr))
				}
				logger.Error("failed to create order line", slog.Any("error", err))
				return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
			}
			line.ID = id
			byProduct[line.ProductID] = line
			totalPrice += line.TotalPrice
		}
	}

	for _, edit := range req.EditLines {
		line, ok := byProduct[edit.ProductID]
		if !ok {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			return 0, apperr.New(apperr.KindNotFound, "order_line_not_found")
		}
		// цена за единицу берется из снимка, не из актуального товара
		unit := pricing.UnitPrice(line.BasePrice, line.DiscountType, line.Discount)
		newTotal := pricing.LineTotal(unit, edit.Quantity)
		totalPrice += newTotal - line.TotalPrice
		if err := s.lineRepo.UpdateLineQuantityTx(ctx, tx, line.ID, edit.Quantity, newTotal); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			logger.Error("failed to update order line", slog.Any("error", err))
			return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
		}
		// обновляем строку в памяти, чтобы последующее удаление
		// в этом же запросе вычло актуальную сумму
		line.Quantity = edit.Quantity
		line.TotalPrice = newTotal
	}

	for _, productID := range req.RemoveProductIDs {
		line, ok := byProduct[productID]
		if !ok {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			return 0, apperr.New(apperr.KindNotFound, "order_line_not_found")
		}
		totalPrice -= line.TotalPrice
		if err := s.lineRepo.DeleteLineTx(ctx, tx, line.ID); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			logger.Error("failed to delete order line", slog.Any("error", err))
			return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
		}
		delete(byProduct, productID)
	}

	if err := s.orderRepo.UpdateOrderTx(ctx, tx, orderID, req.Description, req.Status, totalPrice); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to update order", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	logger.Info("order edited", slog.Int64("price", totalPrice))
	return orderID, nil
}

func (s *orderService) Remove(ctx context.Context, orderID, callerID int64) (int64, error) {
	const op = "service.OrderService.Remove"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID), slog.Int64("callerID", callerID))
	logger.Info("removing order")

	tx, err := s.db.BeginTx(ctx, serializableTxOpts)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	order, err := s.orderRepo.LockOrderByIDTx(ctx, tx, orderID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrOrderNotFound) {
			return 0, apperr.New(apperr.KindNotFound, "order_not_found")
		}
		logger.Error("failed to lock order", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	if order.CustomerID != callerID {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		return 0, apperr.New(apperr.KindPermission, "permission_denied")
	}

	// сначала дочерние строки, затем сам заказ
	if err := s.lineRepo.DeleteLinesByOrderIDTx(ctx, tx, orderID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to delete order lines", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}
	if err := s.orderRepo.DeleteOrderTx(ctx, tx, orderID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to delete order", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	logger.Info("order removed")
	return orderID, nil
}
