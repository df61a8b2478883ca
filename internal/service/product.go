package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dandanito/marketplace/internal/apperr"
	"github.com/dandanito/marketplace/internal/domain/models"
	"github.com/dandanito/marketplace/internal/storage"
)

const (
	minTitleLength = 2
	maxTitleLength = 100
	maxVoteRating  = 5
)

// AddProductRequest — параметры создания товара
type AddProductRequest struct {
	Title        string
	Description  string
	Price        int64
	Discount     int64
	DiscountType models.DiscountType
	FileUUIDs    []string
}

// EditProductRequest — патч товара; nil-поля не меняются
type EditProductRequest struct {
	Title           *string
	Description     *string
	Price           *int64
	Discount        *int64
	DiscountType    *models.DiscountType
	AddFileUUIDs    []string
	RemoveFileUUIDs []string
}

type ProductService interface {
	// Add создает товар; временные файлы из FileUUIDs становятся постоянными
	Add(ctx context.Context, sourceID int64, sourceRole models.Role, req AddProductRequest) (int64, error)
	// Edit меняет товар; доступ — владельцу или администратору
	Edit(ctx context.Context, productID, callerID int64, callerRole models.Role, req EditProductRequest) error
	// Remove удаляет товар вместе с записями о его файлах
	Remove(ctx context.Context, productID, callerID int64, callerRole models.Role) error
	GetProducts(ctx context.Context, f storage.ProductFilter, offset, limit int) (*ProductsPage, error)
	// Vote ставит товару оценку 0..5; доступно только покупателям
	Vote(ctx context.Context, productID, callerID int64, callerRole models.Role, rating int) error
}

// ProductsPage — страница товаров и общее число строк по фильтру
type ProductsPage struct {
	Products []*models.Product `json:"products"`
	Total    int               `json:"total"`
}

type productService struct {
	log         *slog.Logger
	db          *sql.DB
	productRepo storage.ProductStorage
	fileRepo    storage.FileStorage
}

func NewProductService(log *slog.Logger, db *sql.DB, productRepo storage.ProductStorage, fileRepo storage.FileStorage) ProductService {
	return &productService{log: log, db: db, productRepo: productRepo, fileRepo: fileRepo}
}

func validateTitle(title string) error {
	n := utf8.RuneCountInString(title)
	if n < minTitleLength || n > maxTitleLength {
		return apperr.New(apperr.KindValidation, "invalid_title")
	}
	return nil
}

func validateProductDescription(description string) error {
	if utf8.RuneCountInString(description) > maxOrderDescriptionLength {
		return apperr.New(apperr.KindValidation, "invalid_description")
	}
	return nil
}

// validateDiscount проверяет согласованность скидки с ценой: итоговая цена
// за единицу не должна обнуляться
func validateDiscount(price, discount int64, discountType models.DiscountType) error {
	switch discountType {
	case models.DiscountNone:
		if discount != 0 {
			return apperr.New(apperr.KindValidation, "invalid_discount")
		}
	case models.DiscountPercentage:
		if discount < 1 || discount > 99 {
			return apperr.New(apperr.KindValidation, "invalid_discount")
		}
	case models.DiscountAmount:
		if discount <= 0 || discount >= price {
			return apperr.New(apperr.KindValidation, "invalid_discount")
		}
	default:
		return apperr.New(apperr.KindValidation, "invalid_discount_type")
	}
	return nil
}

func validateFileUUIDs(uuids []string) error {
	for _, u := range uuids {
		if _, err := uuid.Parse(u); err != nil {
			return apperr.New(apperr.KindValidation, "invalid_file_uuid")
		}
	}
	return nil
}

func (s *productService) Add(ctx context.Context, sourceID int64, sourceRole models.Role, req AddProductRequest) (int64, error) {
	const op = "service.ProductService.Add"
	logger := s.log.With(slog.String("op", op), slog.Int64("sourceID", sourceID))
	logger.Info("adding product")

	if !sourceRole.CanSell() {
		return 0, apperr.New(apperr.KindPermission, "permission_denied")
	}
	if err := validateTitle(req.Title); err != nil {
		return 0, err
	}
	if err := validateProductDescription(req.Description); err != nil {
		return 0, err
	}
	if req.Price <= 0 {
		return 0, apperr.New(apperr.KindValidation, "invalid_price")
	}
	if err := validateDiscount(req.Price, req.Discount, req.DiscountType); err != nil {
		return 0, err
	}
	if err := validateFileUUIDs(req.FileUUIDs); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	// к товару можно привязать только временные файлы: постоянные уже заняты
	if len(req.FileUUIDs) > 0 {
		files, err := s.fileRepo.GetFilesByUUIDsTx(ctx, tx, req.FileUUIDs, true)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			if errors.Is(err, storage.ErrFileNotFound) {
				return 0, apperr.New(apperr.KindNotFound, "file_not_found")
			}
			logger.Error("failed to get files", slog.Any("error", err))
			return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
		}
		ids := make([]int64, 0, len(files))
		for _, f := range files {
			ids = append(ids, f.ID)
		}
		if err := s.fileRepo.MakeFilesPermanentTx(ctx, tx, ids); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			logger.Error("failed to make files permanent", slog.Any("error", err))
			return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
		}
	}

	productID, err := s.productRepo.CreateProductTx(ctx, tx, &models.Product{
		SourceID:     sourceID,
		Title:        req.Title,
		Description:  req.Description,
		Price:        req.Price,
		Discount:     req.Discount,
		DiscountType: req.DiscountType,
		FileUUIDs:    req.FileUUIDs,
	})
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to create product", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return 0, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	logger.Info("product added", slog.Int64("productID", productID))
	return productID, nil
}

func (s *productService) Edit(ctx context.Context, productID, callerID int64, callerRole models.Role, req EditProductRequest) error {
	const op = "service.ProductService.Edit"
	logger := s.log.With(slog.String("op", op), slog.Int64("productID", productID), slog.Int64("callerID", callerID))
	logger.Info("editing product")

	if req.Title != nil {
		if err := validateTitle(*req.Title); err != nil {
			return err
		}
	}
	if req.Description != nil {
		if err := validateProductDescription(*req.Description); err != nil {
			return err
		}
	}
	if req.Price != nil && *req.Price <= 0 {
		return apperr.New(apperr.KindValidation, "invalid_price")
	}
	if err := validateFileUUIDs(req.AddFileUUIDs); err != nil {
		return err
	}
	if err := validateFileUUIDs(req.RemoveFileUUIDs); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	p, err := s.productRepo.LockProductByIDTx(ctx, tx, productID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrProductNotFound) {
			return apperr.New(apperr.KindNotFound, "product_not_found")
		}
		logger.Error("failed to lock product", slog.Any("error", err))
		return apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	if p.SourceID != callerID && callerRole != models.RoleAdmin {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		return apperr.New(apperr.KindPermission, "permission_denied")
	}

	if req.Title != nil {
		p.Title = *req.Title
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Price != nil {
		p.Price = *req.Price
	}
	if req.Discount != nil {
		p.Discount = *req.Discount
	}
	if req.DiscountType != nil {
		p.DiscountType = *req.DiscountType
	}
	// скидка проверяется против итоговых значений, а не только измененных полей
	if err := validateDiscount(p.Price, p.Discount, p.DiscountType); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		return err
	}

	if len(req.AddFileUUIDs) > 0 {
		files, err := s.fileRepo.GetFilesByUUIDsTx(ctx, tx, req.AddFileUUIDs, true)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			if errors.Is(err, storage.ErrFileNotFound) {
				return apperr.New(apperr.KindNotFound, "file_not_found")
			}
			logger.Error("failed to get files", slog.Any("error", err))
			return apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
		}
		ids := make([]int64, 0, len(files))
		for _, f := range files {
			ids = append(ids, f.ID)
		}
		if err := s.fileRepo.MakeFilesPermanentTx(ctx, tx, ids); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			logger.Error("failed to make files permanent", slog.Any("error", err))
			return apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
		}
		p.FileUUIDs = append(p.FileUUIDs, req.AddFileUUIDs...)
	}

	if len(req.RemoveFileUUIDs) > 0 {
		remove := make(map[string]struct{}, len(req.RemoveFileUUIDs))
		for _, u := range req.RemoveFileUUIDs {
			remove[u] = struct{}{}
		}
		kept := p.FileUUIDs[:0]
		for _, u := range p.FileUUIDs {
			if _, ok := remove[u]; !ok {
				kept = append(kept, u)
			}
		}
		p.FileUUIDs = kept
		if err := s.fileRepo.DeleteFilesByUUIDsTx(ctx, tx, req.RemoveFileUUIDs); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			logger.Error("failed to delete files", slog.Any("error", err))
			return apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
		}
	}

	if err := s.productRepo.UpdateProductTx(ctx, tx, p); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to update product", slog.Any("error", err))
		return apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	logger.Info("product edited")
	return nil
}

func (s *productService) Remove(ctx context.Context, productID, callerID int64, callerRole models.Role) error {
	const op = "service.ProductService.Remove"
	logger := s.log.With(slog.String("op", op), slog.Int64("productID", productID), slog.Int64("callerID", callerID))
	logger.Info("removing product")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	p, err := s.productRepo.LockProductByIDTx(ctx, tx, productID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrProductNotFound) {
			return apperr.New(apperr.KindNotFound, "product_not_found")
		}
		logger.Error("failed to lock product", slog.Any("error", err))
		return apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	if p.SourceID != callerID && callerRole != models.RoleAdmin {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		return apperr.New(apperr.KindPermission, "permission_denied")
	}

	if err := s.fileRepo.DeleteFilesByUUIDsTx(ctx, tx, p.FileUUIDs); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to delete product files", slog.Any("error", err))
		return apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	if err := s.productRepo.DeleteProductTx(ctx, tx, productID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		// товар со строками заказов удалить нельзя: снимки цен должны оставаться валидными
		if errors.Is(err, storage.ErrProductInUse) {
			return apperr.New(apperr.KindState, "product_in_use")
		}
		logger.Error("failed to delete product", slog.Any("error", err))
		return apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	logger.Info("product removed")
	return nil
}

func (s *productService) GetProducts(ctx context.Context, f storage.ProductFilter, offset, limit int) (*ProductsPage, error) {
	const op = "service.ProductService.GetProducts"
	logger := s.log.With(slog.String("op", op))

	if offset < 0 || limit < 0 {
		return nil, apperr.New(apperr.KindValidation, "invalid_pagination")
	}
	if limit == 0 {
		limit = defaultPageLimit
	}

	products, total, err := s.productRepo.ListProducts(ctx, f, offset, limit)
	if err != nil {
		logger.Error("failed to list products", slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}
	if products == nil {
		products = []*models.Product{}
	}
	return &ProductsPage{Products: products, Total: total}, nil
}

func (s *productService) Vote(ctx context.Context, productID, callerID int64, callerRole models.Role, rating int) error {
	const op = "service.ProductService.Vote"
	logger := s.log.With(slog.String("op", op), slog.Int64("productID", productID), slog.Int64("callerID", callerID))
	logger.Info("voting for product")

	if callerRole != models.RoleCustomer {
		return apperr.New(apperr.KindPermission, "permission_denied")
	}
	if rating < 0 || rating > maxVoteRating {
		return apperr.New(apperr.KindValidation, "invalid_rating")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	// блокировка строки: среднее пересчитывается без гонок между голосами
	p, err := s.productRepo.LockProductByIDTx(ctx, tx, productID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrProductNotFound) {
			return apperr.New(apperr.KindNotFound, "product_not_found")
		}
		logger.Error("failed to lock product", slog.Any("error", err))
		return apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	newCount := p.VoteCount + 1
	newVote := (p.Vote*float64(p.VoteCount) + float64(rating)) / float64(newCount)

	if err := s.productRepo.UpdateProductVoteTx(ctx, tx, productID, newVote, newCount); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to update product vote", slog.Any("error", err))
		return apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return apperr.Wrap(apperr.KindStorage, "storage_error", fmt.Errorf("%s: %w", op, err))
	}

	logger.Info("vote recorded", slog.Int("rating", rating))
	return nil
}
