package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dandanito/marketplace/internal/domain/models"
	"github.com/lib/pq"
)

var ErrFileNotFound = errors.New("file not found")

// FileStorage описывает реестр загруженных файлов. Байты файлов хранит
// внешняя подсистема, здесь только учет: временный/постоянный статус.
type FileStorage interface {
	// GetFilesByUUIDsTx возвращает файлы с заданным статусом; все uuid должны существовать
	GetFilesByUUIDsTx(ctx context.Context, tx *sql.Tx, uuids []string, isTemp bool) ([]*models.File, error)
	// MakeFilesPermanentTx помечает файлы постоянными (привязка к товару)
	MakeFilesPermanentTx(ctx context.Context, tx *sql.Tx, ids []int64) error
	// DeleteFilesByUUIDsTx удаляет записи по uuid, отсутствующие молча пропускаются
	DeleteFilesByUUIDsTx(ctx context.Context, tx *sql.Tx, uuids []string) error
}

type fileRepository struct {
	db *sql.DB
}

func NewFileRepository(db *sql.DB) FileStorage {
	return &fileRepository{db: db}
}

func (r *fileRepository) GetFilesByUUIDsTx(ctx context.Context, tx *sql.Tx, uuids []string, isTemp bool) ([]*models.File, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, uuid, is_temp, size, name, extension, mime_type, created_at
		 FROM files WHERE uuid = ANY($1) AND is_temp = $2`,
		pq.Array(uuids), isTemp)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		f := &models.File{}
		if err := rows.Scan(&f.ID, &f.UUID, &f.IsTemp, &f.Size, &f.Name, &f.Extension, &f.MimeType, &f.CreatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(files) != len(uuids) {
		return nil, ErrFileNotFound
	}
	return files, nil
}

func (r *fileRepository) MakeFilesPermanentTx(ctx context.Context, tx *sql.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	res, err := tx.ExecContext(ctx,
		"UPDATE files SET is_temp = false WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != int64(len(ids)) {
		return fmt.Errorf("failed to make files permanent: %w", ErrFileNotFound)
	}
	return nil
}

func (r *fileRepository) DeleteFilesByUUIDsTx(ctx context.Context, tx *sql.Tx, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, "DELETE FROM files WHERE uuid = ANY($1)", pq.Array(uuids))
	return err
}
