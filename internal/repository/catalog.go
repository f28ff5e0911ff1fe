package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"OrderListService/internal/model"
)

// SKURepository читает каталог SKU (таблица skus), только чтение
type SKURepository struct {
	db *sql.DB
}

// NewSKURepository создает репозиторий каталога
func NewSKURepository(db *sql.DB) *SKURepository {
	return &SKURepository{db: db}
}

// FindByIDs возвращает найденные SKU; отсутствующие идентификаторы просто не попадают в результат
func (r *SKURepository) FindByIDs(ctx context.Context, ids []string) ([]model.SKU, error) {
	const op = "FindSKUs"
	if len(ids) == 0 {
		return []model.SKU{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, code, brand, model FROM skus WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, classify(op, err, false)
	}
	defer rows.Close()
	return scanSKUs(op, rows)
}

// List возвращает первые limit позиций каталога по возрастанию id
func (r *SKURepository) List(ctx context.Context, limit int) ([]model.SKU, error) {
	const op = "ListSKUs"
	rows, err := r.db.QueryContext(ctx, `SELECT id, code, brand, model FROM skus ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, classify(op, err, false)
	}
	defer rows.Close()
	return scanSKUs(op, rows)
}

// Exists проверяет наличие SKU в обход кэша
func (r *SKURepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM skus WHERE id=$1)`, id).Scan(&exists)
	if err != nil {
		return false, classify("SKUExists", err, false)
	}
	return exists, nil
}

func scanSKUs(op string, rows *sql.Rows) ([]model.SKU, error) {
	skus := make([]model.SKU, 0)
	for rows.Next() {
		var s model.SKU
		if err := rows.Scan(&s.ID, &s.Code, &s.Brand, &s.Model); err != nil {
			return nil, classify(op, err, false)
		}
		skus = append(skus, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err, false)
	}
	return skus, nil
}
