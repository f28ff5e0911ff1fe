package repository

import (
	"context"
	"database/sql"
	"time"

	"OrderListService/internal/apperr"
	"OrderListService/internal/model"
)

// itemColumns: порядок колонок, в котором scanItem читает строку order_list_items
const itemColumns = `id, sku_id, part_type, quantity, ordered, added_by, added_by_name, added_at, ordered_by, ordered_by_name, ordered_at`

// rowScanner объединяет *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*model.OrderListItem, error) {
	var it model.OrderListItem
	err := row.Scan(&it.ID, &it.SKUID, &it.PartType, &it.Quantity, &it.Ordered,
		&it.AddedBy, &it.AddedByName, &it.AddedAt,
		&it.OrderedBy, &it.OrderedByName, &it.OrderedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// OrderListRepository реализует доступ к таблице order_list_items
// Каждая мутация выполняется одним SQL-оператором, поэтому предусловия проверяет сама БД
type OrderListRepository struct {
	db *sql.DB
}

// NewOrderListRepository создает новый репозиторий списка заказов
func NewOrderListRepository(db *sql.DB) *OrderListRepository {
	return &OrderListRepository{db: db}
}

// CreateItem добавляет позицию, только если SKU существует в каталоге.
// Проверка и вставка выполняются одним оператором, поэтому висячая ссылка невозможна
func (r *OrderListRepository) CreateItem(ctx context.Context, in model.NewItem, actor model.Actor, at time.Time) (*model.OrderListItem, error) {
	const op = "CreateItem"
	query := `INSERT INTO order_list_items(sku_id, part_type, quantity, added_by, added_by_name, added_at)
		SELECT $1::text, $2::text, $3::int, $4::text, $5::text, $6::timestamptz
		WHERE EXISTS (SELECT 1 FROM skus WHERE id=$1)
		RETURNING id`
	var id int64
	err := r.db.QueryRowContext(ctx, query, in.SKUID, in.PartType, in.Quantity, actor.ID, actor.NamePtr(), at).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, apperr.Validation(op, "unknown sku %q", in.SKUID)
	}
	if err != nil {
		return nil, classify(op, err, true)
	}
	addedBy := actor.ID
	return &model.OrderListItem{
		ID:          id,
		SKUID:       in.SKUID,
		PartType:    in.PartType,
		Quantity:    in.Quantity,
		AddedBy:     &addedBy,
		AddedByName: actor.NamePtr(),
		AddedAt:     at,
	}, nil
}

// GetItem возвращает позицию по id
func (r *OrderListRepository) GetItem(ctx context.Context, id int64) (*model.OrderListItem, error) {
	const op = "GetItem"
	row := r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM order_list_items WHERE id=$1`, id)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound(op, "order list item %d not found", id)
	}
	if err != nil {
		return nil, classify(op, err, false)
	}
	return it, nil
}

// ListItems возвращает весь активный список в запрошенном порядке
func (r *OrderListRepository) ListItems(ctx context.Context, sort model.SortOrder) ([]model.OrderListItem, error) {
	const op = "ListItems"
	orderBy := `id`
	if sort == model.SortNeedsOrderingFirst {
		orderBy = `ordered, added_at, id`
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM order_list_items ORDER BY `+orderBy)
	if err != nil {
		return nil, classify(op, err, false)
	}
	defer rows.Close()
	items := make([]model.OrderListItem, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, classify(op, err, false)
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err, false)
	}
	return items, nil
}

// SetOrdered переключает флаг ordered.
// Переход в ordered ставит отметку (кто и когда), повторная установка true отметку не меняет,
// снятие флага отметку очищает. В SET все выражения видят значения строки до обновления
func (r *OrderListRepository) SetOrdered(ctx context.Context, id int64, ordered bool, actor model.Actor, at time.Time) (*model.OrderListItem, error) {
	const op = "SetOrdered"
	query := `UPDATE order_list_items SET
			ordered_by = CASE WHEN $2::boolean THEN (CASE WHEN ordered THEN ordered_by ELSE $3::text END) ELSE NULL END,
			ordered_by_name = CASE WHEN $2::boolean THEN (CASE WHEN ordered THEN ordered_by_name ELSE $4::text END) ELSE NULL END,
			ordered_at = CASE WHEN $2::boolean THEN (CASE WHEN ordered THEN ordered_at ELSE $5::timestamptz END) ELSE NULL END,
			ordered = $2::boolean
		WHERE id=$1
		RETURNING ` + itemColumns
	row := r.db.QueryRowContext(ctx, query, id, ordered, actor.ID, actor.NamePtr(), at)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound(op, "order list item %d not found", id)
	}
	if err != nil {
		return nil, classify(op, err, true)
	}
	return it, nil
}

// RemoveItem безвозвратно удаляет позицию и возвращает её последнее состояние.
// Повторное удаление того же id возвращает ErrNotFound
func (r *OrderListRepository) RemoveItem(ctx context.Context, id int64) (*model.OrderListItem, error) {
	const op = "RemoveItem"
	row := r.db.QueryRowContext(ctx, `DELETE FROM order_list_items WHERE id=$1 RETURNING `+itemColumns, id)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound(op, "order list item %d not found", id)
	}
	if err != nil {
		return nil, classify(op, err, true)
	}
	return it, nil
}
