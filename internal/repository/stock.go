package repository

import (
	"context"
	"database/sql"

	"OrderListService/internal/apperr"
	"OrderListService/internal/model"
)

// StockRepository увеличивает складские остатки (таблицы stock_receipts и stock_levels)
type StockRepository struct {
	db *sql.DB
}

// NewStockRepository создает репозиторий остатков
func NewStockRepository(db *sql.DB) *StockRepository {
	return &StockRepository{db: db}
}

// Receive оприходует поступление в одной транзакции:
// 1. Блокирует строку позиции (FOR UPDATE), чтобы удаление или снятие флага не прошли параллельно
// 2. Позиции нет: ErrNotFound; позиция не заказана: ErrValidation, если поступление по ключу ещё не учтено
// 3. Пишет строку stock_receipts; конфликт по ключу означает повтор, остаток не меняется (credited=false)
// 4. Увеличивает stock_levels.on_hand
// Ошибка до COMMIT означает откат, ошибка на самом COMMIT: неизвестный результат
func (r *StockRepository) Receive(ctx context.Context, rc model.StockReceipt) (bool, error) {
	const op = "ReceiveStock"
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, classify(op, err, false)
	}
	defer tx.Rollback()
	var ordered bool
	err = tx.QueryRowContext(ctx, `SELECT ordered FROM order_list_items WHERE id=$1 FOR UPDATE`, rc.ItemID).Scan(&ordered)
	if err == sql.ErrNoRows {
		return false, apperr.NotFound(op, "order list item %d not found", rc.ItemID)
	}
	if err != nil {
		return false, classify(op, err, false)
	}
	if !ordered {
		// флаг могли снять уже после учтённого поступления: тогда это повтор, позицию надо убрать
		var recorded bool
		err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM stock_receipts WHERE idempotency_key=$1)`, rc.Key).Scan(&recorded)
		if err != nil {
			return false, classify(op, err, false)
		}
		if !recorded {
			return false, apperr.Validation(op, "item %d has not been ordered", rc.ItemID)
		}
		return false, nil
	}
	// журнал поступлений: конфликт по ключу означает, что поступление уже учтено
	res, err := tx.ExecContext(ctx, `INSERT INTO stock_receipts(idempotency_key, order_item_id, sku_id, quantity, received_by, received_at)
		VALUES($1, $2, $3, $4, $5, $6) ON CONFLICT (idempotency_key) DO NOTHING`,
		rc.Key, rc.ItemID, rc.SKUID, rc.Quantity, rc.ReceivedBy, rc.ReceivedAt)
	if err != nil {
		return false, classify(op, err, false)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, classify(op, err, false)
	}
	if inserted == 0 {
		return false, nil
	}
	// увеличиваем остаток, создавая строку при первом поступлении
	_, err = tx.ExecContext(ctx, `INSERT INTO stock_levels(sku_id, on_hand, updated_at) VALUES($1, $2, $3)
		ON CONFLICT (sku_id) DO UPDATE SET on_hand = stock_levels.on_hand + EXCLUDED.on_hand, updated_at = EXCLUDED.updated_at`,
		rc.SKUID, rc.Quantity, rc.ReceivedAt)
	if err != nil {
		return false, classify(op, err, false)
	}
	if err := tx.Commit(); err != nil {
		return false, classify(op, err, true)
	}
	return true, nil
}

// PendingReceiptItems возвращает id позиций, поступление которых уже учтено, но сами позиции ещё в списке
func (r *StockRepository) PendingReceiptItems(ctx context.Context) ([]int64, error) {
	const op = "PendingReceiptItems"
	rows, err := r.db.QueryContext(ctx, `SELECT r.order_item_id FROM stock_receipts r
		JOIN order_list_items i ON i.id = r.order_item_id ORDER BY r.order_item_id`)
	if err != nil {
		return nil, classify(op, err, false)
	}
	defer rows.Close()
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, classify(op, err, false)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err, false)
	}
	return ids, nil
}
