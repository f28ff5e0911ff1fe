package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"OrderListService/internal/apperr"
	"OrderListService/internal/model"
)

const (
	lockItemSQL      = "SELECT ordered FROM order_list_items WHERE id=$1 FOR UPDATE"
	receiptExistsSQL = "SELECT EXISTS (SELECT 1 FROM stock_receipts WHERE idempotency_key=$1)"
	insertReceiptSQL = "INSERT INTO stock_receipts(idempotency_key, order_item_id, sku_id, quantity, received_by, received_at)"
	upsertLevelSQL   = "INSERT INTO stock_levels(sku_id, on_hand, updated_at)"
)

func receipt(at time.Time) model.StockReceipt {
	return model.StockReceipt{Key: "k-1", ItemID: 5, SKUID: "S1", Quantity: 2, ReceivedBy: "bob", ReceivedAt: at}
}

func expectLockedItem(mock sqlmock.Sqlmock, ordered bool) {
	mock.ExpectQuery(regexp.QuoteMeta(lockItemSQL)).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"ordered"}).AddRow(ordered))
}

func TestReceive_Credits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewStockRepository(db)
	at := time.Now()

	mock.ExpectBegin()
	expectLockedItem(mock, true)
	mock.ExpectExec(regexp.QuoteMeta(insertReceiptSQL)).
		WithArgs("k-1", 5, "S1", 2, "bob", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(upsertLevelSQL)).
		WithArgs("S1", 2, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	credited, err := repo.Receive(context.Background(), receipt(at))
	require.NoError(t, err)
	require.True(t, credited)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Повтор с тем же ключом: ON CONFLICT DO NOTHING, остаток не трогаем
func TestReceive_ReplayIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewStockRepository(db)
	at := time.Now()

	mock.ExpectBegin()
	expectLockedItem(mock, true)
	mock.ExpectExec(regexp.QuoteMeta(insertReceiptSQL)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	credited, err := repo.Receive(context.Background(), receipt(at))
	require.NoError(t, err)
	require.False(t, credited)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReceive_CommitLostIsUnknownOutcome(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewStockRepository(db)
	at := time.Now()

	mock.ExpectBegin()
	expectLockedItem(mock, true)
	mock.ExpectExec(regexp.QuoteMeta(insertReceiptSQL)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(upsertLevelSQL)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(context.DeadlineExceeded)

	_, err = repo.Receive(context.Background(), receipt(at))
	require.True(t, errors.Is(err, apperr.ErrUnknownOutcome), "got %v", err)
}

func TestReceive_BeginFailsIsUnreachable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewStockRepository(db)

	mock.ExpectBegin().WillReturnError(context.DeadlineExceeded)
	_, err = repo.Receive(context.Background(), receipt(time.Now()))
	require.True(t, errors.Is(err, apperr.ErrUnreachable), "got %v", err)
}

func TestPendingReceiptItems(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewStockRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT r.order_item_id FROM stock_receipts r")).
		WillReturnRows(sqlmock.NewRows([]string{"order_item_id"}).AddRow(3).AddRow(9))

	ids, err := repo.PendingReceiptItems(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{3, 9}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Позицию удалили до начала транзакции: остаток не трогаем
func TestReceive_ItemRemoved(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewStockRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockItemSQL)).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"ordered"}))
	mock.ExpectRollback()

	credited, err := repo.Receive(context.Background(), receipt(time.Now()))
	require.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)
	require.False(t, credited)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Флаг сняли до оприходования: перехода "нужно заказать" -> "получено" нет
func TestReceive_ItemNotOrdered(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewStockRepository(db)

	mock.ExpectBegin()
	expectLockedItem(mock, false)
	mock.ExpectQuery(regexp.QuoteMeta(receiptExistsSQL)).
		WithArgs("k-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err = repo.Receive(context.Background(), receipt(time.Now()))
	require.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Флаг сняли после учтённого поступления: это повтор, ошибки нет
func TestReceive_NotOrderedButAlreadyRecorded(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewStockRepository(db)

	mock.ExpectBegin()
	expectLockedItem(mock, false)
	mock.ExpectQuery(regexp.QuoteMeta(receiptExistsSQL)).
		WithArgs("k-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	credited, err := repo.Receive(context.Background(), receipt(time.Now()))
	require.NoError(t, err)
	require.False(t, credited)
	require.NoError(t, mock.ExpectationsWereMet())
}
