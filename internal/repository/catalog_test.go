package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"OrderListService/internal/apperr"
)

var skuCols = []string{"id", "code", "brand", "model"}

func TestFindByIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSKURepository(db)

	// отсутствующий S9 просто не возвращается
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, code, brand, model FROM skus WHERE id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(skuCols).
			AddRow("S1", "FLT-20", "Acme", nil).
			AddRow("S2", nil, nil, nil))

	skus, err := repo.FindByIDs(context.Background(), []string{"S1", "S2", "S9"})
	require.NoError(t, err)
	require.Len(t, skus, 2)
	require.Equal(t, "FLT-20", *skus[0].Code)
	require.Nil(t, skus[0].Model)
	require.Equal(t, "SKU S2", skus[1].Label())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDs_EmptyInputSkipsQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSKURepository(db)

	skus, err := repo.FindByIDs(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, skus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSKUList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSKURepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM skus ORDER BY id LIMIT $1")).
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows(skuCols).AddRow("S1", "FLT-20", "Acme", "X1"))

	skus, err := repo.List(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, skus, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSKUExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSKURepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM skus WHERE id=$1)")).
		WithArgs("S1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := repo.Exists(context.Background(), "S1")
	require.NoError(t, err)
	require.True(t, ok)

	// каталог недоступен: ошибка чтения, а не "SKU нет"
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("S2").
		WillReturnError(context.DeadlineExceeded)
	_, err = repo.Exists(context.Background(), "S2")
	require.True(t, errors.Is(err, apperr.ErrUnreachable))
	require.NoError(t, mock.ExpectationsWereMet())
}
