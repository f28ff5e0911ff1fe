package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/lib/pq"

	"OrderListService/internal/apperr"
)

// ErrNotFound возвращается при отсутствии записи
var ErrNotFound = apperr.ErrNotFound

// classify переводит ошибку драйвера в таксономию apperr.
// mutating=true означает, что запрос мог дойти до сервера и изменить данные:
// обрыв связи или отмена контекста в этом случае дают KindUnknownOutcome, а не KindUnreachable
func classify(op string, err error, mutating bool) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(op, "record not found")
	}
	// ответ сервера с ошибкой означает, что оператор не выполнился
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23":
			return &apperr.Error{Kind: apperr.KindValidation, Op: op, Msg: pqErr.Message, Err: err}
		case "08", "53", "57":
			return apperr.Unreachable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	// до отправки запроса: database/sql гарантирует, что ErrBadConn не дошёл до сервера
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || isDialError(err) {
		return apperr.Unreachable(op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) || isNetError(err) {
		if mutating {
			return apperr.UnknownOutcome(op, err)
		}
		return apperr.Unreachable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isDialError: соединение не было установлено
func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func isNetError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}
