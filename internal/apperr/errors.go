// Пакет apperr описывает таксономию ошибок сервиса списка заказов
package apperr

import (
	"errors"
	"fmt"
)

// Kind определяет вид ошибки, по которому вызывающая сторона решает, что делать дальше
type Kind string

const (
	// KindValidation: некорректные входные данные, повтор не имеет смысла
	KindValidation Kind = "validation"
	// KindNotFound: запись отсутствует, список у клиента устарел
	KindNotFound Kind = "not_found"
	// KindUnreachable: хранилище или внешний сервис недоступны, запрос не дошёл до исполнения
	KindUnreachable Kind = "unreachable"
	// KindAuthorization: пользователь не аутентифицирован или не имеет прав
	KindAuthorization Kind = "authorization"
	// KindUnknownOutcome: запрос мог выполниться, результат нужно перепроверить
	KindUnknownOutcome Kind = "unknown_outcome"
)

// Error: ошибка с видом, операцией и исходной причиной
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Error формирует текст вида "op: msg: cause"
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap отдаёт исходную причину для errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки только по виду, поэтому errors.Is(err, ErrNotFound) работает для любой операции
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Сентинелы для сравнения через errors.Is
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrUnreachable    = &Error{Kind: KindUnreachable}
	ErrAuthorization  = &Error{Kind: KindAuthorization}
	ErrUnknownOutcome = &Error{Kind: KindUnknownOutcome}
)

// Validation создаёт ошибку валидации с форматированным сообщением
func Validation(op, format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotFound создаёт ошибку отсутствия записи
func NotFound(op, format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Unauthorized создаёт ошибку авторизации
func Unauthorized(op, format string, args ...interface{}) error {
	return &Error{Kind: KindAuthorization, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Unreachable оборачивает причину недоступности хранилища или внешнего сервиса
func Unreachable(op string, err error) error {
	return &Error{Kind: KindUnreachable, Op: op, Msg: "service unreachable", Err: err}
}

// UnknownOutcome оборачивает причину, после которой результат мутации неизвестен
func UnknownOutcome(op string, err error) error {
	return &Error{Kind: KindUnknownOutcome, Op: op, Msg: "outcome unknown, re-check current state", Err: err}
}

// KindOf возвращает вид ошибки или пустую строку, если ошибка не из этого пакета
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
