package apperr

import (
	"errors"
	"fmt"
)

// Kind — закрытый набор видов ошибок ядра. Обработчики транспортного уровня
// отображают вид на HTTP-статус, само ядро человекочитаемых сообщений не формирует.
type Kind int

const (
	KindValidation Kind = iota + 1 // некорректный ввод, ловится до обращения к БД
	KindNotFound                   // сущность/учетные данные/токен не найдены
	KindPermission                 // вызывающий не владелец или не та роль
	KindState                      // бизнес-правило: терминальный статус, лимит сессий и т.п.
	KindStorage                    // ошибка БД/транзакции, всегда с завернутой причиной
)

// Error — ошибка ядра: вид, стабильный код для клиента и опциональная причина
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New создает ошибку без причины
func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

// Wrap заворачивает причину, сохраняя ее для логирования
func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

// KindOf возвращает вид ошибки или 0, если это не ошибка ядра
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// CodeOf возвращает стабильный код ошибки или пустую строку
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
