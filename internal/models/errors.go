package models

import (
	"errors"
	"fmt"
)

// ErrorKind вид ошибки; по нему решается, стоит ли повторять.
type ErrorKind string

const (
	KindTransport        ErrorKind = "transport_error"
	KindRateLimited      ErrorKind = "rate_limited"
	KindValidation       ErrorKind = "validation_error"
	KindConfigAmbiguity  ErrorKind = "configuration_ambiguity"
	KindStateConflict    ErrorKind = "state_conflict"
	KindCollaboratorData ErrorKind = "collaborator_data_error"
)

var (
	// ErrNotFound запись не существует.
	ErrNotFound = errors.New("record not found")

	// ErrStateConflict статус поста изменился до обновления.
	ErrStateConflict = NewError(KindStateConflict, "update post", errors.New("status changed by another writer"))

	// ErrConfigAmbiguous нет конфигурации по умолчанию, а конфигураций несколько.
	ErrConfigAmbiguous = NewError(KindConfigAmbiguity, "resolve config", errors.New("no default publisher config and more than one configured"))

	// ErrNoConfig нет ни одной конфигурации публикации.
	ErrNoConfig = NewError(KindConfigAmbiguity, "resolve config", errors.New("no publisher config"))

	// ErrRetriesExhausted исчерпан лимит попыток.
	ErrRetriesExhausted = NewError(KindValidation, "retry", errors.New("retry attempts exhausted"))
)

// Error хранит вид ошибки и операцию, в которой она возникла.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf возвращает вид ошибки из цепочки err; для прочих ошибок пустую строку.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable: транспортные ошибки и rate limit могут пройти при повторе.
func Retryable(kind ErrorKind) bool {
	return kind == KindTransport || kind == KindRateLimited
}
