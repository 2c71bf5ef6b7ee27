// Package apperr 定义核心业务的错误分类，handler 按 Kind 映射 HTTP 状态码。
package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误类别。
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindPreconditionFailed
	KindInvalidQuantity
	KindInvalidInput
	KindConfiguration
	KindUpstream
	KindConflict
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPreconditionFailed:
		return "precondition_failed"
	case KindInvalidQuantity:
		return "invalid_quantity"
	case KindInvalidInput:
		return "invalid_input"
	case KindConfiguration:
		return "configuration_error"
	case KindUpstream:
		return "upstream_unavailable"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "storage_unavailable"
	default:
		return "internal"
	}
}

// Error 带类别的业务错误。Msg 可以直接展示给调用方，Err 是底层原因。
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 保留底层错误链，便于 errors.Is 判断哨兵错误。
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf 取错误链上第一个 *Error 的类别，没有则视为 internal。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is 判断 err 是否属于指定类别。
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message 取对外展示的文案。
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}
