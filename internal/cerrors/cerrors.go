// Package cerrors defines the error kinds shared across colony components.
package cerrors

import "fmt"

// Kind classifies an error the way the CLI layer needs to present it.
type Kind string

const (
	KindConfig        Kind = "config"
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindStateConflict Kind = "state_conflict"
	KindWorktree      Kind = "worktree"
	KindMux           Kind = "mux"
	KindGit           Kind = "git"
	KindAuth          Kind = "auth"
	KindNetwork       Kind = "network"
	KindIO            Kind = "io"
)

// Error is a typed, user-presentable error. Wrap with fmt.Errorf("...: %w", err)
// when adding context; the Kind survives unwrapping via errors.As.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Config(format string, args ...any) *Error {
	return New(KindConfig, fmt.Sprintf(format, args...))
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func StateConflict(format string, args ...any) *Error {
	return New(KindStateConflict, fmt.Sprintf(format, args...))
}

func Worktree(err error, format string, args ...any) *Error {
	return Wrap(KindWorktree, fmt.Sprintf(format, args...), err)
}

func Mux(err error, format string, args ...any) *Error {
	return Wrap(KindMux, fmt.Sprintf(format, args...), err)
}

func Git(err error, format string, args ...any) *Error {
	return Wrap(KindGit, fmt.Sprintf(format, args...), err)
}
