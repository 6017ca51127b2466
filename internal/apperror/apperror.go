// Package apperror defines the error kinds surfaced by the connection stores
// and repositories.
//
// Every failure a caller may want to branch on wraps one of the sentinel
// errors below, so callers match with errors.Is instead of comparing strings:
//
//	if errors.Is(err, apperror.ErrNotConnected) {
//	    // ask the user to connect the provider first
//	}
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrNotConnected         = errors.New("not connected")
	ErrDuplicateConnection  = errors.New("duplicate connection")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrUnregisteredProvider = errors.New("unregistered provider")
	ErrConflict             = errors.New("conflict")
)

type AppError struct {
	Err     error  // sentinel kind
	Message string // Human-readable error message
	Field   string // Optional: argument causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// NoSuchConnection reports a single-key connection lookup that matched
// nothing. key is usually a model.ConnectionKey.
func NoSuchConnection(key fmt.Stringer) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("no such connection %s", key),
	}
}

// NotConnected reports that the user has no primary connection to a provider.
func NotConnected(providerID string) *AppError {
	return &AppError{
		Err:     ErrNotConnected,
		Message: fmt.Sprintf("not connected to provider %s", providerID),
	}
}

// DuplicateConnection reports an attempt to add a connection whose
// (user, provider, provider user) key already exists.
func DuplicateConnection(key fmt.Stringer) *AppError {
	return &AppError{
		Err:     ErrDuplicateConnection,
		Message: fmt.Sprintf("connection %s already exists", key),
	}
}

func InvalidArgument(field, message string) *AppError {
	return &AppError{
		Err:     ErrInvalidArgument,
		Message: message,
		Field:   field,
	}
}

// UnregisteredProvider reports a provider id or API type that no connection
// factory was registered for.
func UnregisteredProvider(name string) *AppError {
	return &AppError{
		Err:     ErrUnregisteredProvider,
		Message: fmt.Sprintf("no connection factory registered for %s", name),
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}
