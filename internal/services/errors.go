package services

import (
	"errors"
	"fmt"
)

// Error kinds returned by the services. The transport maps each kind to a
// status code; callers test for them with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrAlreadySigned = errors.New("document already signed by this user")
	ErrInvalidInput  = errors.New("invalid input")
	ErrStorage       = errors.New("storage failure")
	ErrUnauthorized  = errors.New("unauthorized")

	ErrEmailTaken   = fmt.Errorf("%w: email already registered", ErrInvalidInput)
	ErrFileTooLarge = fmt.Errorf("%w: file too large", ErrInvalidInput)
)

// StorageError wraps a database or blob store failure. It matches ErrStorage
// and unwraps to the underlying cause, which is for logs only.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return e.Op + ": " + ErrStorage.Error() + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
