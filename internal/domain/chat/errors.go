package chat

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyBody       = errors.New("chat: message body is empty")
	ErrSelfChat        = errors.New("chat: cannot message yourself")
	ErrMissingParty    = errors.New("chat: sender, receiver and listing are required")
	ErrSendInProgress  = errors.New("chat: a send is already in progress")
	ErrStoreClosed     = errors.New("chat: store closed")
	ErrSubscriberStall = errors.New("chat: subscriber fell behind")
)

// ValidationError rejects input before any I/O happens.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StoreQueryError reports a failed history fetch or lookup.
type StoreQueryError struct {
	Op  string
	Err error
}

func (e *StoreQueryError) Error() string {
	return fmt.Sprintf("store query %s: %v", e.Op, e.Err)
}

func (e *StoreQueryError) Unwrap() error { return e.Err }

// StoreWriteError reports a failed insert. Inserts are atomic, so nothing was
// written.
type StoreWriteError struct {
	Err error
}

func (e *StoreWriteError) Error() string {
	return "store write: " + e.Err.Error()
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// SubscriptionError reports a realtime channel that failed to establish or dropped.
type SubscriptionError struct {
	Err error
}

func (e *SubscriptionError) Error() string {
	return "subscription: " + e.Err.Error()
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
