package orders

import "errors"

var (
	ErrNotFound           = errors.New("order not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrAlreadyRated       = errors.New("order already rated")
	ErrNotAuthorized      = errors.New("not authorized")
)
