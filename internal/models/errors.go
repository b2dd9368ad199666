package models

import "errors"

// Domain errors. Wrap with fmt.Errorf("%w: ...") and test with errors.Is.
var (
	ErrValidation            = errors.New("validation failed")
	ErrInvalidState          = errors.New("invalid pool state")
	ErrInvalidOption         = errors.New("invalid option")
	ErrLastOption            = errors.New("cannot eliminate the last eligible option")
	ErrNotFound              = errors.New("not found")
	ErrForbidden             = errors.New("administrator principal required")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrRepositoryUnavailable = errors.New("repository unavailable")
	ErrWallet                = errors.New("wallet credit failed")
)
