package storage

import "errors"

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUserExists    = errors.New("user already exists")
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExists   = errors.New("token already exists")

	// ErrTokenUsed is returned by the conditional redeem when the row was
	// already marked used, either before the call or by a concurrent one.
	ErrTokenUsed = errors.New("token already used")
)
