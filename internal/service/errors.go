package service

import "errors"

var (
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrPasswordSetupRequired = errors.New("password setup required")
	ErrAppUserNotFound       = errors.New("no family membership for this account")
	ErrEmailTaken            = errors.New("email already taken")
	ErrInvalidResetToken     = errors.New("invalid or expired reset token")
	ErrForbidden             = errors.New("insufficient role")
	ErrNotFound              = errors.New("not found")
	ErrLastAdmin             = errors.New("family must keep at least one admin")
	ErrCannotRemoveSelf      = errors.New("cannot remove yourself")
)
