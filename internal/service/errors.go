package service

import (
	"github.com/pkg/errors"
)

// PermissionDeniedMessage is the exact message returned to clients that try
// to modify a book they do not own.
const PermissionDeniedMessage = "You do not have permission to perform this action."

var (
	ErrNotFound         = errors.New("record not found")
	ErrPermissionDenied = errors.New(PermissionDeniedMessage)

	ErrLoginUserNotFound         = errors.New("user not found")
	ErrLoginPasswordDoesNotMatch = errors.New("password does not match")
)
