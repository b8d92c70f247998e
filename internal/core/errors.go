package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeNotReady       = "not_ready"
	ErrCodeEmptyRoomName  = "empty_room_name"
	ErrCodeEmptyMessage   = "empty_message"
	ErrCodeRoomNotFound   = "room_not_found"
	ErrCodeForbidden      = "forbidden"
	ErrCodeIdentityAbsent = "identity_absent"
	ErrCodeBadRequest     = "bad_request"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeInternal       = "internal"

	// Gateway subscription error codes
	ErrCodeAlreadyWatching = "already_watching"
	ErrCodeNotWatching     = "not_watching"
)

var (
	ErrNotReady       = errors.New("network not ready")
	ErrEmptyRoomName  = errors.New("room name cannot be empty")
	ErrEmptyMessage   = errors.New("message cannot be empty")
	ErrRoomNotFound   = errors.New("room not found")
	ErrForbidden      = errors.New("only the room creator can do that")
	ErrIdentityAbsent = errors.New("no identity connected")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// ErrorCode maps err onto a stable error code.
func ErrorCode(err error) string {
	var ce *CoreError
	switch {
	case errors.As(err, &ce):
		return ce.Code
	case errors.Is(err, ErrNotReady):
		return ErrCodeNotReady
	case errors.Is(err, ErrEmptyRoomName):
		return ErrCodeEmptyRoomName
	case errors.Is(err, ErrEmptyMessage):
		return ErrCodeEmptyMessage
	case errors.Is(err, ErrRoomNotFound):
		return ErrCodeRoomNotFound
	case errors.Is(err, ErrForbidden):
		return ErrCodeForbidden
	case errors.Is(err, ErrIdentityAbsent):
		return ErrCodeIdentityAbsent
	default:
		return ErrCodeInternal
	}
}

// AsCoreError converts err into a CoreError carrying its code.
func AsCoreError(err error) *CoreError {
	if err == nil {
		return nil
	}
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce
	}
	return coreError(ErrorCode(err), err.Error())
}
