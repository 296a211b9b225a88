package types

import "errors"

var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("record not found")
	ErrUnauthorized           = errors.New("actor is not the record owner")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrStorageUnavailable     = errors.New("ledger storage unavailable")
	ErrMalformedData          = errors.New("malformed data")
	ErrSignatureRejected      = errors.New("signature rejected")
	ErrCreationFailed         = errors.New("offer creation failed")
	ErrConcurrentModification = errors.New("record modified concurrently")
	ErrSessionExpired         = errors.New("decryption session expired")
)
