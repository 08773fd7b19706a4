package models

import "errors"

var (
	// ErrInvalidInput is returned for malformed or missing request data
	ErrInvalidInput = errors.New("invalid input")

	// ErrDependencyUnavailable is returned when an adapter cannot be constructed or connected
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	ErrStorageWriteFailed  = errors.New("blob write failed")
	ErrStorageReadFailed   = errors.New("blob read failed")
	ErrMetadataWriteFailed = errors.New("metadata write failed")
	ErrMetadataReadFailed  = errors.New("metadata read failed")
	ErrQueueSendFailed     = errors.New("queue send failed")
	ErrTaggingFailed       = errors.New("tagging failed")

	// ErrInvalidConfig wraps every startup configuration failure
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrPhotoNotFound is returned by metadata stores when no record exists for an identifier
	ErrPhotoNotFound = errors.New("photo not found")
)
