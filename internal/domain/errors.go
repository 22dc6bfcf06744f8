package domain

import "errors"

// Sentinel errors for domain operations
var (
	// ErrVideoNotFound indicates the requested video is not cached
	ErrVideoNotFound = errors.New("video not found")

	// ErrServerOffline indicates the backend is unreachable
	ErrServerOffline = errors.New("backend is unreachable")

	// ErrUnexpectedStatus indicates a non-success HTTP status
	ErrUnexpectedStatus = errors.New("unexpected status code")

	// ErrEmptyPayload indicates a download returned no bytes
	ErrEmptyPayload = errors.New("empty payload")

	// ErrInvalidManifest indicates the manifest could not be parsed
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrStoreClosed indicates the store is not open
	ErrStoreClosed = errors.New("store is closed")

	// ErrTooLarge indicates a payload exceeds the configured byte ceiling
	ErrTooLarge = errors.New("payload exceeds storage ceiling")
)
