package model

import "errors"

var (
	ErrUnknownSubscription   = errors.New("unknown subscription")
	ErrChannelCreationFailed = errors.New("channel creation failed")
	ErrStorage               = errors.New("storage error")
	ErrChannelNotFound       = errors.New("channel not found")
	ErrInvalidInput          = errors.New("invalid input")

	// Recovered inside the content source; only logged and counted.
	ErrRemoteFetchFailed = errors.New("remote fetch failed")
	ErrMalformedRecord   = errors.New("malformed record skipped")

	// Reported per channel by the sync engine.
	ErrRefreshFailed = errors.New("refresh failed")
)
