package domain

import "errors"

var (
	// ErrInvalidRequest signals malformed pagination, filters or a missing identity.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSearchUnavailable signals an unreachable engine, a timeout or a failed query.
	ErrSearchUnavailable = errors.New("search unavailable")
	// ErrIndexWriteFailed signals a failed index write. It never reaches the primary write's caller.
	ErrIndexWriteFailed = errors.New("index write failed")
	// ErrHistoryWriteFailed signals a failed history append. It never reaches the search caller.
	ErrHistoryWriteFailed = errors.New("history write failed")
	// ErrNotFound signals a missing primary-store record.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited signals that a requester exceeded its search budget.
	ErrRateLimited = errors.New("rate limited")
)
