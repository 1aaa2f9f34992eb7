// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case, stable, and paired with an HTTP status in
// every error response (see fail). Clients branch on the code, not on the
// message.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "not_found",
//	  "message": "item not found"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
)

// Caller-facing messages.
const (
	msgInvalidBody     = "request body must be an item with non-empty text"
	msgInvalidPathID   = "item id must be a positive integer"
	msgIDMismatch      = "item id is invalid, call POST /items to create a new item"
	msgItemNotFound    = "item not found"
	msgInternalFailure = "internal server error"
)
