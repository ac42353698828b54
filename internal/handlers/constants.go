package handlers

import "time"

const (
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "

	ErrInvalidJSON         = "Invalid JSON body"
	ErrUnauthorized        = "Unauthorized"
	ErrTooManyRequests     = "Too many requests"
	ErrInternalServerError = "Internal server error"

	maxBodyBytes            = 64 << 10
	defaultTransactionLimit = 50
	maxTransactionLimit     = 200

	// RequestTimeout bounds a single API call, AI grading included
	RequestTimeout = 30 * time.Second
)
