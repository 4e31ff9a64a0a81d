package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound            = errors.New("entity not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidExecContext  = errors.New("invalid execution context")
	ErrReadDatabaseRow     = errors.New("could not read database row")
	ErrAlreadyExists       = errors.New("entity already exists")
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientCredits = errors.New("insufficient credits")

	// Submission / dispatch
	ErrDispatchFailed      = errors.New("prediction dispatch failed")
	ErrPostDispatch        = errors.New("prediction dispatched but job could not be recorded")
	ErrDuplicateSubmission = errors.New("submission with this idempotency key was already refunded")

	// Provider routing
	ErrModelNotFound   = errors.New("model not found")
	ErrUnknownProvider = errors.New("unknown provider")

	// Reconciliation
	ErrJobNotFound      = errors.New("prediction job not found")
	ErrPreholdNotFound  = errors.New("prehold ledger entry not found")
	ErrPollingTimedOut  = errors.New("polling timed out before terminal status")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)
