package domain

import "errors"

var (
	ErrInvalidRecurrence     = errors.New("invalid recurrence")
	ErrMissingOperator       = errors.New("operator is required")
	ErrAlreadyCompleted      = errors.New("scadenza is no longer scheduled")
	ErrInstanceNotFound      = errors.New("scadenza not found")
	ErrChecklistItemNotFound = errors.New("checklist item not found")
	ErrTransactionAborted    = errors.New("transaction aborted")

	ErrOpenInstanceExists = errors.New("an open scadenza already exists for this checklist item and asset")
	ErrGroupChanged       = errors.New("group members changed since the form was loaded")
	ErrInvalidInput       = errors.New("invalid input")
)
