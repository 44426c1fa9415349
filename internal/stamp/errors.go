package stamp

import (
	"errors"
	"fmt"
)

const (
	genericApology = "An error has occurred :pray:"
)

// ValidationError is a malformed or unauthenticated command.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid command: " + e.Reason
}

// NotFoundError means the emoji is absent from the catalog.
type NotFoundError struct {
	Emoji string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s is missing or an error has occurred. please try again :pray:", e.Emoji)
}

// UnauthorizedError means the user has not signed up yet.
type UnauthorizedError struct {
	UserID      string
	RegisterURL string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("Please sign up first: %s", e.RegisterURL)
}

// UpstreamError is any failure talking to Slack or a backing store.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// UserMessage converts any error into the text shown to the invoking user.
// Only NotFound and Unauthorized carry specifics.
func UserMessage(err error) string {
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return notFound.Error()
	}
	var unauthorized *UnauthorizedError
	if errors.As(err, &unauthorized) {
		return unauthorized.Error()
	}
	return genericApology
}
