package core

import (
	"context"

	"github.com/google/uuid"
)

type submissionIDKey struct{}

// WithSubmissionID adds a submission ID to the context
func WithSubmissionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, submissionIDKey{}, id)
}

// SubmissionID retrieves the submission ID from context, or "" if none is set.
func SubmissionID(ctx context.Context) string {
	if id, ok := ctx.Value(submissionIDKey{}).(string); ok {
		return id
	}
	return ""
}

// NewSubmissionID generates a new submission ID
func NewSubmissionID() string {
	return uuid.New().String()
}
