package scm

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when no source control integration is set up
var ErrNotConfigured = errors.New("source control integration not configured")

// Disabled is the client used when no repository is configured. Submissions
// fail with ErrNotConfigured, which the turn pipeline turns into a fallback
// reply.
type Disabled struct{}

var _ Client = Disabled{}

// SubmitFeatureRequest always fails with ErrNotConfigured
func (Disabled) SubmitFeatureRequest(context.Context, *FeatureRequest) (*PullRequest, error) {
	return nil, ErrNotConfigured
}
