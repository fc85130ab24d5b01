package models

import (
	"encoding/json"
	"fmt"
)

// DirectiveType identifies a side-effecting operation the generator may
// request as part of its structured reply.
type DirectiveType string

const (
	// DirectiveGenerateImage asks for an image to be generated
	DirectiveGenerateImage DirectiveType = "generate_image"
	// DirectiveCreatePR asks for a source-control pull request
	DirectiveCreatePR DirectiveType = "create_pull_request"
)

// ActionDirective is a structured instruction embedded in a generated
// response. Unknown or malformed directives are treated as no-ops by the
// caller, never as failures.
type ActionDirective struct {
	Type       DirectiveType     `json:"type"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Known reports whether the directive type is one the system can execute
func (d ActionDirective) Known() bool {
	switch d.Type {
	case DirectiveGenerateImage, DirectiveCreatePR:
		return true
	}
	return false
}

// DecodeDirectives parses the directives array of a structured generator
// reply. A decode error is returned for malformed JSON; individually unknown
// directive types are kept (callers skip them with a logged warning) so one
// bad entry never drops the rest.
func DecodeDirectives(raw json.RawMessage) ([]ActionDirective, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var directives []ActionDirective
	if err := json.Unmarshal(raw, &directives); err != nil {
		return nil, fmt.Errorf("failed to decode action directives: %w", err)
	}
	return directives, nil
}
