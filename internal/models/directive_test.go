package models

import (
	"encoding/json"
	"testing"
)

func TestDecodeDirectives(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		raw         string
		expectError bool
		expectLen   int
		validate    func(*testing.T, []ActionDirective)
	}{
		{
			name:      "empty input",
			raw:       "",
			expectLen: 0,
		},
		{
			name:      "single image directive",
			raw:       `[{"type":"generate_image","parameters":{"prompt":"a lighthouse"}}]`,
			expectLen: 1,
			validate: func(t *testing.T, directives []ActionDirective) {
				if directives[0].Type != DirectiveGenerateImage {
					t.Errorf("Expected generate_image, got %s", directives[0].Type)
				}
				if directives[0].Parameters["prompt"] != "a lighthouse" {
					t.Errorf("Expected prompt parameter, got %v", directives[0].Parameters)
				}
			},
		},
		{
			name:      "unknown type is kept",
			raw:       `[{"type":"launch_rocket"}]`,
			expectLen: 1,
			validate: func(t *testing.T, directives []ActionDirective) {
				if directives[0].Known() {
					t.Error("Expected unknown directive to report Known()=false")
				}
			},
		},
		{
			name:        "malformed json",
			raw:         `[{"type":`,
			expectError: true,
		},
		{
			name:        "wrong shape",
			raw:         `{"type":"generate_image"}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			directives, err := DecodeDirectives(json.RawMessage(tt.raw))

			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(directives) != tt.expectLen {
				t.Fatalf("Expected %d directives, got %d", tt.expectLen, len(directives))
			}
			if tt.validate != nil {
				tt.validate(t, directives)
			}
		})
	}
}

func TestDirectiveKnown(t *testing.T) {
	t.Parallel()

	if !(ActionDirective{Type: DirectiveGenerateImage}).Known() {
		t.Error("Expected generate_image to be known")
	}
	if !(ActionDirective{Type: DirectiveCreatePR}).Known() {
		t.Error("Expected create_pull_request to be known")
	}
	if (ActionDirective{Type: "order_pizza"}).Known() {
		t.Error("Expected order_pizza to be unknown")
	}
}
