// ABOUTME: Unit tests for identity context helpers
// ABOUTME: Tests HasAnyRole and context propagation

package auth

import (
	"context"
	"testing"
)

func TestIdentity_HasAnyRole(t *testing.T) {
	id := &Identity{Subject: "user-1", Roles: []string{"member", "writer"}}

	tests := []struct {
		name  string
		roles []string
		want  bool
	}{
		{"no requirement", nil, true},
		{"single match", []string{"writer"}, true},
		{"one of many", []string{"admin", "member"}, true},
		{"no match", []string{"admin", "owner"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := id.HasAnyRole(tt.roles...); got != tt.want {
				t.Errorf("HasAnyRole(%v) = %v, want %v", tt.roles, got, tt.want)
			}
		})
	}
}

func TestWithIdentity_FromContext(t *testing.T) {
	id := &Identity{Subject: "user-1"}
	ctx := WithIdentity(context.Background(), id)

	if got := FromContext(ctx); got != id {
		t.Errorf("FromContext() = %v, want %v", got, id)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}
}

func TestMustFromContext_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustFromContext() should panic without identity")
		}
	}()
	MustFromContext(context.Background())
}
