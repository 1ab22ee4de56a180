// ABOUTME: Tests for AuthContext propagation through context.Context
// ABOUTME: Covers WithAuth/FromContext round trips and the authorization check

package auth

import (
	"context"
	"testing"
)

func TestWithAuth_FromContext(t *testing.T) {
	grant := "grant-all"
	authCtx := &AuthContext{Subject: "alice", UserID: 42, Authorization: &grant}

	ctx := WithAuth(context.Background(), authCtx)
	got := FromContext(ctx)
	if got != authCtx {
		t.Fatalf("FromContext() = %v, want %v", got, authCtx)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}
}

func TestFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), authContextKey{}, "not an auth context")
	if got := FromContext(ctx); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}
}

func TestMustFromContext_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustFromContext() did not panic")
		}
	}()
	MustFromContext(context.Background())
}

func TestAuthContext_HasAuthorization(t *testing.T) {
	grant := ""
	tests := []struct {
		name string
		auth *string
		want bool
	}{
		{"absent", nil, false},
		{"empty string is still present", &grant, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &AuthContext{Authorization: tt.auth}
			if got := a.HasAuthorization(); got != tt.want {
				t.Errorf("HasAuthorization() = %v, want %v", got, tt.want)
			}
		})
	}
}
