// ABOUTME: Tests for AuthContext propagation through context.Context
// ABOUTME: Verifies WithAuth/FromContext round trips and absent values

package auth

import (
	"context"
	"testing"
)

func TestFromContext_Absent(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}
}

func TestWithAuth(t *testing.T) {
	want := &AuthContext{Subject: "crm", Method: MethodJWT}
	ctx := WithAuth(context.Background(), want)

	got := FromContext(ctx)
	if got != want {
		t.Errorf("FromContext() = %v, want %v", got, want)
	}
}
