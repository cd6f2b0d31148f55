package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIKeyAuthenticateStaticKey(t *testing.T) {
	a := NewAPIKeyAuthenticator(APIKeyAuthConfig{
		StaticKeys: []StaticKeyConfig{{Name: "ci", Key: "sk_test123", Tier: "premium"}},
	})

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set("X-Api-Key", "sk_test123")

	id := a.Authenticate(req)
	if id == nil {
		t.Fatal("expected identity, got nil")
	}
	if id.Subject != "apikey:ci" || id.Tier != "premium" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestAPIKeyAuthenticateAuthorizationHeaderVariant(t *testing.T) {
	a := NewAPIKeyAuthenticator(APIKeyAuthConfig{
		StaticKeys: []StaticKeyConfig{{Name: "ci", Key: "sk_test123"}},
	})

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set("Authorization", "ApiKey sk_test123")

	if id := a.Authenticate(req); id == nil {
		t.Fatal("expected identity via Authorization: ApiKey header")
	}
}

func TestAPIKeyAuthenticateRejectsUnknownKey(t *testing.T) {
	a := NewAPIKeyAuthenticator(APIKeyAuthConfig{
		StaticKeys: []StaticKeyConfig{{Name: "ci", Key: "sk_test123"}},
	})

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set("X-Api-Key", "sk_wrong")

	if id := a.Authenticate(req); id != nil {
		t.Fatalf("expected nil identity, got %+v", id)
	}
}

func TestVerifyAPIKeyConstantTimeMatch(t *testing.T) {
	hash := hashAPIKey("sk_abc")
	if !VerifyAPIKey("sk_abc", hash) {
		t.Fatal("expected match")
	}
	if VerifyAPIKey("sk_xyz", hash) {
		t.Fatal("expected mismatch")
	}
}
