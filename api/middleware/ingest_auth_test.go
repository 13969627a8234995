package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkgAuth "github.com/hostelsync/hostelsync-backend/pkg/auth"
	"github.com/hostelsync/hostelsync-backend/pkg/config"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "hostelsync", ExpirationMinutes: 5}
}

func mintToken(t *testing.T, cfg config.JWTConfig, identity string) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg, time.Now(), pkgAuth.AccessTokenPayload{Identity: identity})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func identityEcho(seen *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestIngestAuth_BearerHeaderBindsIdentity(t *testing.T) {
	cfg := testJWTConfig()
	var seen string
	handler := IngestAuth(cfg, true, nil)(identityEcho(&seen))

	req := httptest.NewRequest(http.MethodPost, "/locations-api/location", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, cfg, "Alice"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen != "Alice" {
		t.Fatalf("expected identity Alice, got %q", seen)
	}
}

func TestIngestAuth_QueryTokenForWebsocket(t *testing.T) {
	cfg := testJWTConfig()
	var seen string
	handler := IngestAuth(cfg, true, nil)(identityEcho(&seen))

	req := httptest.NewRequest(http.MethodGet, "/locations-api/ws?access_token="+mintToken(t, cfg, "bob"), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || seen != "bob" {
		t.Fatalf("expected bob to be bound, got status %d identity %q", rec.Code, seen)
	}
}

func TestIngestAuth_RequiredRejectsMissingToken(t *testing.T) {
	var seen string
	handler := IngestAuth(testJWTConfig(), true, nil)(identityEcho(&seen))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestIngestAuth_OptionalAllowsAnonymous(t *testing.T) {
	seen := "unset"
	handler := IngestAuth(testJWTConfig(), false, nil)(identityEcho(&seen))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	if rec.Code != http.StatusOK || seen != "" {
		t.Fatalf("expected anonymous passthrough, got status %d identity %q", rec.Code, seen)
	}
}

func TestIngestAuth_RejectsBadToken(t *testing.T) {
	var seen string
	handler := IngestAuth(testJWTConfig(), false, nil)(identityEcho(&seen))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
