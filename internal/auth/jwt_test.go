package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func protected(t *testing.T) http.Handler {
	t.Helper()
	return Middleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID, ok := ClientIDFromContext(r.Context())
		if !ok {
			t.Errorf("client id missing from context")
		}
		w.Header().Set("X-Client", clientID)
		w.WriteHeader(http.StatusOK)
	}))
}

func TestMiddlewareValidToken(t *testing.T) {
	token, err := MintToken(testSecret, "client_1", time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/bots", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protected(t).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Client"); got != "client_1" {
		t.Fatalf("client id = %q, want client_1", got)
	}
}

func TestMiddlewareMissingHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/bots", nil)
	rec := httptest.NewRecorder()
	protected(t).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareWrongSecret(t *testing.T) {
	token, err := MintToken("other-secret", "client_1", time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/bots", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protected(t).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareExpiredToken(t *testing.T) {
	token, err := MintToken(testSecret, "client_1", -time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/bots", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protected(t).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareRejectsEmptyClientID(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/bots", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protected(t).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareRejectsNonHMAC(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/bots", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rec := httptest.NewRecorder()
	protected(t).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
