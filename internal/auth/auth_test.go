package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store := NewMemoryStore([]KeyEntry{
		{Key: "full-access", Name: "ops"},
		{Key: "read-only", Name: "viewer", Permissions: []string{PermTurnsRead}},
		{Key: "revoked", Name: "old", Disabled: true},
	})
	return NewService(ModeAPIKey, store)
}

func protectedHandler(t *testing.T, s *Service) http.Handler {
	t.Helper()
	mw := s.Middleware(MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet:  {PermTurnsRead},
			http.MethodPost: {PermTurnsWrite},
		},
	})
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestMiddlewareMissingKey(t *testing.T) {
	handler := protectedHandler(t, newTestService(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/turns", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("期望 401，实际 %d", rec.Code)
	}
}

func TestMiddlewareInvalidKey(t *testing.T) {
	handler := protectedHandler(t, newTestService(t))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/turns", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("期望 401，实际 %d", rec.Code)
	}
}

func TestMiddlewareRevokedKey(t *testing.T) {
	handler := protectedHandler(t, newTestService(t))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/turns", nil)
	req.Header.Set("X-API-Key", "revoked")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("期望 403，实际 %d", rec.Code)
	}
}

func TestMiddlewareBearerHeader(t *testing.T) {
	handler := protectedHandler(t, newTestService(t))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/turns", nil)
	req.Header.Set("Authorization", "Bearer read-only")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("期望 204，实际 %d", rec.Code)
	}
}

func TestMiddlewarePermissionDenied(t *testing.T) {
	handler := protectedHandler(t, newTestService(t))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/turns", nil)
	req.Header.Set("X-API-Key", "read-only")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("期望 403，实际 %d", rec.Code)
	}
}

func TestMiddlewareUnrestrictedKey(t *testing.T) {
	handler := protectedHandler(t, newTestService(t))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/turns", nil)
	req.Header.Set("X-API-Key", "full-access")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("期望 204，实际 %d", rec.Code)
	}
}

func TestMiddlewareInjectsSubject(t *testing.T) {
	s := newTestService(t)
	var seen *Subject
	mw := s.Middleware(MiddlewareConfig{})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/turns", nil)
	req.Header.Set("X-API-Key", "read-only")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("期望 204，实际 %d", rec.Code)
	}
	if seen == nil || seen.Name != "viewer" {
		t.Fatalf("上下文主体不正确: %+v", seen)
	}
}

func TestMiddlewareDisabledModePassesThrough(t *testing.T) {
	s := NewService(ModeDisabled, nil)
	handler := protectedHandler(t, s)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/turns", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("期望 204，实际 %d", rec.Code)
	}
}
