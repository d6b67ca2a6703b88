package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/impulselabs/impulse/internal/bus"
	"github.com/impulselabs/impulse/internal/impulse"
	"github.com/impulselabs/impulse/internal/request"
	"github.com/impulselabs/impulse/internal/storage"
)

type stubTokenValidator struct {
	identity    string
	validateErr error
}

func (s stubTokenValidator) ValidateToken(string) (string, error) {
	if s.validateErr != nil {
		return "", s.validateErr
	}
	return s.identity, nil
}

type mapTokenValidator map[string]string

func (m mapTokenValidator) ValidateToken(token string) (string, error) {
	identity, ok := m[token]
	if !ok {
		return "", errors.New("unknown token")
	}
	return identity, nil
}

func newTestHandler(t *testing.T, tokens TokenValidator) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dispatcher := bus.NewDispatcher()
	impulseService, err := impulse.NewService(impulse.ServiceConfig{
		Store:      storage.NewMemoryImpulseStore(),
		Venues:     storage.NewMemoryVenueDirectory(),
		Bus:        dispatcher,
		IDProvider: impulse.NewUUIDProvider(),
		Clock:      func() time.Time { return time.Unix(1700000000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct impulse service: %v", err)
	}
	ledger, err := request.NewLedger(request.LedgerConfig{
		Store:      storage.NewMemoryRequestStore(),
		Impulses:   impulseService,
		Bus:        dispatcher,
		IDProvider: impulse.NewUUIDProvider(),
		Clock:      func() time.Time { return time.Unix(1700000000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct request ledger: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Impulses: impulseService,
		Requests: ledger,
		Tokens:   tokens,
		Bus:      dispatcher,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return handler
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewBuffer(encoded)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	handler := newTestHandler(t, stubTokenValidator{identity: "user-1"})

	recorder := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	handler := newTestHandler(t, stubTokenValidator{identity: "user-1"})

	recorder := doJSON(t, handler, http.MethodGet, "/impulses", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}
}

func TestCreateAndListImpulses(t *testing.T) {
	handler := newTestHandler(t, stubTokenValidator{identity: "user-1"})

	created := doJSON(t, handler, http.MethodPost, "/impulses", "token", map[string]any{
		"message": "Coffee?",
		"lat":     55.75,
		"lng":     37.61,
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("unexpected create status: %d body %s", created.Code, created.Body.String())
	}

	var view impulse.View
	if err := json.Unmarshal(created.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}
	if view.ImpulseID == "" || view.Owner != "user-1" || view.Message != "Coffee?" {
		t.Fatalf("unexpected view: %#v", view)
	}

	listed := doJSON(t, handler, http.MethodGet, "/impulses", "token", nil)
	if listed.Code != http.StatusOK {
		t.Fatalf("unexpected list status: %d", listed.Code)
	}
	var listPayload struct {
		Impulses []impulse.View `json:"impulses"`
	}
	if err := json.Unmarshal(listed.Body.Bytes(), &listPayload); err != nil {
		t.Fatalf("failed to decode list response: %v", err)
	}
	if len(listPayload.Impulses) != 1 || listPayload.Impulses[0].ImpulseID != view.ImpulseID {
		t.Fatalf("unexpected listing: %#v", listPayload)
	}
}

func TestCreateImpulseRejectsBadCoordinate(t *testing.T) {
	handler := newTestHandler(t, stubTokenValidator{identity: "user-1"})

	recorder := doJSON(t, handler, http.MethodPost, "/impulses", "token", map[string]any{
		"message": "Coffee?",
		"lat":     91.0,
		"lng":     0.0,
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range latitude, got %d", recorder.Code)
	}
}

func TestDeleteImpulseOwnership(t *testing.T) {
	handler := newTestHandler(t, mapTokenValidator{
		"owner-token":    "user-1",
		"stranger-token": "user-2",
	})

	created := doJSON(t, handler, http.MethodPost, "/impulses", "owner-token", map[string]any{
		"message": "Coffee?",
		"lat":     55.75,
		"lng":     37.61,
	})
	var view impulse.View
	if err := json.Unmarshal(created.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}

	denied := doJSON(t, handler, http.MethodDelete, "/impulses/"+view.ImpulseID, "stranger-token", nil)
	if denied.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger delete, got %d", denied.Code)
	}

	deleted := doJSON(t, handler, http.MethodDelete, "/impulses/"+view.ImpulseID, "owner-token", nil)
	if deleted.Code != http.StatusNoContent {
		t.Fatalf("expected owner delete to succeed, got %d", deleted.Code)
	}
}

func TestSelfJoinReturnsForbidden(t *testing.T) {
	handler := newTestHandler(t, stubTokenValidator{identity: "user-1"})

	created := doJSON(t, handler, http.MethodPost, "/impulses", "token", map[string]any{
		"message": "Coffee?",
		"lat":     55.75,
		"lng":     37.61,
	})
	var view impulse.View
	if err := json.Unmarshal(created.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}

	recorder := doJSON(t, handler, http.MethodPost, "/impulses/"+view.ImpulseID+"/join", "token", nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for self-join, got %d", recorder.Code)
	}
}

func TestResolveUnknownRequestReturnsNotFound(t *testing.T) {
	handler := newTestHandler(t, stubTokenValidator{identity: "user-1"})

	recorder := doJSON(t, handler, http.MethodPost, "/requests/no-such-request/resolve", "token", map[string]any{
		"decision": "accept",
	})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body %s", recorder.Code, recorder.Body.String())
	}
}

func TestJoinStatusWithoutRequestIsEmpty(t *testing.T) {
	handler := newTestHandler(t, stubTokenValidator{identity: "user-1"})

	created := doJSON(t, handler, http.MethodPost, "/impulses", "token", map[string]any{
		"message": "Coffee?",
		"lat":     55.75,
		"lng":     37.61,
	})
	var view impulse.View
	if err := json.Unmarshal(created.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}

	recorder := doJSON(t, handler, http.MethodGet, "/impulses/"+view.ImpulseID+"/status", "token", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode status response: %v", err)
	}
	if payload.Status != "" {
		t.Fatalf("expected empty status, got %q", payload.Status)
	}
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	req := httptest.NewRequest(http.MethodGet, "/impulses", http.NoBody)
	req.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = req

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenValidator{validateErr: jwt.ErrTokenExpired},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entries[0].Level)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	req := httptest.NewRequest(http.MethodGet, "/impulses", http.NoBody)
	req.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = req

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenValidator{validateErr: errors.New("signature mismatch")},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entries[0].Level)
	}
}

func TestAuthorizeRequestAcceptsQueryToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/events/stream?access_token=session-token", http.NoBody)

	handler := &httpHandler{
		tokens: stubTokenValidator{identity: "user-7"},
		logger: zap.NewNop(),
	}

	handler.authorizeRequest(ctx)

	if ctx.IsAborted() {
		t.Fatalf("expected query token to authorize, got status %d", recorder.Code)
	}
	if got := ctx.GetString(identityContextKey); got != "user-7" {
		t.Fatalf("unexpected identity: %q", got)
	}
}

func TestAuthorizeRequestQueryTokenWithNonBearerHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/events/stream?access_token=session-token", http.NoBody)
	ctx.Request.Header.Set("Authorization", "Basic c29tZXRoaW5n")

	handler := &httpHandler{
		tokens: stubTokenValidator{identity: "user-7"},
		logger: zap.NewNop(),
	}

	handler.authorizeRequest(ctx)

	if ctx.IsAborted() {
		t.Fatalf("expected query token to authorize despite the non-bearer header, got status %d", recorder.Code)
	}
	if got := ctx.GetString(identityContextKey); got != "user-7" {
		t.Fatalf("unexpected identity: %q", got)
	}
}
