package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nospoilers/backend/internal/auth"
	"github.com/nospoilers/backend/internal/clock"
	"github.com/nospoilers/backend/internal/kv"
	"github.com/nospoilers/backend/internal/metrics"
	"github.com/nospoilers/backend/internal/securestore"
	"github.com/nospoilers/backend/internal/tokens"
	"github.com/nospoilers/backend/internal/vault"
)

const testCookieName = "nospoilers_refresh"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// authFixture runs the auth router against in-memory collaborators behind
// a real HTTP listener.
type authFixture struct {
	svc *auth.Service
	clk *clock.Manual
	srv *httptest.Server
}

func newAuthFixture(t *testing.T, platform string) *authFixture {
	t.Helper()

	clk := clock.NewManual(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	store, err := vault.New("fixture-vault-secret", kv.NewMemory(), nil)
	require.NoError(t, err, "vault construction should succeed")
	broker, err := tokens.NewBroker(tokens.Config{Secret: "fixture-broker-secret"}, clk)
	require.NoError(t, err, "broker construction should succeed")

	svc, err := auth.NewService(auth.Config{
		Transport: auth.TransportPolicy{
			APIBaseURL:           "https://api.nospoilers.test",
			CookieName:           testCookieName,
			Platform:             platform,
			EnforceSecureStorage: true,
		},
	}, auth.Deps{
		Vault:  store,
		Broker: broker,
		Slot:   securestore.NewMemory(),
		Clock:  clk,
		IDs:    clock.NewSequence("id"),
		Logger: discardLogger(),
	})
	require.NoError(t, err, "service construction should succeed")

	registry := prometheus.NewRegistry()
	router := NewAuthRouter(AuthServerDeps{
		Service:  svc,
		Vault:    store,
		Metrics:  metrics.New(registry),
		Registry: registry,
		Logger:   discardLogger(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &authFixture{svc: svc, clk: clk, srv: srv}
}

func (fx *authFixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(fx.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err, "POST %s should not fail at transport level", path)
	return resp
}

func (fx *authFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(fx.srv.URL + path)
	require.NoError(t, err, "GET %s should not fail at transport level", path)
	return resp
}

// do sends a request with optional body and cookies, for the session routes
// where token placement is the thing under test.
func (fx *authFixture) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, fx.srv.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "%s %s should not fail at transport level", method, path)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst), "response body should be JSON")
}

func decodeErrorEnvelope(t *testing.T, resp *http.Response) errorDetail {
	t.Helper()
	var body errorBody
	decodeInto(t, resp, &body)
	return body.Error
}

func findCookie(t *testing.T, resp *http.Response, name string) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("response carries no %q cookie", name)
	return nil
}

type loginBody struct {
	User struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		Username string `json:"username"`
	} `json:"user"`
	Session map[string]interface{} `json:"session"`
	Linked  bool                   `json:"linked"`
}

func TestEmailLoginCarriesRefreshTokenOnNative(t *testing.T) {
	fx := newAuthFixture(t, "ios")

	resp := fx.post(t, "/auth/email", `{"email":"reader@example.com","password":"correct horse battery"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Cookies(), "native platforms never get a session cookie")

	var body loginBody
	decodeInto(t, resp, &body)
	assert.NotEmpty(t, body.User.ID)
	assert.NotEmpty(t, body.Session["accessToken"])
	assert.NotEmpty(t, body.Session["refreshToken"], "native clients store the refresh token themselves")
	assert.Equal(t, "Bearer", body.Session["tokenType"])
}

func TestWebLoginMovesRefreshTokenIntoCookie(t *testing.T) {
	fx := newAuthFixture(t, "web")

	resp := fx.post(t, "/auth/email", `{"email":"reader@example.com","password":"correct horse battery"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cookie := findCookie(t, resp, testCookieName)
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly, "refresh cookie must be HttpOnly")
	assert.Equal(t, "/auth", cookie.Path)

	var body loginBody
	decodeInto(t, resp, &body)
	assert.NotEmpty(t, body.Session["accessToken"])
	_, leaked := body.Session["refreshToken"]
	assert.False(t, leaked, "web responses must not carry the refresh token in the body")
}

func TestWebRefreshRotatesCookie(t *testing.T) {
	fx := newAuthFixture(t, "web")

	login := fx.post(t, "/auth/email", `{"email":"reader@example.com","password":"correct horse battery"}`)
	require.Equal(t, http.StatusOK, login.StatusCode)
	first := findCookie(t, login, testCookieName)
	io.Copy(io.Discard, login.Body)
	login.Body.Close()

	refresh := fx.do(t, http.MethodPost, "/auth/session/refresh", "", first)
	require.Equal(t, http.StatusOK, refresh.StatusCode)

	second := findCookie(t, refresh, testCookieName)
	assert.NotEqual(t, first.Value, second.Value, "rotation must mint a new refresh token")

	var session map[string]interface{}
	decodeInto(t, refresh, &session)
	assert.NotEmpty(t, session["accessToken"])
	_, leaked := session["refreshToken"]
	assert.False(t, leaked)

	// The consumed token is dead; replaying it is rejected.
	replay := fx.do(t, http.MethodPost, "/auth/session/refresh", "", first)
	assert.Equal(t, http.StatusUnauthorized, replay.StatusCode)
	assert.Equal(t, "missing_refresh", decodeErrorEnvelope(t, replay).Kind)
}

func TestWebRefreshTrustsCookieOverSlot(t *testing.T) {
	fx := newAuthFixture(t, "web")

	login := fx.post(t, "/auth/email", `{"email":"reader@example.com","password":"correct horse battery"}`)
	require.Equal(t, http.StatusOK, login.StatusCode)
	io.Copy(io.Discard, login.Body)
	login.Body.Close()

	forged := &http.Cookie{Name: testCookieName, Value: "not-a-real-token"}
	resp := fx.do(t, http.MethodPost, "/auth/session/refresh", "", forged)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode,
		"a presented cookie is authoritative even when it is garbage")
	assert.Equal(t, "missing_refresh", decodeErrorEnvelope(t, resp).Kind)
}

func TestRefreshWithoutSessionIsUnauthorized(t *testing.T) {
	fx := newAuthFixture(t, "web")

	resp := fx.do(t, http.MethodPost, "/auth/session/refresh", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "missing_refresh", decodeErrorEnvelope(t, resp).Kind)
}

func TestNativeRefreshReadsBodyToken(t *testing.T) {
	fx := newAuthFixture(t, "ios")

	login := fx.post(t, "/auth/email", `{"email":"reader@example.com","password":"correct horse battery"}`)
	require.Equal(t, http.StatusOK, login.StatusCode)
	var body loginBody
	decodeInto(t, login, &body)
	first, _ := body.Session["refreshToken"].(string)
	require.NotEmpty(t, first)

	resp := fx.do(t, http.MethodPost, "/auth/session/refresh", `{"refreshToken":"`+first+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rotated map[string]interface{}
	decodeInto(t, resp, &rotated)
	assert.NotEmpty(t, rotated["accessToken"])
	assert.NotEmpty(t, rotated["refreshToken"])
	assert.NotEqual(t, first, rotated["refreshToken"], "refresh tokens are single use")
}

func TestLogoutClearsWebCookie(t *testing.T) {
	fx := newAuthFixture(t, "web")

	login := fx.post(t, "/auth/email", `{"email":"reader@example.com","password":"correct horse battery"}`)
	require.Equal(t, http.StatusOK, login.StatusCode)
	cookie := findCookie(t, login, testCookieName)
	io.Copy(io.Discard, login.Body)
	login.Body.Close()

	resp := fx.do(t, http.MethodPost, "/auth/logout", "", cookie)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	cleared := findCookie(t, resp, testCookieName)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge, "logout must expire the cookie")

	// The session the cookie referenced is gone.
	replay := fx.do(t, http.MethodPost, "/auth/session/refresh", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, replay.StatusCode)
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	fx := newAuthFixture(t, "ios")

	resp := fx.post(t, "/auth/email", `{"email": "reader@example.com"`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	detail := decodeErrorEnvelope(t, resp)
	assert.Equal(t, "malformed_body", detail.Kind)
	assert.NotEmpty(t, detail.Message)
}

func TestUnknownFieldsAreRejected(t *testing.T) {
	fx := newAuthFixture(t, "ios")

	resp := fx.post(t, "/auth/email", `{"email":"reader@example.com","password":"pw-123456","admin":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "malformed_body", decodeErrorEnvelope(t, resp).Kind)
}

func TestUnknownUserMapsToNotFound(t *testing.T) {
	fx := newAuthFixture(t, "ios")

	resp := fx.get(t, "/auth/users/no-such-user")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	detail := decodeErrorEnvelope(t, resp)
	assert.Equal(t, "unknown_user", detail.Kind)
	assert.NotEmpty(t, detail.Message, "envelope always carries a human message")
}

func TestValidationErrorCarriesField(t *testing.T) {
	fx := newAuthFixture(t, "ios")

	resp := fx.post(t, "/auth/phone/start", `{"phone":"555 not a phone"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	detail := decodeErrorEnvelope(t, resp)
	assert.Equal(t, "invalid_phone", detail.Kind)
	assert.Equal(t, "phone", detail.Field)
}

func TestRateLimitedResponseCarriesRetryAfter(t *testing.T) {
	fx := newAuthFixture(t, "ios")

	const body = `{"phone":"+15551230001"}`
	for i := 0; i < 3; i++ {
		resp := fx.post(t, "/auth/phone/start", body)
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d is inside the window", i+1)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	resp := fx.post(t, "/auth/phone/start", body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "300", resp.Header.Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeErrorEnvelope(t, resp).Kind)
}

func TestReserveUsernameOverHTTP(t *testing.T) {
	fx := newAuthFixture(t, "ios")

	login := fx.post(t, "/auth/email", `{"email":"reader@example.com","password":"correct horse battery"}`)
	require.Equal(t, http.StatusOK, login.StatusCode)
	var body loginBody
	decodeInto(t, login, &body)

	resp := fx.post(t, "/auth/users/"+body.User.ID+"/username-reservation", `{"username":"NightReader"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reservation map[string]interface{}
	decodeInto(t, resp, &reservation)
	assert.Equal(t, "nightreader", reservation["normalized"])
	assert.NotZero(t, reservation["reservedUntilMs"])

	// A second caller sees the name as reserved.
	other := fx.post(t, "/auth/email", `{"email":"second@example.com","password":"correct horse battery"}`)
	require.Equal(t, http.StatusOK, other.StatusCode)
	var otherBody loginBody
	decodeInto(t, other, &otherBody)

	conflict := fx.post(t, "/auth/users/"+otherBody.User.ID+"/username-reservation", `{"username":"nightreader"}`)
	assert.Equal(t, http.StatusConflict, conflict.StatusCode)
	assert.Equal(t, "username_reserved", decodeErrorEnvelope(t, conflict).Kind)
}

func TestHealthReportsVaultStatus(t *testing.T) {
	fx := newAuthFixture(t, "ios")

	resp := fx.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]string
	decodeInto(t, resp, &health)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "nospoilers-auth", health["service"])
	assert.Equal(t, "connected", health["vault"])
}

func TestMetricsEndpointExposesCounters(t *testing.T) {
	fx := newAuthFixture(t, "ios")

	resp := fx.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "nospoilers_otp_sends_total")
}

func TestPreflightGetsCORSHeaders(t *testing.T) {
	fx := newAuthFixture(t, "ios")

	req, err := http.NewRequest(http.MethodOptions, fx.srv.URL+"/auth/email", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.nospoilers.test")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}
