package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/go-convo/internal/chat"
	"github.com/npezzotti/go-convo/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &GoConvoApp{
		log: testutil.TestLogger(t),
	}

	app.log.SetOutput(buf)

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "panic: test panic")
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &GoConvoApp{}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

// echoSubject writes the subject of the request identity, or "anonymous".
func echoSubject(w http.ResponseWriter, r *http.Request) {
	ident, ok := chat.IdentityFrom(r.Context())
	if !ok {
		w.Write([]byte("anonymous"))
		return
	}
	w.Write([]byte(ident.Subject))
}

func Test_authMiddleware(t *testing.T) {
	app := newTestApp(t, &chat.MockChatService{}, &mockPinger{})

	otherKeyToken, err := CreateIdentityToken([]byte("some-other-key"), chat.Identity{Subject: "mallory"}, time.Hour)
	require.NoError(t, err)
	expiredToken, err := CreateIdentityToken([]byte(testSigningKey), chat.Identity{Subject: "ada"}, -time.Hour)
	require.NoError(t, err)
	noSubjectToken, err := CreateIdentityToken([]byte(testSigningKey), chat.Identity{}, time.Hour)
	require.NoError(t, err)
	validToken, err := CreateIdentityToken([]byte(testSigningKey), chat.Identity{Subject: "ada"}, time.Hour)
	require.NoError(t, err)

	tcases := []struct {
		name     string
		header   string
		cookie   string
		wantCode int
		wantBody string
	}{
		{name: "bearer token", header: bearer(t, "ada"), wantCode: http.StatusOK, wantBody: "ada"},
		{name: "cookie token", cookie: validToken, wantCode: http.StatusOK, wantBody: "ada"},
		{name: "missing token", wantCode: http.StatusUnauthorized},
		{name: "malformed header", header: "Token abc", wantCode: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer invalid-token", wantCode: http.StatusUnauthorized},
		{name: "wrong signing key", header: "Bearer " + otherKeyToken, wantCode: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expiredToken, wantCode: http.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + noSubjectToken, wantCode: http.StatusUnauthorized},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			app.log.SetOutput(buf)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: tc.cookie})
			}
			rr := httptest.NewRecorder()
			app.authMiddleware(echoSubject).ServeHTTP(rr, req)

			assert.Equal(t, tc.wantCode, rr.Code)
			if tc.wantCode == http.StatusOK {
				assert.Equal(t, tc.wantBody, rr.Body.String())
				assert.Equal(t, "no-store, no-cache, must-revalidate, private", rr.Header().Get("Cache-Control"))
				return
			}
			assert.Contains(t, buf.String(), "failed to verify identity token")
		})
	}
}

func Test_softAuthMiddleware(t *testing.T) {
	app := newTestApp(t, &chat.MockChatService{}, &mockPinger{})

	tcases := []struct {
		name     string
		header   string
		wantBody string
	}{
		{name: "valid token", header: bearer(t, "ada"), wantBody: "ada"},
		{name: "missing token", wantBody: "anonymous"},
		{name: "invalid token", header: "Bearer invalid-token", wantBody: "anonymous"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			app.softAuthMiddleware(echoSubject).ServeHTTP(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tc.wantBody, rr.Body.String())
		})
	}
}

func TestVerifyTokenClaims(t *testing.T) {
	app := newTestApp(t, &chat.MockChatService{}, &mockPinger{})
	want := chat.Identity{
		Subject: "user_2abc",
		Email:   "ada@example.com",
		Name:    "Ada",
		Avatar:  "https://example.com/ada.png",
	}

	token, err := CreateIdentityToken([]byte(testSigningKey), want, time.Hour)
	require.NoError(t, err)

	got, err := app.verifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
