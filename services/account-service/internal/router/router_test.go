package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ganapathi9191/vegie9/services/account-service/internal/handler"
	"github.com/ganapathi9191/vegie9/services/account-service/internal/ratelimit"
	"github.com/ganapathi9191/vegie9/services/account-service/internal/repository"
	"github.com/ganapathi9191/vegie9/services/account-service/internal/usecase"
	"github.com/ganapathi9191/vegie9/shared/auth"
	"github.com/ganapathi9191/vegie9/shared/events"
	"github.com/ganapathi9191/vegie9/shared/middleware"
	"github.com/ganapathi9191/vegie9/shared/security"
	"github.com/ganapathi9191/vegie9/shared/validation"
)

type testServer struct {
	router  http.Handler
	jwtAuth *auth.JWTAuthenticator
}

type serverOptions struct {
	requireAuth bool
	limiter     *middleware.ClientRateLimiter
	trustProxy  bool
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()

	logger := zerolog.Nop()
	repo := repository.NewMemoryAccountRepository()
	jwtAuth := auth.NewJWTAuthenticator("0123456789abcdef0123456789abcdef", "vegie9-test", time.Minute)
	v, err := validation.New()
	require.NoError(t, err)

	accounts := usecase.NewAccountUsecase(
		&logger,
		repo,
		security.NewRandomCodeGenerator(),
		security.NewBcryptHasher(bcrypt.MinCost),
		ratelimit.NewMemoryOTPLimiter(5, time.Minute),
		jwtAuth,
		nil,
		events.NopPublisher{},
		time.Minute,
	)
	h := handler.NewAccountHTTPHandler(
		&logger, accounts, usecase.NewProfileUsecase(&logger, repo), v, repo,
		handler.Options{ReturnOTP: true},
	)

	return &testServer{
		router: NewRouter(Params{
			Logger:            &logger,
			Handler:           h,
			JWTAuth:           jwtAuth,
			RequireAuth:       opts.requireAuth,
			RateLimiter:       opts.limiter,
			CORSOrigins:       []string{"https://app.example.com"},
			TrustProxyHeaders: opts.trustProxy,
		}),
		jwtAuth: jwtAuth,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var decoded map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	return rec, decoded
}

// activeAccount registers, verifies and activates an account, returning its id and access token.
func (s *testServer) activeAccount(t *testing.T, email string) (string, string) {
	t.Helper()

	rec, body := s.do(t, http.MethodPost, "/api/register", map[string]string{
		"firstName": "Ann", "lastName": "Lee", "email": email, "phoneNumber": "555-0100",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	userID := body["userId"].(string)

	rec, _ = s.do(t, http.MethodPost, "/api/verify-otp", map[string]string{"email": email, "otp": body["otp"].(string)}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/set-password", map[string]string{"userId": userID, "password": "secret1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = s.do(t, http.MethodPost, "/api/login", map[string]string{"email": email, "password": "secret1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	return userID, body["accessToken"].(string)
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}

func TestRouter_ProfileOpenWithoutRequireAuth(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	userID, _ := s.activeAccount(t, "ann@x.com")

	rec, body := s.do(t, http.MethodGet, "/api/profile/"+userID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ann Lee", body["fullName"])
}

func TestRouter_RequireAuth(t *testing.T) {
	s := newTestServer(t, serverOptions{requireAuth: true})
	annID, annToken := s.activeAccount(t, "ann@x.com")
	_, bobToken := s.activeAccount(t, "bob@x.com")

	rec, _ := s.do(t, http.MethodGet, "/api/profile/"+annID, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/profile/"+annID, nil, bearer("garbage"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/profile/"+annID, nil, bearer(bobToken))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := s.do(t, http.MethodGet, "/api/profile/"+annID, nil, bearer(annToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ann@x.com", body["email"])

	rec, _ = s.do(t, http.MethodPut, "/api/address/"+annID, map[string]string{"city": "Pune"}, bearer(annToken))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_RequestID(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec, _ := s.do(t, http.MethodGet, "/api/profile/64b7f0c2a1b2c3d4e5f60718", nil, nil)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec, _ = s.do(t, http.MethodGet, "/api/profile/64b7f0c2a1b2c3d4e5f60718", nil,
		http.Header{middleware.RequestIDHeader: {"req-123"}})
	assert.Equal(t, "req-123", rec.Header().Get(middleware.RequestIDHeader))
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec, _ := s.do(t, http.MethodOptions, "/api/login", nil, http.Header{
		"Origin":                        {"https://app.example.com"},
		"Access-Control-Request-Method": {http.MethodPost},
	})
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = s.do(t, http.MethodOptions, "/api/login", nil, http.Header{
		"Origin":                        {"https://evil.example.com"},
		"Access-Control-Request-Method": {http.MethodPost},
	})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RateLimit(t *testing.T) {
	s := newTestServer(t, serverOptions{limiter: middleware.NewClientRateLimiter(0.001, 2)})

	for i := 0; i < 2; i++ {
		rec, _ := s.do(t, http.MethodGet, "/api/profile/64b7f0c2a1b2c3d4e5f60718", nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	rec, _ := s.do(t, http.MethodGet, "/api/profile/64b7f0c2a1b2c3d4e5f60718", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_RateLimitIgnoresForwardedFor(t *testing.T) {
	s := newTestServer(t, serverOptions{limiter: middleware.NewClientRateLimiter(0.001, 2)})

	for i := 0; i < 2; i++ {
		rec, _ := s.do(t, http.MethodGet, "/api/profile/64b7f0c2a1b2c3d4e5f60718", nil,
			http.Header{"X-Forwarded-For": {fmt.Sprintf("10.0.0.%d", i)}})
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	rec, _ := s.do(t, http.MethodGet, "/api/profile/64b7f0c2a1b2c3d4e5f60718", nil,
		http.Header{"X-Forwarded-For": {"10.0.0.99"}})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRouter_RateLimitBehindTrustedProxy(t *testing.T) {
	s := newTestServer(t, serverOptions{limiter: middleware.NewClientRateLimiter(0.001, 1), trustProxy: true})

	rec, _ := s.do(t, http.MethodGet, "/api/profile/64b7f0c2a1b2c3d4e5f60718", nil,
		http.Header{"X-Forwarded-For": {"10.0.0.1"}})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/profile/64b7f0c2a1b2c3d4e5f60718", nil,
		http.Header{"X-Forwarded-For": {"10.0.0.2"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/profile/64b7f0c2a1b2c3d4e5f60718", nil,
		http.Header{"X-Forwarded-For": {"10.0.0.1"}})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
