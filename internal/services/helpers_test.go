package services

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ledgerdesk/backend/internal/middleware"
	"github.com/ledgerdesk/backend/internal/models"
	"github.com/spf13/viper"
)

func setupTestConfig() {
	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)
}

func adminPrincipal() models.Principal {
	return models.Principal{
		ID:     "11111111-1111-1111-1111-111111111111",
		Name:   "Admin",
		Email:  "admin@example.com",
		Role:   models.RoleMasterAdmin,
		Active: true,
	}
}

func userPrincipal(id string) models.Principal {
	return models.Principal{
		ID:     id,
		Name:   "Jane",
		Email:  "jane@example.com",
		Role:   models.RoleUser,
		Active: true,
	}
}

// authedRequest builds a request carrying a principal, as the middleware
// chain would have attached it.
func authedRequest(method, target string, body []byte, p models.Principal) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewBuffer(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	return r.WithContext(middleware.WithPrincipal(r.Context(), p))
}

// withURLParam injects a chi route parameter for handlers called outside a
// router.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

var testTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
