package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"migration-guard/internal/config"
	apperrors "migration-guard/internal/errors"
)

func TestHTTPIdentityProvider_Paginates(t *testing.T) {
	var pages []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/users", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "secret", r.Header.Get("apikey"))
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pages = append(pages, page)

		var users []User
		switch page {
		case 1:
			users = []User{{ID: "u1", Email: "a@example.com"}, {ID: "u2", Email: "b@example.com"}}
		case 2:
			users = []User{{ID: "u3", Email: "c@example.com"}}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(listUsersResponse{Users: users})
	}))
	defer server.Close()

	provider, err := NewHTTPIdentityProvider(config.IdentityConfig{URL: server.URL + "/", ServiceKey: "secret", PageSize: 2}, nil)
	require.NoError(t, err)

	users, err := provider.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "u3", users[2].ID)
	assert.Equal(t, []int{1, 2}, pages)
}

func TestHTTPIdentityProvider_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		errType     apperrors.ErrorType
		recoverable bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, errType: apperrors.ErrorTypePermission},
		{name: "server error", status: http.StatusBadGateway, errType: apperrors.ErrorTypeConnection, recoverable: true},
		{name: "bad request", status: http.StatusBadRequest, errType: apperrors.ErrorTypeConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, "nope")
			}))
			defer server.Close()

			provider, err := NewHTTPIdentityProvider(config.IdentityConfig{URL: server.URL, ServiceKey: "k"}, nil)
			require.NoError(t, err)

			_, err = provider.ListUsers(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.errType, apperrors.GetErrorType(err))
			assert.Equal(t, tt.recoverable, apperrors.IsRecoverableError(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestNewHTTPIdentityProvider_MissingCredentials(t *testing.T) {
	_, err := NewHTTPIdentityProvider(config.IdentityConfig{URL: "http://localhost"}, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeConfiguration, apperrors.GetErrorType(err))
}
