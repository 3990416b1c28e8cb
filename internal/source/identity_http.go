package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"migration-guard/internal/config"
	apperrors "migration-guard/internal/errors"
	"migration-guard/internal/logging"
)

// HTTPIdentityProvider lists users through the identity admin REST API
type HTTPIdentityProvider struct {
	baseURL    string
	serviceKey string
	pageSize   int
	client     *http.Client
	logger     *logging.Logger
}

type listUsersResponse struct {
	Users []User `json:"users"`
}

// NewHTTPIdentityProvider creates a provider for cfg.URL
func NewHTTPIdentityProvider(cfg config.IdentityConfig, logger *logging.Logger) (*HTTPIdentityProvider, error) {
	if cfg.URL == "" || cfg.ServiceKey == "" {
		return nil, apperrors.NewConfigurationError("identity provider credentials missing", "identity.url", "identity.service_key")
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}

	return &HTTPIdentityProvider{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		pageSize:   pageSize,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// ListUsers walks every page until a short page is returned
func (p *HTTPIdentityProvider) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	for page := 1; ; page++ {
		batch, err := p.fetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		users = append(users, batch...)

		p.logger.WithFields(map[string]interface{}{
			"page":  page,
			"count": len(batch),
		}).Debug("Fetched identity page")

		if len(batch) < p.pageSize {
			break
		}
	}
	return users, nil
}

func (p *HTTPIdentityProvider) fetchPage(ctx context.Context, page int) ([]User, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(p.pageSize))
	endpoint := p.baseURL + "/admin/users?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.serviceKey)
	req.Header.Set("apikey", p.serviceKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperrors.NewRecoverableError(apperrors.ErrorTypeConnection, "identity provider request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := fmt.Sprintf("identity provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, apperrors.NewAppError(apperrors.ErrorTypePermission, msg, nil)
		case resp.StatusCode >= 500:
			return nil, apperrors.NewRecoverableError(apperrors.ErrorTypeConnection, msg, nil)
		default:
			return nil, apperrors.NewAppError(apperrors.ErrorTypeConnection, msg, nil)
		}
	}

	var decoded listUsersResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode identity page %d: %w", page, err)
	}
	return decoded.Users, nil
}
