// Package keycloak implements the admin API client used by directory sync.
// It authenticates with the client-credentials grant, caches the resulting
// service-account token until shortly before expiry, and exposes paginated
// listing of enabled users plus a count-based connectivity probe.
//
// A Client is built per sync tick and discarded afterwards, so the cached
// token never outlives the tick that acquired it. Failures surface as typed
// errors: *AuthError when the provider rejects our credentials, *RequestError
// for transport failures and unexpected responses.
package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-querystring/query"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// tokenExpiryMargin is subtracted from the token lifetime so we
	// re-authenticate before the provider starts rejecting calls.
	tokenExpiryMargin = 60 * time.Second

	// defaultTokenTTL applies when the token response carries no expiry and
	// the access token has no usable exp claim.
	defaultTokenTTL = 5 * time.Minute

	defaultTimeout   = 10 * time.Second
	defaultBatchSize = 100

	// maxUsers caps pagination so a misbehaving provider cannot keep the
	// client fetching forever.
	maxUsers = 100_000
)

// Config holds the connection settings for one identity provider realm.
type Config struct {
	BaseURL      string // e.g. "https://sso.example.com", no trailing slash required
	Realm        string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration // per-request timeout, defaults to 10s
}

// User is a raw user record as returned by the admin users endpoint.
// Attributes carries Keycloak's free-form user attributes; sync reads the
// avatar URL from it when present.
type User struct {
	ID         string              `json:"id"`
	Username   string              `json:"username"`
	Email      string              `json:"email"`
	FirstName  string              `json:"firstName"`
	LastName   string              `json:"lastName"`
	Enabled    bool                `json:"enabled"`
	Attributes map[string][]string `json:"attributes"`
}

// Client talks to the identity provider's admin API on behalf of a
// service account. It is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New returns a Client for the given realm. The base URL is normalized by
// trimming any trailing slash.
func New(cfg Config, logger *zap.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("keycloak"),
	}
}

// ListEnabledUsers pages through the realm's enabled users and returns them
// all. It requests batchSize users per page (defaulting to 100 when
// batchSize is not positive) and stops on the first short batch, or at the
// hard cap of 100 000 users.
func (c *Client) ListEnabledUsers(ctx context.Context, batchSize int) ([]User, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	var users []User
	for first := 0; ; first += batchSize {
		params, err := query.Values(listUsersOptions{First: first, Max: batchSize, Enabled: true})
		if err != nil {
			return nil, &RequestError{Op: "list users", Err: err}
		}

		var batch []User
		if err := c.get(ctx, "list users", "/users", params, &batch); err != nil {
			return nil, err
		}
		users = append(users, batch...)

		if len(batch) < batchSize {
			break
		}
		if len(users) >= maxUsers {
			c.logger.Warn("user listing reached the hard cap, truncating snapshot",
				zap.Int("cap", maxUsers),
			)
			break
		}
	}
	return users, nil
}

// CountEnabledUsers returns the realm's total number of enabled users.
func (c *Client) CountEnabledUsers(ctx context.Context) (int, error) {
	params := url.Values{"enabled": {"true"}}
	var count int
	if err := c.get(ctx, "count users", "/users/count", params, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// TestConnection probes the admin API via the user-count endpoint. It
// returns false on any failure and never panics — callers use it as a
// go/no-go check before fetching a snapshot.
func (c *Client) TestConnection(ctx context.Context) bool {
	if _, err := c.CountEnabledUsers(ctx); err != nil {
		c.logger.Warn("connection test failed", zap.Error(err))
		return false
	}
	return true
}

// listUsersOptions is the query string of the admin users endpoint.
type listUsersOptions struct {
	First   int  `url:"first"`
	Max     int  `url:"max"`
	Enabled bool `url:"enabled"`
}

// get performs an authenticated admin GET and decodes the JSON response into
// out. On a 401/403 it invalidates the cached token, re-authenticates, and
// retries the call exactly once; a second rejection surfaces as *AuthError.
func (c *Client) get(ctx context.Context, op, path string, params url.Values, out any) error {
	status, body, err := c.do(ctx, op, path, params)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		c.logger.Debug("admin call rejected, re-authenticating",
			zap.String("op", op),
			zap.Int("status", status),
		)
		c.invalidateToken()
		status, body, err = c.do(ctx, op, path, params)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return &AuthError{StatusCode: status}
		}
	}

	if status < 200 || status >= 300 {
		return &RequestError{Op: op, StatusCode: status, Body: snippet(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &RequestError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// do executes one admin request with the current token and returns the raw
// status and body. Transport failures are returned as *RequestError.
func (c *Client) do(ctx context.Context, op, path string, params url.Values) (int, []byte, error) {
	token, err := c.token(ctx)
	if err != nil {
		return 0, nil, err
	}

	u := c.cfg.BaseURL + "/admin/realms/" + url.PathEscape(c.cfg.Realm) + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, &RequestError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return 0, nil, &RequestError{Op: op, Err: err}
	}
	return resp.StatusCode, body, nil
}

// token returns the cached service-account token, acquiring a fresh one via
// the client-credentials grant when the cache is empty or within the expiry
// margin.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-tokenExpiryMargin)) {
		return c.accessToken, nil
	}

	grant := &clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.cfg.BaseURL + "/realms/" + url.PathEscape(c.cfg.Realm) + "/protocol/openid-connect/token",
		// Keycloak expects the credentials in the form body, not basic auth.
		AuthStyle: oauth2.AuthStyleInParams,
	}

	// Route the token request through our HTTP client so the configured
	// timeout applies to it as well.
	tok, err := grant.Token(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient))
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			status := rerr.Response.StatusCode
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				return "", &AuthError{StatusCode: status}
			}
			return "", &RequestError{Op: "token", StatusCode: status, Body: snippet(rerr.Body)}
		}
		return "", &RequestError{Op: "token", Err: err}
	}

	c.accessToken = tok.AccessToken
	c.tokenExpiry = tokenExpiry(tok)
	c.logger.Debug("service account token acquired", zap.Time("expiry", c.tokenExpiry))
	return c.accessToken, nil
}

// invalidateToken drops the cached token so the next call re-authenticates.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

// tokenExpiry determines when a token stops being usable. The token endpoint
// normally returns expires_in, which the oauth2 package maps to Expiry; some
// providers omit it, in which case the exp claim of the access token itself
// is used, and failing that a conservative default.
func tokenExpiry(tok *oauth2.Token) time.Time {
	if !tok.Expiry.IsZero() {
		return tok.Expiry
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Now().Add(defaultTokenTTL)
}

// snippet truncates a response body for inclusion in error messages.
func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}
