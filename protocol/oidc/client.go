package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/ChristopherHX/release-publisher/protocol"
)

const (
	EnvRequestURL   = "ACTIONS_ID_TOKEN_REQUEST_URL"
	EnvRequestToken = "ACTIONS_ID_TOKEN_REQUEST_TOKEN"

	// tokens issued by the orchestrator for a single job are valid for minutes, not days
	MaxTokenLifetime = time.Hour
)

var (
	ErrMissingPermission = errors.New("the job is not allowed to request an identity token, grant it the id-token: write permission")
	ErrInvalidToken      = errors.New("invalid identity token")
)

// TokenSource issues short-lived identity tokens scoped to the current run
type TokenSource interface {
	IDToken(ctx context.Context, audience string) (string, error)
}

// ActionsTokenSource requests identity tokens from the GitHub Actions token service
type ActionsTokenSource struct {
	RequestURL   string
	RequestToken string
	Connection   *protocol.Connection
}

func NewActionsTokenSourceFromEnvironment(con *protocol.Connection) (*ActionsTokenSource, error) {
	requestURL, hasURL := os.LookupEnv(EnvRequestURL)
	requestToken, hasToken := os.LookupEnv(EnvRequestToken)
	if !hasURL || !hasToken || requestURL == "" || requestToken == "" {
		return nil, ErrMissingPermission
	}
	return &ActionsTokenSource{
		RequestURL:   requestURL,
		RequestToken: requestToken,
		Connection:   con,
	}, nil
}

func (s *ActionsTokenSource) IDToken(ctx context.Context, audience string) (string, error) {
	tokenURL, err := url.Parse(s.RequestURL)
	if err != nil {
		return "", fmt.Errorf("invalid %v: %w", EnvRequestURL, err)
	}
	if audience != "" {
		q := tokenURL.Query()
		q.Set("audience", audience)
		tokenURL.RawQuery = q.Encode()
	}
	con := s.Connection
	if con == nil {
		con = &protocol.Connection{}
	}
	con = con.WithAuthHeader("bearer " + s.RequestToken)
	resp := &protocol.IDTokenResponse{}
	if err := con.RequestWithContext(ctx, http.MethodGet, tokenURL.String(), nil, resp); err != nil {
		return "", fmt.Errorf("failed to request identity token: %w", err)
	}
	if resp.Value == "" {
		return "", fmt.Errorf("%w: token service returned an empty token", ErrInvalidToken)
	}
	return resp.Value, nil
}

// Claims are the identity token claims relevant for publishing
type Claims struct {
	jwt.StandardClaims
	Repository  string `json:"repository,omitempty"`
	Ref         string `json:"ref,omitempty"`
	Environment string `json:"environment,omitempty"`
	WorkflowRef string `json:"workflow_ref,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	EventName   string `json:"event_name,omitempty"`
}

// ParseClaims decodes the claims without verifying the signature, the registry does that
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// CheckLifetime rejects tokens that are expired or not short-lived
func (c *Claims) CheckLifetime(now time.Time) error {
	if c.ExpiresAt == 0 {
		return fmt.Errorf("%w: token has no expiry", ErrInvalidToken)
	}
	exp := time.Unix(c.ExpiresAt, 0)
	if !now.Before(exp) {
		return fmt.Errorf("%w: token expired at %v", ErrInvalidToken, exp.UTC().Format(time.RFC3339))
	}
	issued := now
	if c.IssuedAt != 0 {
		issued = time.Unix(c.IssuedAt, 0)
	}
	if exp.Sub(issued) > MaxTokenLifetime {
		return fmt.Errorf("%w: token lifetime %v exceeds %v", ErrInvalidToken, exp.Sub(issued), MaxTokenLifetime)
	}
	return nil
}

// CheckEnvironment verifies the token was issued for a job bound to environment
func (c *Claims) CheckEnvironment(environment string) error {
	if environment == "" || c.Environment == environment {
		return nil
	}
	if c.Environment == "" {
		return fmt.Errorf("%w: the job is not bound to the deployment environment %q", ErrInvalidToken, environment)
	}
	return fmt.Errorf("%w: the job runs in deployment environment %q, publishing requires %q", ErrInvalidToken, c.Environment, environment)
}
