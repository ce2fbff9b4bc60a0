package registry

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/ChristopherHX/release-publisher/protocol"
)

const (
	DefaultIndexURL      = "https://pypi.org"
	DefaultRepositoryURL = "https://upload.pypi.org/legacy/"

	// TokenUsername is the username the registry expects for token authentication
	TokenUsername = "__token__"
)

var (
	ErrFileExists   = errors.New("file already exists")
	ErrUnauthorized = errors.New("registry rejected the credential")
)

var nameNormalizer = regexp.MustCompile(`[-_.]+`)

// NormalizeName returns the canonical project name used in index urls
func NormalizeName(name string) string {
	return strings.ToLower(nameNormalizer.ReplaceAllString(name, "-"))
}

// Client talks to a package index with the trusted publishing token exchange
// and the legacy upload api
type Client struct {
	IndexURL      string
	RepositoryURL string
	Connection    *protocol.Connection
}

func (c *Client) connection() *protocol.Connection {
	if c.Connection == nil {
		c.Connection = &protocol.Connection{}
	}
	return c.Connection
}

func (c *Client) indexURL(elem ...string) (string, error) {
	base := c.IndexURL
	if base == "" {
		base = DefaultIndexURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	trailingSlash := len(elem) > 0 && strings.HasSuffix(elem[len(elem)-1], "/")
	u.Path = path.Join(append([]string{"/", u.Path}, elem...)...)
	if trailingSlash {
		u.Path += "/"
	}
	return u.String(), nil
}

// Audience returns the audience the registry expects in identity tokens
func (c *Client) Audience(ctx context.Context) (string, error) {
	audienceURL, err := c.indexURL("_/oidc/audience")
	if err != nil {
		return "", err
	}
	resp := &protocol.AudienceResponse{}
	if err := c.connection().RequestWithContext(ctx, http.MethodGet, audienceURL, nil, resp); err != nil {
		return "", fmt.Errorf("failed to discover the registry audience: %w", err)
	}
	if resp.Audience == "" {
		return "", fmt.Errorf("registry returned an empty audience")
	}
	return resp.Audience, nil
}

// MintToken exchanges an identity token for a short-lived upload token
func (c *Client) MintToken(ctx context.Context, idToken string) (string, error) {
	mintURL, err := c.indexURL("_/oidc/mint-token")
	if err != nil {
		return "", err
	}
	resp := &protocol.MintTokenResponse{}
	err = c.connection().RequestWithContext(ctx, http.MethodPost, mintURL, &protocol.MintTokenRequest{Token: idToken}, resp)
	if err != nil {
		var httpErr *protocol.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode < http.StatusInternalServerError {
			return "", fmt.Errorf("%w: token exchange failed: %v", ErrUnauthorized, err)
		}
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	if !resp.Success || resp.Token == "" {
		reasons := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			reasons = append(reasons, e.Code+": "+e.Description)
		}
		return "", fmt.Errorf("%w: token exchange failed: %v %v", ErrUnauthorized, resp.Message, strings.Join(reasons, ", "))
	}
	return resp.Token, nil
}

// VersionExists reports whether the index already serves version of project name
func (c *Client) VersionExists(ctx context.Context, name, version string) (bool, error) {
	versionURL, err := c.indexURL("pypi", NormalizeName(name), version, "json")
	if err != nil {
		return false, err
	}
	var body []byte
	err = c.connection().RequestWithContext(ctx, http.MethodGet, versionURL, nil, &body)
	if err == nil {
		return true, nil
	}
	var httpErr *protocol.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func uploadForm(artifact *protocol.Artifact) (*protocol.RawBody, error) {
	f, err := os.Open(artifact.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)
	fields := []struct{ key, value string }{
		{":action", "file_upload"},
		{"protocol_version", "1"},
		{"metadata_version", "2.1"},
		{"name", artifact.Name},
		{"version", artifact.Version},
		{"filetype", artifact.Filetype},
		{"pyversion", artifact.PyVersion},
		{"sha256_digest", artifact.Digest.Encoded()},
	}
	for _, field := range fields {
		if err := w.WriteField(field.key, field.value); err != nil {
			return nil, err
		}
	}
	part, err := w.CreateFormFile("content", artifact.Filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &protocol.RawBody{ContentType: w.FormDataContentType(), Reader: buf}, nil
}

// Upload sends a single artifact authenticated with an upload token
func (c *Client) Upload(ctx context.Context, token string, artifact *protocol.Artifact) error {
	repositoryURL := c.RepositoryURL
	if repositoryURL == "" {
		repositoryURL = DefaultRepositoryURL
	}
	body, err := uploadForm(artifact)
	if err != nil {
		return fmt.Errorf("failed to prepare upload of %v: %w", artifact.Filename, err)
	}
	con := c.connection().WithAuthHeader(basicAuth(TokenUsername, token))
	err = con.RequestWithContext(ctx, http.MethodPost, repositoryURL, body, nil)
	if err == nil {
		return nil
	}
	var httpErr *protocol.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusConflict,
			httpErr.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(httpErr.Body), "already exists"):
			return fmt.Errorf("%w: %v: %v", ErrFileExists, artifact.Filename, err)
		case httpErr.StatusCode == http.StatusUnauthorized, httpErr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %v: %v", ErrUnauthorized, artifact.Filename, err)
		}
	}
	return fmt.Errorf("failed to upload %v: %w", artifact.Filename, err)
}
