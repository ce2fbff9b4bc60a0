// Package registrytest provides an in-process package index implementing the
// trusted publishing token exchange and the legacy upload api for tests.
package registrytest

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/ChristopherHX/release-publisher/protocol"
	"github.com/ChristopherHX/release-publisher/protocol/registry"
)

type Upload struct {
	Name     string
	Version  string
	Filename string
	Filetype string
	Sha256   string
	Size     int
}

type Server struct {
	*httptest.Server

	Audience    string
	UploadToken string
	// AcceptIDToken decides whether an identity token is exchanged, nil accepts every token
	AcceptIDToken func(idToken string) bool
	// FailAfter makes every upload after the first FailAfter uploads fail with 503, 0 disables it
	FailAfter int

	mu       sync.Mutex
	uploads  []Upload
	idTokens []string
	attempts int
}

func NewServer() *Server {
	s := &Server{
		Audience:    "pypi",
		UploadToken: "pypi-upload-token",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/_/oidc/audience", s.handleAudience)
	mux.HandleFunc("/_/oidc/mint-token", s.handleMintToken)
	mux.HandleFunc("/pypi/", s.handleVersion)
	mux.HandleFunc("/legacy/", s.handleUpload)
	s.Server = httptest.NewServer(mux)
	return s
}

func (s *Server) IndexURL() string {
	return s.URL
}

func (s *Server) RepositoryURL() string {
	return s.URL + "/legacy/"
}

// Uploads returns every accepted upload in order
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload{}, s.uploads...)
}

// Attempts returns the number of upload requests including rejected ones
func (s *Server) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// IDTokens returns the identity tokens presented to the token exchange
func (s *Server) IDTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.idTokens...)
}

// Serves reports whether version of name has at least one file
func (s *Server) Serves(name, version string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serves(name, version)
}

func (s *Server) serves(name, version string) bool {
	for _, u := range s.uploads {
		if registry.NormalizeName(u.Name) == registry.NormalizeName(name) && u.Version == version {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func (s *Server) handleAudience(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &protocol.AudienceResponse{Audience: s.Audience})
}

func (s *Server) handleMintToken(w http.ResponseWriter, r *http.Request) {
	req := &protocol.MintTokenRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil || req.Token == "" {
		writeJSON(w, http.StatusUnprocessableEntity, &protocol.MintTokenResponse{Message: "Token request failed", Errors: []protocol.MintTokenError{{Code: "invalid-payload", Description: "missing token"}}})
		return
	}
	s.mu.Lock()
	s.idTokens = append(s.idTokens, req.Token)
	s.mu.Unlock()
	if s.AcceptIDToken != nil && !s.AcceptIDToken(req.Token) {
		writeJSON(w, http.StatusUnprocessableEntity, &protocol.MintTokenResponse{Message: "Token request failed", Errors: []protocol.MintTokenError{{Code: "invalid-publisher", Description: "valid token, but no corresponding publisher"}}})
		return
	}
	writeJSON(w, http.StatusOK, &protocol.MintTokenResponse{Success: true, Token: s.UploadToken})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	// /pypi/{name}/{version}/json
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 || parts[3] != "json" {
		http.NotFound(w, r)
		return
	}
	if !s.Serves(parts[1], parts[2]) {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"info": map[string]string{"name": parts[1], "version": parts[2]}})
}

func (s *Server) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}
	return string(raw) == registry.TokenUsername+":"+s.UploadToken
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "Invalid or non-existent authentication information.", http.StatusForbidden)
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.FormValue(":action") != "file_upload" {
		http.Error(w, "Invalid action", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("content")
	if err != nil {
		http.Error(w, "Upload payload does not have a file.", http.StatusBadRequest)
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sum := sha256.Sum256(content)
	sha := hex.EncodeToString(sum[:])
	if sha != r.FormValue("sha256_digest") {
		http.Error(w, "The digest supplied does not match a digest calculated from the uploaded file.", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAfter > 0 && len(s.uploads) >= s.FailAfter {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	for _, u := range s.uploads {
		if u.Filename == header.Filename {
			http.Error(w, "File already exists ('"+header.Filename+"').", http.StatusBadRequest)
			return
		}
	}
	s.uploads = append(s.uploads, Upload{
		Name:     r.FormValue("name"),
		Version:  r.FormValue("version"),
		Filename: header.Filename,
		Filetype: r.FormValue("filetype"),
		Sha256:   sha,
		Size:     len(content),
	})
	w.WriteHeader(http.StatusOK)
}
