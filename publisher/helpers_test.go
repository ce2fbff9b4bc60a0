package publisher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/require"

	"github.com/ChristopherHX/release-publisher/protocol/oidc"
	"github.com/ChristopherHX/release-publisher/protocol/registry/registrytest"
	"github.com/ChristopherHX/release-publisher/publisherconfiguration"
)

var testSignature = &object.Signature{Name: "Release Bot", Email: "release-bot@example.com", When: time.Unix(1700000000, 0)}

func commitFile(t *testing.T, repo *git.Repository, dir, name, content string) plumbing.Hash {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	hash, err := wt.Commit("update "+name, &git.CommitOptions{Author: testSignature})
	require.NoError(t, err)
	return hash
}

// initProject creates a repository whose HEAD is tagged with tag and declares version in pyproject.toml
func initProject(t *testing.T, tag, version string) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	commitFile(t, repo, dir, ".gitignore", "dist/\n")
	hash := commitFile(t, repo, dir, "pyproject.toml", fmt.Sprintf("[project]\nname = \"sample-project\"\nversion = %q\n", version))
	_, err = repo.CreateTag(tag, hash, &git.CreateTagOptions{Tagger: testSignature, Message: "release " + tag})
	require.NoError(t, err)
	return dir, repo
}

type fakeTools struct {
	mu            sync.Mutex
	invocations   [][]string
	envs          []map[string]string
	identity      []bool
	pythonVersion string
	buildVersion  string
	buildErr      error
	// publish handles every command other than --version, pip install and the build
	publish func(inv *ToolInvocation) error
}

func newFakeTools() *fakeTools {
	return &fakeTools{pythonVersion: "3.12.4", buildVersion: "1.2.3"}
}

func (f *fakeTools) Run(_ context.Context, inv *ToolInvocation) error {
	f.mu.Lock()
	f.invocations = append(f.invocations, inv.Args)
	f.envs = append(f.envs, inv.Env)
	f.identity = append(f.identity, inv.IdentityToken)
	f.mu.Unlock()
	switch cmd := strings.Join(inv.Args, " "); {
	case strings.HasSuffix(cmd, " --version"):
		fmt.Fprintf(inv.Stdout, "Python %v\n", f.pythonVersion)
		return nil
	case strings.HasPrefix(cmd, "python -m pip install "):
		fmt.Fprintf(inv.Stdout, "Successfully installed %v\n", strings.TrimPrefix(cmd, "python -m pip install "))
		return nil
	case cmd == publisherconfiguration.DefaultBuildCommand:
		if f.buildErr != nil {
			fmt.Fprintln(inv.Stderr, "ERROR Backend subprocess exited when trying to invoke build_sdist")
			return f.buildErr
		}
		out := filepath.Join(inv.Dir, "dist")
		if err := os.MkdirAll(out, 0o755); err != nil {
			return err
		}
		for _, name := range []string{
			fmt.Sprintf("sample_project-%v.tar.gz", f.buildVersion),
			fmt.Sprintf("sample_project-%v-py3-none-any.whl", f.buildVersion),
		} {
			if err := os.WriteFile(filepath.Join(out, name), []byte("content of "+name), 0o600); err != nil {
				return err
			}
		}
		fmt.Fprintf(inv.Stdout, "Successfully built sample_project-%v.tar.gz and sample_project-%v-py3-none-any.whl\n", f.buildVersion, f.buildVersion)
		return nil
	}
	if f.publish != nil {
		return f.publish(inv)
	}
	return fmt.Errorf("unexpected command %v", inv.Args)
}

func (f *fakeTools) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := make([]string, 0, len(f.invocations))
	for _, args := range f.invocations {
		ret = append(ret, strings.Join(args, " "))
	}
	return ret
}

type staticTokenSource struct {
	token     string
	audiences []string
}

func (s *staticTokenSource) IDToken(_ context.Context, audience string) (string, error) {
	s.audiences = append(s.audiences, audience)
	return s.token, nil
}

func signIDToken(t *testing.T, environment string) string {
	t.Helper()
	now := time.Now()
	claims := &oidc.Claims{
		StandardClaims: jwt.StandardClaims{
			Audience:  "pypi",
			Issuer:    "https://token.actions.githubusercontent.com",
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(5 * time.Minute).Unix(),
		},
		Repository:  "octo-org/sample-project",
		Ref:         "refs/tags/v1.2.3",
		Environment: environment,
		EventName:   "release",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return token
}

type testRun struct {
	publisher *RunPublisher
	tools     *fakeTools
	tokens    *staticTokenSource
	server    *registrytest.Server
	console   *bytes.Buffer
	dir       string
}

func newTestRun(t *testing.T, dir string, server *registrytest.Server) *testRun {
	t.Helper()
	settings := publisherconfiguration.Defaults()
	settings.Name = "sample-project"
	settings.Environment = "pypi"
	settings.Source.Path = dir
	settings.Toolchain.Version = "~3.12"
	settings.Toolchain.Setup = []string{"python -m pip install build==1.2.2"}
	settings.Publish.IndexURL = server.IndexURL()
	settings.Publish.RepositoryURL = server.RepositoryURL()
	tr := &testRun{
		tools:   newFakeTools(),
		tokens:  &staticTokenSource{token: signIDToken(t, "pypi")},
		server:  server,
		console: &bytes.Buffer{},
		dir:     dir,
	}
	tr.publisher = &RunPublisher{
		Settings:    settings,
		Console:     tr.console,
		Tools:       tr.tools,
		TokenSource: tr.tokens,
	}
	return tr
}

func newRegistry(t *testing.T) *registrytest.Server {
	t.Helper()
	server := registrytest.NewServer()
	t.Cleanup(server.Close)
	return server
}
