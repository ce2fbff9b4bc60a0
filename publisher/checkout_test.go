package publisher

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyCheckout(t *testing.T) {
	dir, repo := initProject(t, "v1.2.3", "1.2.3")
	head, err := repo.Head()
	require.NoError(t, err)

	commit, err := VerifyCheckout(dir, "v1.2.3")
	require.NoError(t, err)
	assert.Equal(t, head.Hash(), commit)

	_, err = repo.CreateTag("v1.2.3-light", head.Hash(), nil)
	require.NoError(t, err)
	commit, err = VerifyCheckout(dir, "v1.2.3-light")
	require.NoError(t, err)
	assert.Equal(t, head.Hash(), commit)

	_, err = VerifyCheckout(dir, "v9.9.9")
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
	assert.ErrorContains(t, err, "tag v9.9.9 does not exist")

	_, err = VerifyCheckout(t.TempDir(), "v1.2.3")
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestVerifyCheckoutDetectsMovedHead(t *testing.T) {
	dir, repo := initProject(t, "v1.2.3", "1.2.3")
	tagged, err := repo.Head()
	require.NoError(t, err)
	commitFile(t, repo, dir, "NEWS", "next\n")

	_, err = VerifyCheckout(dir, "v1.2.3")
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
	assert.ErrorContains(t, err, tagged.Hash().String())

	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Hash: tagged.Hash()}))
	_, err = VerifyCheckout(dir, "v1.2.3")
	assert.NoError(t, err)
}

func TestVerifyTarget(t *testing.T) {
	dir, repo := initProject(t, "v1.2.3", "1.2.3")
	head, err := repo.Head()
	require.NoError(t, err)
	tagged, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference("refs/heads/stale", tagged.ParentHashes[0])))

	assert.NoError(t, VerifyTarget(dir, head.Hash(), head.Name().Short()))
	assert.NoError(t, VerifyTarget(dir, head.Hash(), head.Hash().String()))

	err = VerifyTarget(dir, head.Hash(), "stale")
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
	assert.ErrorContains(t, err, "not reachable from target stale")

	err = VerifyTarget(dir, head.Hash(), "no-such-branch")
	assert.True(t, errors.Is(err, errTargetUnresolved))
	assert.False(t, errors.Is(err, ErrSourceUnavailable))
}

func TestCloneTarget(t *testing.T) {
	upstream := "https://git.example.invalid/octo-org/sample-project"

	missing := filepath.Join(t.TempDir(), "src")
	url, err := cloneTarget(missing, upstream)
	require.NoError(t, err)
	assert.Equal(t, upstream, url)

	url, err = cloneTarget(t.TempDir(), upstream)
	require.NoError(t, err)
	assert.Equal(t, upstream, url)

	clone := t.TempDir()
	repo, err := git.PlainInit(clone, false)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{upstream + ".git"}})
	require.NoError(t, err)
	url, err = cloneTarget(clone, upstream+"/")
	require.NoError(t, err)
	assert.Equal(t, upstream+".git", url)

	_, err = cloneTarget(clone, "https://git.example.invalid/octo-org/other-project")
	assert.True(t, errors.Is(err, ErrSourceUnavailable))

	plain := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(plain, "publisher.yml"), []byte("name: sample-project\n"), 0o600))
	_, err = cloneTarget(plain, upstream)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}
