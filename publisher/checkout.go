package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/nektos/act/pkg/common"
	actgit "github.com/nektos/act/pkg/common/git"
)

// ResolveTag returns the commit a tag points to, annotated tags are peeled
func ResolveTag(repo *git.Repository, tag string) (plumbing.Hash, error) {
	ref, err := repo.Tag(tag)
	if err != nil {
		if errors.Is(err, git.ErrTagNotFound) {
			return plumbing.ZeroHash, fmt.Errorf("tag %v does not exist", tag)
		}
		return plumbing.ZeroHash, err
	}
	obj, err := repo.TagObject(ref.Hash())
	switch {
	case err == nil:
		commit, err := obj.Commit()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("tag %v does not point to a commit: %w", tag, err)
		}
		return commit.Hash, nil
	case errors.Is(err, plumbing.ErrObjectNotFound):
		return ref.Hash(), nil
	default:
		return plumbing.ZeroHash, err
	}
}

// VerifyCheckout makes sure the working tree in dir is at the commit of tag
func VerifyCheckout(dir, tag string) (plumbing.Hash, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %v is not a git repository: %v", ErrSourceUnavailable, dir, err)
	}
	want, err := ResolveTag(repo, tag)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	head, err := repo.Head()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: failed to resolve HEAD: %v", ErrSourceUnavailable, err)
	}
	if head.Hash() != want {
		return plumbing.ZeroHash, fmt.Errorf("%w: HEAD is at %v, release tag %v points to %v", ErrSourceUnavailable, head.Hash(), tag, want)
	}
	return want, nil
}

var errTargetUnresolved = errors.New("release target is not available in the checkout")

// VerifyTarget makes sure commit is reachable from target, a branch name or commit of the release
func VerifyTarget(dir string, commit plumbing.Hash, target string) error {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return fmt.Errorf("%w: %v is not a git repository: %v", ErrSourceUnavailable, dir, err)
	}
	var tip *object.Commit
	for _, rev := range []string{target, "origin/" + strings.TrimPrefix(target, "refs/heads/")} {
		hash, err := repo.ResolveRevision(plumbing.Revision(rev))
		if err != nil {
			continue
		}
		if tip, err = repo.CommitObject(*hash); err == nil {
			break
		}
	}
	if tip == nil {
		return fmt.Errorf("%w: %v", errTargetUnresolved, target)
	}
	tagged, err := repo.CommitObject(commit)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	reachable, err := tagged.IsAncestor(tip)
	if err != nil {
		// shallow checkouts end before the tag commit
		return fmt.Errorf("%w: %v: %v", errTargetUnresolved, target, err)
	}
	if !reachable {
		return fmt.Errorf("%w: release commit %v is not reachable from target %v", ErrSourceUnavailable, commit, target)
	}
	return nil
}

func normalizeRepositoryURL(u string) string {
	return strings.TrimSuffix(strings.TrimSuffix(strings.TrimSpace(u), "/"), ".git")
}

// cloneTarget returns the url to clone into dir with. dir must be absent, empty or
// a clone of repoURL, in the last case its own origin url is returned so the clone
// reuses the directory instead of replacing it.
func cloneTarget(dir, repoURL string) (string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) || err == nil && len(entries) == 0 {
		return repoURL, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if repo, err := git.PlainOpen(dir); err == nil {
		if remote, err := repo.Remote("origin"); err == nil {
			if urls := remote.Config().URLs; len(urls) > 0 && normalizeRepositoryURL(urls[0]) == normalizeRepositoryURL(repoURL) {
				return urls[0], nil
			}
		}
	}
	return "", fmt.Errorf("%w: %v is not empty and not a clone of %v, set source.path to an empty directory", ErrSourceUnavailable, dir, repoURL)
}

// sourceRepository is the repository to clone, empty when the existing working tree is used
func sourceRepository(rc *RunContext) (string, error) {
	source := rc.Settings.Source
	if source.Repository != "" || !source.FromEvent {
		return source.Repository, nil
	}
	if rc.Event == nil || rc.Event.Repository.CloneURL == "" {
		return "", fmt.Errorf("%w: source.from_event is set, but the release event has no clone url", ErrSourceUnavailable)
	}
	return rc.Event.Repository.CloneURL, nil
}

func checkout(ctx context.Context, rc *RunContext) error {
	log := common.Logger(ctx)
	repoURL, err := sourceRepository(rc)
	if err != nil {
		return err
	}
	if repoURL != "" {
		url, err := cloneTarget(rc.SourceDir, repoURL)
		if err != nil {
			return err
		}
		token := os.Getenv("GITHUB_TOKEN")
		rc.Masker.Add(token)
		log.Infof("Cloning %v at %v into %v", url, rc.Tag, rc.SourceDir)
		err = actgit.NewGitCloneExecutor(actgit.NewGitCloneExecutorInput{
			URL:   url,
			Ref:   rc.Tag,
			Dir:   rc.SourceDir,
			Token: token,
		})(ctx)
		if err != nil {
			return fmt.Errorf("%w: failed to clone %v at %v: %v", ErrSourceUnavailable, url, rc.Tag, err)
		}
	}
	commit, err := VerifyCheckout(rc.SourceDir, rc.Tag)
	if err != nil {
		return err
	}
	if target := rc.Event.Release.TargetCommitish; target != "" {
		if err := VerifyTarget(rc.SourceDir, commit, target); err != nil {
			if !errors.Is(err, errTargetUnresolved) {
				return err
			}
			log.Warningf("Cannot check that %v contains the release: %v", target, err)
		}
	}
	log.Infof("Source %v is at %v (%v)", rc.SourceDir, rc.Tag, commit)
	return nil
}
