package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nektos/act/pkg/common"
	"github.com/sirupsen/logrus"

	"github.com/ChristopherHX/release-publisher/protocol/oidc"
	"github.com/ChristopherHX/release-publisher/protocol/registry"
	"github.com/ChristopherHX/release-publisher/publisherconfiguration"
)

func (rc *RunContext) tokenSource() (oidc.TokenSource, error) {
	if rc.publisher != nil && rc.publisher.TokenSource != nil {
		return rc.publisher.TokenSource, nil
	}
	return oidc.NewActionsTokenSourceFromEnvironment(rc.Connection)
}

// uploadToken runs the trusted publishing exchange, identity token for upload token
func (rc *RunContext) uploadToken(ctx context.Context, log logrus.FieldLogger, client *registry.Client) (string, error) {
	audience := rc.Settings.Publish.Audience
	if audience == "" {
		var err error
		if audience, err = client.Audience(ctx); err != nil {
			return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
	}
	source, err := rc.tokenSource()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	idToken, err := source.IDToken(ctx, audience)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	rc.Masker.Add(idToken)
	claims, err := oidc.ParseClaims(idToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if err := claims.CheckLifetime(rc.now()); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if err := claims.CheckEnvironment(rc.Settings.Environment); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	log.Infof("Identity token for %v at %v, environment %q, expires %v",
		claims.Repository, claims.Ref, claims.Environment, humanize.RelTime(time.Unix(claims.ExpiresAt, 0), rc.now(), "ago", "from now"))
	token, err := client.MintToken(ctx, idToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	rc.Masker.Add(token)
	log.Infof("Exchanged the identity token for an upload token for audience %v", audience)
	return token, nil
}

func partialUpload(published []string) string {
	if len(published) == 0 {
		return ""
	}
	return fmt.Sprintf(" (already uploaded: %v)", strings.Join(published, ", "))
}

func mapUploadError(err error, published []string) error {
	sentinel := ErrPublish
	switch {
	case errors.Is(err, registry.ErrFileExists):
		sentinel = ErrDuplicateVersion
	case errors.Is(err, registry.ErrUnauthorized):
		sentinel = ErrAuthentication
	}
	return fmt.Errorf("%w: %v%v", sentinel, err, partialUpload(published))
}

func publishNative(ctx context.Context, rc *RunContext, log logrus.FieldLogger, client *registry.Client, token string) error {
	for _, a := range rc.Manifest.Artifacts {
		log.Infof("Uploading %v (%v)", a.Filename, humanize.Bytes(uint64(a.Size)))
		if err := client.Upload(ctx, token, a); err != nil {
			return mapUploadError(err, rc.Published)
		}
		rc.Published = append(rc.Published, a.Filename)
	}
	return nil
}

func publishTool(ctx context.Context, rc *RunContext, log logrus.FieldLogger, client *registry.Client, token string) error {
	args, err := ParseCommand(rc.Settings.Publish.Command)
	if err != nil {
		return fmt.Errorf("%w: publish.command: %v", ErrPublish, err)
	}
	if rc.Settings.Publish.Verbose {
		args = append(args, "--verbose")
	}
	for _, a := range rc.Manifest.Artifacts {
		args = append(args, a.Path)
	}
	repositoryURL := client.RepositoryURL
	if repositoryURL == "" {
		repositoryURL = registry.DefaultRepositoryURL
	}
	output, err := rc.runTool(ctx, log, &ToolInvocation{
		Args: args,
		Env: map[string]string{
			"TWINE_USERNAME":        registry.TokenUsername,
			"TWINE_PASSWORD":        token,
			"TWINE_REPOSITORY_URL":  repositoryURL,
			"TWINE_NON_INTERACTIVE": "1",
		},
		IdentityToken: true,
	})
	if err != nil {
		if strings.Contains(strings.ToLower(output), "already exists") {
			return fmt.Errorf("%w: %v", ErrDuplicateVersion, err)
		}
		return fmt.Errorf("%w: %v, the tool may have uploaded part of the artifact set", ErrPublish, err)
	}
	rc.Published = rc.Manifest.Filenames()
	return nil
}

func publish(ctx context.Context, rc *RunContext) error {
	log := common.Logger(ctx)
	if err := VerifyUnchanged(rc.Manifest); err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	client := rc.registryClient()
	token, err := rc.uploadToken(ctx, log, client)
	if err != nil {
		return err
	}
	exists, err := client.VersionExists(ctx, rc.Manifest.Name, rc.Manifest.Version)
	if err != nil {
		return fmt.Errorf("%w: failed to query the index: %v", ErrPublish, err)
	}
	if exists {
		return fmt.Errorf("%w: %v %v is already on the index", ErrDuplicateVersion, rc.Manifest.Name, rc.Manifest.Version)
	}
	if rc.Settings.Publish.Mode == publisherconfiguration.PublishModeTool {
		err = publishTool(ctx, rc, log, client, token)
	} else {
		err = publishNative(ctx, rc, log, client, token)
	}
	if err != nil {
		return err
	}
	log.Infof("Published %v %v: %v", rc.Manifest.Name, rc.Manifest.Version, strings.Join(rc.Published, ", "))
	return nil
}
