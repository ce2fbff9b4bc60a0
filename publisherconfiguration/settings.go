package publisherconfiguration

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/ChristopherHX/release-publisher/common"
)

const (
	DefaultConfigFile    = "publisher.yml"
	DefaultBuildCommand  = "python -m build"
	DefaultOutput        = "dist"
	DefaultToolchain     = "python"
	DefaultIndexURL      = "https://pypi.org"
	DefaultRepositoryURL = "https://upload.pypi.org/legacy/"

	PublishModeNative = "native"
	PublishModeTool   = "tool"

	envPrefix = "RELEASE_PUBLISHER_INPUT_"
)

type SourceSettings struct {
	// Repository is cloned when set, otherwise Path must already hold a checkout
	Repository string `yaml:"repository,omitempty"`
	// FromEvent clones the repository of the release event when Repository is empty
	FromEvent  bool   `yaml:"from_event,omitempty"`
	Path       string `yaml:"path,omitempty"`
}

type ToolchainSettings struct {
	Command string   `yaml:"command,omitempty"`
	Version string   `yaml:"version,omitempty"`
	Setup   []string `yaml:"setup,omitempty"`
}

type BuildSettings struct {
	Command string `yaml:"command,omitempty"`
	Output  string `yaml:"output,omitempty"`
}

type S3Settings struct {
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
	Region string `yaml:"region,omitempty"`
}

type ArchiveSettings struct {
	S3 *S3Settings `yaml:"s3,omitempty"`
}

type PublishSettings struct {
	Mode          string `yaml:"mode,omitempty"`
	Command       string `yaml:"command,omitempty"`
	IndexURL      string `yaml:"index_url,omitempty"`
	RepositoryURL string `yaml:"repository_url,omitempty"`
	Audience      string `yaml:"audience,omitempty"`
	Verbose       bool   `yaml:"verbose,omitempty"`
}

// Settings is the content of publisher.yml
type Settings struct {
	Name        string            `yaml:"name,omitempty"`
	Environment string            `yaml:"environment,omitempty"`
	Source      SourceSettings    `yaml:"source"`
	Toolchain   ToolchainSettings `yaml:"toolchain"`
	Build       BuildSettings     `yaml:"build"`
	Archive     ArchiveSettings   `yaml:"archive,omitempty"`
	Publish     PublishSettings   `yaml:"publish"`
}

func Defaults() *Settings {
	return &Settings{
		Source: SourceSettings{
			Path: ".",
		},
		Toolchain: ToolchainSettings{
			Command: DefaultToolchain,
		},
		Build: BuildSettings{
			Command: DefaultBuildCommand,
			Output:  DefaultOutput,
		},
		Publish: PublishSettings{
			Mode:          PublishModeNative,
			IndexURL:      DefaultIndexURL,
			RepositoryURL: DefaultRepositoryURL,
		},
	}
}

// LoadSettings reads path on top of the defaults, a missing file yields the defaults
func LoadSettings(path string) (*Settings, error) {
	settings := Defaults()
	if path == "" {
		path = DefaultConfigFile
	}
	if err := common.ReadYAML(path, settings); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings, nil
		}
		return nil, fmt.Errorf("failed to read %v: %w", path, err)
	}
	return settings, nil
}

func (settings *Settings) Save(path string) error {
	if path == "" {
		path = DefaultConfigFile
	}
	return common.WriteYAML(path, settings)
}

func lookupInput(name string) (string, bool) {
	return common.LookupEnvString(envPrefix + name)
}

// ReadFromEnvironment applies RELEASE_PUBLISHER_INPUT_* overrides
func (settings *Settings) ReadFromEnvironment() {
	strs := []struct {
		name   string
		target *string
	}{
		{"NAME", &settings.Name},
		{"ENVIRONMENT", &settings.Environment},
		{"REPOSITORY", &settings.Source.Repository},
		{"PATH", &settings.Source.Path},
		{"TOOLCHAIN", &settings.Toolchain.Command},
		{"TOOLCHAIN_VERSION", &settings.Toolchain.Version},
		{"BUILD_COMMAND", &settings.Build.Command},
		{"OUTPUT", &settings.Build.Output},
		{"PUBLISH_MODE", &settings.Publish.Mode},
		{"PUBLISH_COMMAND", &settings.Publish.Command},
		{"INDEX_URL", &settings.Publish.IndexURL},
		{"REPOSITORY_URL", &settings.Publish.RepositoryURL},
		{"AUDIENCE", &settings.Publish.Audience},
	}
	for _, s := range strs {
		if v, ok := lookupInput(s.name); ok {
			*s.target = v
		}
	}
	if v, ok := lookupInput("SETUP"); ok {
		settings.Toolchain.Setup = splitLines(v)
	}
	if v, ok := common.LookupEnvBool(envPrefix + "VERBOSE"); ok {
		settings.Publish.Verbose = v
	}
	if v, ok := common.LookupEnvBool(envPrefix + "SOURCE_FROM_EVENT"); ok {
		settings.Source.FromEvent = v
	}
	if v, ok := lookupInput("S3_BUCKET"); ok {
		if settings.Archive.S3 == nil {
			settings.Archive.S3 = &S3Settings{}
		}
		settings.Archive.S3.Bucket = v
		if prefix, ok := lookupInput("S3_PREFIX"); ok {
			settings.Archive.S3.Prefix = prefix
		}
		if region, ok := lookupInput("S3_REGION"); ok {
			settings.Archive.S3.Region = region
		}
	}
}

func splitLines(v string) []string {
	var ret []string
	for _, line := range strings.Split(v, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			ret = append(ret, line)
		}
	}
	return ret
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%v: invalid url %q: %w", field, raw, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%v: unsupported url scheme %q", field, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%v: credentials are not allowed in urls, publishing only uses run-scoped tokens", field)
	}
	return nil
}

// Validate rejects incomplete settings and anything that would carry a long-lived credential
func (settings *Settings) Validate() error {
	var errs []error
	if settings.Build.Command == "" {
		errs = append(errs, fmt.Errorf("build.command: must not be empty"))
	}
	if settings.Build.Output == "" {
		errs = append(errs, fmt.Errorf("build.output: must not be empty"))
	}
	if settings.Toolchain.Command == "" {
		errs = append(errs, fmt.Errorf("toolchain.command: must not be empty"))
	}
	if settings.Toolchain.Version != "" {
		if _, err := semver.NewConstraint(settings.Toolchain.Version); err != nil {
			errs = append(errs, fmt.Errorf("toolchain.version: %w", err))
		}
	}
	if settings.Source.Repository != "" {
		if err := validateURL("source.repository", settings.Source.Repository); err != nil {
			errs = append(errs, err)
		}
	}
	switch settings.Publish.Mode {
	case PublishModeNative, "":
	case PublishModeTool:
		if settings.Publish.Command == "" {
			errs = append(errs, fmt.Errorf("publish.command: required for mode %q", PublishModeTool))
		}
	default:
		errs = append(errs, fmt.Errorf("publish.mode: unknown mode %q", settings.Publish.Mode))
	}
	for field, raw := range map[string]string{
		"publish.index_url":      settings.Publish.IndexURL,
		"publish.repository_url": settings.Publish.RepositoryURL,
	} {
		if raw == "" {
			continue
		}
		if err := validateURL(field, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if s3 := settings.Archive.S3; s3 != nil && s3.Bucket == "" {
		errs = append(errs, fmt.Errorf("archive.s3.bucket: must not be empty"))
	}
	return errors.Join(errs...)
}
