package publisherconfiguration

import (
	"fmt"
	"strings"
)

type InitConfig struct {
	Name        string
	Environment string
	Unattended  bool
}

// Configure completes settings by asking survey for every value the caller did not supply
func (config *InitConfig) Configure(settings *Settings, survey Survey) (*Settings, error) {
	if settings == nil {
		settings = Defaults()
	}
	if config.Name != "" {
		settings.Name = config.Name
	}
	if config.Environment != "" {
		settings.Environment = config.Environment
	}
	if config.Unattended {
		if err := settings.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return settings, nil
	}
	if settings.Name == "" {
		settings.Name = survey.GetInput("Please enter the project name as known to the package index:", "")
	}
	if settings.Environment == "" {
		settings.Environment = survey.GetInput("Please enter the deployment environment the publish job is bound to:", "release")
	}
	settings.Toolchain.Command = survey.GetInput("Toolchain command:", settings.Toolchain.Command)
	settings.Toolchain.Version = survey.GetInput("Toolchain version constraint (empty accepts any):", settings.Toolchain.Version)
	if setup := survey.GetInput("Setup commands, separated by ';':", strings.Join(settings.Toolchain.Setup, "; ")); setup != "" {
		settings.Toolchain.Setup = nil
		for _, cmd := range strings.Split(setup, ";") {
			if cmd = strings.TrimSpace(cmd); cmd != "" {
				settings.Toolchain.Setup = append(settings.Toolchain.Setup, cmd)
			}
		}
	}
	settings.Build.Command = survey.GetInput("Build command:", settings.Build.Command)
	settings.Build.Output = survey.GetInput("Output directory:", settings.Build.Output)
	settings.Publish.Mode = survey.GetSelectInput("Choose how artifacts are uploaded:", []string{PublishModeNative, PublishModeTool}, settings.Publish.Mode)
	if settings.Publish.Mode == PublishModeTool {
		def := settings.Publish.Command
		if def == "" {
			def = "twine upload"
		}
		settings.Publish.Command = survey.GetInput("Publish command:", def)
	}
	settings.Publish.IndexURL = survey.GetInput("Package index url:", settings.Publish.IndexURL)
	settings.Publish.RepositoryURL = survey.GetInput("Upload url:", settings.Publish.RepositoryURL)
	if survey.GetConfirm("Archive the artifacts to s3 before publishing?", settings.Archive.S3 != nil) {
		if settings.Archive.S3 == nil {
			settings.Archive.S3 = &S3Settings{}
		}
		settings.Archive.S3.Bucket = survey.GetInput("Bucket:", settings.Archive.S3.Bucket)
		settings.Archive.S3.Prefix = survey.GetInput("Key prefix:", settings.Archive.S3.Prefix)
		settings.Archive.S3.Region = survey.GetInput("Region (empty uses the default chain):", settings.Archive.S3.Region)
	} else {
		settings.Archive.S3 = nil
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, nil
}
