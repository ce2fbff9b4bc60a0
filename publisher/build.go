package publisher

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/nektos/act/pkg/common"

	"github.com/ChristopherHX/release-publisher/protocol/registry"
)

func build(ctx context.Context, rc *RunContext) error {
	log := common.Logger(ctx)
	out := rc.OutputDir()
	if err := os.RemoveAll(out); err != nil {
		return fmt.Errorf("%w: failed to clean %v: %v", ErrBuild, out, err)
	}
	args, err := ParseCommand(rc.Settings.Build.Command)
	if err != nil {
		return fmt.Errorf("%w: build.command: %v", ErrBuild, err)
	}
	if _, err := rc.runTool(ctx, log, &ToolInvocation{Args: args}); err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}
	manifest, err := CollectArtifacts(out)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}
	if err := CheckConsistent(manifest); err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}
	if !versionsMatch(manifest.Version, rc.Version) {
		return fmt.Errorf("%w: built version %v does not match release version %v", ErrBuild, manifest.Version, rc.Version)
	}
	project, err := ReadProjectMetadata(rc.SourceDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}
	if v, ok := project.StaticVersion(); ok && !versionsMatch(v, rc.Version) {
		return fmt.Errorf("%w: pyproject.toml declares version %v, release version is %v", ErrBuild, v, rc.Version)
	}
	manifest.Name = projectName(rc, project, manifest.Artifacts[0].Name)
	for _, a := range manifest.Artifacts {
		if registry.NormalizeName(a.Name) != registry.NormalizeName(manifest.Name) {
			return fmt.Errorf("%w: %v does not belong to project %v", ErrBuild, a.Filename, manifest.Name)
		}
	}
	var total int64
	for _, a := range manifest.Artifacts {
		total += a.Size
		log.Infof("%v %v %v", a.Filename, humanize.Bytes(uint64(a.Size)), a.Digest)
	}
	log.Infof("Built %d artifacts of %v %v, %v in total", len(manifest.Artifacts), manifest.Name, manifest.Version, humanize.Bytes(uint64(total)))
	rc.Manifest = manifest
	return nil
}

func projectName(rc *RunContext, project *ProjectMetadata, fallback string) string {
	if rc.Settings.Name != "" {
		return rc.Settings.Name
	}
	if project != nil && project.Name != "" {
		return project.Name
	}
	return fallback
}
