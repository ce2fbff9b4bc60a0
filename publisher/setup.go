package publisher

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"github.com/nektos/act/pkg/common"
)

var toolchainVersionPattern = regexp.MustCompile(`(\d+\.\d+(\.\d+)?)`)

// ParseToolchainVersion finds the first version number in the output of --version
func ParseToolchainVersion(output string) (*semver.Version, error) {
	m := toolchainVersionPattern.FindString(output)
	if m == "" {
		return nil, fmt.Errorf("no version in %q", output)
	}
	return semver.NewVersion(m)
}

func setup(ctx context.Context, rc *RunContext) error {
	log := common.Logger(ctx)
	tc := rc.Settings.Toolchain
	args, err := ParseCommand(tc.Command)
	if err != nil {
		return fmt.Errorf("%w: toolchain.command: %v", ErrToolchain, err)
	}
	output, err := rc.runTool(ctx, log, &ToolInvocation{Args: append(args, "--version")})
	if err != nil {
		return fmt.Errorf("%w: %v --version: %v", ErrToolchain, tc.Command, err)
	}
	version, err := ParseToolchainVersion(output)
	if err != nil {
		return fmt.Errorf("%w: cannot determine the version of %v: %v", ErrToolchain, tc.Command, err)
	}
	if tc.Version != "" {
		constraint, err := semver.NewConstraint(tc.Version)
		if err != nil {
			return fmt.Errorf("%w: invalid toolchain.version %q: %v", ErrToolchain, tc.Version, err)
		}
		if ok, reasons := constraint.Validate(version); !ok {
			return fmt.Errorf("%w: %v %v does not satisfy %v: %v", ErrToolchain, tc.Command, version, tc.Version, reasons)
		}
	}
	log.Infof("Using %v %v", tc.Command, version)
	for _, cmd := range tc.Setup {
		args, err := ParseCommand(cmd)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrToolchain, err)
		}
		if _, err := rc.runTool(ctx, log, &ToolInvocation{Args: args}); err != nil {
			return fmt.Errorf("%w: %v: %v", ErrToolchain, cmd, err)
		}
	}
	return nil
}
