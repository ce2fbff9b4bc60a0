package publisher

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/ChristopherHX/release-publisher/common"
	"github.com/ChristopherHX/release-publisher/protocol"
)

const (
	envEventName = "GITHUB_EVENT_NAME"
	envEventPath = "GITHUB_EVENT_PATH"
)

// LoadEventFromEnvironment reads the event that started the current job
func LoadEventFromEnvironment() (*protocol.ReleaseEvent, error) {
	name, _ := common.LookupEnvString(envEventName)
	if name == "" {
		return nil, fmt.Errorf("%v is not set, pass --tag for a manual run", envEventName)
	}
	if name != protocol.ReleaseEventName {
		return nil, fmt.Errorf("%w: event %q is not a release", ErrNotTriggered, name)
	}
	path, ok := common.LookupEnvString(envEventPath)
	if !ok {
		return nil, fmt.Errorf("%v is not set", envEventPath)
	}
	return LoadEvent(path)
}

func LoadEvent(path string) (*protocol.ReleaseEvent, error) {
	event := &protocol.ReleaseEvent{}
	if err := common.ReadJSON(path, event); err != nil {
		return nil, fmt.Errorf("failed to read event payload %v: %w", path, err)
	}
	return event, nil
}

// NewManualEvent builds a published release event for tag
func NewManualEvent(tag, ref string) *protocol.ReleaseEvent {
	event := &protocol.ReleaseEvent{
		Action: protocol.ReleaseActionPublished,
		Release: protocol.Release{
			TagName:         tag,
			Name:            tag,
			TargetCommitish: ref,
		},
	}
	if repo, ok := os.LookupEnv("GITHUB_REPOSITORY"); ok {
		event.Repository.FullName = repo
	}
	return event
}

// CheckTrigger returns ErrNotTriggered unless event starts exactly one run
func CheckTrigger(event *protocol.ReleaseEvent) error {
	if event == nil {
		return errors.New("no event")
	}
	if event.Release.Draft {
		return fmt.Errorf("%w: release %q is a draft", ErrNotTriggered, event.Tag())
	}
	if !event.IsPublished() {
		return fmt.Errorf("%w: release action %q, only %q starts a run", ErrNotTriggered, event.Action, protocol.ReleaseActionPublished)
	}
	if event.Tag() == "" {
		return fmt.Errorf("release event without a tag")
	}
	if _, err := ReleaseVersion(event.Tag()); err != nil {
		return fmt.Errorf("invalid release tag: %w", err)
	}
	return nil
}

// ReleaseVersion derives the version from a release tag, v1.2.3 yields 1.2.3
func ReleaseVersion(tag string) (string, error) {
	tag = strings.TrimPrefix(strings.TrimSpace(tag), "refs/tags/")
	raw := strings.TrimPrefix(strings.TrimPrefix(tag, "v"), "V")
	if raw == "" {
		return "", fmt.Errorf("tag %q does not carry a version", tag)
	}
	if v, err := semver.StrictNewVersion(raw); err == nil {
		return v.String(), nil
	}
	return raw, nil
}

var pythonVersionPattern = regexp.MustCompile(`^v?(\d+(?:\.\d+)*)` +
	`(?:[-_.]?(a|alpha|b|beta|c|rc|pre|preview)[-_.]?(\d*))?` +
	`(?:-(\d+)|[-_.]?(post|rev|r)[-_.]?(\d*))?` +
	`(?:[-_.]?(dev)[-_.]?(\d*))?` +
	`(?:\+([a-z0-9]+(?:[-_.][a-z0-9]+)*))?$`)

var preReleaseLabels = map[string]string{
	"alpha":   "a",
	"beta":    "b",
	"c":       "rc",
	"pre":     "rc",
	"preview": "rc",
}

func trimNumber(n string) string {
	if n = strings.TrimLeft(n, "0"); n == "" {
		return "0"
	}
	return n
}

// normalizePythonVersion returns the PEP 440 normal form of v, so 1.2.3-rc.1 and
// 1.2.3rc1 compare equal. Trailing zero release segments are dropped.
func normalizePythonVersion(v string) (string, bool) {
	m := pythonVersionPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(v)))
	if m == nil {
		return "", false
	}
	release := strings.Split(m[1], ".")
	for i, part := range release {
		release[i] = trimNumber(part)
	}
	for len(release) > 1 && release[len(release)-1] == "0" {
		release = release[:len(release)-1]
	}
	normal := strings.Join(release, ".")
	if label := m[2]; label != "" {
		if short, ok := preReleaseLabels[label]; ok {
			label = short
		}
		normal += label + trimNumber(m[3])
	}
	switch {
	case m[4] != "":
		normal += ".post" + trimNumber(m[4])
	case m[5] != "":
		normal += ".post" + trimNumber(m[6])
	}
	if m[7] != "" {
		normal += ".dev" + trimNumber(m[8])
	}
	if m[9] != "" {
		normal += "+" + strings.NewReplacer("-", ".", "_", ".").Replace(m[9])
	}
	return normal, true
}

// versionsMatch compares release and build versions, tags may use semver spelling
// while Python tools write the PEP 440 form
func versionsMatch(a, b string) bool {
	if a == b {
		return true
	}
	na, okA := normalizePythonVersion(a)
	nb, okB := normalizePythonVersion(b)
	if okA && okB {
		return na == nb
	}
	va, err := semver.NewVersion(a)
	if err != nil {
		return false
	}
	vb, err := semver.NewVersion(b)
	if err != nil {
		return false
	}
	return va.Equal(vb)
}
