package protocol

import (
	"strings"
)

const (
	ReleaseEventName       = "release"
	ReleaseActionPublished = "published"
)

type Release struct {
	ID              int64  `json:"id,omitempty"`
	TagName         string `json:"tag_name"`
	Name            string `json:"name,omitempty"`
	TargetCommitish string `json:"target_commitish,omitempty"`
	Draft           bool   `json:"draft"`
	Prerelease      bool   `json:"prerelease"`
	HTMLURL         string `json:"html_url,omitempty"`
}

type Repository struct {
	FullName string `json:"full_name,omitempty"`
	CloneURL string `json:"clone_url,omitempty"`
}

// ReleaseEvent is the subset of the orchestrator's release webhook payload we act on
type ReleaseEvent struct {
	Action     string     `json:"action"`
	Release    Release    `json:"release"`
	Repository Repository `json:"repository"`
}

func (event *ReleaseEvent) IsPublished() bool {
	return strings.EqualFold(event.Action, ReleaseActionPublished) && !event.Release.Draft
}

// Tag returns the release tag without a refs/tags/ prefix
func (event *ReleaseEvent) Tag() string {
	return strings.TrimPrefix(event.Release.TagName, "refs/tags/")
}
