package publisher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

type ProjectMetadata struct {
	Name    string   `toml:"name"`
	Version string   `toml:"version"`
	Dynamic []string `toml:"dynamic"`
}

type pyproject struct {
	Project *ProjectMetadata `toml:"project"`
}

// ReadProjectMetadata returns the [project] table of dir/pyproject.toml, nil when there is none
func ReadProjectMetadata(dir string) (*ProjectMetadata, error) {
	//nolint:gosec // Path is the checked out source tree
	raw, err := os.ReadFile(filepath.Join(dir, "pyproject.toml"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc := &pyproject{}
	if err := toml.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("invalid pyproject.toml: %w", err)
	}
	return doc.Project, nil
}

// StaticVersion returns the version declared in the file unless the build computes it
func (p *ProjectMetadata) StaticVersion() (string, bool) {
	if p == nil || p.Version == "" {
		return "", false
	}
	for _, d := range p.Dynamic {
		if d == "version" {
			return "", false
		}
	}
	return p.Version, true
}
