package protocol

import (
	"sort"

	"github.com/opencontainers/go-digest"
)

const (
	FiletypeSdist      = "sdist"
	FiletypeBdistWheel = "bdist_wheel"
	FiletypeBdistEgg   = "bdist_egg"
)

// Artifact is a distributable file produced by the build step
type Artifact struct {
	Filename  string        `json:"filename"`
	Path      string        `json:"-"`
	Name      string        `json:"name"`
	Version   string        `json:"version"`
	Filetype  string        `json:"filetype"`
	PyVersion string        `json:"pyversion"`
	Size      int64         `json:"size"`
	Digest    digest.Digest `json:"digest"`
}

// Manifest is the artifact set handed from build to publish
type Manifest struct {
	Name      string      `json:"name"`
	Version   string      `json:"version"`
	Directory string      `json:"directory"`
	Artifacts []*Artifact `json:"artifacts"`
}

func (m *Manifest) Filenames() []string {
	names := make([]string, 0, len(m.Artifacts))
	for _, a := range m.Artifacts {
		names = append(names, a.Filename)
	}
	sort.Strings(names)
	return names
}

func (m *Manifest) Lookup(filename string) (*Artifact, bool) {
	for _, a := range m.Artifacts {
		if a.Filename == filename {
			return a, true
		}
	}
	return nil, false
}
