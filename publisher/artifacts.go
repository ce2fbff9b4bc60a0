package publisher

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/ChristopherHX/release-publisher/protocol"
)

var (
	wheelPattern = regexp.MustCompile(`^([^-]+)-([^-]+)(-(\d[^-]*))?-([^-]+)-([^-]+)-([^-]+)\.whl$`)
	eggPattern   = regexp.MustCompile(`^([^-]+)-([^-]+)(-py(\d+(\.\d+)*))?(-[^-]+)?\.egg$`)
)

var sdistExtensions = []string{".tar.gz", ".zip"}

// IsDistribution reports whether filename has the extension of a distribution file
func IsDistribution(filename string) bool {
	for _, ext := range append(sdistExtensions, ".whl", ".egg") {
		if strings.HasSuffix(filename, ext) {
			return true
		}
	}
	return false
}

// ParseArtifactFilename extracts project name, version and kind from a distribution filename
func ParseArtifactFilename(filename string) (*protocol.Artifact, error) {
	if m := wheelPattern.FindStringSubmatch(filename); m != nil {
		return &protocol.Artifact{
			Filename:  filename,
			Name:      m[1],
			Version:   m[2],
			Filetype:  protocol.FiletypeBdistWheel,
			PyVersion: m[5],
		}, nil
	}
	if m := eggPattern.FindStringSubmatch(filename); m != nil {
		return &protocol.Artifact{
			Filename:  filename,
			Name:      m[1],
			Version:   m[2],
			Filetype:  protocol.FiletypeBdistEgg,
			PyVersion: m[4],
		}, nil
	}
	for _, ext := range sdistExtensions {
		if !strings.HasSuffix(filename, ext) {
			continue
		}
		base := strings.TrimSuffix(filename, ext)
		i := strings.LastIndex(base, "-")
		if i <= 0 || i == len(base)-1 {
			break
		}
		return &protocol.Artifact{
			Filename:  filename,
			Name:      base[:i],
			Version:   base[i+1:],
			Filetype:  protocol.FiletypeSdist,
			PyVersion: "source",
		}, nil
	}
	return nil, fmt.Errorf("unrecognized distribution filename %q", filename)
}

func describeArtifact(path string, artifact *protocol.Artifact) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	dgst, err := digest.SHA256.FromReader(f)
	if err != nil {
		return err
	}
	artifact.Path = path
	artifact.Size = info.Size()
	artifact.Digest = dgst
	return nil
}

// CollectArtifacts describes every distribution file in dir
func CollectArtifacts(dir string) (*protocol.Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	manifest := &protocol.Manifest{Directory: dir}
	for _, entry := range entries {
		if entry.IsDir() || !IsDistribution(entry.Name()) {
			continue
		}
		artifact, err := ParseArtifactFilename(entry.Name())
		if err != nil {
			return nil, err
		}
		if err := describeArtifact(filepath.Join(dir, entry.Name()), artifact); err != nil {
			return nil, fmt.Errorf("failed to read %v: %w", entry.Name(), err)
		}
		manifest.Artifacts = append(manifest.Artifacts, artifact)
	}
	sort.Slice(manifest.Artifacts, func(i, j int) bool {
		return manifest.Artifacts[i].Filename < manifest.Artifacts[j].Filename
	})
	return manifest, nil
}

// CheckConsistent requires a non empty set of artifacts of a single version
func CheckConsistent(manifest *protocol.Manifest) error {
	if len(manifest.Artifacts) == 0 {
		return fmt.Errorf("no distribution files in %v", manifest.Directory)
	}
	versions := map[string][]string{}
	for _, a := range manifest.Artifacts {
		versions[a.Version] = append(versions[a.Version], a.Filename)
	}
	if len(versions) > 1 {
		parts := make([]string, 0, len(versions))
		for v, files := range versions {
			parts = append(parts, fmt.Sprintf("%v (%v)", v, strings.Join(files, ", ")))
		}
		sort.Strings(parts)
		return fmt.Errorf("artifacts carry different versions: %v", strings.Join(parts, "; "))
	}
	manifest.Version = manifest.Artifacts[0].Version
	return nil
}

// VerifyUnchanged compares the files in the manifest directory with the manifest
func VerifyUnchanged(manifest *protocol.Manifest) error {
	current, err := CollectArtifacts(manifest.Directory)
	if err != nil {
		return err
	}
	var problems []string
	for _, a := range manifest.Artifacts {
		c, ok := current.Lookup(a.Filename)
		switch {
		case !ok:
			problems = append(problems, a.Filename+" is missing")
		case c.Digest != a.Digest:
			problems = append(problems, fmt.Sprintf("%v was modified (%v, built %v)", a.Filename, c.Digest, a.Digest))
		}
	}
	for _, c := range current.Artifacts {
		if _, ok := manifest.Lookup(c.Filename); !ok {
			problems = append(problems, c.Filename+" was added after the build")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("artifact set differs from the build: %v", strings.Join(problems, "; "))
	}
	return nil
}
