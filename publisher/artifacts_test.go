package publisher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChristopherHX/release-publisher/protocol"
)

func TestParseArtifactFilename(t *testing.T) {
	tests := []struct {
		filename  string
		name      string
		version   string
		filetype  string
		pyversion string
	}{
		{"sample_project-1.2.3-py3-none-any.whl", "sample_project", "1.2.3", protocol.FiletypeBdistWheel, "py3"},
		{"sample_project-1.2.3-1-cp312-cp312-manylinux_2_17_x86_64.whl", "sample_project", "1.2.3", protocol.FiletypeBdistWheel, "cp312"},
		{"sample-project-1.2.3.tar.gz", "sample-project", "1.2.3", protocol.FiletypeSdist, "source"},
		{"sample_project-1.2.3.zip", "sample_project", "1.2.3", protocol.FiletypeSdist, "source"},
		{"sample_project-1.2.3-py3.12.egg", "sample_project", "1.2.3", protocol.FiletypeBdistEgg, "3.12"},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			a, err := ParseArtifactFilename(tt.filename)
			require.NoError(t, err)
			assert.Equal(t, tt.name, a.Name)
			assert.Equal(t, tt.version, a.Version)
			assert.Equal(t, tt.filetype, a.Filetype)
			assert.Equal(t, tt.pyversion, a.PyVersion)
		})
	}
	for _, bad := range []string{"README.md", "noversion.tar.gz", "trailing-.tar.gz", "x-1.0-py3.whl"} {
		_, err := ParseArtifactFilename(bad)
		assert.Error(t, err, bad)
	}
}

func writeDist(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	return dir
}

func TestCollectArtifacts(t *testing.T) {
	dir := writeDist(t, map[string]string{
		"sample_project-1.2.3.tar.gz":           "sdist",
		"sample_project-1.2.3-py3-none-any.whl": "wheel",
		"build.log":                             "ignored",
	})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.whl"), 0o755))
	manifest, err := CollectArtifacts(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"sample_project-1.2.3-py3-none-any.whl", "sample_project-1.2.3.tar.gz"}, manifest.Filenames())
	require.NoError(t, CheckConsistent(manifest))
	assert.Equal(t, "1.2.3", manifest.Version)
	a, ok := manifest.Lookup("sample_project-1.2.3.tar.gz")
	require.True(t, ok)
	assert.Equal(t, int64(5), a.Size)
	assert.Equal(t, "sha256", string(a.Digest.Algorithm()))
}

func TestCheckConsistent(t *testing.T) {
	_, err := CollectArtifacts(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	empty, err := CollectArtifacts(t.TempDir())
	require.NoError(t, err)
	assert.ErrorContains(t, CheckConsistent(empty), "no distribution files")

	mixed, err := CollectArtifacts(writeDist(t, map[string]string{
		"sample_project-1.2.3.tar.gz":           "a",
		"sample_project-1.2.4-py3-none-any.whl": "b",
	}))
	require.NoError(t, err)
	assert.ErrorContains(t, CheckConsistent(mixed), "different versions")
}

func TestVerifyUnchanged(t *testing.T) {
	dir := writeDist(t, map[string]string{
		"sample_project-1.2.3.tar.gz":           "sdist",
		"sample_project-1.2.3-py3-none-any.whl": "wheel",
	})
	manifest, err := CollectArtifacts(dir)
	require.NoError(t, err)
	require.NoError(t, VerifyUnchanged(manifest))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample_project-1.2.3.tar.gz"), []byte("other"), 0o600))
	assert.ErrorContains(t, VerifyUnchanged(manifest), "sample_project-1.2.3.tar.gz was modified")

	require.NoError(t, os.Remove(filepath.Join(dir, "sample_project-1.2.3.tar.gz")))
	assert.ErrorContains(t, VerifyUnchanged(manifest), "sample_project-1.2.3.tar.gz is missing")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample_project-1.2.3-py2-none-any.whl"), []byte("x"), 0o600))
	assert.ErrorContains(t, VerifyUnchanged(manifest), "sample_project-1.2.3-py2-none-any.whl was added after the build")
}

func TestReadProjectMetadata(t *testing.T) {
	dir := t.TempDir()
	meta, err := ReadProjectMetadata(dir)
	require.NoError(t, err)
	assert.Nil(t, meta)
	_, ok := meta.StaticVersion()
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte("[project]\nname = \"sample-project\"\nversion = \"1.2.3\"\n"), 0o600))
	meta, err = ReadProjectMetadata(dir)
	require.NoError(t, err)
	v, ok := meta.StaticVersion()
	assert.True(t, ok)
	assert.Equal(t, "1.2.3", v)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte("[project]\nname = \"sample-project\"\ndynamic = [\"version\"]\n"), 0o600))
	meta, err = ReadProjectMetadata(dir)
	require.NoError(t, err)
	_, ok = meta.StaticVersion()
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte("[project\n"), 0o600))
	_, err = ReadProjectMetadata(dir)
	assert.ErrorContains(t, err, "invalid pyproject.toml")
}
