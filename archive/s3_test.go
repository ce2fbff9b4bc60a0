package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChristopherHX/release-publisher/protocol"
)

type fakePutter struct {
	objects  map[string][]byte
	metadata map[string]map[string]string
	fail     error
}

func (f *fakePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
		f.metadata = map[string]map[string]string{}
	}
	key := aws.ToString(params.Bucket) + "/" + aws.ToString(params.Key)
	f.objects[key] = body
	f.metadata[key] = params.Metadata
	return &s3.PutObjectOutput{}, nil
}

func testManifest(t *testing.T) *protocol.Manifest {
	t.Helper()
	dir := t.TempDir()
	content := []byte("wheel content")
	path := filepath.Join(dir, "sample_project-1.2.3-py3-none-any.whl")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return &protocol.Manifest{
		Name:      "sample-project",
		Version:   "1.2.3",
		Directory: dir,
		Artifacts: []*protocol.Artifact{{
			Filename: "sample_project-1.2.3-py3-none-any.whl",
			Path:     path,
			Filetype: protocol.FiletypeBdistWheel,
			Size:     int64(len(content)),
			Digest:   digest.FromBytes(content),
		}},
	}
}

func TestArchive(t *testing.T) {
	manifest := testManifest(t)
	putter := &fakePutter{}
	archiver := &S3Archiver{Client: putter, Bucket: "releases", Prefix: "python/"}
	keys, err := archiver.Archive(context.Background(), manifest)
	require.NoError(t, err)
	assert.Equal(t, []string{"python/sample-project/1.2.3/sample_project-1.2.3-py3-none-any.whl"}, keys)
	obj := "releases/python/sample-project/1.2.3/sample_project-1.2.3-py3-none-any.whl"
	assert.Equal(t, []byte("wheel content"), putter.objects[obj])
	assert.Equal(t, manifest.Artifacts[0].Digest.Encoded(), putter.metadata[obj]["sha256"])
}

func TestArchiveWithoutPrefix(t *testing.T) {
	archiver := &S3Archiver{Bucket: "releases"}
	assert.Equal(t, "n/1.0/f.whl", archiver.Key(&protocol.Manifest{Name: "n", Version: "1.0"}, "f.whl"))
}

func TestArchiveFailure(t *testing.T) {
	archiver := &S3Archiver{Client: &fakePutter{fail: errors.New("access denied")}, Bucket: "releases"}
	keys, err := archiver.Archive(context.Background(), testManifest(t))
	require.Error(t, err)
	assert.Empty(t, keys)
	assert.Contains(t, err.Error(), "access denied")
	assert.Contains(t, err.Error(), "s3://releases/sample-project/1.2.3/")
}
