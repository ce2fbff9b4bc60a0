// Package archive mirrors the artifact set of a release to object storage.
package archive

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ChristopherHX/release-publisher/protocol"
)

// ObjectPutter is the subset of the S3 api used for archiving
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Archiver interface {
	Archive(ctx context.Context, manifest *protocol.Manifest) ([]string, error)
}

type S3Archiver struct {
	Client ObjectPutter
	Bucket string
	Prefix string
}

// NewS3Archiver uses the default credential chain of the job, an empty region keeps the configured one
func NewS3Archiver(ctx context.Context, bucket, prefix, region string) (*S3Archiver, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws configuration: %w", err)
	}
	return &S3Archiver{
		Client: s3.NewFromConfig(cfg),
		Bucket: bucket,
		Prefix: prefix,
	}, nil
}

// Key returns the object key of filename, <prefix>/<name>/<version>/<filename>
func (a *S3Archiver) Key(manifest *protocol.Manifest, filename string) string {
	return strings.TrimPrefix(path.Join(a.Prefix, manifest.Name, manifest.Version, filename), "/")
}

func checksum(artifact *protocol.Artifact) *string {
	raw, err := hex.DecodeString(artifact.Digest.Encoded())
	if err != nil {
		return nil
	}
	return aws.String(base64.StdEncoding.EncodeToString(raw))
}

func (a *S3Archiver) put(ctx context.Context, manifest *protocol.Manifest, artifact *protocol.Artifact) (string, error) {
	f, err := os.Open(artifact.Path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	key := a.Key(manifest, artifact.Filename)
	_, err = a.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:         aws.String(a.Bucket),
		Key:            aws.String(key),
		Body:           f,
		ContentLength:  aws.Int64(artifact.Size),
		ChecksumSHA256: checksum(artifact),
		Metadata: map[string]string{
			"sha256":   artifact.Digest.Encoded(),
			"filetype": artifact.Filetype,
			"version":  manifest.Version,
		},
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// Archive uploads every artifact and returns the written keys
func (a *S3Archiver) Archive(ctx context.Context, manifest *protocol.Manifest) ([]string, error) {
	keys := make([]string, 0, len(manifest.Artifacts))
	for _, artifact := range manifest.Artifacts {
		key, err := a.put(ctx, manifest, artifact)
		if err != nil {
			return keys, fmt.Errorf("failed to archive %v to s3://%v/%v: %w", artifact.Filename, a.Bucket, a.Key(manifest, artifact.Filename), err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
