package publisher

import (
	"context"
	"fmt"

	"github.com/nektos/act/pkg/common"

	"github.com/ChristopherHX/release-publisher/archive"
)

func (run *RunPublisher) archiver(ctx context.Context) (archive.Archiver, error) {
	if run.Archiver != nil {
		return run.Archiver, nil
	}
	s3 := run.Settings.Archive.S3
	return archive.NewS3Archiver(ctx, s3.Bucket, s3.Prefix, s3.Region)
}

func archiveArtifacts(ctx context.Context, rc *RunContext) error {
	log := common.Logger(ctx)
	archiver, err := rc.publisher.archiver(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchive, err)
	}
	keys, err := archiver.Archive(ctx, rc.Manifest)
	rc.Archived = keys
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchive, err)
	}
	for _, key := range keys {
		log.Infof("Archived %v", key)
	}
	return nil
}
