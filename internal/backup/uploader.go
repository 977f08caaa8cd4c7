// Package backup uploads saved engine states to S3 after the post-close
// stop, so a lost host can be rebuilt with yesterday's positions intact.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/quantflow/stratd/internal/statestore"
)

// SnapshotSource is the slice of the state store the uploader reads.
type SnapshotSource interface {
	Snapshots(ctx context.Context) ([]statestore.Snapshot, error)
}

// Uploader ships engine state snapshots to an S3 bucket. Best-effort: every
// failure is logged and the next post-close tries again.
type Uploader struct {
	bucket string
	prefix string
	store  SnapshotSource
	client *manager.Uploader
	log    zerolog.Logger
}

// New builds an uploader against the default AWS credential chain. An empty
// bucket disables backups; New then returns nil, which every method accepts.
func New(ctx context.Context, bucket, prefix string, store SnapshotSource, log zerolog.Logger) (*Uploader, error) {
	if bucket == "" {
		return nil, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Uploader{
		bucket: bucket,
		prefix: prefix,
		store:  store,
		client: manager.NewUploader(s3.NewFromConfig(cfg)),
		log:    log.With().Str("component", "backup").Logger(),
	}, nil
}

// UploadAll pushes every saved snapshot to
// s3://{bucket}/{prefix}/{date}/{worker_key}.bin. A nil uploader is a no-op.
func (u *Uploader) UploadAll(ctx context.Context) {
	if u == nil {
		return
	}
	snapshots, err := u.store.Snapshots(ctx)
	if err != nil {
		u.log.Warn().Err(err).Msg("Snapshot listing failed, skipping backup")
		return
	}
	if len(snapshots) == 0 {
		return
	}

	day := time.Now().Format("2006-01-02")
	uploaded := 0
	for _, snap := range snapshots {
		key := fmt.Sprintf("%s/%s/%s.bin", u.prefix, day, snap.Key)
		_, err := u.client.Upload(ctx, &s3.PutObjectInput{
			Bucket: &u.bucket,
			Key:    &key,
			Body:   bytes.NewReader(snap.Payload),
		})
		if err != nil {
			u.log.Warn().Err(err).Str("worker", string(snap.Key)).Msg("Snapshot upload failed")
			continue
		}
		uploaded++
	}
	u.log.Info().Int("uploaded", uploaded).Int("total", len(snapshots)).Str("day", day).Msg("State snapshots backed up")
}
