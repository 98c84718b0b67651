package kvcache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver uploads preserved cache entries to S3 (or an S3-compatible
// store) in the background right after each snapshot is created, so a
// snapshot that is later pruned or removed by CleanupSessionSnapshots
// can still be restored from cold storage.
// Grounded on the teacher's internal/objectstore/s3.go AWS config setup.
type Archiver struct {
	client *s3.Client
	bucket string
}

// NewArchiver builds an Archiver for bucket in region. Returns an error
// only if the AWS SDK fails to resolve a default config (missing
// region, malformed credentials file, etc).
func NewArchiver(ctx context.Context, bucket, region string) (*Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("kvcache: load aws config: %w", err)
	}
	return &Archiver{client: s3.NewFromConfig(awsCfg), bucket: bucket}, nil
}

// ArchiveSnapshot uploads a snapshot's preserved entries as one JSON
// object keyed by session and snapshot id, so RestoreFromSnapshot's
// cold path can later fetch it back by the same key.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, sessionID string, snapshotID int64, entries []ExtractedCacheEntry) error {
	body, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("kvcache: marshal snapshot for archival: %w", err)
	}
	key := archiveKey(sessionID, snapshotID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("kvcache: archive snapshot %d: %w", snapshotID, err)
	}
	return nil
}

// FetchArchived retrieves a previously archived snapshot's entries.
func (a *Archiver) FetchArchived(ctx context.Context, sessionID string, snapshotID int64) ([]ExtractedCacheEntry, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(archiveKey(sessionID, snapshotID)),
	})
	if err != nil {
		return nil, fmt.Errorf("kvcache: fetch archived snapshot %d: %w", snapshotID, err)
	}
	defer out.Body.Close()

	var entries []ExtractedCacheEntry
	if err := json.NewDecoder(out.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("kvcache: decode archived snapshot %d: %w", snapshotID, err)
	}
	return entries, nil
}

func archiveKey(sessionID string, snapshotID int64) string {
	return fmt.Sprintf("kvcache/%s/%d.json", sessionID, snapshotID)
}
