package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LinkFox/internal/pkg/config"
)

var ErrDisabled = errors.New("webhook archive is disabled")

type objectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// WebhookArchive stores verified webhook payloads in an S3 bucket.
type WebhookArchive struct {
	store  objectStore
	bucket string
	prefix string
	now    func() time.Time
}

// New creates the S3 client and checks that the bucket is reachable.
func New(ctx context.Context, cfg config.ArchiveConfig) (*WebhookArchive, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			// S3-compatible providers (Backblaze B2, MinIO)
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	a := newWithStore(client, cfg.BucketName, cfg.Prefix)
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.BucketName)}); err != nil {
		return nil, fmt.Errorf("bucket %s not accessible: %w", cfg.BucketName, err)
	}
	log.Infof("[Archive] archiving webhooks to bucket %s", cfg.BucketName)
	return a, nil
}

func newWithStore(store objectStore, bucket, prefix string) *WebhookArchive {
	return &WebhookArchive{store: store, bucket: bucket, prefix: prefix, now: time.Now}
}

// ObjectKey returns <prefix>/YYYY/MM/DD/<event id>.json. Event ids are unique,
// so a redelivered payload overwrites the same object.
func (a *WebhookArchive) ObjectKey(eventID string, at time.Time) string {
	at = at.UTC()
	return path.Join(a.prefix, fmt.Sprintf("%04d/%02d/%02d", at.Year(), at.Month(), at.Day()), eventID+".json")
}

func (a *WebhookArchive) ArchiveWebhook(ctx context.Context, eventID, eventType string, payload []byte) error {
	key := a.ObjectKey(eventID, a.now())
	_, err := a.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String("application/json"),
		Metadata: map[string]string{
			"event-type": eventType,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}
