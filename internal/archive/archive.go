package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"wapipe/config"
	"wapipe/internal/models"
)

// S3Archiver copies dead webhook jobs to object storage so the raw payloads
// survive queue table cleanup. Archival is best-effort: a failed upload is
// logged, never retried, and the database row stays authoritative.
type S3Archiver struct {
	client *s3.Client
	bucket string
}

func NewS3Archiver(cfg config.ArchiveConfig) *S3Archiver {
	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}

	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				if service == s3.ServiceID {
					return aws.Endpoint{URL: endpoint, HostnameImmutable: cfg.PathStyle}, nil
				}
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			})
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
	})

	log.Info().Str("bucket", cfg.Bucket).Str("region", cfg.Region).Msg("Dead-letter archiver initialized")
	return &S3Archiver{client: client, bucket: cfg.Bucket}
}

// ArchiveJob uploads the job's raw payload under a date-partitioned key.
func (a *S3Archiver) ArchiveJob(ctx context.Context, job *models.WebhookJob) error {
	key := objectKey(job, time.Now().UTC())

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(job.Payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive job %d: %w", job.ID, err)
	}

	log.Info().
		Int64("jobID", job.ID).
		Str("key", key).
		Str("bucket", a.bucket).
		Msg("Dead job archived")
	return nil
}

func objectKey(job *models.WebhookJob, now time.Time) string {
	return fmt.Sprintf("dead-letters/%s/job-%d.json", now.Format("2006/01/02"), job.ID)
}
