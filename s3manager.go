package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"atendimento/internal/models"
)

// S3Config holds the archive bucket settings.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool
	Prefix    string
}

// S3Archiver writes every completed Problem record to S3 as a JSON object.
type S3Archiver struct {
	client *s3.Client
	config S3Config
}

func NewS3Archiver(config S3Config) (*S3Archiver, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket not configured")
	}
	if config.AccessKey == "" || config.SecretKey == "" {
		return nil, fmt.Errorf("S3 credentials not available - set S3_ACCESS_KEY and S3_SECRET_KEY")
	}

	endpoint := config.Endpoint
	// virtual-host style endpoints carry the bucket; the client adds it back
	if endpoint != "" && strings.Contains(endpoint, config.Bucket+".") {
		endpoint = strings.Replace(endpoint, config.Bucket+".", "", 1)
		log.Warn().
			Str("originalEndpoint", config.Endpoint).
			Str("cleanedEndpoint", endpoint).
			Str("bucket", config.Bucket).
			Msg("Removed bucket name from S3 endpoint")
	}

	cfg := aws.Config{
		Region:      config.Region,
		Credentials: credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, ""),
	}

	// dotted bucket names break virtual-host TLS
	usePathStyle := config.PathStyle
	if strings.Contains(config.Bucket, ".") {
		usePathStyle = true
		log.Info().Str("bucket", config.Bucket).Msg("Bucket name contains dots, forcing path-style URLs")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	log.Info().
		Str("bucket", config.Bucket).
		Str("region", config.Region).
		Str("endpoint", endpoint).
		Msg("S3 archive initialized")
	return &S3Archiver{client: client, config: config}, nil
}

// ArchiveKey is <prefix>/completed/YYYY/MM/DD/<conversation>/<id>.json, dated
// by completion time.
func (a *S3Archiver) ArchiveKey(p models.Problem) string {
	at := p.CreatedAt
	if p.CompletedAt != nil {
		at = *p.CompletedAt
	}
	conversation := strings.NewReplacer("@", "_", ":", "_", "/", "_").Replace(p.ConversationID)
	return path.Join(a.config.Prefix, "completed", at.UTC().Format("2006/01/02"), conversation, fmt.Sprintf("%d.json", p.ID))
}

// ArchiveCompleted uploads each record, stopping at the first failure.
func (a *S3Archiver) ArchiveCompleted(ctx context.Context, records []models.Problem) error {
	for _, p := range records {
		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode record %d: %w", p.ID, err)
		}
		key := a.ArchiveKey(p)
		_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.config.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			log.Error().
				Err(err).
				Str("key", key).
				Str("bucket", a.config.Bucket).
				Msg("Failed to upload record to S3")
			return fmt.Errorf("failed to upload to S3: %w", err)
		}
		log.Debug().Str("key", key).Int("size", len(body)).Msg("Completed record archived")
	}
	return nil
}

// TestConnection lists at most one object to check bucket access.
func (a *S3Archiver) TestConnection(ctx context.Context) error {
	_, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.config.Bucket),
		MaxKeys: aws.Int32(1),
	})
	return err
}
