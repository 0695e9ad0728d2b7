// Package storage issues short-lived signed URLs for chat attachments and
// validates that storage keys stay inside the caller's conversation scope.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chambalink/backend/internal/apperr"
	"github.com/chambalink/backend/internal/config"
)

// KeyPrefix returns the storage prefix all attachment keys of a conversation
// must live under.
func KeyPrefix(conversationID uuid.UUID) string {
	return "conversation/" + conversationID.String() + "/"
}

// ValidateConversationKey rejects keys outside the conversation scope, even
// when the credentials would technically allow signing them.
func ValidateConversationKey(conversationID uuid.UUID, key string) error {
	if key == "" || strings.Contains(key, "..") || !strings.HasPrefix(key, KeyPrefix(conversationID)) {
		return apperr.New(apperr.CodeInvalidStoragePath, "storage key outside conversation scope")
	}
	return nil
}

type Signer struct {
	bucket   string
	ttl      time.Duration
	client   *s3.Client
	presign  *s3.PresignClient
	log      zerolog.Logger
	disabled bool
}

// NewSigner builds the S3-backed signer. Without a bucket configured the
// signer stays disabled and every call reports it, so local setups without
// object storage still boot.
func NewSigner(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Signer, error) {
	logger := log.With().Str("component", "attachment-signer").Logger()
	signer := &Signer{
		bucket: strings.TrimSpace(cfg.S3Bucket),
		ttl:    cfg.PresignTTL,
		log:    logger,
	}

	if signer.bucket == "" || cfg.S3AccessKeyID == "" || cfg.S3SecretKey == "" {
		logger.Warn().Msg("S3_BUCKET or credentials not set; attachments are disabled until configured")
		signer.disabled = true
		return signer, nil
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if cfg.S3Endpoint != "" {
			return aws.Endpoint{
				URL:           cfg.S3Endpoint,
				PartitionID:   "aws",
				SigningRegion: cfg.S3Region,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretKey, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	signer.client = client
	signer.presign = s3.NewPresignClient(client)
	return signer, nil
}

func (s *Signer) ensureEnabled() error {
	if s.disabled {
		return apperr.New(apperr.CodeValidation, "attachment storage is not configured")
	}
	return nil
}

// Upload stores an accepted attachment body under key. Size limits and MIME
// checks happen at the handler before this call.
func (s *Signer) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	if err := s.ensureEnabled(); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	return err
}

// ResolveSignedURL validates the key against the conversation scope and
// issues a fresh presigned GET. URLs are never cached beyond the request.
func (s *Signer) ResolveSignedURL(ctx context.Context, conversationID uuid.UUID, key string) (string, error) {
	if err := ValidateConversationKey(conversationID, key); err != nil {
		return "", err
	}
	if err := s.ensureEnabled(); err != nil {
		return "", err
	}

	out, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return out.URL, nil
}
