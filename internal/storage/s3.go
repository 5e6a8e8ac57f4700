package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
)

const maxFilenameLength = 200

// Presigner is the part of *s3.PresignClient the store uses.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type UploadURL struct {
	UploadURL string              `json:"uploadUrl"`
	Method    string              `json:"method"`
	Headers   map[string][]string `json:"headers,omitempty"`
	ObjectURL string              `json:"objectUrl"`
	Key       string              `json:"key"`
	Kind      domain.MessageKind  `json:"messageType"`
	ExpiresAt time.Time           `json:"expiresAt"`
}

// S3Store hands out presigned PUT URLs; clients upload attachments directly
// and then send the object URL in message:send.
type S3Store struct {
	presign Presigner
	bucket  string
	region  string
	ttl     time.Duration
}

func NewS3Store(ctx context.Context, region, bucket string, ttl time.Duration) (*S3Store, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg)
	return NewS3StoreWithPresigner(s3.NewPresignClient(client), region, bucket, ttl), nil
}

func NewS3StoreWithPresigner(p Presigner, region, bucket string, ttl time.Duration) *S3Store {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &S3Store{presign: p, bucket: bucket, region: region, ttl: ttl}
}

// KindForContentType maps a MIME type onto the message kinds.
func KindForContentType(contentType string) domain.MessageKind {
	if strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return domain.KindImage
	}
	return domain.KindFile
}

func (s *S3Store) ObjectURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, url.PathEscape(key))
}

func (s *S3Store) PresignUpload(ctx context.Context, userID, filename, contentType string) (*UploadURL, error) {
	name := path.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == "/" {
		return nil, apperr.Validation("filename is required")
	}
	if len(name) > maxFilenameLength {
		return nil, apperr.Validation("filename too long")
	}
	if strings.TrimSpace(contentType) == "" {
		return nil, apperr.Validation("contentType is required")
	}
	key := fmt.Sprintf("chat/%s/%s-%s", userID, uuid.NewString(), name)

	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return nil, apperr.Unavailable("presign upload failed", err)
	}
	return &UploadURL{
		UploadURL: req.URL,
		Method:    req.Method,
		Headers:   req.SignedHeader,
		ObjectURL: s.ObjectURL(key),
		Key:       key,
		Kind:      KindForContentType(contentType),
		ExpiresAt: time.Now().UTC().Add(s.ttl),
	}, nil
}
