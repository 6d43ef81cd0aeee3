package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dreschagin/media-relay/internal/infrastructure/awsclient"
)

// URLMode как ссылка на объект отдается клиенту
type URLMode string

const (
	URLModePresigned URLMode = "presigned"
	URLModePublic    URLMode = "public"
)

const (
	defaultPresignedTTL = 7 * 24 * time.Hour
	// ключ архива содержит id поста и media key, объект под ним не меняется
	immutableCacheControl = "public, max-age=31536000, immutable"
	fallbackContentType   = "application/octet-stream"
)

type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	URLMode         URLMode
	PresignedTTL    time.Duration
}

type putAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// AssetStorage реализует port.AssetStorage поверх S3-совместимого bucket
type AssetStorage struct {
	objects putAPI
	presign presignAPI
	bucket  string
	urlMode URLMode
	ttl     time.Duration

	// base для публичных ссылок: https://bucket.s3.region.amazonaws.com или endpoint/bucket
	publicBase *url.URL
}

func NewAssetStorage(ctx context.Context, cfg Config) (*AssetStorage, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	mode := cfg.URLMode
	if mode == "" {
		mode = URLModePublic
	}
	if mode != URLModePresigned && mode != URLModePublic {
		return nil, fmt.Errorf("unsupported s3 url mode %q", mode)
	}

	settings := awsclient.Settings{
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	}
	awsCfg, err := awsclient.Load(ctx, settings)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = settings.BaseEndpoint()
		o.UsePathStyle = cfg.UsePathStyle
	})

	base, err := publicBaseURL(bucket, awsCfg.Region, settings.EndpointURL(), cfg.UsePathStyle)
	if err != nil {
		return nil, err
	}

	ttl := cfg.PresignedTTL
	if ttl <= 0 {
		ttl = defaultPresignedTTL
	}

	return &AssetStorage{
		objects:    client,
		presign:    s3.NewPresignClient(client),
		bucket:     bucket,
		urlMode:    mode,
		ttl:        ttl,
		publicBase: base,
	}, nil
}

// publicBaseURL без endpoint использует AWS virtual-hosted адрес
func publicBaseURL(bucket, region, endpoint string, pathStyle bool) (*url.URL, error) {
	if endpoint == "" {
		endpoint = "https://s3." + region + ".amazonaws.com"
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid s3 endpoint %q", endpoint)
	}

	if pathStyle {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + bucket
	} else {
		u.Host = bucket + "." + u.Host
		u.Scheme = "https"
	}
	return u, nil
}

func (s *AssetStorage) Upload(ctx context.Context, key, contentType string, body []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("object key is required")
	}
	if contentType == "" {
		contentType = fallbackContentType
	}

	if _, err := s.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
		CacheControl:  aws.String(immutableCacheControl),
	}); err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

// DownloadURL публичная ссылка или presigned GET с TTL из конфигурации
func (s *AssetStorage) DownloadURL(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("object key is required")
	}

	if s.urlMode == URLModePublic {
		u := *s.publicBase
		u.Path = strings.TrimRight(u.Path, "/") + "/" + key
		return u.String(), nil
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("s3 presign %s: %w", key, err)
	}
	return req.URL, nil
}
