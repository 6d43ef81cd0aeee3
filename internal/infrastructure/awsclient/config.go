// Package awsclient собирает aws.Config для S3, DynamoDB и CloudWatch.
package awsclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

const DefaultRegion = "us-east-1"

var ErrPartialCredentials = errors.New("both access key id and secret access key are required for static credentials")

// Settings общие для всех AWS клиентов сервиса.
// Пустые ключи означают default credential chain (env, profile, IAM role).
// Endpoint задается для LocalStack и MinIO.
type Settings struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (s Settings) region() string {
	if r := strings.TrimSpace(s.Region); r != "" {
		return r
	}
	return DefaultRegion
}

// EndpointURL нормализованный endpoint без завершающего "/"
func (s Settings) EndpointURL() string {
	return strings.TrimRight(strings.TrimSpace(s.Endpoint), "/")
}

// Load строит aws.Config. Endpoint в BaseEndpoint не кладется:
// клиенты выставляют его сами, у S3 к нему добавляется path-style.
func Load(ctx context.Context, s Settings) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(s.region())}

	keyID := strings.TrimSpace(s.AccessKeyID)
	secret := strings.TrimSpace(s.SecretAccessKey)
	switch {
	case keyID != "" && secret != "":
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(keyID, secret, ""),
		))
	case keyID != "" || secret != "":
		return aws.Config{}, ErrPartialCredentials
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// BaseEndpoint указатель для Options.BaseEndpoint или nil
func (s Settings) BaseEndpoint() *string {
	if endpoint := s.EndpointURL(); endpoint != "" {
		return aws.String(endpoint)
	}
	return nil
}
