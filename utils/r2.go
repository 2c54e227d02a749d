package utils

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// R2Config holds the Cloudflare R2 bucket settings.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	// CDNBaseURL prefixes returned object URLs. Defaults to the bucket endpoint.
	CDNBaseURL string
}

// R2ConfigFromEnv reads the R2 variables. ok is false when R2 is not configured.
func R2ConfigFromEnv() (cfg R2Config, ok bool) {
	cfg = R2Config{
		AccountID:       Getenv("CLOUDFLARE_ACCOUNT_ID", ""),
		AccessKeyID:     Getenv("R2_ACCESS_KEY_ID", ""),
		AccessKeySecret: Getenv("R2_ACCESS_KEY_SECRET", ""),
		Bucket:          Getenv("R2_BUCKET_NAME", ""),
		CDNBaseURL:      Getenv("CDN_BASE_URL", ""),
	}
	ok = cfg.AccountID != "" && cfg.AccessKeyID != "" && cfg.AccessKeySecret != "" && cfg.Bucket != ""
	return cfg, ok
}

// ObjectPutter is the slice of the S3 API the uploader needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// R2Uploader stores sponsor assets in R2.
type R2Uploader struct {
	client  ObjectPutter
	bucket  string
	baseURL string
}

func NewR2Uploader(ctx context.Context, cfg R2Config) (*R2Uploader, error) {
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	base := cfg.CDNBaseURL
	if base == "" {
		base = endpoint + "/" + cfg.Bucket
	}
	return NewR2UploaderWithClient(client, cfg.Bucket, base), nil
}

func NewR2UploaderWithClient(client ObjectPutter, bucket, baseURL string) *R2Uploader {
	return &R2Uploader{client: client, bucket: bucket, baseURL: baseURL}
}

// Upload stores body under key and returns its public URL.
func (u *R2Uploader) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}
	return fmt.Sprintf("%s/%s", u.baseURL, key), nil
}

// UploadMultipart uploads a form file under key.
func (u *R2Uploader) UploadMultipart(ctx context.Context, fh *multipart.FileHeader, key string) (string, error) {
	file, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()
	return u.Upload(ctx, key, fh.Header.Get("Content-Type"), file)
}
