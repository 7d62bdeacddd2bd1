package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/h2non/filetype"
	cfg "github.com/promotrack/insights-api/configs"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Provider-hosted media URLs expire, so a thumbnail must be copied into our
// own storage before its URL is ever written to a record.
type ThumbnailService interface {
	Persist(ctx context.Context, sourceURL string) (string, error)
}

type thumbnailService struct {
	config cfg.Config
}

func NewThumbnailService(cfg cfg.Config) ThumbnailService {
	return &thumbnailService{config: cfg}
}

func (t *thumbnailService) r2Client() (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(t.config.R2.AccessKey, t.config.R2.SecretKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", t.config.R2.AccountID))
	}), nil
}

// Persist downloads the ephemeral source URL and uploads the bytes to R2,
// returning the permanent public URL.
func (t *thumbnailService) Persist(ctx context.Context, sourceURL string) (string, error) {
	if sourceURL == "" {
		return "", errors.New("thumbnail source url is empty")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", sourceURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", fmt.Errorf("failed to download thumbnail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code downloading thumbnail: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}

	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "", errors.New("unable to determine thumbnail file type")
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("thumbnails/%s.%s", id, kind.Extension)

	if err := t.uploadToR2(ctx, key, data, kind.MIME.Value); err != nil {
		return "", err
	}

	return fmt.Sprintf("%s/%s", t.config.R2.PublicURL, key), nil
}

func (t *thumbnailService) uploadToR2(ctx context.Context, key string, file []byte, fileType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(t.config.R2.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(file),
		ContentType: aws.String(fileType),
	}

	r2Client, err := t.r2Client()
	if err != nil {
		return err
	}

	_, err = r2Client.PutObject(ctx, input)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	return nil
}
