package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const contentType = "text/csv"

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type historyPaths interface {
	Path(matchID string) string
}

// Options configures the S3 compatible endpoint. Empty fields fall back to the default AWS chain.
type Options struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds a client for AWS S3 or any compatible store such as Cloudflare R2.
func NewS3Client(ctx context.Context, opts Options) (*s3.Client, error) {
	region := opts.Region
	if region == "" {
		region = "auto"
	}

	loaders := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKeyID != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load object storage config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Archiver copies completed history logs to a bucket. The local log stays authoritative.
type Archiver struct {
	logger  *slog.Logger
	client  objectPutter
	history historyPaths
	bucket  string
	prefix  string
}

func New(logger *slog.Logger, client objectPutter, history historyPaths, bucket, prefix string) *Archiver {
	return &Archiver{
		logger:  logger.With("component", "archive"),
		client:  client,
		history: history,
		bucket:  bucket,
		prefix:  prefix,
	}
}

func (that *Archiver) Key(matchID string) string {
	return path.Join(that.prefix, matchID+".csv")
}

// Archive uploads the history log of a completed match.
func (that *Archiver) Archive(ctx context.Context, matchID string) error {
	log := that.logger.With("method", "Archive", "matchID", matchID)

	file, err := os.Open(that.history.Path(matchID))
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer file.Close()

	key := that.Key(matchID)

	_, err = that.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(that.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload history: %w", err)
	}

	log.Info("history archived", "bucket", that.bucket, "key", key)

	return nil
}
