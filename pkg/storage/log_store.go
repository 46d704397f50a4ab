package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// LogStore keeps the captured output of job executions.
type LogStore interface {
	// Store saves logs under key and returns a reference to them.
	Store(ctx context.Context, key string, logs []byte) (string, error)
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}

// LogKey names the output of one job execution: <runID>/<job>-<execID>.
func LogKey(runID, job, execID string) string {
	return path.Join(runID, safeName(job)+"-"+execID)
}

// safeName keeps job names from escaping the run directory.
func safeName(job string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, strings.TrimLeft(job, "."))
}

// S3LogStore uploads job output to an S3 bucket, one object per execution.
type S3LogStore struct {
	client *s3.Client
	bucket string
	prefix string
	now    func() time.Time
}

// S3LogStoreConfig configures the bucket and client. Empty keys fall back to
// the default AWS credential chain.
type S3LogStoreConfig struct {
	Bucket          string
	Prefix          string // e.g. "detox/"
	Region          string
	Endpoint        string // MinIO and other S3-compatible servers
	AccessKeyID     string
	SecretAccessKey string
}

func NewS3LogStore(ctx context.Context, cfg S3LogStoreConfig) (*S3LogStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 log store: bucket is required")
	}
	optFns := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3LogStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, now: time.Now}, nil
}

// Store uploads logs under <prefix><yyyy/mm/dd>/<key>.log and returns an s3:// URL.
func (s *S3LogStore) Store(ctx context.Context, key string, logs []byte) (string, error) {
	objectKey := fmt.Sprintf("%s%s/%s.log", s.prefix, s.now().UTC().Format("2006/01/02"), key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(logs),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload logs to S3: %w", err)
	}
	return "s3://" + s.bucket + "/" + objectKey, nil
}

// Retrieve downloads the object behind an s3:// reference or a bare key.
func (s *S3LogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	objectKey := reference
	if rest, ok := strings.CutPrefix(reference, "s3://"); ok {
		_, objectKey, _ = strings.Cut(rest, "/")
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get logs from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}
	return data, nil
}

// LocalLogStore stores logs on the local filesystem, one directory per run.
type LocalLogStore struct {
	basePath string
}

func NewLocalLogStore(basePath string) (*LocalLogStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &LocalLogStore{basePath: basePath}, nil
}

// Store writes <base>/<runID>/<job>-<execID>.log and returns its path.
func (l *LocalLogStore) Store(ctx context.Context, key string, logs []byte) (string, error) {
	p := filepath.Join(l.basePath, filepath.FromSlash(key)+".log")
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := os.WriteFile(p, logs, 0644); err != nil {
		return "", fmt.Errorf("failed to write logs: %w", err)
	}
	return p, nil
}

func (l *LocalLogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	data, err := os.ReadFile(reference)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}
