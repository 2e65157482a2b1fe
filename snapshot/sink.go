package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ExportSink an off-box destination every new snapshot is mirrored to
type ExportSink interface {
	// Name sink name, for logging
	Name() string

	/*
		Put store one encoded snapshot

			@param ctx context.Context - execution context
			@param fileName string - snapshot file name
			@param payload []byte - the encoded snapshot
	*/
	Put(ctx context.Context, fileName string, payload []byte) error

	/*
		Remove delete one stored snapshot. Removing a missing snapshot is not an error.

			@param ctx context.Context - execution context
			@param fileName string - snapshot file name
	*/
	Remove(ctx context.Context, fileName string) error
}

// FileNameOf export file name of a snapshot
func FileNameOf(snapshotName string) string {
	return snapshotName + ".json.gz"
}

// ======================================================================================
// S3

// S3SinkConfig S3 compatible bucket settings
type S3SinkConfig struct {
	// Region bucket region
	Region string
	// Bucket bucket name
	Bucket string
	// Prefix object key prefix
	Prefix string
	// Endpoint custom endpoint for S3 compatible services; empty selects AWS
	Endpoint string
	// AccessKeyID static credential key ID
	AccessKeyID string
	// SecretAccessKey static credential secret
	SecretAccessKey string
}

// s3Sink implements ExportSink on an S3 bucket
type s3Sink struct {
	client *s3.Client
	cfg    S3SinkConfig
}

/*
NewS3Sink define a sink mirroring snapshots into an S3 bucket

	@param ctx context.Context - execution context
	@param cfg S3SinkConfig - bucket settings
	@returns the sink
*/
func NewS3Sink(ctx context.Context, cfg S3SinkConfig) (ExportSink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 export sink needs a bucket")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config [%w]", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &s3Sink{client: client, cfg: cfg}, nil
}

func (s *s3Sink) Name() string {
	return "s3://" + s.cfg.Bucket
}

func (s *s3Sink) key(fileName string) string {
	if s.cfg.Prefix == "" {
		return fileName
	}
	return strings.TrimSuffix(s.cfg.Prefix, "/") + "/" + fileName
}

func (s *s3Sink) Put(ctx context.Context, fileName string, payload []byte) error {
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(s.key(fileName)),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/gzip"),
	}); err != nil {
		return fmt.Errorf("failed to upload %s to %s [%w]", fileName, s.Name(), err)
	}
	return nil
}

func (s *s3Sink) Remove(ctx context.Context, fileName string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(fileName)),
	}); err != nil {
		return fmt.Errorf("failed to delete %s from %s [%w]", fileName, s.Name(), err)
	}
	return nil
}

// ======================================================================================
// Local directory

// directorySink implements ExportSink on a local directory
type directorySink struct {
	dir string
}

/*
NewDirectorySink define a sink mirroring snapshots into a local directory

	@param dir string - target directory, created when missing
	@returns the sink
*/
func NewDirectorySink(dir string) (ExportSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to prepare export directory %s [%w]", dir, err)
	}
	return &directorySink{dir: dir}, nil
}

func (s *directorySink) Name() string {
	return "dir://" + s.dir
}

// Put writes to a temporary file, then renames it into place
func (s *directorySink) Put(_ context.Context, fileName string, payload []byte) error {
	target := filepath.Join(s.dir, fileName)
	tempPath := target + ".tmp"
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write %s [%w]", tempPath, err)
	}
	if err := os.Rename(tempPath, target); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to move %s into place [%w]", target, err)
	}
	return nil
}

func (s *directorySink) Remove(_ context.Context, fileName string) error {
	err := os.Remove(filepath.Join(s.dir, fileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s [%w]", fileName, err)
	}
	return nil
}
