// Package archive exports provenance events as newline-delimited JSON, either
// to a writer or to an S3 bucket, for retention beyond the service database.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"shadowrt/pkg/platform/provenance"
)

// WriteNDJSON writes one JSON object per event, in order.
func WriteNDJSON(w io.Writer, events []provenance.Event) error {
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encode event %s: %w", e.EventID, err)
		}
	}
	return nil
}

// ReadNDJSON parses the output of WriteNDJSON.
func ReadNDJSON(r io.Reader) ([]provenance.Event, error) {
	dec := json.NewDecoder(r)
	var events []provenance.Event
	for dec.More() {
		var e provenance.Event
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", len(events)+1, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// PutObjectAPI is the subset of *s3.Client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config holds connection settings. Endpoint and UsePathStyle are for
// MinIO and LocalStack.
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	UsePathStyle bool
}

// NewS3Client builds an S3 client from the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// Archiver uploads event batches as immutable objects.
type Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
	now    func() time.Time
}

func NewArchiver(client PutObjectAPI, cfg S3Config) *Archiver {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "provenance"
	}
	return &Archiver{client: client, bucket: cfg.Bucket, prefix: prefix, now: time.Now}
}

// Upload writes events to <prefix>/<app>/<yyyy>/<mm>/<dd>/<unix-nanos>.ndjson
// and returns the object key. The object carries a SHA-256 of its body so
// tampering is detectable on restore.
func (a *Archiver) Upload(ctx context.Context, app string, events []provenance.Event) (string, error) {
	var buf bytes.Buffer
	if err := WriteNDJSON(&buf, events); err != nil {
		return "", err
	}
	now := a.now().UTC()
	key := path.Join(a.prefix, app, now.Format("2006/01/02"), fmt.Sprintf("%d.ndjson", now.UnixNano()))
	sum := sha256.Sum256(buf.Bytes())

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"app":         app,
			"event-count": fmt.Sprint(len(events)),
			"sha256":      hex.EncodeToString(sum[:]),
		},
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	return key, nil
}
