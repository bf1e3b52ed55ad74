package storage

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/telemyapp/aegis-meeting-bot/internal/metrics"
)

type S3Uploader struct {
	bucket string
	region string
	prefix string
}

type S3UploaderOptions struct {
	Bucket string
	Region string
	Prefix string
}

func NewS3Uploader(opts S3UploaderOptions) (*S3Uploader, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("Bucket is required")
	}
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = "us-east-1"
	}
	return &S3Uploader{
		bucket: opts.Bucket,
		region: region,
		prefix: strings.Trim(opts.Prefix, "/"),
	}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(u.region))
	if err != nil {
		return UploadResult{}, fmt.Errorf("aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	key := path.Join(u.prefix, req.SessionID, filepath.Base(req.Path))
	contentType := req.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}

	putStart := time.Now()
	err = retryS3(ctx, "put_object", func(callCtx context.Context) error {
		// The file handle is per-attempt; a retried PutObject must read
		// from offset zero.
		f, openErr := os.Open(req.Path)
		if openErr != nil {
			return openErr
		}
		defer f.Close()
		_, putErr := client.PutObject(callCtx, &s3.PutObjectInput{
			Bucket:      aws.String(u.bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String(contentType),
		})
		return putErr
	})
	log.Printf("metric=s3_put_object_latency_ms bucket=%s session_id=%s value=%d", u.bucket, req.SessionID, time.Since(putStart).Milliseconds())
	if err != nil {
		metrics.Default().IncCounter("meetingbot_uploads_total", map[string]string{"provider": "s3", "status": "error"})
		return UploadResult{}, fmt.Errorf("put object: %w", err)
	}
	metrics.Default().IncCounter("meetingbot_uploads_total", map[string]string{"provider": "s3", "status": "ok"})

	return UploadResult{
		Provider: "s3",
		Key:      key,
		URL:      fmt.Sprintf("s3://%s/%s", u.bucket, key),
	}, nil
}

func retryS3(ctx context.Context, opName string, fn func(context.Context) error) error {
	const (
		maxAttempts = 4
		baseDelay   = 250 * time.Millisecond
		maxDelay    = 2 * time.Second
	)
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransientS3Error(err) {
			return err
		}
		if attempt == maxAttempts {
			return err
		}
		delay := baseDelay * time.Duration(1<<(attempt-1))
		if delay > maxDelay {
			delay = maxDelay
		}
		delay = withJitter(delay)
		log.Printf("event=s3_retry op=%s attempt=%d delay_ms=%d err=%q", opName, attempt, delay.Milliseconds(), err.Error())
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func isTransientS3Error(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "RequestLimitExceeded",
		"Throttling",
		"ThrottlingException",
		"SlowDown",
		"ServiceUnavailable",
		"InternalError",
		"RequestTimeout":
		return true
	default:
		return false
	}
}

func withJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	floor := delay / 10
	span := delay - floor
	if span <= 0 {
		return floor
	}
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return floor + (span / 2)
	}
	max := uint64(span)
	n := binary.LittleEndian.Uint64(raw[:]) % max
	// Jittered delay in [10% of base, 100% of base).
	return floor + time.Duration(n)
}
