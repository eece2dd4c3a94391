package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// S3API is the slice of the S3 client the bridge needs.
type S3API interface {
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Bucket is the process-lifetime staging bucket for OCR jobs. Creation is
// lazy and idempotent; teardown runs once and waits for in-flight jobs.
type Bucket struct {
	client S3API
	name   string
	region string

	mu       sync.Mutex
	created  bool
	torn     bool
	inflight sync.WaitGroup
}

func NewBucket(client S3API, prefix, region string) *Bucket {
	return &Bucket{
		client: client,
		name:   fmt.Sprintf("%s-%s", prefix, uuid.New().String()[:13]),
		region: region,
	}
}

func (b *Bucket) Name() string {
	return b.name
}

// EnsureCreated creates the bucket on first use. "Already exists" outcomes
// count as success: parallel workers and restarts may race on creation.
func (b *Bucket) EnsureCreated(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.torn {
		return fmt.Errorf("ocr bucket already torn down")
	}
	if b.created {
		return nil
	}
	input := &s3.CreateBucketInput{Bucket: aws.String(b.name)}
	if b.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(b.region),
		}
	}
	if _, err := b.client.CreateBucket(ctx, input); err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		var exists *s3types.BucketAlreadyExists
		if !errors.As(err, &owned) && !errors.As(err, &exists) {
			return fmt.Errorf("create ocr bucket %s: %w", b.name, err)
		}
	}
	logutil.GetLogger(ctx).Info("ocr bucket ready", zap.String("bucket", b.name))
	b.created = true
	return nil
}

// acquire registers an in-flight job. It is the only place inflight.Add may
// run, and it runs under the same lock that Teardown uses to flip torn, so
// Add can never race with Wait.
func (b *Bucket) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.torn {
		return fmt.Errorf("ocr bucket already torn down")
	}
	b.inflight.Add(1)
	return nil
}

// put uploads one job object and registers it as in-flight work.
func (b *Bucket) put(ctx context.Context, key string, data []byte) error {
	if err := b.EnsureCreated(ctx); err != nil {
		return err
	}
	if err := b.acquire(); err != nil {
		return err
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		b.inflight.Done()
		return fmt.Errorf("upload ocr object %s: %w", key, err)
	}
	return nil
}

// drop removes the job object and releases the in-flight slot. It runs even
// when the OCR job failed, to bound storage cost.
func (b *Bucket) drop(ctx context.Context, key string) {
	defer b.inflight.Done()
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		logutil.GetLogger(ctx).Warn("delete ocr object failed", zap.String("key", key), zap.Error(err))
	}
}

// Teardown deletes the bucket at process shutdown. It drains in-flight jobs
// first and is safe to call more than once.
func (b *Bucket) Teardown(ctx context.Context) error {
	b.mu.Lock()
	if b.torn {
		b.mu.Unlock()
		return nil
	}
	b.torn = true
	created := b.created
	b.mu.Unlock()

	b.inflight.Wait()
	if !created {
		return nil
	}
	if _, err := b.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(b.name)}); err != nil {
		return fmt.Errorf("delete ocr bucket %s: %w", b.name, err)
	}
	logutil.GetLogger(ctx).Info("ocr bucket removed", zap.String("bucket", b.name))
	return nil
}
