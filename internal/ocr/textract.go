package ocr

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/poleval/poleval/internal/pkg/errors"
)

// TextractAPI is the slice of the Textract client the bridge needs.
type TextractAPI interface {
	StartDocumentAnalysis(ctx context.Context, params *textract.StartDocumentAnalysisInput, optFns ...func(*textract.Options)) (*textract.StartDocumentAnalysisOutput, error)
	GetDocumentAnalysis(ctx context.Context, params *textract.GetDocumentAnalysisInput, optFns ...func(*textract.Options)) (*textract.GetDocumentAnalysisOutput, error)
}

type Bridge struct {
	textract     TextractAPI
	bucket       *Bucket
	pollInterval time.Duration
	timeout      time.Duration
}

func NewBridge(client TextractAPI, bucket *Bucket, pollInterval, timeout time.Duration) *Bridge {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Bridge{textract: client, bucket: bucket, pollInterval: pollInterval, timeout: timeout}
}

// Extract runs a PDF through table/forms analysis and returns markdown.
// The staged object gets a fresh opaque key per job and is deleted
// unconditionally once the job finishes, successful or not.
func (b *Bridge) Extract(ctx context.Context, pdfData []byte) (string, error) {
	logger := logutil.GetLogger(ctx)
	key := fmt.Sprintf("documents/%s.pdf", uuid.New().String())
	if err := b.bucket.put(ctx, key, pdfData); err != nil {
		return "", fmt.Errorf("%w: %v", appErr.ErrOcrFailure, err)
	}
	defer b.bucket.drop(ctx, key)

	jobID, err := b.startAnalysis(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", appErr.ErrOcrFailure, err)
	}
	logger.Info("textract job started", zap.String("job_id", jobID), zap.String("key", key))

	blocks, err := b.collectResults(ctx, jobID)
	if err != nil {
		return "", err
	}
	logger.Info("textract job finished", zap.String("job_id", jobID), zap.Int("blocks", len(blocks)))
	return blocksToMarkdown(blocks), nil
}

func (b *Bridge) startAnalysis(ctx context.Context, key string) (string, error) {
	out, err := b.textract.StartDocumentAnalysis(ctx, &textract.StartDocumentAnalysisInput{
		DocumentLocation: &types.DocumentLocation{
			S3Object: &types.S3Object{
				Bucket: aws.String(b.bucket.Name()),
				Name:   aws.String(key),
			},
		},
		FeatureTypes: []types.FeatureType{types.FeatureTypeTables, types.FeatureTypeForms},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.JobId), nil
}

// collectResults polls until the analysis completes, then pages through the
// full block list.
func (b *Bridge) collectResults(ctx context.Context, jobID string) ([]types.Block, error) {
	deadline := time.Now().Add(b.timeout)
	var out *textract.GetDocumentAnalysisOutput
	for {
		var err error
		out, err = b.textract.GetDocumentAnalysis(ctx, &textract.GetDocumentAnalysisInput{
			JobId: aws.String(jobID),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", appErr.ErrOcrFailure, err)
		}
		if out.JobStatus == types.JobStatusSucceeded || out.JobStatus == types.JobStatusPartialSuccess {
			break
		}
		if out.JobStatus == types.JobStatusFailed {
			return nil, fmt.Errorf("%w: job %s: %s", appErr.ErrOcrFailure, jobID, aws.ToString(out.StatusMessage))
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: job %s still %s", appErr.ErrOcrTimeout, jobID, out.JobStatus)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.pollInterval):
		}
	}

	blocks := out.Blocks
	nextToken := out.NextToken
	for nextToken != nil {
		page, err := b.textract.GetDocumentAnalysis(ctx, &textract.GetDocumentAnalysisInput{
			JobId:     aws.String(jobID),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", appErr.ErrOcrFailure, err)
		}
		blocks = append(blocks, page.Blocks...)
		nextToken = page.NextToken
	}
	return blocks, nil
}
