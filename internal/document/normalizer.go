package document

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/poleval/poleval/internal/model"
	appErr "github.com/poleval/poleval/internal/pkg/errors"
)

// OCRExtractor converts a scanned or table-heavy PDF into markdown text.
// The textract bridge implements it; a nil extractor disables escalation.
type OCRExtractor interface {
	Extract(ctx context.Context, pdfData []byte) (string, error)
}

type Normalizer struct {
	ocr      OCRExtractor
	maxChars int
}

func NewNormalizer(ocr OCRExtractor, maxChars int) *Normalizer {
	return &Normalizer{ocr: ocr, maxChars: maxChars}
}

// Normalize converts an uploaded document into markdown-flavored text.
// Supported extensions: pdf, txt, md, html. Truncation to the configured
// character limit happens after conversion, at a whole-line boundary, so a
// table row is never cut in half.
func (n *Normalizer) Normalize(ctx context.Context, doc *model.Document) (*model.NormalizedText, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("filename", doc.Filename))
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(doc.Filename), "."))

	var text string
	var method string
	var err error
	switch ext {
	case "txt", "md":
		text = decodePlainText(doc.Data)
		method = model.MethodPlain
	case "html", "htm":
		text, err = convertHTML(doc.Data)
		method = model.MethodHTML
	case "pdf":
		text, method, err = n.extractPDF(ctx, doc.Data)
	default:
		return nil, fmt.Errorf("%w: %s (file %s)", appErr.ErrUnsupportedFormat, ext, doc.Filename)
	}
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", doc.Filename, err)
	}

	truncated := false
	if n.maxChars > 0 && len(text) > n.maxChars {
		text, truncated = Truncate(text, n.maxChars)
		logger.Info("document truncated", zap.Int("limit", n.maxChars), zap.Int("kept", len(text)))
	}
	logger.Debug("document normalized", zap.String("method", method), zap.Int("chars", len(text)))
	return &model.NormalizedText{
		Text:      text,
		Source:    doc.Filename,
		Method:    method,
		Truncated: truncated,
	}, nil
}

func (n *Normalizer) extractPDF(ctx context.Context, data []byte) (string, string, error) {
	text, gridLines, err := extractPDFText(data)
	if err == nil && !needsOCR(text, gridLines) {
		return text, model.MethodPDFText, nil
	}
	if n.ocr == nil {
		if err != nil {
			return "", "", err
		}
		// No OCR configured; the direct extraction is the best we have.
		return text, model.MethodPDFText, nil
	}
	if err != nil {
		logutil.GetLogger(ctx).Info("direct pdf extraction failed, escalating to ocr", zap.Error(err))
	} else {
		logutil.GetLogger(ctx).Info("numeric grid detected, escalating to ocr", zap.Int("grid_lines", gridLines))
	}
	ocrText, ocrErr := n.ocr.Extract(ctx, data)
	if ocrErr != nil {
		return "", "", ocrErr
	}
	return ocrText, model.MethodTextract, nil
}

// decodePlainText decodes bytes as UTF-8, replacing undecodable sequences
// instead of failing the whole request.
func decodePlainText(data []byte) string {
	return strings.ToValidUTF8(string(data), "�")
}
