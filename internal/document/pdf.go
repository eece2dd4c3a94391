package document

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDFText pulls the text layer out of a PDF page by page. It also
// counts lines that look like rows of a numeric grid, which is the signal
// that the PDF carries tables the plain text layer cannot be trusted with.
func extractPDFText(data []byte) (string, int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}

	var builder strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Some pages fail to parse; keep what we have.
			continue
		}
		if text == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n\n---\n\n")
		}
		builder.WriteString(text)
	}

	extracted := builder.String()
	return extracted, countGridLines(extracted), nil
}

// needsOCR decides whether the direct extraction should be abandoned in
// favor of the OCR bridge. An empty text layer means a scanned document.
// Repeated multi-column numeric lines mean limit/financial tables, whose
// structure the flat text layer loses.
func needsOCR(text string, gridLines int) bool {
	if strings.TrimSpace(text) == "" {
		return true
	}
	return gridLines >= 3
}

func countGridLines(text string) int {
	count := 0
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		numeric := 0
		for _, field := range fields {
			if isNumericToken(field) {
				numeric++
			}
		}
		if numeric >= 2 {
			count++
		}
	}
	return count
}

func isNumericToken(token string) bool {
	token = strings.Trim(token, "$%()")
	if token == "" {
		return false
	}
	digits := 0
	for _, r := range token {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ',' || r == '.':
		default:
			return false
		}
	}
	return digits > 0
}
