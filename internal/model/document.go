package model

// Document is an uploaded file before normalization. It lives only for the
// duration of the request that carries it; only the derived text survives.
type Document struct {
	Filename string
	Data     []byte
}

// NormalizedText is the markdown-flavored text derived from a Document.
type NormalizedText struct {
	Text      string `json:"text"`
	Source    string `json:"source"`
	Method    string `json:"method"`
	Truncated bool   `json:"truncated"`
}

// Normalization methods.
const (
	MethodPlain    = "plain"
	MethodHTML     = "html"
	MethodPDFText  = "pdf_text"
	MethodTextract = "textract"
)
