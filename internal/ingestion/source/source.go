package source

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"

	"github.com/yungbote/pricebook-backend/internal/ingestion/extractor"
)

// TokenSource yields positioned text for a document format.
type TokenSource interface {
	Kind() string
	Tokens(data []byte) ([]extractor.Token, error)
	GroupOptions() extractor.GroupOptions
}

// rowPitch is the synthetic line height for row-based formats, chosen well
// above the default Y quantum so adjacent rows never share a bucket.
const rowPitch = 12.0

// Detect picks a source from the leading bytes.
func Detect(data []byte) (TokenSource, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	switch {
	case isPDF(data):
		return PDF(), nil
	case isZip(data):
		if isXLSX(data) {
			return XLSX(), nil
		}
		return nil, fmt.Errorf("unsupported zip container (head=%s)", firstBytesHex(data, 8))
	case isProbablyText(data):
		return Text(), nil
	default:
		return nil, fmt.Errorf("unsupported document type (head=%s)", firstBytesHex(data, 16))
	}
}

func isPDF(b []byte) bool {
	return len(b) >= 5 && string(b[:5]) == "%PDF-"
}

func isZip(b []byte) bool {
	return len(b) >= 4 && b[0] == 'P' && b[1] == 'K' && b[2] == 3 && b[3] == 4
}

func isXLSX(b []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "xl/") {
			return true
		}
	}
	return false
}

func isProbablyText(b []byte) bool {
	sample := b[:min(len(b), 4096)]
	good := 0
	for _, c := range sample {
		if c == 0x00 {
			return false
		}
		if c == '\n' || c == '\r' || c == '\t' || c == '\f' || (c >= 0x20 && c <= 0x7E) || c >= 0x80 {
			good++
		}
	}
	return float64(good)/float64(len(sample)) > 0.95
}

func firstBytesHex(b []byte, n int) string {
	return fmt.Sprintf("%x", b[:min(len(b), n)])
}
