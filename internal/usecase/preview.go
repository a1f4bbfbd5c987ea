package usecase

import (
	"encoding/base64"
	"strings"
)

// EncodePreview renders image bytes as a data URL suitable for an <img> src.
func EncodePreview(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(contentType) + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString("data:")
	b.WriteString(contentType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}
