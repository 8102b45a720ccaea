package utils

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"omar.ai/academic-chat/internal/store"
)

const genericMimeType = "application/octet-stream"

// MaxAttachmentBytes bounds a single file read into memory.
const MaxAttachmentBytes = 512 << 20

// EncodeFile reads a file from disk into an Attachment named after the file.
func EncodeFile(path string) (store.Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return store.Attachment{}, fmt.Errorf("failed to open attachment %s: %w", path, err)
	}
	defer f.Close()

	return EncodeReader(filepath.Base(path), f, MaxAttachmentBytes)
}

// EncodeReader reads at most maxBytes from r. The mime type is sniffed from
// content, falling back to the name's extension.
func EncodeReader(name string, r io.Reader, maxBytes int64) (store.Attachment, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, maxBytes+1))
	if err != nil {
		return store.Attachment{}, fmt.Errorf("failed to read attachment %s: %w", name, err)
	}
	if n > maxBytes {
		return store.Attachment{}, fmt.Errorf("attachment %s is larger than %d bytes", name, maxBytes)
	}

	data := buf.Bytes()
	return store.Attachment{
		MimeType: DetectMimeType(name, data),
		Data:     base64.StdEncoding.EncodeToString(data),
		Name:     name,
	}, nil
}

// DetectMimeType returns a bare media type without parameters.
func DetectMimeType(name string, data []byte) string {
	detected := mimetype.Detect(data)
	if detected != nil && !detected.Is(genericMimeType) {
		return bareType(detected.String())
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		return bareType(byExt)
	}
	return genericMimeType
}

func DecodeAttachment(att store.Attachment) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 in attachment %q: %w", att.Name, err)
	}
	return data, nil
}

func bareType(mediaType string) string {
	t, _, _ := strings.Cut(mediaType, ";")
	return strings.TrimSpace(t)
}
