package ocr

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"

	"ocr-api/internal/shared"

	"github.com/gabriel-vasile/mimetype"
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/tiff": true,
}

// Upload is a single image file received from the client
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// normalizeContentType strips parameters and folds aliases. Missing or
// generic types are sniffed from the bytes.
func normalizeContentType(declared string, data []byte) string {
	mediaType := strings.ToLower(strings.TrimSpace(declared))
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType, _, _ = strings.Cut(mimetype.Detect(data).String(), ";")
	}
	switch mediaType {
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	case "image/x-ms-bmp":
		return "image/bmp"
	}
	return mediaType
}

// ValidateUpload checks the upload without touching its bytes and returns
// the content type to embed in the data url
func ValidateUpload(u Upload, maxBytes int64) (string, error) {
	if len(u.Data) == 0 {
		return "", shared.NewRequestError(shared.ErrBadRequest, "uploaded file is empty")
	}
	if maxBytes > 0 && int64(len(u.Data)) > maxBytes {
		return "", shared.NewRequestError(shared.ErrBadRequest, fmt.Sprintf("uploaded file exceeds the %d byte limit", maxBytes))
	}
	contentType := normalizeContentType(u.ContentType, u.Data)
	if !allowedImageTypes[contentType] {
		return "", shared.NewRequestError(shared.ErrBadRequest, fmt.Sprintf("unsupported content type %q, expected an image", contentType))
	}
	return contentType, nil
}

func dataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
