package imagestore

import (
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/AJM432/racing/pkg/apperr"
)

// Format identifies a supported image encoding
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	GIF  Format = "gif"
	BMP  Format = "bmp"
	WEBP Format = "webp"
)

var mimeFormats = map[string]Format{
	"image/png":  PNG,
	"image/jpeg": JPEG,
	"image/jpg":  JPEG,
	"image/gif":  GIF,
	"image/bmp":  BMP,
	"image/webp": WEBP,
}

var formatExts = map[Format]string{
	PNG:  ".png",
	JPEG: ".jpg",
	GIF:  ".gif",
	BMP:  ".bmp",
	WEBP: ".webp",
}

// MIME returns the content type of the format
func (f Format) MIME() string {
	return "image/" + string(f)
}

// Ext returns the file extension used when storing the format
func (f Format) Ext() string {
	return formatExts[f]
}

// FormatFromLocator recovers the format from a locator's extension
func FormatFromLocator(locator string) (Format, bool) {
	ext := strings.ToLower(path.Ext(locator))
	for f, e := range formatExts {
		if e == ext {
			return f, true
		}
	}
	return "", false
}

// Decode parses a data URL of the form "data:image/<fmt>;base64,<payload>".
// Blobs without a recognised format tag are rejected.
func Decode(encoded string) (Format, []byte, error) {
	header, payload, found := strings.Cut(encoded, ",")
	if !found {
		return "", nil, apperr.DecodeFailure("image is not a data URL", nil)
	}

	if !strings.HasPrefix(header, "data:") {
		return "", nil, apperr.DecodeFailure("image is missing the data: prefix", nil)
	}
	mime, params, _ := strings.Cut(strings.TrimPrefix(header, "data:"), ";")
	if params != "base64" {
		return "", nil, apperr.DecodeFailure("image payload must be base64 encoded", nil)
	}

	format, ok := mimeFormats[strings.ToLower(mime)]
	if !ok {
		return "", nil, apperr.DecodeFailure(fmt.Sprintf("unsupported image format %q", mime), nil)
	}

	data, err := decodeBase64(strings.TrimSpace(payload))
	if err != nil {
		return "", nil, apperr.DecodeFailure("image payload is not valid base64", err)
	}
	if len(data) == 0 {
		return "", nil, apperr.DecodeFailure("image payload is empty", nil)
	}
	return format, data, nil
}

// Encode renders image bytes back into a data URL
func Encode(format Format, data []byte) string {
	return "data:" + format.MIME() + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func decodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	// unpadded payloads
	if raw, rawErr := base64.RawStdEncoding.DecodeString(s); rawErr == nil {
		return raw, nil
	}
	return nil, err
}
