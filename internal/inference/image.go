package inference

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	// Decoders for the precondition check.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

var extMIMETypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ImageExtensions lists the file extensions treated as catalog images.
func ImageExtensions() []string {
	return []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}
}

// MIMETypeForPath guesses the MIME type from the file extension, defaulting to JPEG.
func MIMETypeForPath(path string) string {
	if mt, ok := extMIMETypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}
	return "image/jpeg"
}

// LoadImage reads an image and verifies that its header decodes.
//
// A missing file wraps ErrMissingInput; a file that cannot be read or decoded wraps
// ErrUnreadableImage. Both are fatal for the item and must not reach the service.
func LoadImage(path string) ([]byte, string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, "", fmt.Errorf("%w: no image reference", ErrMissingInput)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: image not found at %s", ErrMissingInput, path)
		}
		return nil, "", fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	if len(b) == 0 {
		return nil, "", fmt.Errorf("%w: %s is empty", ErrUnreadableImage, path)
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode %s: %v", ErrUnreadableImage, filepath.Base(path), err)
	}
	mimeType := MIMETypeForPath(path)
	if format != "" {
		mimeType = "image/" + format
	}
	return b, mimeType, nil
}
